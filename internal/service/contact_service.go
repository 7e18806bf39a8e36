package service

import (
	"fmt"

	"Krypt/internal/core"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// ContactService управляет адресной книгой.
type ContactService struct {
	contacts  storage.IContactRepository
	messages  storage.IMessageRepository
	statuses  storage.IStatusRepository
	transport transport.ITransport
}

func NewContactService(
	contacts storage.IContactRepository,
	messages storage.IMessageRepository,
	statuses storage.IStatusRepository,
	tr transport.ITransport,
) *ContactService {
	return &ContactService{
		contacts:  contacts,
		messages:  messages,
		statuses:  statuses,
		transport: tr,
	}
}

// AddContact добавляет контакт с пустым ключом и сразу запрашивает его
// публичный ключ у relay. Ключ придет асинхронно (public_key_response).
// Повторное добавление известного контакта обновляет только никнейм:
// сверенный ключ остается на месте.
func (s *ContactService) AddContact(uuid, nickname string) error {
	if uuid == "" {
		return fmt.Errorf("пустой uuid контакта")
	}

	existing, err := s.contacts.GetContact(uuid)
	if err != nil {
		return err
	}
	if existing != nil {
		if nickname != "" && nickname != existing.Nickname {
			return s.contacts.UpdateNickname(uuid, nickname)
		}
		return nil
	}

	if err := s.transport.RequestPublicKey(uuid); err != nil {
		core.Warn("[Contacts] Не удалось запросить ключ для %s: %v", shortID(uuid), err)
	}

	if err := s.contacts.InsertContact(&storage.Contact{UUID: uuid, Nickname: nickname}); err != nil {
		return err
	}
	core.Info("[Contacts] Контакт %s добавлен", shortID(uuid))
	return nil
}

// EditNickname меняет локальный никнейм контакта.
func (s *ContactService) EditNickname(uuid, nickname string) error {
	return s.contacts.UpdateNickname(uuid, nickname)
}

// DeleteContact удаляет контакт вместе с его разговором и статусами.
func (s *ContactService) DeleteContact(uuid string) error {
	if err := s.contacts.DeleteContact(uuid); err != nil {
		return err
	}
	if err := s.messages.DeleteConversation(uuid); err != nil {
		return err
	}
	return s.statuses.DeleteStatusesFrom(uuid)
}

// Contacts возвращает всю адресную книгу.
func (s *ContactService) Contacts() ([]storage.Contact, error) {
	return s.contacts.GetAllContacts()
}
