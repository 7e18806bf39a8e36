package service

import (
	"fmt"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/protocol"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// MessageService - протокольный движок текстовых сообщений: шифрование,
// расшифровка, квитанции доставки/прочтения и сверка ключей контактов.
type MessageService struct {
	identity  *storage.Identity
	contacts  storage.IContactRepository
	messages  storage.IMessageRepository
	engine    crypto.ICryptoEngine
	transport transport.ITransport
	tracker   ConversationTracker
	notifier  Notifier
}

func NewMessageService(
	identity *storage.Identity,
	contacts storage.IContactRepository,
	messages storage.IMessageRepository,
	engine crypto.ICryptoEngine,
	tr transport.ITransport,
	tracker ConversationTracker,
	notifier Notifier,
) *MessageService {
	return &MessageService{
		identity:  identity,
		contacts:  contacts,
		messages:  messages,
		engine:    engine,
		transport: tr,
		tracker:   tracker,
		notifier:  notifier,
	}
}

// Send шифрует и отправляет текст контакту. Если ключ контакта неизвестен
// или оказался битым, пиру уходит запрос ключа и возвращается ErrMissingKey -
// локальное сообщение при этом не создается. Ошибка транспорта не считается
// фатальной: сообщение сохраняется недоставленным, повтор - ручное действие
// пользователя.
func (s *MessageService) Send(to, text string) (int64, error) {
	contact, err := s.contacts.GetContact(to)
	if err != nil {
		return 0, err
	}
	if contact == nil {
		return 0, fmt.Errorf("контакт %s не найден", shortID(to))
	}

	if contact.PublicKey == "" {
		s.requestKey(to)
		return 0, ErrMissingKey
	}

	payload, err := s.engine.EncryptMessage(text, contact.PublicKey)
	if err != nil {
		// Ключ в базе есть, но шифрование не удалось - значит ключ
		// устарел или поврежден. Запрашиваем свежий.
		core.Warn("[Messages] Шифрование для %s не удалось: %v", shortID(to), err)
		s.requestKey(to)
		return 0, fmt.Errorf("%w: %v", ErrMissingKey, err)
	}

	sendErr := s.transport.SendMessage(to, payload)

	msg := &storage.Message{
		ConversationID: to,
		FromUUID:       s.identity.DeviceID,
		Content:        text,
		ContentType:    "text",
		IsSent:         true,
		IsDelivered:    false,
		IsRead:         false,
	}
	id, err := s.messages.InsertMessage(msg)
	if err != nil {
		return 0, err
	}

	if sendErr != nil {
		// Сообщение остается видимым как "отправлено, не доставлено".
		core.Warn("[Messages] Отправка %s не удалась, сообщение %d сохранено локально: %v",
			shortID(to), id, sendErr)
	}
	return id, nil
}

// Receive обрабатывает входящее зашифрованное сообщение. Неудачная
// расшифровка - это рассинхронизация ключей, а не фатальная ошибка:
// сообщение не сохраняется, пиру уходит запрос свежего ключа.
func (s *MessageService) Receive(from string, payload *crypto.EncryptedPayload) {
	text, err := s.engine.DecryptMessage(payload, s.identity.PrivateKey)
	if err != nil {
		core.Warn("[Messages] Не удалось расшифровать сообщение от %s: %v", shortID(from), err)
		s.requestKey(from)
		return
	}

	msg := &storage.Message{
		ConversationID: from,
		FromUUID:       from,
		Content:        text,
		ContentType:    "text",
		IsSent:         false,
		IsDelivered:    true,
		IsRead:         false,
	}
	id, err := s.messages.InsertMessage(msg)
	if err != nil {
		core.Error("[Messages] Не удалось сохранить входящее сообщение: %v", err)
		return
	}

	if err := s.transport.SendReceipt(from, protocol.ReceiptDelivered, id); err != nil {
		core.Warn("[Messages] Квитанция delivered для %s не ушла: %v", shortID(from), err)
	}

	if s.tracker.CurrentConversation() == from {
		// Разговор открыт: сразу помечаем прочитанным и шлем read_all.
		if err := s.messages.MarkIncomingRead(from); err != nil {
			core.Error("[Messages] MarkIncomingRead: %v", err)
		}
		if err := s.transport.SendReceipt(from, protocol.ReceiptReadAll, 0); err != nil {
			core.Warn("[Messages] Квитанция read_all для %s не ушла: %v", shortID(from), err)
		}
		return
	}

	if s.notifier != nil {
		s.notifier.NotifyMessage(from, s.nickname(from), text)
	}
}

// ReceiveReceipt применяет квитанцию от пира. Обе ветки идемпотентны:
// повторная квитанция по уже помеченному сообщению - no-op.
func (s *MessageService) ReceiveReceipt(from, kind string, refID int64) {
	switch kind {
	case protocol.ReceiptDelivered:
		if err := s.messages.MarkDelivered(refID); err != nil {
			core.Error("[Messages] MarkDelivered(%d): %v", refID, err)
		}
	case protocol.ReceiptReadAll:
		if err := s.messages.MarkOutgoingRead(from); err != nil {
			core.Error("[Messages] MarkOutgoingRead(%s): %v", shortID(from), err)
		}
	default:
		core.Warn("[Messages] Неизвестный тип квитанции: %s", kind)
	}
}

// ReconcileKey сохраняет публичный ключ контакта из public_key_response.
// Никнейм и остальные локальные поля не трогаются. Автоматического
// переотправления ранее неудачных сообщений нет - это действие пользователя.
func (s *MessageService) ReconcileKey(target, publicKey string) {
	if target == "" || publicKey == "" {
		return
	}

	contact, err := s.contacts.GetContact(target)
	if err != nil {
		core.Error("[Messages] ReconcileKey: %v", err)
		return
	}

	if contact != nil {
		if err := s.contacts.UpdatePublicKey(target, publicKey); err != nil {
			core.Error("[Messages] Не удалось обновить ключ %s: %v", shortID(target), err)
			return
		}
	} else {
		if err := s.contacts.InsertContact(&storage.Contact{UUID: target, PublicKey: publicKey}); err != nil {
			core.Error("[Messages] Не удалось сохранить контакт %s: %v", shortID(target), err)
			return
		}
	}
	core.Info("[Messages] Публичный ключ %s обновлен", shortID(target))
}

func (s *MessageService) requestKey(uuid string) {
	if err := s.transport.RequestPublicKey(uuid); err != nil {
		core.Warn("[Messages] Запрос ключа для %s не ушел: %v", shortID(uuid), err)
	}
}

func (s *MessageService) nickname(uuid string) string {
	contact, err := s.contacts.GetContact(uuid)
	if err != nil || contact == nil {
		return ""
	}
	return contact.Nickname
}
