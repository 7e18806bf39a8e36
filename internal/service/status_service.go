package service

import (
	"context"
	"time"

	"Krypt/internal/core"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// StatusService - широковещательные статусы с временем жизни.
type StatusService struct {
	identity  *storage.Identity
	contacts  storage.IContactRepository
	statuses  storage.IStatusRepository
	transport transport.ITransport
	ttl       time.Duration
}

func NewStatusService(
	identity *storage.Identity,
	contacts storage.IContactRepository,
	statuses storage.IStatusRepository,
	tr transport.ITransport,
	ttl time.Duration,
) *StatusService {
	return &StatusService{
		identity:  identity,
		contacts:  contacts,
		statuses:  statuses,
		transport: tr,
		ttl:       ttl,
	}
}

// PostStatus рассылает статус и сохраняет его локально с тем же TTL,
// что и у получателей.
func (s *StatusService) PostStatus(content string) error {
	if err := s.transport.SendStatus(content); err != nil {
		core.Warn("[Status] Рассылка статуса не удалась: %v", err)
	}

	now := time.Now()
	return s.statuses.InsertStatus(&storage.Status{
		FromUUID:  s.identity.DeviceID,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
}

// OnStatus сохраняет статус пира. Эхо собственного статуса от relay и
// статусы незнакомых отправителей отбрасываются.
func (s *StatusService) OnStatus(from, content string) {
	if from == s.identity.DeviceID {
		return
	}
	contact, err := s.contacts.GetContact(from)
	if err != nil {
		core.Error("[Status] Проверка контакта %s: %v", shortID(from), err)
		return
	}
	if contact == nil {
		core.Debug("[Status] Статус от незнакомого %s отброшен", shortID(from))
		return
	}

	now := time.Now()
	if err := s.statuses.InsertStatus(&storage.Status{
		FromUUID:  from,
		Content:   content,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}); err != nil {
		core.Error("[Status] Не удалось сохранить статус от %s: %v", shortID(from), err)
		return
	}
	core.Info("[Status] Новый статус от %s", shortID(from))
}

// ActiveStatuses возвращает непротухшие статусы.
func (s *StatusService) ActiveStatuses() ([]storage.Status, error) {
	return s.statuses.GetActiveStatuses()
}

// RunSweep периодически удаляет протухшие статусы до отмены контекста.
func (s *StatusService) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.statuses.DeleteExpiredStatuses()
			if err != nil {
				core.Error("[Status] Чистка статусов: %v", err)
				continue
			}
			if n > 0 {
				core.Debug("[Status] Удалено протухших статусов: %d", n)
			}
		}
	}
}
