package service

import (
	"fmt"

	"github.com/google/uuid"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/storage"
)

// IdentityService владеет локальной личностью устройства.
type IdentityService struct {
	repo   storage.IIdentityRepository
	engine crypto.ICryptoEngine
}

func NewIdentityService(repo storage.IIdentityRepository, engine crypto.ICryptoEngine) *IdentityService {
	return &IdentityService{repo: repo, engine: engine}
}

// LoadOrCreate возвращает сохраненную личность или создает новую при
// первом запуске. Идемпотентно: повторные вызовы не перегенерируют ключи.
func (s *IdentityService) LoadOrCreate() (*storage.Identity, error) {
	id, err := s.repo.LoadIdentity()
	if err != nil {
		return nil, err
	}
	if id != nil {
		core.Info("[Identity] Личность загружена: %s", shortID(id.DeviceID))
		return id, nil
	}

	pub, priv, err := s.engine.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("не удалось создать пару ключей: %w", err)
	}

	id = &storage.Identity{
		DeviceID:   uuid.New().String(),
		PublicKey:  pub,
		PrivateKey: priv,
	}
	if err := s.repo.SaveIdentity(id); err != nil {
		return nil, fmt.Errorf("не удалось сохранить личность: %w", err)
	}

	core.Info("[Identity] Создана новая личность: %s", shortID(id.DeviceID))
	return id, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
