package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "нет.toml"))
	if err != nil {
		t.Fatalf("Отсутствующий файл не должен быть ошибкой: %v", err)
	}
	if cfg.ChunkSize != 64*1024 {
		t.Errorf("Размер чанка по умолчанию: %d", cfg.ChunkSize)
	}
	if cfg.ChunkSendDelay.Duration != 80*time.Millisecond {
		t.Errorf("Пауза между чанками по умолчанию: %s", cfg.ChunkSendDelay.Duration)
	}
	if cfg.StatusTTL.Duration != 24*time.Hour {
		t.Errorf("TTL статуса по умолчанию: %s", cfg.StatusTTL.Duration)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "krypt.toml")
	content := `
relay_url = "wss://example.org/ws"
chunk_size = 1024
chunk_send_delay = "10ms"
status_ttl = "1h"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Не удалось записать конфигурацию: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if cfg.RelayURL != "wss://example.org/ws" {
		t.Errorf("RelayURL не прочитан: %q", cfg.RelayURL)
	}
	if cfg.ChunkSize != 1024 {
		t.Errorf("ChunkSize не прочитан: %d", cfg.ChunkSize)
	}
	if cfg.ChunkSendDelay.Duration != 10*time.Millisecond {
		t.Errorf("ChunkSendDelay не прочитан: %s", cfg.ChunkSendDelay.Duration)
	}
	// Непереопределенные поля остаются значениями по умолчанию.
	if cfg.DatabasePath != "krypt.db" {
		t.Errorf("DatabasePath потерял значение по умолчанию: %q", cfg.DatabasePath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("KRYPT_RELAY_URL", "wss://env.example.org/ws")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("Ошибка загрузки: %v", err)
	}
	if cfg.RelayURL != "wss://env.example.org/ws" {
		t.Errorf("Переменная окружения не применена: %q", cfg.RelayURL)
	}
}
