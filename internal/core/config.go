package core

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config определяет все настраиваемые параметры клиента Krypt.
// Эта структура позволяет управлять поведением ядра без изменения кода.
type Config struct {
	// --- Транспорт ---

	// RelayURL - адрес relay-сервера (WebSocket), через который идут все конверты.
	RelayURL string `toml:"relay_url"`

	// ReconnectDelay - начальная задержка перед попыткой переподключения к relay.
	ReconnectDelay duration `toml:"reconnect_delay"`

	// --- Хранилище ---

	// DataDir - каталог для принятых и отправленных файлов.
	DataDir string `toml:"data_dir"`

	// DatabasePath - путь к файлу SQLite.
	DatabasePath string `toml:"database_path"`

	// --- Передача файлов ---

	// ChunkSize - размер одного чанка файла в байтах (до шифрования).
	ChunkSize int `toml:"chunk_size"`

	// ChunkSendDelay - пауза между отправкой чанков. Это намеренный
	// backpressure: даем буферу WebSocket время на отправку.
	ChunkSendDelay duration `toml:"chunk_send_delay"`

	// --- Статусы ---

	// StatusTTL - время жизни статуса.
	StatusTTL duration `toml:"status_ttl"`

	// StatusSweepInterval - период удаления истекших статусов.
	StatusSweepInterval duration `toml:"status_sweep_interval"`

	// --- Звонки ---

	// STUNServers - список STUN-серверов для ICE.
	STUNServers []string `toml:"stun_servers"`

	// TURNServer и учетные данные. Пустая строка - TURN не используется.
	TURNServer   string `toml:"turn_server"`
	TURNUsername string `toml:"turn_username"`
	TURNPassword string `toml:"turn_password"`

	// --- Логирование ---

	// LogLevel: silent | error | warn | info | debug.
	LogLevel string `toml:"log_level"`

	// LogDir - каталог для файла логов. Пустая строка - только консоль.
	LogDir string `toml:"log_dir"`
}

// duration - обертка для разбора длительностей из TOML ("80ms", "24h").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// DefaultConfig возвращает рекомендуемую конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		RelayURL:       "wss://relay.krypt.local/ws",
		ReconnectDelay: duration{2 * time.Second},

		DataDir:      "krypt_files",
		DatabasePath: "krypt.db",

		ChunkSize: 64 * 1024,
		// 80 мс между чанками - как в мобильном клиенте, чтобы не
		// переполнять буфер relay-соединения.
		ChunkSendDelay: duration{80 * time.Millisecond},

		StatusTTL:           duration{24 * time.Hour},
		StatusSweepInterval: duration{60 * time.Second},

		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
		},

		LogLevel: "info",
	}
}

// LoadConfig читает конфигурацию из TOML-файла поверх значений по умолчанию.
// Отсутствующий файл - не ошибка: возвращается DefaultConfig.
// Переменные окружения KRYPT_RELAY_URL и KRYPT_DATA_DIR имеют приоритет
// над файлом (их удобно задавать через .env).
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return cfg, fmt.Errorf("не удалось разобрать конфигурацию %s: %w", path, err)
			}
		}
	}

	if v := os.Getenv("KRYPT_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("KRYPT_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KRYPT_TURN_USERNAME"); v != "" {
		cfg.TURNUsername = v
	}
	if v := os.Getenv("KRYPT_TURN_PASSWORD"); v != "" {
		cfg.TURNPassword = v
	}

	return cfg, nil
}
