package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/media"
	"Krypt/internal/service"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// consoleNotifier печатает уведомления в stdout. Десктопные обертки
// подставляют сюда свою реализацию.
type consoleNotifier struct{}

func (consoleNotifier) NotifyMessage(fromUUID, nickname, content string) {
	name := nickname
	if name == "" {
		name = fromUUID
	}
	fmt.Printf(">> Сообщение от %s: %s\n", name, content)
}

func (consoleNotifier) NotifyFile(fromUUID, nickname, fileName string) {
	name := nickname
	if name == "" {
		name = fromUUID
	}
	fmt.Printf(">> Файл от %s: %s\n", name, fileName)
}

func main() {
	// .env необязателен, берем из него KRYPT_* переменные если есть.
	_ = godotenv.Load()

	configPath := flag.String("config", "krypt.toml", "путь к файлу конфигурации")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	if err := core.InitGlobalLogger(core.ParseLogLevel(cfg.LogLevel), cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка инициализации логгера: %v\n", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.DatabasePath)
	if err != nil {
		core.Error("[Main] Не удалось открыть базу данных: %v", err)
		os.Exit(1)
	}
	defer repo.Close()

	engine := crypto.NewRSAEngine(cfg.ChunkSize)

	controller := service.NewSessionController(
		&cfg,
		service.Repositories{
			Identity: repo,
			Contacts: repo,
			Messages: repo,
			Statuses: repo,
		},
		engine,
		func(uuid, publicKey string) transport.ITransport {
			return transport.NewRelayClient(cfg.RelayURL, cfg.ReconnectDelay.Duration, uuid, publicKey)
		},
		media.NewPionFactory(cfg.STUNServers, cfg.TURNServer, cfg.TURNUsername, cfg.TURNPassword),
		consoleNotifier{},
	)

	controller.SetIncomingCallHandler(func(fromUUID string) {
		fmt.Printf(">> Входящий звонок от %s\n", fromUUID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := controller.Start(ctx); err != nil {
		core.Error("[Main] Не удалось запустить сессию: %v", err)
		os.Exit(1)
	}

	core.Info("[Main] Krypt запущен. Наш uuid: %s", controller.Identity().DeviceID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	core.Info("[Main] Завершение работы...")
	controller.Stop()
}
