package service

import (
	"context"
	"fmt"
	"sync"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/media"
	"Krypt/internal/protocol"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// TransportFactory создает транспорт для анонсированной личности.
// Личность известна только после LoadOrCreate, поэтому транспорт
// конструируется контроллером, а не снаружи.
type TransportFactory func(uuid, publicKey string) transport.ITransport

// Repositories - набор хранилищ ядра. SQLiteRepository реализует все четыре.
type Repositories struct {
	Identity storage.IIdentityRepository
	Contacts storage.IContactRepository
	Messages storage.IMessageRepository
	Statuses storage.IStatusRepository
}

// SessionController - оркестратор сессии: владеет жизненным циклом
// личности, транспорта и сервисов, раскладывает входящий поток по ним
// и предоставляет фасад для UI.
type SessionController struct {
	cfg          *core.Config
	repos        Repositories
	engine       crypto.ICryptoEngine
	mediaFactory media.EngineFactory
	notifier     Notifier
	newTransport TransportFactory

	identity  *storage.Identity
	transport transport.ITransport

	messages *MessageService
	files    *FileService
	statuses *StatusService
	calls    *CallService
	contacts *ContactService
	dispatch *Dispatcher

	// Открытый сейчас разговор. Пустая строка - ни один не открыт.
	convMu              sync.RWMutex
	currentConversation string

	// Обработчики, заданные до Start. Применяются при создании CallService.
	onIncomingCall func(fromUUID string)
	onCallPhase    func(phase CallPhase, peer string)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewSessionController(
	cfg *core.Config,
	repos Repositories,
	engine crypto.ICryptoEngine,
	newTransport TransportFactory,
	mediaFactory media.EngineFactory,
	notifier Notifier,
) *SessionController {
	return &SessionController{
		cfg:          cfg,
		repos:        repos,
		engine:       engine,
		newTransport: newTransport,
		mediaFactory: mediaFactory,
		notifier:     notifier,
	}
}

// Start поднимает сессию: личность, транспорт, сервисы, цикл приема.
// Повторный Start на работающем контроллере - ошибка.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return fmt.Errorf("контроллер уже запущен")
	}

	identitySvc := NewIdentityService(c.repos.Identity, c.engine)
	identity, err := identitySvc.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("ошибка инициализации личности: %w", err)
	}
	c.identity = identity

	c.transport = c.newTransport(identity.DeviceID, identity.PublicKey)

	c.messages = NewMessageService(identity, c.repos.Contacts, c.repos.Messages, c.engine, c.transport, c, c.notifier)
	c.files = NewFileService(identity, c.repos.Contacts, c.repos.Messages, c.engine, c.transport, c, c.notifier,
		c.cfg.DataDir, c.cfg.ChunkSendDelay.Duration)
	c.statuses = NewStatusService(identity, c.repos.Contacts, c.repos.Statuses, c.transport, c.cfg.StatusTTL.Duration)
	c.calls = NewCallService(c.transport, c.mediaFactory)
	if c.onIncomingCall != nil {
		c.calls.SetIncomingCallHandler(c.onIncomingCall)
	}
	if c.onCallPhase != nil {
		c.calls.SetPhaseChangeHandler(c.onCallPhase)
	}
	c.contacts = NewContactService(c.repos.Contacts, c.repos.Messages, c.repos.Statuses, c.transport)
	c.dispatch = NewDispatcher(c.messages, c.files, c.statuses, c.calls)

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if err := c.transport.Connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("ошибка подключения транспорта: %w", err)
	}

	c.wg.Add(2)
	go c.receiveLoop()
	go func() {
		defer c.wg.Done()
		c.statuses.RunSweep(runCtx, c.cfg.StatusSweepInterval.Duration)
	}()

	c.running = true
	core.Info("[Controller] Сессия запущена, устройство %s", shortID(identity.DeviceID))
	return nil
}

// receiveLoop читает конверты из транспорта и обрабатывает каждый в
// отдельной горутине: медленная сборка файла не блокирует квитанции.
func (c *SessionController) receiveLoop() {
	defer c.wg.Done()
	for env := range c.transport.Incoming() {
		go func(env *protocol.Envelope) {
			defer func() {
				if r := recover(); r != nil {
					core.Error("[Controller] Паника при обработке конверта %s: %v", env.Type, r)
				}
			}()
			c.dispatch.Dispatch(env)
		}(env)
	}
}

// Stop завершает активный звонок, разрывает транспорт и дожидается
// рабочих горутин. Идемпотентен.
func (c *SessionController) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.calls.EndCall()
	c.cancel()
	if err := c.transport.Close(); err != nil {
		core.Warn("[Controller] Ошибка закрытия транспорта: %v", err)
	}
	c.wg.Wait()
	core.Info("[Controller] Сессия остановлена")
}

// CurrentConversation реализует ConversationTracker.
func (c *SessionController) CurrentConversation() string {
	c.convMu.RLock()
	defer c.convMu.RUnlock()
	return c.currentConversation
}

// OpenConversation отмечает разговор открытым: входящие в нем помечаются
// прочитанными, пиру уходит квитанция read_all.
func (c *SessionController) OpenConversation(uuid string) {
	c.convMu.Lock()
	c.currentConversation = uuid
	c.convMu.Unlock()

	if err := c.repos.Messages.MarkIncomingRead(uuid); err != nil {
		core.Error("[Controller] MarkIncomingRead(%s): %v", shortID(uuid), err)
	}
	if err := c.transport.SendReceipt(uuid, protocol.ReceiptReadAll, 0); err != nil {
		core.Warn("[Controller] Квитанция read_all для %s не ушла: %v", shortID(uuid), err)
	}
}

// CloseConversation сбрасывает открытый разговор.
func (c *SessionController) CloseConversation() {
	c.convMu.Lock()
	c.currentConversation = ""
	c.convMu.Unlock()
}

// --- Фасад для UI ---

func (c *SessionController) Identity() *storage.Identity { return c.identity }

func (c *SessionController) SendText(to, text string) (int64, error) {
	return c.messages.Send(to, text)
}

func (c *SessionController) SendFile(to string, data []byte, fileName, mimeType string) (int64, error) {
	return c.files.SendFile(to, data, fileName, mimeType)
}

func (c *SessionController) DeleteMessage(id int64) error {
	return c.repos.Messages.DeleteMessage(id)
}

func (c *SessionController) DeleteConversation(uuid string) error {
	return c.repos.Messages.DeleteConversation(uuid)
}

func (c *SessionController) Messages(uuid string, limit int) ([]storage.Message, error) {
	return c.repos.Messages.GetMessages(uuid, limit)
}

func (c *SessionController) UnreadCount(uuid string) (int, error) {
	return c.repos.Messages.UnreadCount(uuid)
}

func (c *SessionController) ConversationPreviews() (map[string]storage.Message, error) {
	return c.repos.Messages.ConversationPreviews()
}

func (c *SessionController) AddContact(uuid, nickname string) error {
	return c.contacts.AddContact(uuid, nickname)
}

func (c *SessionController) EditNickname(uuid, nickname string) error {
	return c.contacts.EditNickname(uuid, nickname)
}

func (c *SessionController) DeleteContact(uuid string) error {
	return c.contacts.DeleteContact(uuid)
}

func (c *SessionController) Contacts() ([]storage.Contact, error) {
	return c.contacts.Contacts()
}

func (c *SessionController) PostStatus(content string) error {
	return c.statuses.PostStatus(content)
}

func (c *SessionController) ActiveStatuses() ([]storage.Status, error) {
	return c.statuses.ActiveStatuses()
}

func (c *SessionController) StartCall(to string) error { return c.calls.StartCall(to) }
func (c *SessionController) AcceptCall() error         { return c.calls.AcceptCall() }
func (c *SessionController) EndCall()                  { c.calls.EndCall() }

func (c *SessionController) CallPhase() (CallPhase, string) { return c.calls.Phase() }

// SetIncomingCallHandler задает обработчик входящих звонков.
// Задавать нужно до Start.
func (c *SessionController) SetIncomingCallHandler(fn func(fromUUID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onIncomingCall = fn
	if c.calls != nil {
		c.calls.SetIncomingCallHandler(fn)
	}
}

// SetCallPhaseHandler задает обработчик смены фазы звонка.
func (c *SessionController) SetCallPhaseHandler(fn func(phase CallPhase, peer string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onCallPhase = fn
	if c.calls != nil {
		c.calls.SetPhaseChangeHandler(fn)
	}
}
