package storage

import "time"

// Identity - локальная личность устройства. Создается один раз при первом
// запуске и больше не меняется. Приватный ключ не покидает устройство.
type Identity struct {
	DeviceID   string
	PublicKey  string
	PrivateKey string
}

// Contact - запись адресной книги. PublicKey пуст, пока пир не ответил
// на запрос ключа; без ключа шифрованная отправка невозможна.
type Contact struct {
	UUID      string
	PublicKey string
	Nickname  string
	CreatedAt time.Time
}

// Message - сообщение в разговоре. Флаги IsDelivered/IsRead двигаются
// только вперед (false -> true).
type Message struct {
	ID             int64
	ConversationID string
	FromUUID       string
	Content        string
	ContentType    string // text | image | file
	FilePath       string
	IsSent         bool
	IsDelivered    bool
	IsRead         bool
	Timestamp      time.Time
}

// Status - эфемерный статус. Удаляется периодической чисткой после ExpiresAt.
type Status struct {
	ID        int64
	FromUUID  string
	Content   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IIdentityRepository хранит единственную локальную личность.
type IIdentityRepository interface {
	// LoadIdentity возвращает (nil, nil), если личность еще не создана.
	LoadIdentity() (*Identity, error)
	SaveIdentity(id *Identity) error
}

// IContactRepository определяет интерфейс для работы с контактами.
type IContactRepository interface {
	// InsertContact вставляет контакт. При повторе обновляет только
	// непустой публичный ключ; никнейм и пустой ключ существующей
	// записи не трогаются.
	InsertContact(c *Contact) error
	GetContact(uuid string) (*Contact, error) // (nil, nil) если нет
	GetAllContacts() ([]Contact, error)
	UpdateNickname(uuid, nickname string) error
	// UpdatePublicKey обновляет только ключ, не трогая никнейм.
	UpdatePublicKey(uuid, publicKey string) error
	DeleteContact(uuid string) error
}

// IMessageRepository определяет интерфейс для работы с сообщениями.
type IMessageRepository interface {
	InsertMessage(m *Message) (int64, error)
	GetMessages(conversationID string, limit int) ([]Message, error)
	GetMessageByID(id int64) (*Message, error) // (nil, nil) если нет
	DeleteMessage(id int64) error
	DeleteConversation(conversationID string) error

	// MarkDelivered помечает одно исходящее сообщение доставленным. Идемпотентно.
	MarkDelivered(id int64) error
	// MarkOutgoingRead помечает все наши недочитанные сообщения в разговоре
	// прочитанными (квитанция read_all от пира). Идемпотентно.
	MarkOutgoingRead(conversationID string) error
	// MarkIncomingRead помечает входящие сообщения прочитанными
	// (мы открыли разговор).
	MarkIncomingRead(conversationID string) error

	UnreadCount(conversationID string) (int, error)
	// ConversationPreviews возвращает последнее сообщение каждого разговора.
	ConversationPreviews() (map[string]Message, error)
}

// IStatusRepository определяет интерфейс для работы со статусами.
type IStatusRepository interface {
	InsertStatus(s *Status) error
	GetActiveStatuses() ([]Status, error)
	DeleteExpiredStatuses() (int64, error)
	DeleteStatusesFrom(uuid string) error
}
