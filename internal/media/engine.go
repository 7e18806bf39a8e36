package media

// Callbacks - события медиадвижка, на которые подписывается сигналинг.
type Callbacks struct {
	// OnICECandidate вызывается для каждого локального ICE-кандидата.
	OnICECandidate func(candidate, sdpMid string, sdpMLineIndex int)
	// OnConnected вызывается, когда соединение фактически установлено.
	OnConnected func()
	// OnDisconnected вызывается при потере связи на нижнем уровне
	// (disconnect/failure/closed). Сигналинг трактует это как endCall.
	OnDisconnected func()
}

// IMediaEngine - граница с медиадвижком. Захват камеры/микрофона и
// рендеринг - вне ядра; здесь только SDP-переговоры и ICE.
type IMediaEngine interface {
	// CreateOffer создает локальный offer и устанавливает его как
	// local description. Возвращает SDP для отправки пиру.
	CreateOffer() (string, error)

	// CreateAnswer принимает offer пира и возвращает SDP-answer.
	CreateAnswer(offerSDP string) (string, error)

	// SetRemoteAnswer применяет answer пира (для исходящего звонка).
	SetRemoteAnswer(sdp string) error

	// AddICECandidate применяет кандидат пира. Кандидаты, пришедшие
	// раньше remote description, движок буферизует сам.
	AddICECandidate(candidate, sdpMid string, sdpMLineIndex int) error

	// Close освобождает ресурсы. Повторный вызов безопасен.
	Close() error
}

// EngineFactory создает движок для одного звонка. Каждый звонок получает
// свежий экземпляр; ошибки фабрики терминальны для попытки звонка.
type EngineFactory func(cb Callbacks) (IMediaEngine, error)
