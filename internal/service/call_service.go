package service

import (
	"fmt"
	"sync"

	"Krypt/internal/core"
	"Krypt/internal/media"
	"Krypt/internal/transport"
)

// CallPhase - фаза единственного слота звонка.
type CallPhase string

const (
	PhaseIdle            CallPhase = "idle"
	PhaseOutgoingPending CallPhase = "outgoing_pending"
	PhaseIncomingOffered CallPhase = "incoming_offered"
	PhaseConnected       CallPhase = "connected"
)

// CallService - машина состояний сигналинга звонков. Слот звонка один:
// второй исходящий или входящий звонок при занятом слоте отклоняется с
// ErrBusy, активная сессия никогда не перезаписывается молча.
type CallService struct {
	transport transport.ITransport
	factory   media.EngineFactory

	mu     sync.Mutex
	phase  CallPhase
	peer   string
	engine media.IMediaEngine
	// SDP входящего offer, ждет решения пользователя.
	pendingOffer string
	// gen растет при каждом освобождении слота. Установка звонка идет
	// вне мьютекса (фабрика, SDP-переговоры); перед тем как записать
	// результат, установщик сверяет gen и выбрасывает работу, если слот
	// тем временем освободил EndCall. Без этого завершенный звонок
	// воскресал бы, а его движок никогда не закрывался.
	gen uint64

	// onIncomingCall дергается при входящем offer, решение за пользователем.
	onIncomingCall func(fromUUID string)
	// onPhaseChange дергается при каждой смене фазы (для UI).
	onPhaseChange func(phase CallPhase, peer string)
}

func NewCallService(tr transport.ITransport, factory media.EngineFactory) *CallService {
	return &CallService{
		transport: tr,
		factory:   factory,
		phase:     PhaseIdle,
	}
}

// SetIncomingCallHandler задает обработчик входящих звонков.
func (s *CallService) SetIncomingCallHandler(fn func(fromUUID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onIncomingCall = fn
}

// SetPhaseChangeHandler задает обработчик смены фазы.
func (s *CallService) SetPhaseChangeHandler(fn func(phase CallPhase, peer string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPhaseChange = fn
}

// Phase возвращает текущую фазу и пира.
func (s *CallService) Phase() (CallPhase, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase, s.peer
}

// setPhaseLocked меняет фазу под s.mu и запоминает обработчик для вызова
// после отпускания мьютекса.
func (s *CallService) setPhaseLocked(phase CallPhase, peer string) func() {
	s.phase = phase
	s.peer = peer
	fn := s.onPhaseChange
	if fn == nil {
		return func() {}
	}
	return func() { fn(phase, peer) }
}

// StartCall начинает исходящий звонок. Слот захватывается под мьютексом
// до любой медиаработы: гонка двух StartCall отдаст слот ровно одному.
func (s *CallService) StartCall(to string) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: фаза %s", ErrBusy, s.phase)
	}
	myGen := s.gen
	notify := s.setPhaseLocked(PhaseOutgoingPending, to)
	s.mu.Unlock()
	notify()

	engine, err := s.factory(media.Callbacks{
		OnICECandidate: func(candidate, sdpMid string, sdpMLineIndex int) {
			s.sendCandidate(to, candidate, sdpMid, sdpMLineIndex)
		},
		OnConnected:    func() { s.markConnected(to) },
		OnDisconnected: func() { s.EndCall() },
	})
	if err != nil {
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("%w: %v", ErrResourceInit, err)
	}

	if !s.adoptEngine(myGen, engine) {
		// Звонок завершили, пока фабрика работала. Слот уже Idle,
		// осталось прибрать только что созданный движок.
		closeEngine(engine)
		core.Info("[Calls] Звонок %s завершен во время установки", shortID(to))
		return nil
	}

	offerSDP, err := engine.CreateOffer()
	if err != nil {
		if s.stale(myGen) {
			// Движок закрыл параллельный EndCall, это не сбой установки.
			return nil
		}
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("%w: %v", ErrResourceInit, err)
	}
	if s.stale(myGen) {
		return nil
	}

	if err := s.transport.SendOffer(to, offerSDP); err != nil {
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("не удалось отправить offer: %w", err)
	}

	core.Info("[Calls] Исходящий звонок %s, offer отправлен", shortID(to))
	return nil
}

// OnOffer обрабатывает входящий offer. Медиасессия не создается до
// явного согласия пользователя (AcceptCall).
func (s *CallService) OnOffer(from, sdp string) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		core.Warn("[Calls] Offer от %s отклонен: слот занят (%s)", shortID(from), s.phase)
		return fmt.Errorf("%w: фаза %s", ErrBusy, s.phase)
	}
	s.pendingOffer = sdp
	notify := s.setPhaseLocked(PhaseIncomingOffered, from)
	handler := s.onIncomingCall
	s.mu.Unlock()
	notify()

	core.Info("[Calls] Входящий звонок от %s", shortID(from))
	if handler != nil {
		handler(from)
	}
	return nil
}

// AcceptCall принимает ожидающий входящий звонок: создает медиадвижок,
// строит answer по сохраненному offer и отправляет его звонящему.
func (s *CallService) AcceptCall() error {
	s.mu.Lock()
	if s.phase != PhaseIncomingOffered {
		s.mu.Unlock()
		return fmt.Errorf("нет ожидающего входящего звонка")
	}
	from := s.peer
	offerSDP := s.pendingOffer
	myGen := s.gen
	s.mu.Unlock()

	engine, err := s.factory(media.Callbacks{
		OnICECandidate: func(candidate, sdpMid string, sdpMLineIndex int) {
			s.sendCandidate(from, candidate, sdpMid, sdpMLineIndex)
		},
		OnConnected:    func() { s.markConnected(from) },
		OnDisconnected: func() { s.EndCall() },
	})
	if err != nil {
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("%w: %v", ErrResourceInit, err)
	}

	if !s.adoptEngine(myGen, engine) {
		closeEngine(engine)
		core.Info("[Calls] Звонок от %s завершен во время установки", shortID(from))
		return nil
	}

	answerSDP, err := engine.CreateAnswer(offerSDP)
	if err != nil {
		if s.stale(myGen) {
			return nil
		}
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("%w: %v", ErrResourceInit, err)
	}
	if s.stale(myGen) {
		// Завершенный звонок не подтверждаем: answer не отправляется.
		return nil
	}

	if err := s.transport.SendAnswer(from, answerSDP); err != nil {
		s.releaseIfCurrent(myGen)
		return fmt.Errorf("не удалось отправить answer: %w", err)
	}

	s.mu.Lock()
	if s.gen != myGen {
		s.mu.Unlock()
		return nil
	}
	notify := s.setPhaseLocked(PhaseConnected, from)
	s.mu.Unlock()
	notify()

	core.Info("[Calls] Звонок от %s принят, answer отправлен", shortID(from))
	return nil
}

// OnAnswer применяет answer пира к исходящему звонку. Answer вне фазы
// ожидания (поздний, после EndCall) молча игнорируется.
func (s *CallService) OnAnswer(from, sdp string) {
	s.mu.Lock()
	if s.phase != PhaseOutgoingPending || s.peer != from || s.engine == nil {
		s.mu.Unlock()
		core.Warn("[Calls] Answer от %s вне ожидания, игнорируем", shortID(from))
		return
	}
	engine := s.engine
	s.mu.Unlock()

	if err := engine.SetRemoteAnswer(sdp); err != nil {
		core.Error("[Calls] Не удалось применить answer от %s: %v", shortID(from), err)
		s.EndCall()
		return
	}
	// Фаза станет Connected по колбэку OnConnected от медиадвижка.
	core.Info("[Calls] Answer от %s применен", shortID(from))
}

// OnIceCandidate добавляет ICE-кандидата пира. Кандидат без активной
// сессии (поздний, после EndCall) отбрасывается молча.
func (s *CallService) OnIceCandidate(from, candidate, sdpMid string, sdpMLineIndex int) {
	s.mu.Lock()
	engine := s.engine
	peer := s.peer
	s.mu.Unlock()

	if engine == nil || peer != from {
		core.Debug("[Calls] ICE-кандидат от %s без сессии, отброшен", shortID(from))
		return
	}
	if err := engine.AddICECandidate(candidate, sdpMid, sdpMLineIndex); err != nil {
		core.Warn("[Calls] Не удалось добавить ICE-кандидата: %v", err)
	}
}

// EndCall завершает звонок из любой фазы и освобождает слот. Идемпотентен:
// повторный вызов в Idle - no-op. Закрытие движка выполняется вне мьютекса.
// Рост gen гарантирует, что установка, идущая параллельно, не вернет слот
// к жизни: она увидит устаревший gen и выбросит свой результат.
func (s *CallService) EndCall() {
	s.mu.Lock()
	if s.phase == PhaseIdle {
		s.mu.Unlock()
		return
	}
	engine := s.engine
	peer := s.peer
	s.engine = nil
	s.pendingOffer = ""
	s.gen++
	notify := s.setPhaseLocked(PhaseIdle, "")
	s.mu.Unlock()
	notify()

	closeEngine(engine)
	core.Info("[Calls] Звонок с %s завершен", shortID(peer))
}

func (s *CallService) markConnected(peer string) {
	s.mu.Lock()
	if s.peer != peer || s.engine == nil {
		s.mu.Unlock()
		return
	}
	notify := s.setPhaseLocked(PhaseConnected, peer)
	s.mu.Unlock()
	notify()
	core.Info("[Calls] Медиасоединение с %s установлено", shortID(peer))
}

func (s *CallService) sendCandidate(to, candidate, sdpMid string, sdpMLineIndex int) {
	if err := s.transport.SendICECandidate(to, candidate, sdpMid, sdpMLineIndex); err != nil {
		core.Warn("[Calls] ICE-кандидат для %s не ушел: %v", shortID(to), err)
	}
}

// adoptEngine записывает созданный движок в слот, если слот все еще
// принадлежит этой попытке установки. false - слот тем временем освобожден.
func (s *CallService) adoptEngine(gen uint64, engine media.IMediaEngine) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return false
	}
	s.engine = engine
	s.pendingOffer = ""
	return true
}

// stale сообщает, что слот этой попытки уже освобожден (EndCall во время
// установки). Движок в этом случае закрыл EndCall.
func (s *CallService) stale(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// releaseIfCurrent освобождает слот после ошибки установки, но только
// если он все еще принадлежит этой попытке: чужой звонок не трогаем.
func (s *CallService) releaseIfCurrent(gen uint64) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	engine := s.engine
	s.engine = nil
	s.pendingOffer = ""
	s.gen++
	notify := s.setPhaseLocked(PhaseIdle, "")
	s.mu.Unlock()
	notify()

	closeEngine(engine)
}

func closeEngine(engine media.IMediaEngine) {
	if engine == nil {
		return
	}
	if err := engine.Close(); err != nil {
		core.Warn("[Calls] Ошибка закрытия медиадвижка: %v", err)
	}
}
