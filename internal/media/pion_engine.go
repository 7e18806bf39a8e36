package media

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"Krypt/internal/core"
)

// PionEngine реализует IMediaEngine поверх pion/webrtc.
type PionEngine struct {
	pc *webrtc.PeerConnection

	mu sync.Mutex
	// Кандидаты, пришедшие до remote description. Применяются после.
	pendingCandidates []webrtc.ICECandidateInit
	closed            bool
}

// NewPionFactory возвращает фабрику движков с заданными ICE-серверами.
func NewPionFactory(stunServers []string, turnServer, turnUsername, turnPassword string) EngineFactory {
	iceServers := []webrtc.ICEServer{}
	if len(stunServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: stunServers})
	}
	if turnServer != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       []string{turnServer},
			Username:   turnUsername,
			Credential: turnPassword,
		})
	}
	config := webrtc.Configuration{ICEServers: iceServers}

	return func(cb Callbacks) (IMediaEngine, error) {
		return newPionEngine(config, cb)
	}
}

func newPionEngine(config webrtc.Configuration, cb Callbacks) (*PionEngine, error) {
	pc, err := webrtc.NewAPI().NewPeerConnection(config)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать PeerConnection: %w", err)
	}

	e := &PionEngine{pc: pc}

	// Треки подключает внешний медиаслой; ядро договаривается о
	// двунаправленных аудио и видео трансиверах.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind); err != nil {
			pc.Close()
			return nil, fmt.Errorf("не удалось добавить трансивер %s: %w", kind, err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || cb.OnICECandidate == nil {
			return
		}
		init := c.ToJSON()
		sdpMid := ""
		if init.SDPMid != nil {
			sdpMid = *init.SDPMid
		}
		var mline int
		if init.SDPMLineIndex != nil {
			mline = int(*init.SDPMLineIndex)
		}
		cb.OnICECandidate(init.Candidate, sdpMid, mline)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			core.Info("[Media] PeerConnection установлен")
			if cb.OnConnected != nil {
				cb.OnConnected()
			}
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			core.Info("[Media] PeerConnection потерян: %s", state)
			if cb.OnDisconnected != nil {
				cb.OnDisconnected()
			}
		}
	})

	return e, nil
}

func (e *PionEngine) CreateOffer() (string, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("ошибка установки local description: %w", err)
	}
	return offer.SDP, nil
}

func (e *PionEngine) CreateAnswer(offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := e.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("ошибка установки remote offer: %w", err)
	}
	e.applyPendingCandidates()

	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("ошибка создания answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("ошибка установки local description: %w", err)
	}
	return answer.SDP, nil
}

func (e *PionEngine) SetRemoteAnswer(sdp string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := e.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("ошибка установки remote answer: %w", err)
	}
	e.applyPendingCandidates()
	return nil
}

func (e *PionEngine) AddICECandidate(candidate, sdpMid string, sdpMLineIndex int) error {
	mline := uint16(sdpMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     candidate,
		SDPMid:        &sdpMid,
		SDPMLineIndex: &mline,
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pc.RemoteDescription() == nil {
		// "Ранний" кандидат: применим после установки remote description.
		e.pendingCandidates = append(e.pendingCandidates, init)
		return nil
	}
	if err := e.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("ошибка добавления ICE-кандидата: %w", err)
	}
	return nil
}

func (e *PionEngine) applyPendingCandidates() {
	e.mu.Lock()
	pending := e.pendingCandidates
	e.pendingCandidates = nil
	e.mu.Unlock()

	for _, c := range pending {
		if err := e.pc.AddICECandidate(c); err != nil {
			core.Warn("[Media] Не удалось применить отложенный кандидат: %v", err)
		}
	}
}

func (e *PionEngine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	return e.pc.Close()
}
