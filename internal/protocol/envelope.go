package protocol

import (
	"encoding/json"
	"fmt"

	"Krypt/internal/crypto"
)

// Типы конвертов на проводе. Поле "type" выбирает ветку объединения.
const (
	TypeMessage           = "message"
	TypeFileChunk         = "file_chunk"
	TypeStatus            = "status"
	TypePublicKeyRequest  = "public_key_request"
	TypePublicKeyResponse = "public_key_response"
	TypeAnnounce          = "announce"
	TypeWebRTCOffer       = "webrtc_offer"
	TypeWebRTCAnswer      = "webrtc_answer"
	TypeWebRTCIce         = "webrtc_ice"
)

// Виды квитанций внутри конверта "message".
const (
	ReceiptDelivered = "delivered"
	ReceiptReadAll   = "read_all"
)

// Envelope - единый конверт протокола. Это JSON-объединение: набор
// заполненных полей зависит от Type. Relay-сервер смотрит только на
// "type" и "to", остальное непрозрачно для него.
type Envelope struct {
	Type string `json:"type"`
	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	// message: либо квитанция...
	ReceiptType  string `json:"receipt_type,omitempty"`
	MessageRefID int64  `json:"message_ref_id,omitempty"`
	// ...либо зашифрованное содержимое (message, file_chunk).
	Payload json.RawMessage `json:"payload,omitempty"`

	// status
	Content string `json:"content,omitempty"`

	// public_key_request / public_key_response / announce
	Target    string `json:"target,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
	UUID      string `json:"uuid,omitempty"`

	// webrtc_offer / webrtc_answer
	SDP string `json:"sdp,omitempty"`

	// webrtc_ice
	Candidate     string `json:"candidate,omitempty"`
	SdpMid        string `json:"sdpMid,omitempty"`
	SdpMLineIndex int    `json:"sdpMLineIndex,omitempty"`
}

// Parse разбирает сырые байты конверта.
func Parse(data []byte) (*Envelope, error) {
	env := &Envelope{}
	if err := json.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("не удалось разобрать Envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("Envelope без поля type")
	}
	return env, nil
}

// MessagePayload извлекает зашифрованное сообщение из конверта "message".
func (e *Envelope) MessagePayload() (*crypto.EncryptedPayload, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("конверт message без payload")
	}
	p := &crypto.EncryptedPayload{}
	if err := json.Unmarshal(e.Payload, p); err != nil {
		return nil, fmt.Errorf("не удалось разобрать EncryptedPayload: %w", err)
	}
	return p, nil
}

// ChunkPayload извлекает чанк файла из конверта "file_chunk".
func (e *Envelope) ChunkPayload() (*crypto.EncryptedFileChunk, error) {
	if len(e.Payload) == 0 {
		return nil, fmt.Errorf("конверт file_chunk без payload")
	}
	c := &crypto.EncryptedFileChunk{}
	if err := json.Unmarshal(e.Payload, c); err != nil {
		return nil, fmt.Errorf("не удалось разобрать EncryptedFileChunk: %w", err)
	}
	return c, nil
}

// --- Конструкторы исходящих конвертов ---

func marshalPayload(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("не удалось сериализовать payload: %w", err)
	}
	return data, nil
}

// NewMessage собирает конверт с зашифрованным текстовым сообщением.
func NewMessage(to string, p *crypto.EncryptedPayload) (*Envelope, error) {
	payload, err := marshalPayload(p)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeMessage, To: to, Payload: payload}, nil
}

// NewFileChunk собирает конверт с одним чанком файла.
func NewFileChunk(to string, c *crypto.EncryptedFileChunk) (*Envelope, error) {
	payload, err := marshalPayload(c)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: TypeFileChunk, To: to, Payload: payload}, nil
}

// NewReceipt собирает квитанцию. refID имеет смысл только для delivered.
func NewReceipt(to, kind string, refID int64) *Envelope {
	return &Envelope{Type: TypeMessage, To: to, ReceiptType: kind, MessageRefID: refID}
}

// NewPublicKeyRequest запрашивает у relay публичный ключ пира.
func NewPublicKeyRequest(target string) *Envelope {
	return &Envelope{Type: TypePublicKeyRequest, Target: target}
}

// NewAnnounce объявляет relay-серверу наш uuid и публичный ключ.
func NewAnnounce(uuid, publicKey string) *Envelope {
	return &Envelope{Type: TypeAnnounce, UUID: uuid, PublicKey: publicKey}
}

// NewStatus собирает широковещательный статус.
func NewStatus(content string) *Envelope {
	return &Envelope{Type: TypeStatus, Content: content}
}

// NewOffer собирает SDP-offer для исходящего звонка.
func NewOffer(to, sdp string) *Envelope {
	return &Envelope{Type: TypeWebRTCOffer, To: to, SDP: sdp}
}

// NewAnswer собирает SDP-answer на принятый звонок.
func NewAnswer(to, sdp string) *Envelope {
	return &Envelope{Type: TypeWebRTCAnswer, To: to, SDP: sdp}
}

// NewIceCandidate собирает конверт с ICE-кандидатом.
func NewIceCandidate(to, candidate, sdpMid string, sdpMLineIndex int) *Envelope {
	return &Envelope{
		Type:          TypeWebRTCIce,
		To:            to,
		Candidate:     candidate,
		SdpMid:        sdpMid,
		SdpMLineIndex: sdpMLineIndex,
	}
}
