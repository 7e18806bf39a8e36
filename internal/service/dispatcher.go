package service

import (
	"Krypt/internal/core"
	"Krypt/internal/protocol"
)

// Dispatcher раскладывает входящие конверты по сервисам. Каждый конверт
// обрабатывается в собственной горутине (см. SessionController), поэтому
// методы сервисов обязаны быть безопасными для параллельного вызова.
type Dispatcher struct {
	messages *MessageService
	files    *FileService
	statuses *StatusService
	calls    *CallService
}

func NewDispatcher(messages *MessageService, files *FileService, statuses *StatusService, calls *CallService) *Dispatcher {
	return &Dispatcher{
		messages: messages,
		files:    files,
		statuses: statuses,
		calls:    calls,
	}
}

// Dispatch обрабатывает один конверт. Неизвестные типы и кривые payload
// логируются и отбрасываются: чужой баг не должен ронять ядро.
func (d *Dispatcher) Dispatch(env *protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMessage:
		if env.ReceiptType != "" {
			d.messages.ReceiveReceipt(env.From, env.ReceiptType, env.MessageRefID)
			return
		}
		payload, err := env.MessagePayload()
		if err != nil {
			core.Warn("[Dispatcher] Конверт message от %s без payload: %v", env.From, err)
			return
		}
		d.messages.Receive(env.From, payload)

	case protocol.TypeFileChunk:
		chunk, err := env.ChunkPayload()
		if err != nil {
			core.Warn("[Dispatcher] Конверт file_chunk от %s без payload: %v", env.From, err)
			return
		}
		d.files.OnChunk(env.From, chunk)

	case protocol.TypeStatus:
		d.statuses.OnStatus(env.From, env.Content)

	case protocol.TypePublicKeyResponse:
		d.messages.ReconcileKey(env.Target, env.PublicKey)

	case protocol.TypeWebRTCOffer:
		if err := d.calls.OnOffer(env.From, env.SDP); err != nil {
			core.Warn("[Dispatcher] Offer от %s отклонен: %v", env.From, err)
		}

	case protocol.TypeWebRTCAnswer:
		d.calls.OnAnswer(env.From, env.SDP)

	case protocol.TypeWebRTCIce:
		d.calls.OnIceCandidate(env.From, env.Candidate, env.SdpMid, env.SdpMLineIndex)

	default:
		core.Warn("[Dispatcher] Неизвестный тип конверта: %s", env.Type)
	}
}
