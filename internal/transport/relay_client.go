package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/protocol"
)

const (
	writeTimeout  = 10 * time.Second
	maxReconnect  = 30 * time.Second
	incomingQueue = 256
)

// ITransport - канал до relay-сервера. Входящие конверты приходят
// неупорядоченным потоком через Incoming; каждая отправка возвращает
// ошибку, но никогда не паникует через границу.
type ITransport interface {
	Connect(ctx context.Context) error
	Close() error
	Incoming() <-chan *protocol.Envelope

	SendMessage(to string, p *crypto.EncryptedPayload) error
	SendFileChunk(to string, c *crypto.EncryptedFileChunk) error
	SendReceipt(to, kind string, refID int64) error
	RequestPublicKey(uuid string) error
	SendStatus(content string) error
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendICECandidate(to, candidate, sdpMid string, sdpMLineIndex int) error
}

// RelayClient реализует ITransport поверх одного WebSocket-соединения.
// При обрыве соединение восстанавливается с экспоненциальной задержкой,
// после восстановления личность анонсируется заново.
type RelayClient struct {
	url            string
	reconnectDelay time.Duration

	uuid      string
	publicKey string

	conn     *websocket.Conn
	writeMu  sync.Mutex // websocket не допускает параллельных писателей
	connMu   sync.RWMutex
	incoming chan *protocol.Envelope

	ctx    context.Context
	cancel context.CancelFunc
	closed sync.Once
}

// NewRelayClient создает клиента relay. uuid и publicKey анонсируются
// серверу при каждом подключении.
func NewRelayClient(url string, reconnectDelay time.Duration, uuid, publicKey string) *RelayClient {
	if reconnectDelay <= 0 {
		reconnectDelay = 2 * time.Second
	}
	return &RelayClient{
		url:            url,
		reconnectDelay: reconnectDelay,
		uuid:           uuid,
		publicKey:      publicKey,
		incoming:       make(chan *protocol.Envelope, incomingQueue),
	}
}

// Connect устанавливает соединение, анонсирует личность и запускает
// цикл чтения. Возвращает ошибку только если первое подключение не удалось.
func (c *RelayClient) Connect(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if err := c.dial(); err != nil {
		return fmt.Errorf("не удалось подключиться к relay %s: %w", c.url, err)
	}

	go c.readLoop()
	return nil
}

func (c *RelayClient) dial() error {
	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	// Анонсируем себя: relay связывает uuid с этим соединением и
	// раздает наш публичный ключ по public_key_request.
	if err := c.send(protocol.NewAnnounce(c.uuid, c.publicKey)); err != nil {
		conn.Close()
		return fmt.Errorf("ошибка анонса личности: %w", err)
	}

	core.Info("[Relay] Подключено к %s, анонсирован uuid %s", c.url, shortID(c.uuid))
	return nil
}

// readLoop читает конверты и переподключается при обрыве.
func (c *RelayClient) readLoop() {
	defer close(c.incoming)

	delay := c.reconnectDelay
	for {
		c.connMu.RLock()
		conn := c.conn
		c.connMu.RUnlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			core.Warn("[Relay] Соединение потеряно: %v. Переподключение через %s", err, delay)

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}

			if err := c.dial(); err != nil {
				core.Warn("[Relay] Переподключение не удалось: %v", err)
				if delay < maxReconnect {
					delay *= 2
				}
				continue
			}
			delay = c.reconnectDelay
			continue
		}

		env, err := protocol.Parse(data)
		if err != nil {
			core.Warn("[Relay] Нераспознанный конверт: %v", err)
			continue
		}

		select {
		case c.incoming <- env:
		default:
			// Очередь переполнена - конверт теряется. Доставка и так
			// at-most-once, протокол это переживает.
			core.Warn("[Relay] Очередь входящих переполнена, конверт %s отброшен", env.Type)
		}
	}
}

// Incoming возвращает канал входящих конвертов.
func (c *RelayClient) Incoming() <-chan *protocol.Envelope {
	return c.incoming
}

// Close разрывает соединение и останавливает цикл чтения.
func (c *RelayClient) Close() error {
	c.closed.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.connMu.RLock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.connMu.RUnlock()
	})
	return nil
}

func (c *RelayClient) send(env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("не удалось сериализовать конверт: %w", err)
	}

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return fmt.Errorf("нет соединения с relay")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("ошибка отправки конверта %s: %w", env.Type, err)
	}
	return nil
}

func (c *RelayClient) SendMessage(to string, p *crypto.EncryptedPayload) error {
	env, err := protocol.NewMessage(to, p)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *RelayClient) SendFileChunk(to string, chunk *crypto.EncryptedFileChunk) error {
	env, err := protocol.NewFileChunk(to, chunk)
	if err != nil {
		return err
	}
	return c.send(env)
}

func (c *RelayClient) SendReceipt(to, kind string, refID int64) error {
	return c.send(protocol.NewReceipt(to, kind, refID))
}

func (c *RelayClient) RequestPublicKey(uuid string) error {
	return c.send(protocol.NewPublicKeyRequest(uuid))
}

func (c *RelayClient) SendStatus(content string) error {
	return c.send(protocol.NewStatus(content))
}

func (c *RelayClient) SendOffer(to, sdp string) error {
	return c.send(protocol.NewOffer(to, sdp))
}

func (c *RelayClient) SendAnswer(to, sdp string) error {
	return c.send(protocol.NewAnswer(to, sdp))
}

func (c *RelayClient) SendICECandidate(to, candidate, sdpMid string, sdpMLineIndex int) error {
	return c.send(protocol.NewIceCandidate(to, candidate, sdpMid, sdpMLineIndex))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
