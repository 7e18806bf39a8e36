package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"Krypt/internal/crypto"
	"Krypt/internal/protocol"
	"Krypt/internal/storage"
)

// --- Фейковый транспорт ---

type sentReceipt struct {
	to    string
	kind  string
	refID int64
}

type fakeTransport struct {
	mu sync.Mutex

	keyRequests []string
	messages    map[string][]*crypto.EncryptedPayload
	chunks      map[string][]*crypto.EncryptedFileChunk
	receipts    []sentReceipt
	statuses    []string
	offers      map[string][]string
	answers     map[string][]string
	candidates  []string

	failSend bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		messages: make(map[string][]*crypto.EncryptedPayload),
		chunks:   make(map[string][]*crypto.EncryptedFileChunk),
		offers:   make(map[string][]string),
		answers:  make(map[string][]string),
	}
}

func (t *fakeTransport) Connect(ctx context.Context) error   { return nil }
func (t *fakeTransport) Close() error                        { return nil }
func (t *fakeTransport) Incoming() <-chan *protocol.Envelope { return nil }

func (t *fakeTransport) sendErr() error {
	if t.failSend {
		return fmt.Errorf("транспорт недоступен")
	}
	return nil
}

func (t *fakeTransport) SendMessage(to string, p *crypto.EncryptedPayload) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.messages[to] = append(t.messages[to], p)
	return nil
}

func (t *fakeTransport) SendFileChunk(to string, c *crypto.EncryptedFileChunk) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.chunks[to] = append(t.chunks[to], c)
	return nil
}

func (t *fakeTransport) SendReceipt(to, kind string, refID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.receipts = append(t.receipts, sentReceipt{to, kind, refID})
	return nil
}

func (t *fakeTransport) RequestPublicKey(uuid string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keyRequests = append(t.keyRequests, uuid)
	return nil
}

func (t *fakeTransport) SendStatus(content string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.statuses = append(t.statuses, content)
	return nil
}

func (t *fakeTransport) SendOffer(to, sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.offers[to] = append(t.offers[to], sdp)
	return nil
}

func (t *fakeTransport) SendAnswer(to, sdp string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.sendErr(); err != nil {
		return err
	}
	t.answers[to] = append(t.answers[to], sdp)
	return nil
}

func (t *fakeTransport) SendICECandidate(to, candidate, sdpMid string, sdpMLineIndex int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *fakeTransport) keyRequestCount(uuid string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.keyRequests {
		if r == uuid {
			n++
		}
	}
	return n
}

func (t *fakeTransport) receiptCount(kind string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.receipts {
		if r.kind == kind {
			n++
		}
	}
	return n
}

// --- Фейковый криптопровайдер ---
// "Шифрует" прозрачно: текст кладется в EncryptedData как есть. Префикс
// "!" в данных имитирует расшифровку чужим ключом.

const badCiphertext = "!"

type fakeEngine struct {
	chunkSize int
}

func newFakeEngine(chunkSize int) *fakeEngine {
	if chunkSize <= 0 {
		chunkSize = 4
	}
	return &fakeEngine{chunkSize: chunkSize}
}

func (e *fakeEngine) GenerateKeyPair() (string, string, error) {
	return "pub-key", "priv-key", nil
}

func (e *fakeEngine) EncryptMessage(text, peerPublicKey string) (*crypto.EncryptedPayload, error) {
	if peerPublicKey == "corrupt" {
		return nil, fmt.Errorf("битый ключ")
	}
	return &crypto.EncryptedPayload{EncryptedData: text}, nil
}

func (e *fakeEngine) DecryptMessage(p *crypto.EncryptedPayload, privateKey string) (string, error) {
	if strings.HasPrefix(p.EncryptedData, badCiphertext) {
		return "", crypto.ErrDecrypt
	}
	return p.EncryptedData, nil
}

func (e *fakeEngine) EncryptChunks(data []byte, fileName, mimeType, peerPublicKey, transferID string) ([]*crypto.EncryptedFileChunk, error) {
	if peerPublicKey == "corrupt" {
		return nil, fmt.Errorf("битый ключ")
	}
	total := (len(data) + e.chunkSize - 1) / e.chunkSize
	if total == 0 {
		total = 1
	}
	chunks := make([]*crypto.EncryptedFileChunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * e.chunkSize
		end := start + e.chunkSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, &crypto.EncryptedFileChunk{
			TransferID:    transferID,
			FileName:      fileName,
			MimeType:      mimeType,
			ChunkIndex:    i,
			TotalChunks:   total,
			EncryptedData: string(data[start:end]),
		})
	}
	return chunks, nil
}

func (e *fakeEngine) DecryptChunk(c *crypto.EncryptedFileChunk, privateKey string) ([]byte, error) {
	if strings.HasPrefix(c.EncryptedData, badCiphertext) {
		return nil, crypto.ErrDecrypt
	}
	return []byte(c.EncryptedData), nil
}

// --- Хранилища в памяти ---

type fakeContacts struct {
	mu   sync.Mutex
	byID map[string]*storage.Contact
}

func newFakeContacts() *fakeContacts {
	return &fakeContacts{byID: make(map[string]*storage.Contact)}
}

func (r *fakeContacts) put(uuid, publicKey, nickname string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[uuid] = &storage.Contact{UUID: uuid, PublicKey: publicKey, Nickname: nickname}
}

func (r *fakeContacts) InsertContact(c *storage.Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byID[c.UUID]; ok {
		if c.PublicKey != "" {
			existing.PublicKey = c.PublicKey
		}
		return nil
	}
	cp := *c
	r.byID[c.UUID] = &cp
	return nil
}

func (r *fakeContacts) GetContact(uuid string) (*storage.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[uuid]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *fakeContacts) GetAllContacts() ([]storage.Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]storage.Contact, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, *c)
	}
	return out, nil
}

func (r *fakeContacts) UpdateNickname(uuid, nickname string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[uuid]; ok {
		c.Nickname = nickname
	}
	return nil
}

func (r *fakeContacts) UpdatePublicKey(uuid, publicKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byID[uuid]; ok {
		c.PublicKey = publicKey
	}
	return nil
}

func (r *fakeContacts) DeleteContact(uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, uuid)
	return nil
}

type fakeMessages struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*storage.Message
}

func newFakeMessages() *fakeMessages {
	return &fakeMessages{nextID: 1, byID: make(map[int64]*storage.Message)}
}

func (r *fakeMessages) InsertMessage(m *storage.Message) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	cp.ID = r.nextID
	r.nextID++
	r.byID[cp.ID] = &cp
	return cp.ID, nil
}

func (r *fakeMessages) GetMessages(conversationID string, limit int) ([]storage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []storage.Message
	for id := int64(1); id < r.nextID; id++ {
		if m, ok := r.byID[id]; ok && m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *fakeMessages) GetMessageByID(id int64) (*storage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (r *fakeMessages) DeleteMessage(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}

func (r *fakeMessages) DeleteConversation(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.byID {
		if m.ConversationID == conversationID {
			delete(r.byID, id)
		}
	}
	return nil
}

func (r *fakeMessages) MarkDelivered(id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byID[id]; ok {
		m.IsDelivered = true
	}
	return nil
}

func (r *fakeMessages) MarkOutgoingRead(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.ConversationID == conversationID && m.IsSent {
			m.IsDelivered = true
			m.IsRead = true
		}
	}
	return nil
}

func (r *fakeMessages) MarkIncomingRead(conversationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.byID {
		if m.ConversationID == conversationID && !m.IsSent {
			m.IsRead = true
		}
	}
	return nil
}

func (r *fakeMessages) UnreadCount(conversationID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.byID {
		if m.ConversationID == conversationID && !m.IsSent && !m.IsRead {
			n++
		}
	}
	return n, nil
}

func (r *fakeMessages) ConversationPreviews() (map[string]storage.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]storage.Message)
	for id := int64(1); id < r.nextID; id++ {
		if m, ok := r.byID[id]; ok {
			out[m.ConversationID] = *m
		}
	}
	return out, nil
}

func (r *fakeMessages) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type fakeStatuses struct {
	mu     sync.Mutex
	nextID int64
	items  []storage.Status
}

func newFakeStatuses() *fakeStatuses { return &fakeStatuses{nextID: 1} }

func (r *fakeStatuses) InsertStatus(s *storage.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	cp.ID = r.nextID
	r.nextID++
	r.items = append(r.items, cp)
	return nil
}

func (r *fakeStatuses) GetActiveStatuses() ([]storage.Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.Status(nil), r.items...), nil
}

func (r *fakeStatuses) DeleteExpiredStatuses() (int64, error) { return 0, nil }

func (r *fakeStatuses) DeleteStatusesFrom(uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.items[:0]
	for _, s := range r.items {
		if s.FromUUID != uuid {
			kept = append(kept, s)
		}
	}
	r.items = kept
	return nil
}

// --- Трекер разговора и уведомления ---

type fakeTracker struct {
	mu      sync.Mutex
	current string
}

func (t *fakeTracker) CurrentConversation() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

func (t *fakeTracker) open(uuid string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = uuid
}

type fakeNotifier struct {
	mu            sync.Mutex
	messageNotify int
	fileNotify    int
}

func (n *fakeNotifier) NotifyMessage(fromUUID, nickname, content string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messageNotify++
}

func (n *fakeNotifier) NotifyFile(fromUUID, nickname, fileName string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fileNotify++
}

func (n *fakeNotifier) messages() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.messageNotify
}

func (n *fakeNotifier) files() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fileNotify
}

// --- Фейковый медиадвижок ---

type fakeMediaEngine struct {
	mu         sync.Mutex
	offers     int
	answers    int
	closed     int
	candidates []string

	failOffer  bool
	failAnswer bool
}

func (e *fakeMediaEngine) CreateOffer() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failOffer {
		return "", fmt.Errorf("offer не создан")
	}
	e.offers++
	return "fake-offer-sdp", nil
}

func (e *fakeMediaEngine) CreateAnswer(offerSDP string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failAnswer {
		return "", fmt.Errorf("answer не создан")
	}
	e.answers++
	return "fake-answer-sdp", nil
}

func (e *fakeMediaEngine) SetRemoteAnswer(sdp string) error { return nil }

func (e *fakeMediaEngine) AddICECandidate(candidate, sdpMid string, sdpMLineIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates = append(e.candidates, candidate)
	return nil
}

func (e *fakeMediaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed++
	return nil
}

func testIdentity() *storage.Identity {
	return &storage.Identity{DeviceID: "self-uuid", PublicKey: "pub-key", PrivateKey: "priv-key"}
}
