package service

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"Krypt/internal/core"
	"Krypt/internal/crypto"
	"Krypt/internal/storage"
	"Krypt/internal/transport"
)

// pendingTransfer - накопитель чанков одной входящей передачи.
// Живет только в памяти; уничтожается при сборке или фатальной ошибке.
type pendingTransfer struct {
	mu     sync.Mutex
	chunks map[int][]byte
	meta   *crypto.EncryptedFileChunk
	// done выставляется тем, кто выиграл проверку полноты. Гарантирует
	// сборку не более одного раза, даже если два последних чанка
	// обрабатываются одновременно.
	done bool
}

// FileService - движок файловых передач: нарезка и шифрование исходящих
// файлов, конкурентная сборка входящих чанков.
type FileService struct {
	identity  *storage.Identity
	contacts  storage.IContactRepository
	messages  storage.IMessageRepository
	engine    crypto.ICryptoEngine
	transport transport.ITransport
	tracker   ConversationTracker
	notifier  Notifier

	dataDir    string
	chunkDelay time.Duration

	transfers map[string]*pendingTransfer
	mu        sync.Mutex
}

func NewFileService(
	identity *storage.Identity,
	contacts storage.IContactRepository,
	messages storage.IMessageRepository,
	engine crypto.ICryptoEngine,
	tr transport.ITransport,
	tracker ConversationTracker,
	notifier Notifier,
	dataDir string,
	chunkDelay time.Duration,
) *FileService {
	return &FileService{
		identity:   identity,
		contacts:   contacts,
		messages:   messages,
		engine:     engine,
		transport:  tr,
		tracker:    tracker,
		notifier:   notifier,
		dataDir:    dataDir,
		chunkDelay: chunkDelay,
		transfers:  make(map[string]*pendingTransfer),
	}
}

// SendFile шифрует файл почанково и передает чанки строго по порядку
// индексов с паузой между ними - это backpressure против переполнения
// буфера relay-соединения, подтверждений по чанкам нет. Неудачные чанки
// считаются, но передачу не прерывают (best-effort).
func (s *FileService) SendFile(to string, data []byte, fileName, mimeType string) (int64, error) {
	contact, err := s.contacts.GetContact(to)
	if err != nil {
		return 0, err
	}
	if contact == nil {
		return 0, fmt.Errorf("контакт %s не найден", shortID(to))
	}
	if contact.PublicKey == "" {
		if err := s.transport.RequestPublicKey(to); err != nil {
			core.Warn("[Files] Запрос ключа для %s не ушел: %v", shortID(to), err)
		}
		return 0, ErrMissingKey
	}

	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	// Свежий transferId на каждую передачу: один и тот же файл,
	// отправленный дважды, не должен смешиваться на приемнике.
	transferID := uuid.New().String()

	chunks, err := s.engine.EncryptChunks(data, fileName, mimeType, contact.PublicKey, transferID)
	if err != nil {
		core.Warn("[Files] Шифрование файла %s не удалось: %v", fileName, err)
		if reqErr := s.transport.RequestPublicKey(to); reqErr != nil {
			core.Warn("[Files] Запрос ключа для %s не ушел: %v", shortID(to), reqErr)
		}
		return 0, fmt.Errorf("%w: %v", ErrMissingKey, err)
	}

	core.Info("[Files] Передача %s: %s, %d байт, %d чанков",
		shortID(transferID), fileName, len(data), len(chunks))

	failCount := 0
	for _, chunk := range chunks {
		if err := s.transport.SendFileChunk(to, chunk); err != nil {
			failCount++
			core.Warn("[Files] Чанк %d/%d передачи %s не ушел: %v",
				chunk.ChunkIndex, chunk.TotalChunks, shortID(transferID), err)
		}
		if s.chunkDelay > 0 {
			time.Sleep(s.chunkDelay)
		}
	}
	if failCount > 0 {
		core.Error("[Files] Передача %s: %d/%d чанков не отправлено",
			shortID(transferID), failCount, len(chunks))
	}

	// Локальная копия, чтобы отправитель тоже видел превью файла.
	localPath, err := s.writeFile(fileName, data)
	if err != nil {
		return 0, err
	}

	msg := &storage.Message{
		ConversationID: to,
		FromUUID:       s.identity.DeviceID,
		Content:        fmt.Sprintf("[отправлен файл: %s]", fileName),
		ContentType:    contentTypeFor(mimeType),
		FilePath:       localPath,
		IsSent:         true,
	}
	return s.messages.InsertMessage(msg)
}

// reassemblyKey выбирает ключ накопителя. Пустой transferId - наследие
// старых клиентов; производный ключ не защищен от коллизий при
// одновременных передачах одноименных файлов и оставлен только для
// обратной совместимости.
func reassemblyKey(from string, chunk *crypto.EncryptedFileChunk) string {
	if chunk.TransferID != "" {
		return chunk.TransferID
	}
	return fmt.Sprintf("%s_%s_%d", from, chunk.FileName, chunk.TotalChunks)
}

// OnChunk обрабатывает один входящий чанк. Чанки разных передач и разных
// пиров обрабатываются параллельно; внутри одной передачи вставка и
// проверка полноты атомарны под мьютексом накопителя.
func (s *FileService) OnChunk(from string, chunk *crypto.EncryptedFileChunk) {
	if chunk.TotalChunks <= 0 || chunk.ChunkIndex < 0 || chunk.ChunkIndex >= chunk.TotalChunks {
		core.Warn("[Files] Чанк с некорректным заголовком от %s: %d/%d",
			shortID(from), chunk.ChunkIndex, chunk.TotalChunks)
		return
	}

	key := reassemblyKey(from, chunk)

	// Расшифровываем сразу: битый чанк должен упасть быстро и снести
	// накопитель, чтобы следующая передача с тем же transferId
	// началась с чистого состояния.
	plaintext, err := s.engine.DecryptChunk(chunk, s.identity.PrivateKey)
	if err != nil {
		core.Warn("[Files] Не удалось расшифровать чанк %d передачи %s: %v",
			chunk.ChunkIndex, shortID(key), err)
		s.discard(key)
		return
	}

	pt := s.getOrCreate(key)

	pt.mu.Lock()
	if pt.done {
		// Передача уже собрана, поздний дубликат игнорируем.
		pt.mu.Unlock()
		return
	}
	// Повторная доставка того же индекса просто перезаписывает значение.
	pt.chunks[chunk.ChunkIndex] = plaintext
	pt.meta = chunk
	received := len(pt.chunks)
	core.Debug("[Files] Передача %s: получено %d/%d", shortID(key), received, chunk.TotalChunks)

	if received != chunk.TotalChunks {
		pt.mu.Unlock()
		return
	}

	// Сборка строго по индексам: порядок прихода значения не имеет.
	assembled, missing := assembleLocked(pt, chunk.TotalChunks)
	if missing >= 0 {
		// По счетчику все чанки на месте, значит такого быть не должно.
		// Защитный выход: передача остается в ожидании.
		core.Error("[Files] Передача %s: при сборке отсутствует чанк %d", shortID(key), missing)
		pt.mu.Unlock()
		return
	}
	pt.done = true
	meta := pt.meta
	pt.mu.Unlock()

	s.finalize(from, key, meta, assembled)
}

// assembleLocked склеивает чанки по возрастанию индекса. Вызывается под
// pt.mu. Возвращает индекс отсутствующего чанка или -1.
func assembleLocked(pt *pendingTransfer, totalChunks int) ([]byte, int) {
	var buf bytes.Buffer
	for i := 0; i < totalChunks; i++ {
		part, ok := pt.chunks[i]
		if !ok {
			return nil, i
		}
		buf.Write(part)
	}
	return buf.Bytes(), -1
}

// finalize сохраняет собранный файл, создает входящее сообщение и
// уничтожает накопитель.
func (s *FileService) finalize(from, key string, meta *crypto.EncryptedFileChunk, data []byte) {
	defer s.discard(key)

	path, err := s.writeFile(meta.FileName, data)
	if err != nil {
		core.Error("[Files] Не удалось сохранить файл передачи %s: %v", shortID(key), err)
		return
	}

	core.Info("[Files] Передача %s собрана: %s (%d байт)", shortID(key), path, len(data))

	msg := &storage.Message{
		ConversationID: from,
		FromUUID:       from,
		Content:        fmt.Sprintf("[получен файл: %s]", meta.FileName),
		ContentType:    contentTypeFor(meta.MimeType),
		FilePath:       path,
		IsSent:         false,
		IsDelivered:    true,
	}
	if _, err := s.messages.InsertMessage(msg); err != nil {
		core.Error("[Files] Не удалось сохранить сообщение о файле: %v", err)
		return
	}

	if s.tracker.CurrentConversation() != from && s.notifier != nil {
		s.notifier.NotifyFile(from, s.nickname(from), meta.FileName)
	}
}

// PendingCount возвращает число незавершенных входящих передач.
func (s *FileService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

func (s *FileService) getOrCreate(key string) *pendingTransfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt, ok := s.transfers[key]
	if !ok {
		pt = &pendingTransfer{chunks: make(map[int][]byte)}
		s.transfers[key] = pt
	}
	return pt
}

func (s *FileService) discard(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transfers, key)
}

func (s *FileService) writeFile(fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(s.dataDir, 0755); err != nil {
		return "", fmt.Errorf("не удалось создать каталог файлов: %w", err)
	}
	// Отрезаем путь из имени: имя приходит с провода.
	path := filepath.Join(s.dataDir, filepath.Base(fileName))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("не удалось записать файл: %w", err)
	}
	return path, nil
}

func (s *FileService) nickname(uuid string) string {
	contact, err := s.contacts.GetContact(uuid)
	if err != nil || contact == nil {
		return ""
	}
	return contact.Nickname
}

func contentTypeFor(mimeType string) string {
	if strings.HasPrefix(mimeType, "image") {
		return "image"
	}
	return "file"
}
