package crypto

import "errors"

// ErrDecrypt возвращается, когда данные не удалось расшифровать нашим
// приватным ключом. Для протокола это не фатальная ошибка: получатель
// в ответ запрашивает свежий публичный ключ.
var ErrDecrypt = errors.New("не удалось расшифровать данные")

// EncryptedPayload - зашифрованное текстовое сообщение на проводе.
// Симметричный ключ обернут асимметрично и передается вместе с шифртекстом.
type EncryptedPayload struct {
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
	EncryptedKey  string `json:"encryptedKey"`
}

// EncryptedFileChunk - один чанк файловой передачи. Каждый чанк несет
// полный заголовок, поэтому получатель может опознать передачу по любому
// первому пришедшему чанку.
type EncryptedFileChunk struct {
	TransferID    string `json:"transferId"`
	FileName      string `json:"fileName"`
	MimeType      string `json:"mimeType"`
	ChunkIndex    int    `json:"chunkIndex"`
	TotalChunks   int    `json:"totalChunks"`
	EncryptedData string `json:"encryptedData"`
	IV            string `json:"iv"`
	EncryptedKey  string `json:"encryptedKey"`
}

// ICryptoEngine определяет интерфейс криптопровайдера ядра.
// Ядро не знает деталей алгоритмов - только эти операции.
type ICryptoEngine interface {
	// GenerateKeyPair создает новую асимметричную пару ключей.
	// Ключи сериализованы в base64 и хранятся как строки.
	GenerateKeyPair() (publicKey, privateKey string, err error)

	// EncryptMessage шифрует текст для владельца peerPublicKey.
	EncryptMessage(text, peerPublicKey string) (*EncryptedPayload, error)

	// DecryptMessage расшифровывает сообщение нашим приватным ключом.
	// При неверном или устаревшем ключе возвращает ErrDecrypt.
	DecryptMessage(p *EncryptedPayload, privateKey string) (string, error)

	// EncryptChunks разбивает данные на чанки и шифрует каждый независимо.
	// Чанки нумеруются 0..totalChunks-1 в порядке исходных байтов.
	EncryptChunks(data []byte, fileName, mimeType, peerPublicKey, transferID string) ([]*EncryptedFileChunk, error)

	// DecryptChunk расшифровывает один чанк. При неверном ключе - ErrDecrypt.
	DecryptChunk(c *EncryptedFileChunk, privateKey string) ([]byte, error)
}
