package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	rsaKeyBits = 2048
	aesKeyLen  = 32 // AES-256
	gcmIVLen   = 12
)

// Соль для деривации почанковых ключей. Константа протокола, менять нельзя:
// обе стороны должны получать одинаковые ключи.
var chunkKeySalt = []byte("krypt-file-chunk-v1")

// RSAEngine - реализация ICryptoEngine: RSA-OAEP для обертки ключей,
// AES-256-GCM для содержимого. Для файловых передач из одного корневого
// ключа через HKDF выводится отдельный ключ на каждый чанк, поэтому
// компрометация одного чанка не раскрывает остальные.
type RSAEngine struct {
	chunkSize int
}

// NewRSAEngine создает криптопровайдер. chunkSize - размер чанка до шифрования.
func NewRSAEngine(chunkSize int) *RSAEngine {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &RSAEngine{chunkSize: chunkSize}
}

// GenerateKeyPair создает пару RSA-2048 и сериализует ее в base64.
func (e *RSAEngine) GenerateKeyPair() (string, string, error) {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("не удалось сгенерировать ключ RSA: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return "", "", fmt.Errorf("не удалось сериализовать публичный ключ: %w", err)
	}
	privDER := x509.MarshalPKCS1PrivateKey(key)

	return base64.StdEncoding.EncodeToString(pubDER),
		base64.StdEncoding.EncodeToString(privDER), nil
}

func parsePublicKey(s string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("публичный ключ не в base64: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать публичный ключ: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("публичный ключ не RSA")
	}
	return rsaPub, nil
}

func parsePrivateKey(s string) (*rsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("приватный ключ не в base64: %w", err)
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("не удалось разобрать приватный ключ: %w", err)
	}
	return priv, nil
}

func sealGCM(key, plaintext []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, gcmIVLen)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, err
	}
	return gcm.Seal(nil, iv, plaintext, nil), iv, nil
}

func openGCM(key, ciphertext, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, iv, ciphertext, nil)
}

// EncryptMessage шифрует текст свежим ключом AES-256-GCM и оборачивает
// этот ключ RSA-OAEP для получателя.
func (e *RSAEngine) EncryptMessage(text, peerPublicKey string) (*EncryptedPayload, error) {
	pub, err := parsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}

	key := make([]byte, aesKeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("не удалось сгенерировать сессионный ключ: %w", err)
	}

	ciphertext, iv, err := sealGCM(key, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("ошибка шифрования сообщения: %w", err)
	}

	wrappedKey, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось обернуть сессионный ключ: %w", err)
	}

	return &EncryptedPayload{
		EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
		IV:            base64.StdEncoding.EncodeToString(iv),
		EncryptedKey:  base64.StdEncoding.EncodeToString(wrappedKey),
	}, nil
}

// DecryptMessage расшифровывает входящее сообщение нашим приватным ключом.
func (e *RSAEngine) DecryptMessage(p *EncryptedPayload, privateKey string) (string, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return "", err
	}

	wrappedKey, err := base64.StdEncoding.DecodeString(p.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("%w: encryptedKey не в base64", ErrDecrypt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(p.EncryptedData)
	if err != nil {
		return "", fmt.Errorf("%w: encryptedData не в base64", ErrDecrypt)
	}
	iv, err := base64.StdEncoding.DecodeString(p.IV)
	if err != nil {
		return "", fmt.Errorf("%w: iv не в base64", ErrDecrypt)
	}

	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedKey, nil)
	if err != nil {
		// Сообщение зашифровано не нашим ключом (устаревший ключ у пира).
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	plaintext, err := openGCM(key, ciphertext, iv)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return string(plaintext), nil
}

// chunkKey выводит ключ конкретного чанка из корневого ключа передачи.
func chunkKey(rootKey []byte, transferID string, index int) ([]byte, error) {
	info := fmt.Sprintf("%s:%d", transferID, index)
	kdf := hkdf.New(sha256.New, rootKey, chunkKeySalt, []byte(info))
	key := make([]byte, aesKeyLen)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("ошибка деривации ключа чанка: %w", err)
	}
	return key, nil
}

// EncryptChunks разбивает данные на чанки фиксированного размера и шифрует
// каждый своим ключом. Корневой ключ передачи оборачивается RSA-OAEP и
// кладется в каждый чанк, чтобы чанки оставались независимыми на проводе.
func (e *RSAEngine) EncryptChunks(data []byte, fileName, mimeType, peerPublicKey, transferID string) ([]*EncryptedFileChunk, error) {
	pub, err := parsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}

	rootKey := make([]byte, aesKeyLen)
	if _, err := rand.Read(rootKey); err != nil {
		return nil, fmt.Errorf("не удалось сгенерировать корневой ключ передачи: %w", err)
	}
	wrappedRoot, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, rootKey, nil)
	if err != nil {
		return nil, fmt.Errorf("не удалось обернуть корневой ключ: %w", err)
	}
	wrappedRootB64 := base64.StdEncoding.EncodeToString(wrappedRoot)

	totalChunks := (len(data) + e.chunkSize - 1) / e.chunkSize
	if totalChunks == 0 {
		totalChunks = 1 // пустой файл - один пустой чанк
	}

	chunks := make([]*EncryptedFileChunk, 0, totalChunks)
	for i := 0; i < totalChunks; i++ {
		start := i * e.chunkSize
		end := start + e.chunkSize
		if end > len(data) {
			end = len(data)
		}

		key, err := chunkKey(rootKey, transferID, i)
		if err != nil {
			return nil, err
		}
		ciphertext, iv, err := sealGCM(key, data[start:end])
		if err != nil {
			return nil, fmt.Errorf("ошибка шифрования чанка %d: %w", i, err)
		}

		chunks = append(chunks, &EncryptedFileChunk{
			TransferID:    transferID,
			FileName:      fileName,
			MimeType:      mimeType,
			ChunkIndex:    i,
			TotalChunks:   totalChunks,
			EncryptedData: base64.StdEncoding.EncodeToString(ciphertext),
			IV:            base64.StdEncoding.EncodeToString(iv),
			EncryptedKey:  wrappedRootB64,
		})
	}
	return chunks, nil
}

// DecryptChunk расшифровывает один чанк файловой передачи.
func (e *RSAEngine) DecryptChunk(c *EncryptedFileChunk, privateKey string) ([]byte, error) {
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	wrappedRoot, err := base64.StdEncoding.DecodeString(c.EncryptedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptedKey не в base64", ErrDecrypt)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(c.EncryptedData)
	if err != nil {
		return nil, fmt.Errorf("%w: encryptedData не в base64", ErrDecrypt)
	}
	iv, err := base64.StdEncoding.DecodeString(c.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: iv не в base64", ErrDecrypt)
	}

	rootKey, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrappedRoot, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	key, err := chunkKey(rootKey, c.TransferID, c.ChunkIndex)
	if err != nil {
		return nil, err
	}

	plaintext, err := openGCM(key, ciphertext, iv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
