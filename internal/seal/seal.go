// Package seal provides the symmetric encryption primitive used by the audit
// pipeline to protect event metadata at rest. Envelopes are
// base64(iv || ciphertext) with AES-256-CBC and PKCS#7 padding.
package seal

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const keyHexLength = 64 // 256-bit key, hex encoded

var (
	// ErrInvalidKey indicates the key is not exactly 64 hex characters.
	// Raised at construction time only.
	ErrInvalidKey = errors.New("seal: encryption key must be 64 hex characters")

	// ErrDecryptFailed indicates a wrong key, a corrupted envelope or a
	// truncated envelope. The cause is deliberately not distinguished.
	ErrDecryptFailed = errors.New("seal: decryption failed")
)

// Cipher encrypts and decrypts opaque string payloads. Safe for concurrent
// use; the key is immutable after construction.
type Cipher struct {
	key []byte
}

// NewCipher validates the hex key and returns a ready cipher. Key validation
// is a hard precondition: any length other than 64 hex characters fails here,
// never at encrypt/decrypt time.
func NewCipher(hexKey string) (*Cipher, error) {
	if len(hexKey) != keyHexLength {
		return nil, ErrInvalidKey
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals plaintext under a fresh random IV. Two calls with identical
// input never produce identical envelopes.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("seal: init cipher: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("seal: generate iv: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens an envelope produced by Encrypt.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", ErrDecryptFailed
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, ct)

	unpadded, ok := unpad(plain, aes.BlockSize)
	if !ok {
		return "", ErrDecryptFailed
	}
	return string(unpadded), nil
}

// GenerateKey returns a fresh cryptographically random 64-hex-character key.
// Independent of any Cipher instance.
func GenerateKey() string {
	key := make([]byte, keyHexLength/2)
	if _, err := rand.Read(key); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("seal: generate key: %v", err))
	}
	return hex.EncodeToString(key)
}

func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, blockSize int) ([]byte, bool) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
