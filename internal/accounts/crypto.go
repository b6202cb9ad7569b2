package accounts

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	nonceSize     = 12
	keySize       = 32
	keyIterations = 100000
)

var keySalt = []byte("relaycrm-account-token-v1")

// TokenCipher encrypts provider access tokens at rest with AES-GCM.
type TokenCipher struct {
	gcm cipher.AEAD
}

// NewTokenCipher derives an AES key from the configured secret. The secret
// is mandatory; accounts cannot be stored with plaintext credentials.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("accounts: encryption secret must be at least 32 characters")
	}
	key := pbkdf2.Key([]byte(secret), keySalt, keyIterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("accounts: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("accounts: create GCM: %w", err)
	}
	return &TokenCipher{gcm: gcm}, nil
}

// Encrypt seals the plaintext and returns base64(nonce || ciphertext).
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("accounts: generate nonce: %w", err)
	}
	sealed := c.gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Decrypt reverses Encrypt.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("accounts: decode token: %w", err)
	}
	if len(data) < nonceSize {
		return "", fmt.Errorf("accounts: ciphertext too short")
	}
	plaintext, err := c.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("accounts: decrypt token: %w", err)
	}
	return string(plaintext), nil
}
