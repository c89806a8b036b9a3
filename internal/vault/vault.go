// Package vault seals provider secrets at rest: gateway credentials and
// direct-debit mandate client data are stored as AES-GCM blobs under a key
// derived from the configured master secret.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// Sealer encrypts and decrypts opaque secret blobs.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

// Config holds vault configuration
type Config struct {
	MasterKey string
	Salt      string
}

// Vault implements Sealer with AES-256-GCM.
type Vault struct {
	key []byte
}

var _ Sealer = (*Vault)(nil)

// New derives the sealing key from the master secret.
func New(config Config) (*Vault, error) {
	if config.MasterKey == "" {
		return nil, errors.New("vault master key required")
	}
	if config.Salt == "" {
		return nil, errors.New("vault salt required")
	}
	return &Vault{key: deriveKey(config.MasterKey, config.Salt, 32)}, nil
}

// Seal returns nonce||ciphertext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (v *Vault) Open(blob []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(blob) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := blob[:nonceSize], blob[nonceSize:]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// SealJSON marshals v and seals the result.
func SealJSON(s Sealer, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return s.Seal(data)
}

// OpenJSON opens blob and unmarshals it into v.
func OpenJSON(s Sealer, blob []byte, v any) error {
	if len(blob) == 0 {
		return errors.New("empty secret blob")
	}
	data, err := s.Open(blob)
	if err != nil {
		return fmt.Errorf("open secret blob: %w", err)
	}
	return json.Unmarshal(data, v)
}

func deriveKey(password, salt string, keyLen uint32) []byte {
	return argon2.IDKey([]byte(password), []byte(salt), 3, 32*1024, 4, keyLen)
}
