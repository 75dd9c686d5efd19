// Package fieldcrypt encrypts individual text columns (notes, symptom
// descriptions, conversation messages) with AES-256-GCM before they are
// written to the database.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/healthmate/healthmate/internal/platform/apperr"
)

// prefix marks ciphertext so rows written while encryption was disabled are
// still readable after a key is configured.
const prefix = "enc:v1:"

// Encryptor performs AES-256-GCM encryption with a random nonce prepended to
// each ciphertext.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an Encryptor from a 32-byte key.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("fieldcrypt: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("fieldcrypt: create GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("fieldcrypt: generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the ciphertext prefix are returned
// unchanged.
func (e *Encryptor) Decrypt(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: base64 decode: %w", err)
	}
	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("fieldcrypt: ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("fieldcrypt: %w", err)
	}
	return string(plaintext), nil
}

// Service wraps an Encryptor with a disabled mode used when no key is
// configured. Repositories depend on Service, never on Encryptor directly.
type Service struct {
	enc *Encryptor
}

// NewService parses a 64-character hex key. An empty key disables
// encryption and logs a warning.
func NewService(hexKey string, logger zerolog.Logger) (*Service, error) {
	if hexKey == "" {
		logger.Warn().Msg("field encryption disabled: FIELD_ENCRYPTION_KEY is not set")
		return &Service{}, nil
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY is not valid hex: %w", err)
	}
	enc, err := NewEncryptor(key)
	if err != nil {
		return nil, err
	}
	logger.Info().Msg("field-level encryption enabled")
	return &Service{enc: enc}, nil
}

// Disabled returns a pass-through Service, for tests and tooling.
func Disabled() *Service { return &Service{} }

func (s *Service) Enabled() bool { return s != nil && s.enc != nil }

func (s *Service) Encrypt(value string) (string, error) {
	if !s.Enabled() || value == "" {
		return value, nil
	}
	out, err := s.enc.Encrypt(value)
	if err != nil {
		return "", apperr.Encryption(err)
	}
	return out, nil
}

func (s *Service) Decrypt(value string) (string, error) {
	if !s.Enabled() || value == "" {
		return value, nil
	}
	out, err := s.enc.Decrypt(value)
	if err != nil {
		return "", apperr.Encryption(err)
	}
	return out, nil
}

// EncryptPtr encrypts an optional column value.
func (s *Service) EncryptPtr(value *string) (*string, error) {
	if value == nil {
		return nil, nil
	}
	out, err := s.Encrypt(*value)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptPtr decrypts an optional column value in place.
func (s *Service) DecryptPtr(value *string) error {
	if value == nil {
		return nil
	}
	out, err := s.Decrypt(*value)
	if err != nil {
		return err
	}
	*value = out
	return nil
}
