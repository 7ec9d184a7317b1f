package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const KeySize = 32

var ErrInvalidKey = errors.New("encryption key must be 32 bytes")

// DataIntegrityError is returned when a sealed payload cannot be opened. It
// carries a correlation id for operator diagnosis instead of the underlying
// crypto error, which is never surfaced.
type DataIntegrityError struct {
	CorrelationID string
}

func (e *DataIntegrityError) Error() string {
	return "sealed payload failed integrity check (ref " + e.CorrelationID + ")"
}

// Envelope is a sealed payload: hex-encoded nonce plus AES-256-GCM
// ciphertext. The GCM tag authenticates the whole payload, so any mutation
// surfaces as a DataIntegrityError on open.
type Envelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

type Cipher struct {
	aead cipher.AEAD
}

// NewKey generates a random 256-bit key.
func NewKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	return key, nil
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Seal(plaintext []byte) (Envelope, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Envelope{}, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, plaintext, nil)

	return Envelope{
		Nonce:      hex.EncodeToString(nonce),
		Ciphertext: hex.EncodeToString(sealed),
	}, nil
}

func (c *Cipher) Open(envelope Envelope) ([]byte, error) {
	nonce, err := hex.DecodeString(envelope.Nonce)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, integrityError()
	}

	sealed, err := hex.DecodeString(envelope.Ciphertext)
	if err != nil {
		return nil, integrityError()
	}

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, integrityError()
	}

	return plaintext, nil
}

func integrityError() error {
	return &DataIntegrityError{CorrelationID: uuid.NewString()}
}
