package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// ivSize is the GCM nonce length in bytes. The wire format uses 16 bytes
// rather than the usual 12; existing responders decrypt against 16-byte IVs,
// so this cannot change without breaking them.
const ivSize = 16

// gcmTagSize is the GCM authentication tag length.
const gcmTagSize = 16

// Envelope is the wire form of one encrypted value. All fields are base64.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
}

// AsMap returns the envelope as a JSON-shaped mapping, the form embedded in
// webhook payloads.
func (e *Envelope) AsMap() map[string]any {
	return map[string]any{
		"encrypted": e.Encrypted,
		"iv":        e.IV,
		"tag":       e.Tag,
	}
}

// EnvelopeFromMap parses the mapping form back into an Envelope. It reports
// false when m does not carry the three envelope fields.
func EnvelopeFromMap(m map[string]any) (*Envelope, bool) {
	enc, ok1 := m["encrypted"].(string)
	iv, ok2 := m["iv"].(string)
	tag, ok3 := m["tag"].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	return &Envelope{Encrypted: enc, IV: iv, Tag: tag}, true
}

// Cipher encrypts and decrypts individual payload values with AES-256-GCM.
// A nil Cipher fails every operation with ErrNoEncryptionKey, which is the
// configured-off state.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a hex-encoded 32-byte key.
func NewCipher(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals a JSON-shaped value. The plaintext is the value wrapped as
// {"value": <original>} so that scalars and structures round-trip uniformly.
func (c *Cipher) Encrypt(value any) (*Envelope, error) {
	if c == nil {
		return nil, ErrNoEncryptionKey
	}

	plaintext, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate IV: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - gcmTagSize

	return &Envelope{
		Encrypted: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:        base64.StdEncoding.EncodeToString(iv),
		Tag:       base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens an envelope and returns the original value. Any GCM
// authentication failure surfaces as an error.
func (c *Cipher) Decrypt(env *Envelope) (any, error) {
	if c == nil {
		return nil, ErrNoEncryptionKey
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil {
		return nil, fmt.Errorf("decode IV: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	if len(iv) != ivSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", ivSize, len(iv))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := c.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	var wrapper struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(plaintext, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal plaintext: %w", err)
	}
	return wrapper.Value, nil
}
