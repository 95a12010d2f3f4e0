package agentguard

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// envelopeIVSize is the GCM nonce length used on the wire. The host emits
// 16-byte IVs, not the usual 12.
const envelopeIVSize = 16

// Envelope is the wire form of one encrypted value. All fields are base64.
type Envelope struct {
	Encrypted string `json:"encrypted"`
	IV        string `json:"iv"`
	Tag       string `json:"tag"`
}

// EnvelopeFrom reports whether v is an encryption envelope and returns it.
// Encrypted fields arrive inside parameters as {"encrypted","iv","tag"}
// mappings.
func EnvelopeFrom(v any) (*Envelope, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	enc, ok1 := m["encrypted"].(string)
	iv, ok2 := m["iv"].(string)
	tag, ok3 := m["tag"].(string)
	if !ok1 || !ok2 || !ok3 {
		return nil, false
	}
	return &Envelope{Encrypted: enc, IV: iv, Tag: tag}, true
}

// Decryptor opens AES-256-GCM envelopes produced by a host configured to
// encrypt sensitive fields. It is stateless and safe for concurrent use.
type Decryptor struct {
	aead cipher.AEAD
}

// NewDecryptor builds a Decryptor from a hex-encoded 32-byte key. The key
// must match the host's webhook encryption key.
func NewDecryptor(keyHex string) (*Decryptor, error) {
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
	aead, err := cipher.NewGCMWithNonceSize(block, envelopeIVSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Decryptor{aead: aead}, nil
}

// Decrypt opens an envelope and returns the original value. GCM
// authentication failures surface as errors.
func (d *Decryptor) Decrypt(env *Envelope) (any, error) {
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
	if len(iv) != envelopeIVSize {
		return nil, fmt.Errorf("IV must be %d bytes, got %d", envelopeIVSize, len(iv))
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := d.aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}

	// The plaintext is the value wrapped as {"value": <original>} so scalars
	// and structures round-trip uniformly.
	var wrapper struct {
		Value any `json:"value"`
	}
	if err := json.Unmarshal(plaintext, &wrapper); err != nil {
		return nil, fmt.Errorf("unmarshal plaintext: %w", err)
	}
	return wrapper.Value, nil
}

// DecryptValue opens v when it is an envelope. Plain values return
// ErrNotEncrypted.
func (d *Decryptor) DecryptValue(v any) (any, error) {
	env, ok := EnvelopeFrom(v)
	if !ok {
		return nil, ErrNotEncrypted
	}
	return d.Decrypt(env)
}

// DecryptAll walks a JSON-shaped structure in place, replacing every
// envelope with its decrypted value. Non-envelope values are untouched.
func (d *Decryptor) DecryptAll(root map[string]any) error {
	for k, v := range root {
		decrypted, err := d.decryptWalk(v)
		if err != nil {
			return fmt.Errorf("decrypt %q: %w", k, err)
		}
		root[k] = decrypted
	}
	return nil
}

func (d *Decryptor) decryptWalk(v any) (any, error) {
	if env, ok := EnvelopeFrom(v); ok {
		return d.Decrypt(env)
	}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			decrypted, err := d.decryptWalk(val)
			if err != nil {
				return nil, err
			}
			t[k] = decrypted
		}
		return t, nil
	case []any:
		for i, val := range t {
			decrypted, err := d.decryptWalk(val)
			if err != nil {
				return nil, err
			}
			t[i] = decrypted
		}
		return t, nil
	default:
		return v, nil
	}
}
