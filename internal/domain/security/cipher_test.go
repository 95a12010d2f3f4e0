package security

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestCipher(t *testing.T) *Cipher {
	t.Helper()
	c, err := NewCipher(testKeyHex)
	if err != nil {
		t.Fatalf("NewCipher() error = %v", err)
	}
	return c
}

func TestNewCipherKeyValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewCipher("not hex"); err == nil {
		t.Error("NewCipher() accepted non-hex key")
	}
	if _, err := NewCipher("deadbeef"); err == nil {
		t.Error("NewCipher() accepted short key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)

	values := []struct {
		name string
		v    any
	}{
		{"string", "sk-secret-token"},
		{"number", float64(42.5)},
		{"bool", true},
		{"null", nil},
		{"object", map[string]any{"user": "alice", "depth": map[string]any{"k": float64(1)}}},
		{"array", []any{"a", float64(2), true}},
	}

	for _, tt := range values {
		t.Run(tt.name, func(t *testing.T) {
			env, err := c.Encrypt(tt.v)
			if err != nil {
				t.Fatalf("Encrypt() error = %v", err)
			}
			got, err := c.Decrypt(env)
			if err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !jsonValueEqual(got, tt.v) {
				t.Errorf("round trip = %#v, want %#v", got, tt.v)
			}
		})
	}
}

// jsonValueEqual compares JSON-shaped values after the number smoothing the
// decrypt path applies (everything numeric comes back as float64).
func jsonValueEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !jsonValueEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !jsonValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func TestEncryptProducesDistinctCiphertexts(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)
	e1, err := c.Encrypt("same value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	e2, err := c.Encrypt("same value")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if e1.IV == e2.IV {
		t.Error("two encryptions share an IV")
	}
	if e1.Encrypted == e2.Encrypted {
		t.Error("two encryptions share a ciphertext")
	}

	iv, err := base64.StdEncoding.DecodeString(e1.IV)
	if err != nil {
		t.Fatalf("IV is not base64: %v", err)
	}
	if len(iv) != 16 {
		t.Errorf("IV length = %d, want 16", len(iv))
	}
	tag, err := base64.StdEncoding.DecodeString(e1.Tag)
	if err != nil {
		t.Fatalf("tag is not base64: %v", err)
	}
	if len(tag) != 16 {
		t.Errorf("tag length = %d, want 16", len(tag))
	}
}

func TestDecryptAuthenticationFailure(t *testing.T) {
	t.Parallel()

	c := newTestCipher(t)
	env, err := c.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	t.Run("tampered ciphertext", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(env.Encrypted)
		raw[0] ^= 0xff
		bad := *env
		bad.Encrypted = base64.StdEncoding.EncodeToString(raw)
		if _, err := c.Decrypt(&bad); err == nil {
			t.Error("Decrypt() accepted tampered ciphertext")
		}
	})

	t.Run("tampered tag", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(env.Tag)
		raw[0] ^= 0xff
		bad := *env
		bad.Tag = base64.StdEncoding.EncodeToString(raw)
		if _, err := c.Decrypt(&bad); err == nil {
			t.Error("Decrypt() accepted tampered tag")
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewCipher(strings.Repeat("ff", 32))
		if err != nil {
			t.Fatalf("NewCipher() error = %v", err)
		}
		if _, err := other.Decrypt(env); err == nil {
			t.Error("Decrypt() with wrong key succeeded")
		}
	})
}

func TestNilCipherFailsCleanly(t *testing.T) {
	t.Parallel()

	var c *Cipher
	if _, err := c.Encrypt("x"); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("Encrypt() on nil cipher = %v, want ErrNoEncryptionKey", err)
	}
	if _, err := c.Decrypt(&Envelope{}); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("Decrypt() on nil cipher = %v, want ErrNoEncryptionKey", err)
	}
}
