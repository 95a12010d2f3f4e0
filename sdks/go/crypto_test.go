package agentguard

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// encrypt seals a value the way a host does: AES-256-GCM with a 16-byte IV,
// ciphertext and tag carried separately, plaintext wrapped as {"value": v}.
func encrypt(t *testing.T, keyHex string, value any) map[string]any {
	t.Helper()

	key, err := hex.DecodeString(keyHex)
	if err != nil {
		t.Fatal(err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, 16)
	if err != nil {
		t.Fatal(err)
	}

	plaintext, err := json.Marshal(map[string]any{"value": value})
	if err != nil {
		t.Fatal(err)
	}
	iv := make([]byte, 16)
	if _, err := rand.Read(iv); err != nil {
		t.Fatal(err)
	}
	sealed := aead.Seal(nil, iv, plaintext, nil)
	split := len(sealed) - 16

	return map[string]any{
		"encrypted": base64.StdEncoding.EncodeToString(sealed[:split]),
		"iv":        base64.StdEncoding.EncodeToString(iv),
		"tag":       base64.StdEncoding.EncodeToString(sealed[split:]),
	}
}

func TestNewDecryptorRejectsBadKeys(t *testing.T) {
	t.Parallel()

	if _, err := NewDecryptor("zz"); err == nil {
		t.Error("NewDecryptor accepted a non-hex key")
	}
	if _, err := NewDecryptor("abcd"); err == nil {
		t.Error("NewDecryptor accepted a short key")
	}
}

func TestDecryptValueRoundTrips(t *testing.T) {
	t.Parallel()

	d, err := NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		value any
	}{
		{"string", "s3cret"},
		{"number", float64(42)},
		{"structure", map[string]any{"user": "alice", "roles": []any{"admin"}}},
		{"null", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := d.DecryptValue(encrypt(t, testKeyHex, tt.value))
			if err != nil {
				t.Fatalf("DecryptValue() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.value) {
				t.Errorf("DecryptValue() = %v, want %v", got, tt.value)
			}
		})
	}
}

func TestDecryptValueRejectsPlainValues(t *testing.T) {
	t.Parallel()

	d, err := NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.DecryptValue("plain"); !errors.Is(err, ErrNotEncrypted) {
		t.Errorf("DecryptValue(plain) error = %v, want %v", err, ErrNotEncrypted)
	}
	if _, err := d.DecryptValue(map[string]any{"encrypted": "x"}); !errors.Is(err, ErrNotEncrypted) {
		t.Errorf("DecryptValue(partial envelope) error = %v, want %v", err, ErrNotEncrypted)
	}
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	t.Parallel()

	otherKey := strings.Repeat("ff", 32)
	d, err := NewDecryptor(otherKey)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.DecryptValue(encrypt(t, testKeyHex, "secret")); err == nil {
		t.Error("DecryptValue succeeded with the wrong key")
	}
}

func TestDecryptAllReplacesNestedEnvelopes(t *testing.T) {
	t.Parallel()

	d, err := NewDecryptor(testKeyHex)
	if err != nil {
		t.Fatal(err)
	}

	params := map[string]any{
		"to":     "bob",
		"amount": encrypt(t, testKeyHex, float64(500)),
		"batch": []any{
			encrypt(t, testKeyHex, "first"),
			"plain",
		},
		"nested": map[string]any{
			"token": encrypt(t, testKeyHex, "tok-1"),
		},
	}
	if err := d.DecryptAll(params); err != nil {
		t.Fatalf("DecryptAll() error = %v", err)
	}

	want := map[string]any{
		"to":     "bob",
		"amount": float64(500),
		"batch":  []any{"first", "plain"},
		"nested": map[string]any{"token": "tok-1"},
	}
	if !reflect.DeepEqual(params, want) {
		t.Errorf("DecryptAll() result = %v, want %v", params, want)
	}
}
