package seal

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestNewCipherKeyValidation(t *testing.T) {
	cases := map[string]string{
		"empty":         "",
		"short":         "abcdef",
		"63 chars":      strings.Repeat("a", 63),
		"65 chars":      strings.Repeat("a", 65),
		"not hex":       strings.Repeat("z", 64),
		"spaced":        strings.Repeat("a", 62) + " a",
	}
	for name, key := range cases {
		if _, err := NewCipher(key); err != ErrInvalidKey {
			t.Fatalf("%s: expected ErrInvalidKey, got %v", name, err)
		}
	}

	if _, err := NewCipher(GenerateKey()); err != nil {
		t.Fatalf("valid key rejected: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c, err := NewCipher(GenerateKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}

	inputs := []string{
		"",
		"short",
		"exactly sixteen!",
		strings.Repeat("x", 10_000),
		"personnummer: 010190-12345, navn: Kari Nordmann, æøå 日本語 🔒",
	}
	for _, in := range inputs {
		env, err := c.Encrypt(in)
		if err != nil {
			t.Fatalf("Encrypt(%d bytes): %v", len(in), err)
		}
		out, err := c.Decrypt(env)
		if err != nil {
			t.Fatalf("Decrypt(%d bytes): %v", len(in), err)
		}
		if out != in {
			t.Fatalf("round trip mismatch for %d-byte input", len(in))
		}
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	c, err := NewCipher(GenerateKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	a, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	b, err := c.Encrypt("same input")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if a == b {
		t.Fatal("two encryptions of identical input produced identical envelopes")
	}
}

func TestDecryptFailures(t *testing.T) {
	c, err := NewCipher(GenerateKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	env, err := c.Encrypt("payload")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Wrong key.
	other, err := NewCipher(GenerateKey())
	if err != nil {
		t.Fatalf("NewCipher: %v", err)
	}
	if _, err := other.Decrypt(env); err != ErrDecryptFailed {
		t.Fatalf("wrong key: expected ErrDecryptFailed, got %v", err)
	}

	// Not base64.
	if _, err := c.Decrypt("%%% not base64 %%%"); err != ErrDecryptFailed {
		t.Fatalf("bad base64: expected ErrDecryptFailed, got %v", err)
	}

	// Truncated envelope (IV only).
	raw, _ := base64.StdEncoding.DecodeString(env)
	short := base64.StdEncoding.EncodeToString(raw[:16])
	if _, err := c.Decrypt(short); err != ErrDecryptFailed {
		t.Fatalf("truncated: expected ErrDecryptFailed, got %v", err)
	}

	// Corrupted envelope: length no longer a block multiple.
	corrupted := base64.StdEncoding.EncodeToString(append(raw, 0x00))
	if _, err := c.Decrypt(corrupted); err != ErrDecryptFailed {
		t.Fatalf("corrupted: expected ErrDecryptFailed, got %v", err)
	}
}

func TestGenerateKey(t *testing.T) {
	a := GenerateKey()
	b := GenerateKey()
	if len(a) != 64 || len(b) != 64 {
		t.Fatalf("unexpected key length: %d, %d", len(a), len(b))
	}
	if a == b {
		t.Fatal("two generated keys are identical")
	}
}
