package security

import (
	"bytes"
	"testing"
)

func TestSecretBox_RoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "an example very very secret key!")
	box, err := NewSecretBox(key)
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}

	plaintext := []byte("JBSWY3DPEHPK3PXP")
	sealed, err := box.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed value must not contain the plaintext")
	}

	opened, err := box.Open(sealed)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("Open = %q, want %q", opened, plaintext)
	}
}

func TestSecretBox_RejectsBadKeyAndCiphertext(t *testing.T) {
	if _, err := NewSecretBox([]byte("short")); err == nil {
		t.Fatal("NewSecretBox should reject a short key")
	}

	box, err := NewSecretBox(make([]byte, 32))
	if err != nil {
		t.Fatalf("NewSecretBox: %v", err)
	}
	if _, err := box.Open([]byte("tiny")); err == nil {
		t.Fatal("Open should reject a truncated ciphertext")
	}

	sealed, err := box.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := box.Open(sealed); err == nil {
		t.Fatal("Open should reject a tampered ciphertext")
	}
}
