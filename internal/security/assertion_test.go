package security

import (
	"testing"
	"time"
)

func TestAssertionProvider_RoundTrip(t *testing.T) {
	p := NewAssertionProvider([]byte("0123456789abcdef0123456789abcdef"), 5*time.Minute)

	marker, err := p.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := p.Validate(marker, "user-1"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if err := p.Validate(marker, "user-2"); err == nil {
		t.Fatal("Validate should reject a marker bound to another user")
	}
}

func TestAssertionProvider_Expired(t *testing.T) {
	p := NewAssertionProvider([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	marker, err := p.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	p.nowF = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if err := p.Validate(marker, "user-1"); err == nil {
		t.Fatal("Validate should reject an expired marker")
	}
}

func TestAssertionProvider_Tampered(t *testing.T) {
	p := NewAssertionProvider([]byte("0123456789abcdef0123456789abcdef"), time.Minute)
	other := NewAssertionProvider([]byte("ffffffffffffffffffffffffffffffff"), time.Minute)

	marker, err := other.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := p.Validate(marker, "user-1"); err == nil {
		t.Fatal("Validate should reject a marker signed with a different secret")
	}
	if err := p.Validate("", "user-1"); err == nil {
		t.Fatal("Validate should reject an empty marker")
	}
}
