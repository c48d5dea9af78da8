package security

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type staticKeySource struct {
	keys map[string]*rsa.PublicKey
}

func (s *staticKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := s.keys[kid]; ok {
		return k, nil
	}
	return nil, ErrKeyNotFound
}

func testKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func baseClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":     "ext-123",
		"iss":     "https://issuer.example.com",
		"aud":     "azkaban",
		"exp":     time.Now().Add(time.Hour).Unix(),
		"email":   "ada@littio.co",
		"name":    "Ada",
		"picture": "https://img.example.com/ada.png",
	}
}

func TestVerifier_Valid(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(&staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &key.PublicKey}}, "https://issuer.example.com", "azkaban")

	claims, err := v.Verify(context.Background(), signToken(t, key, "k1", baseClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "ext-123" {
		t.Errorf("Subject = %q", claims.Subject)
	}
	if claims.Email != "ada@littio.co" || claims.Name != "Ada" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be set")
	}
}

func TestVerifier_Expired(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(&staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &key.PublicKey}}, "https://issuer.example.com", "azkaban")

	c := baseClaims()
	c["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err := v.Verify(context.Background(), signToken(t, key, "k1", c))
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestVerifier_WrongAudience(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(&staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &key.PublicKey}}, "https://issuer.example.com", "azkaban")

	c := baseClaims()
	c["aud"] = "someone-else"
	_, err := v.Verify(context.Background(), signToken(t, key, "k1", c))
	if !errors.Is(err, ErrTokenWrongAudience) {
		t.Fatalf("err = %v, want ErrTokenWrongAudience", err)
	}

	c = baseClaims()
	c["iss"] = "https://evil.example.com"
	_, err = v.Verify(context.Background(), signToken(t, key, "k1", c))
	if !errors.Is(err, ErrTokenWrongAudience) {
		t.Fatalf("err = %v, want ErrTokenWrongAudience", err)
	}
}

func TestVerifier_BadSignature(t *testing.T) {
	key := testKey(t)
	other := testKey(t)
	v := NewVerifier(&staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &key.PublicKey}}, "https://issuer.example.com", "azkaban")

	// Signed by a key the issuer never published.
	_, err := v.Verify(context.Background(), signToken(t, other, "k1", baseClaims()))
	if !errors.Is(err, ErrTokenBadSignature) {
		t.Fatalf("err = %v, want ErrTokenBadSignature", err)
	}

	// Unknown kid.
	_, err = v.Verify(context.Background(), signToken(t, key, "k9", baseClaims()))
	if !errors.Is(err, ErrTokenBadSignature) {
		t.Fatalf("err = %v, want ErrTokenBadSignature", err)
	}
}

func TestVerifier_Malformed(t *testing.T) {
	key := testKey(t)
	v := NewVerifier(&staticKeySource{keys: map[string]*rsa.PublicKey{"k1": &key.PublicKey}}, "https://issuer.example.com", "azkaban")

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := v.Verify(context.Background(), raw); !errors.Is(err, ErrTokenMalformed) {
			t.Errorf("Verify(%q) err = %v, want ErrTokenMalformed", raw, err)
		}
	}

	// Missing subject.
	c := baseClaims()
	delete(c, "sub")
	if _, err := v.Verify(context.Background(), signToken(t, key, "k1", c)); !errors.Is(err, ErrTokenMalformed) {
		t.Errorf("err = %v, want ErrTokenMalformed", err)
	}
}

type countingFetcher struct {
	sets   []map[string]*rsa.PublicKey
	calls  int
	failAt int // 1-based call index to fail at; 0 disables
}

func (f *countingFetcher) Fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	f.calls++
	if f.failAt != 0 && f.calls >= f.failAt {
		return nil, errors.New("issuer unreachable")
	}
	idx := f.calls - 1
	if idx >= len(f.sets) {
		idx = len(f.sets) - 1
	}
	return f.sets[idx], nil
}

func TestCachedKeySource_RotationRefreshOnMiss(t *testing.T) {
	k1 := &testKey(t).PublicKey
	k2 := &testKey(t).PublicKey
	fetcher := &countingFetcher{sets: []map[string]*rsa.PublicKey{
		{"k1": k1},
		{"k1": k1, "k2": k2},
	}}
	src := NewCachedKeySource(fetcher, time.Hour)

	if _, err := src.Key(context.Background(), "k1"); err != nil {
		t.Fatalf("Key(k1): %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1", fetcher.calls)
	}

	// k2 appears after rotation; the miss triggers exactly one refresh.
	if _, err := src.Key(context.Background(), "k2"); err != nil {
		t.Fatalf("Key(k2): %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("calls = %d, want 2", fetcher.calls)
	}

	// A kid the issuer never published fails after one more refresh.
	if _, err := src.Key(context.Background(), "k9"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("Key(k9) err = %v, want ErrKeyNotFound", err)
	}
	if fetcher.calls != 3 {
		t.Fatalf("calls = %d, want 3", fetcher.calls)
	}
}

func TestCachedKeySource_CachedWithinTTL(t *testing.T) {
	k1 := &testKey(t).PublicKey
	fetcher := &countingFetcher{sets: []map[string]*rsa.PublicKey{{"k1": k1}}}
	src := NewCachedKeySource(fetcher, time.Hour)

	for i := 0; i < 5; i++ {
		if _, err := src.Key(context.Background(), "k1"); err != nil {
			t.Fatalf("Key: %v", err)
		}
	}
	if fetcher.calls != 1 {
		t.Fatalf("calls = %d, want 1 (cached)", fetcher.calls)
	}
}

func TestCachedKeySource_ExpiredTTLRefetches(t *testing.T) {
	k1 := &testKey(t).PublicKey
	fetcher := &countingFetcher{sets: []map[string]*rsa.PublicKey{{"k1": k1}}}
	src := NewCachedKeySource(fetcher, time.Minute)
	now := time.Now()
	src.nowF = func() time.Time { return now }

	if _, err := src.Key(context.Background(), "k1"); err != nil {
		t.Fatalf("Key: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := src.Key(context.Background(), "k1"); err != nil {
		t.Fatalf("Key after expiry: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("calls = %d, want 2", fetcher.calls)
	}
}
