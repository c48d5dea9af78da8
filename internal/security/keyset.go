package security

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"
)

// ErrKeyNotFound is returned when no key in the issuer's key set matches the requested key id.
var ErrKeyNotFound = errors.New("key id not found in issuer key set")

// KeySource resolves issuer public keys by key id. Implementations may fetch
// over the network; callers must tolerate latency only on cache misses.
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// jwksDocument is the issuer's published key set (RFC 7517 subset, RSA only).
type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// HTTPKeySource fetches the issuer's JWKS document over HTTP.
type HTTPKeySource struct {
	URL    string
	Client *http.Client
}

// Fetch downloads and parses the key set, returning keys indexed by kid.
func (s *HTTPKeySource) Fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("jwks request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch: unexpected status %d", resp.StatusCode)
	}
	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("jwks decode: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			return nil, fmt.Errorf("jwks key %q: %w", k.Kid, err)
		}
		keys[k.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks: no usable RSA keys")
	}
	return keys, nil
}

func (k jwksKey) publicKey() (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("exponent: %w", err)
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e <= 1 {
		return nil, errors.New("invalid exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// Fetcher loads a full kid-indexed key set. Satisfied by *HTTPKeySource.
type Fetcher interface {
	Fetch(ctx context.Context) (map[string]*rsa.PublicKey, error)
}

// CachedKeySource caches a fetched key set for a bounded TTL and supports key
// rotation: a miss on a fresh cache triggers exactly one refresh before the
// lookup fails. Shared across all requests; reads take the fast path.
type CachedKeySource struct {
	fetcher Fetcher
	ttl     time.Duration
	nowF    func() time.Time

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewCachedKeySource returns a key source caching fetcher results for ttl.
func NewCachedKeySource(fetcher Fetcher, ttl time.Duration) *CachedKeySource {
	return &CachedKeySource{fetcher: fetcher, ttl: ttl, nowF: time.Now}
}

// Key returns the public key for kid, refreshing the cached set when it is
// stale or the kid is unknown. An unknown kid after a refresh returns
// ErrKeyNotFound without further fetches.
func (s *CachedKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.RLock()
	key, ok := s.keys[kid]
	fetchedAt := s.fetchedAt
	fresh := s.nowF().Sub(fetchedAt) < s.ttl
	s.mu.RUnlock()
	if ok && fresh {
		return key, nil
	}

	if err := s.refresh(ctx, fetchedAt); err != nil {
		return nil, err
	}

	s.mu.RLock()
	key, ok = s.keys[kid]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// refresh fetches the key set unless another caller already refreshed after
// the observed fetchedAt (avoids a fetch stampede on rotation).
func (s *CachedKeySource) refresh(ctx context.Context, observed time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchedAt.After(observed) {
		return nil
	}
	keys, err := s.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("refresh key set: %w", err)
	}
	s.keys = keys
	s.fetchedAt = s.nowF()
	return nil
}
