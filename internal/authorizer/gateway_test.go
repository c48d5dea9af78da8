package authorizer

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	policyengine "azkaban/internal/policy/engine"
	"azkaban/internal/rbac"
	"azkaban/internal/security"
	userdomain "azkaban/internal/user/domain"
	usersvc "azkaban/internal/user/service"
)

const (
	testIssuer   = "https://issuer.example"
	testAudience = "azkaban"
	testKid      = "kid-1"
)

type staticKeySource struct {
	keys map[string]*rsa.PublicKey
}

func (s *staticKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	k, ok := s.keys[kid]
	if !ok {
		return nil, security.ErrKeyNotFound
	}
	return k, nil
}

type fakeDirectory struct {
	mu        sync.Mutex
	principal *userdomain.Principal
	err       error
	calls     int
}

func (d *fakeDirectory) Sync(ctx context.Context, claims *security.Claims) (*userdomain.Principal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	p := *d.principal
	return &p, nil
}

func (d *fakeDirectory) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type stubPolicy struct {
	required map[string]bool
}

func (p *stubPolicy) EvaluateMFA(ctx context.Context, in policyengine.Input) (policyengine.Result, error) {
	return policyengine.Result{MFARequired: p.required[in.Resource+":"+in.Action]}, nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	reasons []string
}

func (a *recordingAuditor) LogDecision(ctx context.Context, userID, resource, action string, allowed bool, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reasons = append(a.reasons, reason)
}

type fixture struct {
	gateway   *Gateway
	directory *fakeDirectory
	cache     *MemoryCache
	key       *rsa.PrivateKey
	auditor   *recordingAuditor
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	verifier := security.NewVerifier(
		&staticKeySource{keys: map[string]*rsa.PublicKey{testKid: &key.PublicKey}},
		testIssuer, testAudience)

	directory := &fakeDirectory{principal: &userdomain.Principal{
		ID:          "u1",
		ExternalUID: "ext-1",
		Email:       "minerva@hogwarts.example",
		Role:        "user",
		IsActive:    true,
	}}

	snap := rbac.NewSnapshot(
		[]string{"users:list", "users:read_self", "users:update_role"},
		map[string][]string{
			"admin": {"users:list", "users:update_role"},
			"user":  {"users:read_self"},
		},
	)

	var cache *MemoryCache
	if opts.Cache == nil && opts.CacheTTL > 0 {
		cache = NewMemoryCache()
		opts.Cache = cache
	} else if c, ok := opts.Cache.(*MemoryCache); ok {
		cache = c
	}
	auditor := &recordingAuditor{}
	if opts.Auditor == nil {
		opts.Auditor = auditor
	}
	if opts.OnUnenrolled == "" {
		opts.OnUnenrolled = OnUnenrolledEnroll
	}

	gw := NewGateway(
		verifier,
		directory,
		rbac.NewStaticEngine(snap),
		rbac.NewPermissionMapper(nil),
		&stubPolicy{required: map[string]bool{"users:update_role": true}},
		security.NewAssertionProvider([]byte("assert-secret"), time.Minute),
		opts,
	)
	return &fixture{gateway: gw, directory: directory, cache: cache, key: key, auditor: auditor}
}

func (f *fixture) mintToken(t *testing.T, sub string, expiresIn time.Duration) string {
	t.Helper()
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   testAudience,
		"sub":   sub,
		"email": "minerva@hogwarts.example",
		"name":  "Minerva",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(expiresIn).Unix(),
	})
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(f.key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestAuthorizeFirstSightAllow(t *testing.T) {
	f := newFixture(t, Options{})
	d := f.gateway.Authorize(context.Background(), Request{
		Token:    f.mintToken(t, "ext-1", time.Minute),
		Resource: "users",
		Action:   "read_self",
	})
	if !d.Allow {
		t.Fatalf("deny: %s", d.Reason)
	}
	if d.Principal == nil || d.Principal.UserID != "u1" || d.Principal.Permission != "users:read_self" {
		t.Fatalf("principal = %+v", d.Principal)
	}
	if f.directory.callCount() != 1 {
		t.Fatalf("sync calls = %d", f.directory.callCount())
	}
}

func TestAuthorizeExpiredToken(t *testing.T) {
	f := newFixture(t, Options{})
	d := f.gateway.Authorize(context.Background(), Request{
		Token:    f.mintToken(t, "ext-1", -time.Minute),
		Resource: "users",
		Action:   "read_self",
	})
	if d.Allow || d.Reason != ReasonTokenExpired {
		t.Fatalf("decision = %+v", d)
	}
	if f.directory.callCount() != 0 {
		t.Fatal("sync must not run for a bad token")
	}
}

func TestAuthorizeGarbageToken(t *testing.T) {
	f := newFixture(t, Options{})
	d := f.gateway.Authorize(context.Background(), Request{Token: "not-a-jwt", Resource: "users", Action: "read_self"})
	if d.Allow || d.Reason != ReasonTokenMalformed {
		t.Fatalf("decision = %+v", d)
	}
}

func TestAuthorizeNotGranted(t *testing.T) {
	f := newFixture(t, Options{})
	d := f.gateway.Authorize(context.Background(), Request{
		Token:    f.mintToken(t, "ext-1", time.Minute),
		Resource: "users",
		Action:   "list",
	})
	if d.Allow || d.Reason != ReasonNotGranted {
		t.Fatalf("decision = %+v", d)
	}
	if d.Principal != nil {
		t.Fatal("deny must not carry a principal")
	}
}

func TestAuthorizeAfterPromotion(t *testing.T) {
	f := newFixture(t, Options{})
	token := f.mintToken(t, "ext-1", time.Minute)
	req := Request{Token: token, Resource: "users", Action: "list"}

	if d := f.gateway.Authorize(context.Background(), req); d.Allow || d.Reason != ReasonNotGranted {
		t.Fatalf("as user: %+v", d)
	}

	f.directory.principal.Role = "admin"
	d := f.gateway.Authorize(context.Background(), req)
	if !d.Allow {
		t.Fatalf("as admin: %+v", d)
	}
	if d.Principal.Role != "admin" || d.Principal.Permission != "users:list" {
		t.Fatalf("principal = %+v", d.Principal)
	}
}

func TestAuthorizeDeactivated(t *testing.T) {
	f := newFixture(t, Options{})
	f.directory.principal.IsActive = false
	d := f.gateway.Authorize(context.Background(), Request{
		Token:    f.mintToken(t, "ext-1", time.Minute),
		Resource: "users",
		Action:   "read_self",
	})
	if d.Allow || d.Reason != ReasonDeactivated {
		t.Fatalf("decision = %+v", d)
	}
}

func TestAuthorizeMFARequired(t *testing.T) {
	f := newFixture(t, Options{})
	f.directory.principal.Role = "admin"
	f.directory.principal.MFAEnrolled = true
	token := f.mintToken(t, "ext-1", time.Minute)

	d := f.gateway.Authorize(context.Background(), Request{Token: token, Resource: "users", Action: "update_role"})
	if d.Allow || d.Reason != ReasonMFARequired {
		t.Fatalf("without assertion: %+v", d)
	}

	assertion, err := security.NewAssertionProvider([]byte("assert-secret"), time.Minute).Issue("u1")
	if err != nil {
		t.Fatal(err)
	}
	d = f.gateway.Authorize(context.Background(), Request{
		Token: token, Resource: "users", Action: "update_role", MFAAssertion: assertion,
	})
	if !d.Allow {
		t.Fatalf("with assertion: %+v", d)
	}

	// An assertion for a different user must not pass.
	other, err := security.NewAssertionProvider([]byte("assert-secret"), time.Minute).Issue("u2")
	if err != nil {
		t.Fatal(err)
	}
	d = f.gateway.Authorize(context.Background(), Request{
		Token: f.mintToken(t, "ext-1", time.Minute), Resource: "users", Action: "update_role", MFAAssertion: other,
	})
	if d.Allow || d.Reason != ReasonMFARequired {
		t.Fatalf("foreign assertion: %+v", d)
	}
}

func TestAuthorizeUnenrolledPolicy(t *testing.T) {
	f := newFixture(t, Options{OnUnenrolled: OnUnenrolledEnroll})
	f.directory.principal.Role = "admin"
	f.directory.principal.MFAEnrolled = false

	d := f.gateway.Authorize(context.Background(), Request{
		Token: f.mintToken(t, "ext-1", time.Minute), Resource: "users", Action: "update_role",
	})
	if d.Allow || d.Reason != ReasonMFAEnrollRequired {
		t.Fatalf("enroll mode: %+v", d)
	}

	f = newFixture(t, Options{OnUnenrolled: OnUnenrolledAllow})
	f.directory.principal.Role = "admin"
	f.directory.principal.MFAEnrolled = false
	d = f.gateway.Authorize(context.Background(), Request{
		Token: f.mintToken(t, "ext-1", time.Minute), Resource: "users", Action: "update_role",
	})
	if !d.Allow {
		t.Fatalf("allow mode: %+v", d)
	}
}

func TestAuthorizeEmailDomainRejected(t *testing.T) {
	f := newFixture(t, Options{})
	f.directory.err = usersvc.ErrEmailDomainNotAllowed
	d := f.gateway.Authorize(context.Background(), Request{
		Token: f.mintToken(t, "ext-1", time.Minute), Resource: "users", Action: "read_self",
	})
	if d.Allow || d.Reason != ReasonEmailDomain {
		t.Fatalf("decision = %+v", d)
	}
}

func TestAuthorizeCacheHit(t *testing.T) {
	f := newFixture(t, Options{CacheTTL: 5 * time.Second})
	token := f.mintToken(t, "ext-1", time.Minute)
	req := Request{Token: token, Resource: "users", Action: "read_self"}

	first := f.gateway.Authorize(context.Background(), req)
	second := f.gateway.Authorize(context.Background(), req)
	if !first.Allow || !second.Allow {
		t.Fatalf("decisions: %+v %+v", first, second)
	}
	if f.directory.callCount() != 1 {
		t.Fatalf("sync calls = %d, want 1 (second request cached)", f.directory.callCount())
	}
}

func TestAuthorizeCacheInvalidationOnUserChange(t *testing.T) {
	f := newFixture(t, Options{CacheTTL: time.Minute})
	token := f.mintToken(t, "ext-1", time.Minute)
	req := Request{Token: token, Resource: "users", Action: "read_self"}

	if d := f.gateway.Authorize(context.Background(), req); !d.Allow {
		t.Fatalf("initial: %+v", d)
	}

	// Deactivation drops the user's cached decisions; the next request
	// re-evaluates and sees the new state.
	f.directory.principal.IsActive = false
	if err := f.cache.InvalidateUser(context.Background(), "u1"); err != nil {
		t.Fatal(err)
	}
	if d := f.gateway.Authorize(context.Background(), req); d.Allow || d.Reason != ReasonDeactivated {
		t.Fatalf("after invalidation: %+v", d)
	}
	if f.directory.callCount() != 2 {
		t.Fatalf("sync calls = %d, want 2", f.directory.callCount())
	}
}

func TestAuthorizeInternalFailureNotCached(t *testing.T) {
	f := newFixture(t, Options{CacheTTL: time.Minute})
	f.directory.err = errors.New("connection refused")
	token := f.mintToken(t, "ext-1", time.Minute)
	req := Request{Token: token, Resource: "users", Action: "read_self"}

	for i := 0; i < 2; i++ {
		if d := f.gateway.Authorize(context.Background(), req); d.Allow || d.Reason != ReasonInternal {
			t.Fatalf("decision = %+v", d)
		}
	}
	if f.directory.callCount() != 2 {
		t.Fatalf("sync calls = %d, want 2 (internal failures are never cached)", f.directory.callCount())
	}

	// Storage recovers; the same request now succeeds.
	f.directory.mu.Lock()
	f.directory.err = nil
	f.directory.mu.Unlock()
	if d := f.gateway.Authorize(context.Background(), req); !d.Allow {
		t.Fatalf("after recovery: %+v", d)
	}
}

func TestAuthorizeAuditsEveryDecision(t *testing.T) {
	f := newFixture(t, Options{})
	f.gateway.Authorize(context.Background(), Request{Token: "garbage", Resource: "users", Action: "list"})
	f.gateway.Authorize(context.Background(), Request{
		Token: f.mintToken(t, "ext-1", time.Minute), Resource: "users", Action: "read_self",
	})
	f.auditor.mu.Lock()
	defer f.auditor.mu.Unlock()
	if len(f.auditor.reasons) != 2 {
		t.Fatalf("audited %d decisions, want 2", len(f.auditor.reasons))
	}
	if f.auditor.reasons[0] != ReasonTokenMalformed || f.auditor.reasons[1] != ReasonGranted {
		t.Fatalf("reasons = %v", f.auditor.reasons)
	}
}
