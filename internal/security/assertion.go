package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidAssertion is returned when a verified-MFA marker is missing,
// expired, or bound to a different user.
var ErrInvalidAssertion = errors.New("invalid mfa assertion")

const assertionIssuer = "azkaban-mfa"

type assertionClaims struct {
	jwt.RegisteredClaims
}

// AssertionProvider issues and validates the short-lived signed marker that
// proves a recent successful TOTP verification. HS256 with a service-local
// secret; the marker never leaves the trust boundary of the gateway and its
// callers.
type AssertionProvider struct {
	secret []byte
	ttl    time.Duration
	nowF   func() time.Time
}

// NewAssertionProvider returns an AssertionProvider signing with secret and
// issuing markers valid for ttl.
func NewAssertionProvider(secret []byte, ttl time.Duration) *AssertionProvider {
	return &AssertionProvider{secret: secret, ttl: ttl, nowF: time.Now}
}

// Issue returns a signed marker bound to userID, valid for the provider TTL.
func (p *AssertionProvider) Issue(userID string) (string, error) {
	if len(p.secret) == 0 {
		return "", errors.New("mfa assertion secret is not configured")
	}
	now := p.nowF().UTC()
	claims := assertionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    assertionIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
}

// Validate checks the marker's signature, expiry, and user binding.
func (p *AssertionProvider) Validate(marker, userID string) error {
	if marker == "" || len(p.secret) == 0 {
		return ErrInvalidAssertion
	}
	token, err := jwt.ParseWithClaims(marker, &assertionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidAssertion
		}
		return p.secret, nil
	}, jwt.WithIssuer(assertionIssuer), jwt.WithTimeFunc(func() time.Time { return p.nowF() }))
	if err != nil {
		return ErrInvalidAssertion
	}
	claims, ok := token.Claims.(*assertionClaims)
	if !ok || !token.Valid || claims.Subject != userID {
		return ErrInvalidAssertion
	}
	return nil
}
