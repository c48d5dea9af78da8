package security

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tagged verification errors; the authorizer maps these to deny reasons.
var (
	ErrTokenMalformed     = errors.New("token malformed")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenBadSignature  = errors.New("token signature invalid")
	ErrTokenWrongAudience = errors.New("token audience or issuer mismatch")
)

// Claims are the verified attributes extracted from an identity token.
type Claims struct {
	// Subject is the external identity id assigned by the issuer.
	Subject   string
	Email     string
	Name      string
	Picture   string
	Issuer    string
	ExpiresAt time.Time
}

type identityClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Verifier validates externally-issued identity tokens against the issuer's
// published key set. Pure validation: no side effects beyond the key cache.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
}

// NewVerifier returns a Verifier that accepts RS256 tokens from issuer with
// the given audience, resolving signing keys by kid through keys.
func NewVerifier(keys KeySource, issuer, audience string) *Verifier {
	return &Verifier{keys: keys, issuer: issuer, audience: audience}
}

// Verify parses and validates rawToken: signature (key selected by the kid
// header, supporting rotation), issuer, audience, and expiry with zero grace.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(rawToken, &identityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, ErrTokenBadSignature
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrTokenBadSignature
		}
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				return nil, ErrTokenBadSignature
			}
			return nil, err
		}
		return key, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	claims, ok := parsed.Claims.(*identityClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	var expires time.Time
	if claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}
	return &Claims{
		Subject:   claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		Picture:   claims.Picture,
		Issuer:    claims.Issuer,
		ExpiresAt: expires,
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience), errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrTokenWrongAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, ErrTokenBadSignature):
		return ErrTokenBadSignature
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	default:
		return ErrTokenMalformed
	}
}
