// Package mfa implements time-based one-time passwords (RFC 6238 over the
// RFC 4226 HOTP construction). SHA-1, 6 digits, 30 second steps: the
// parameters every mainstream authenticator app ships with.
package mfa

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"time"
)

const (
	// Period is the TOTP time step.
	Period = 30 * time.Second

	// Skew is how many steps either side of now a code is accepted for.
	// One step absorbs client clock drift and user typing delay.
	Skew = 1

	digits      = 6
	secretBytes = 20
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a fresh 160-bit shared secret, base32 encoded the
// way authenticator apps expect it.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// CodeAt computes the 6-digit code for the given counter (time step index).
func CodeAt(secret string, counter uint64) (string, error) {
	key, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)
	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation per RFC 4226 §5.3.
	offset := sum[len(sum)-1] & 0x0f
	value := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return fmt.Sprintf("%06d", value%1_000_000), nil
}

// Counter maps a wall-clock instant onto its time step index.
func Counter(t time.Time) uint64 {
	return uint64(t.Unix()) / uint64(Period/time.Second)
}

// Validate checks code against the window [now-Skew, now+Skew] and returns
// the counter it matched at. Callers persist that counter to reject replays;
// a code is only ever good for the single step that produced it.
func Validate(secret, code string, now time.Time) (uint64, bool) {
	center := Counter(now)
	for delta := -int64(Skew); delta <= int64(Skew); delta++ {
		counter := uint64(int64(center) + delta)
		want, err := CodeAt(secret, counter)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return counter, true
		}
	}
	return 0, false
}

// ProvisioningURI builds the otpauth:// URI encoded into enrollment QR codes.
func ProvisioningURI(issuer, account, secret string) string {
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("algorithm", "SHA1")
	q.Set("digits", fmt.Sprintf("%d", digits))
	q.Set("period", fmt.Sprintf("%d", int(Period/time.Second)))
	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/" + issuer + ":" + account,
		RawQuery: q.Encode(),
	}
	return u.String()
}
