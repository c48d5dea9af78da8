package domain

import "time"

// Enrollment states for a TOTP credential.
type State string

const (
	StateUnenrolled          State = "unenrolled"
	StatePendingVerification State = "pending_verification"
	StateEnrolled            State = "enrolled"
	StateDisabled            State = "disabled"
)

// Credential is a user's TOTP enrollment (stored in totp_credentials).
// The shared secret is encrypted at rest; SecretEnc is opaque ciphertext.
type Credential struct {
	ID          string
	UserID      string
	SecretEnc   []byte
	Enabled     bool
	Disabled    bool
	LastCounter int64
	CreatedAt   time.Time
	VerifiedAt  *time.Time
	DisabledAt  *time.Time
}

// State derives the enrollment state from the stored flags. A nil credential
// is StateUnenrolled by convention at the service layer.
func (c *Credential) State() State {
	switch {
	case c == nil:
		return StateUnenrolled
	case c.Disabled:
		return StateDisabled
	case c.Enabled:
		return StateEnrolled
	default:
		return StatePendingVerification
	}
}
