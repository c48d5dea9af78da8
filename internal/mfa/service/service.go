// Package service implements the TOTP enrollment lifecycle. A credential
// moves Unenrolled → PendingVerification → Enrolled → Disabled; Disabled is
// terminal for that credential, re-setup mints a fresh one.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"azkaban/internal/mfa"
	"azkaban/internal/mfa/domain"
	"azkaban/internal/mfa/repository"
	"azkaban/internal/security"
)

var (
	ErrNoPendingSetup  = errors.New("no pending mfa setup")
	ErrInvalidCode     = errors.New("invalid mfa code")
	ErrCodeAlreadyUsed = errors.New("mfa code already used")
	ErrNotEnrolled     = errors.New("mfa not enrolled")
	ErrAlreadyEnrolled = errors.New("mfa already enrolled")
)

// Directory is the slice of the user service the MFA lifecycle needs:
// flipping the principal's enrollment flag (which also invalidates cached
// authorization decisions for the user).
type Directory interface {
	SetMFAEnrolled(ctx context.Context, userID string, enrolled bool) error
}

// SetupResult is the enrollment payload returned to the client exactly once,
// at setup time. The secret is never readable again afterwards.
type SetupResult struct {
	Secret          string
	ProvisioningURI string
	State           domain.State
}

// Service drives the per-user TOTP state machine.
type Service struct {
	repo       repository.Repository
	box        *security.SecretBox
	assertions *security.AssertionProvider
	directory  Directory
	issuer     string
	nowF       func() time.Time
}

// NewService wires the MFA lifecycle. issuer labels provisioning URIs.
func NewService(repo repository.Repository, box *security.SecretBox, assertions *security.AssertionProvider, directory Directory, issuer string) *Service {
	return &Service{
		repo:       repo,
		box:        box,
		assertions: assertions,
		directory:  directory,
		issuer:     issuer,
		nowF:       time.Now,
	}
}

// WithNow overrides the clock. Tests only.
func (s *Service) WithNow(nowF func() time.Time) *Service {
	s.nowF = nowF
	return s
}

// Setup mints a new pending credential for userID. Calling it again while
// pending, or after a disable, replaces the old secret wholesale so no
// half-enrolled secret can ever validate.
func (s *Service) Setup(ctx context.Context, userID, accountLabel string) (*SetupResult, error) {
	existing, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if existing.State() == domain.StateEnrolled {
		return nil, ErrAlreadyEnrolled
	}

	secret, err := mfa.GenerateSecret()
	if err != nil {
		return nil, err
	}
	enc, err := s.box.Seal([]byte(secret))
	if err != nil {
		return nil, fmt.Errorf("seal totp secret: %w", err)
	}
	cred := &domain.Credential{
		ID:        uuid.NewString(),
		UserID:    userID,
		SecretEnc: enc,
		CreatedAt: s.nowF().UTC(),
	}
	if existing == nil {
		err = s.repo.Create(ctx, cred)
	} else {
		err = s.repo.Replace(ctx, cred)
	}
	if err != nil {
		return nil, err
	}
	return &SetupResult{
		Secret:          secret,
		ProvisioningURI: mfa.ProvisioningURI(s.issuer, accountLabel, secret),
		State:           domain.StatePendingVerification,
	}, nil
}

// Verify checks code against the user's credential with one step of clock
// skew. On a pending credential a success completes enrollment; on an
// enrolled one it advances the replay counter and proves possession. Either
// way the caller gets a short-lived signed assertion for gating
// MFA-required actions.
func (s *Service) Verify(ctx context.Context, userID, code string) (string, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	switch cred.State() {
	case domain.StateUnenrolled, domain.StateDisabled:
		return "", ErrNoPendingSetup
	}

	counter, err := s.matchCode(cred, code)
	if err != nil {
		return "", err
	}

	if cred.State() == domain.StatePendingVerification {
		if err := s.repo.MarkVerified(ctx, cred.ID, int64(counter)); err != nil {
			return "", err
		}
		if err := s.directory.SetMFAEnrolled(ctx, userID, true); err != nil {
			return "", err
		}
	} else {
		advanced, err := s.repo.AdvanceCounter(ctx, cred.ID, int64(counter))
		if err != nil {
			return "", err
		}
		if !advanced {
			// Lost the race against a concurrent verify with the same code.
			return "", ErrCodeAlreadyUsed
		}
	}
	return s.assertions.Issue(userID)
}

// Disable requires a valid current code so a stolen session cannot silently
// turn MFA off. The credential never validates again; clearing the
// principal flag also drops any cached allow decisions.
func (s *Service) Disable(ctx context.Context, userID, code string) error {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return err
	}
	if cred.State() != domain.StateEnrolled {
		return ErrNotEnrolled
	}
	counter, err := s.matchCode(cred, code)
	if err != nil {
		return err
	}
	advanced, err := s.repo.AdvanceCounter(ctx, cred.ID, int64(counter))
	if err != nil {
		return err
	}
	if !advanced {
		return ErrCodeAlreadyUsed
	}
	if err := s.repo.MarkDisabled(ctx, cred.ID); err != nil {
		return err
	}
	return s.directory.SetMFAEnrolled(ctx, userID, false)
}

// State reports the user's current enrollment state.
func (s *Service) State(ctx context.Context, userID string) (domain.State, error) {
	cred, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return "", err
	}
	return cred.State(), nil
}

// matchCode decrypts the secret, validates code within the skew window and
// enforces the monotonic counter against the snapshot read. The storage
// guard in AdvanceCounter re-checks under concurrency.
func (s *Service) matchCode(cred *domain.Credential, code string) (uint64, error) {
	secret, err := s.box.Open(cred.SecretEnc)
	if err != nil {
		return 0, fmt.Errorf("open totp secret: %w", err)
	}
	counter, ok := mfa.Validate(string(secret), code, s.nowF())
	if !ok {
		return 0, ErrInvalidCode
	}
	if int64(counter) <= cred.LastCounter && cred.State() == domain.StateEnrolled {
		return 0, ErrCodeAlreadyUsed
	}
	return counter, nil
}
