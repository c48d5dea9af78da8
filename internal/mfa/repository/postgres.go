package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"azkaban/internal/mfa/domain"
)

type credentialRow struct {
	ID          string       `db:"id"`
	UserID      string       `db:"user_id"`
	SecretEnc   []byte       `db:"secret_enc"`
	Enabled     bool         `db:"enabled"`
	Disabled    bool         `db:"disabled"`
	LastCounter int64        `db:"last_counter"`
	CreatedAt   time.Time    `db:"created_at"`
	VerifiedAt  sql.NullTime `db:"verified_at"`
	DisabledAt  sql.NullTime `db:"disabled_at"`
}

func (r credentialRow) toDomain() *domain.Credential {
	c := &domain.Credential{
		ID:          r.ID,
		UserID:      r.UserID,
		SecretEnc:   r.SecretEnc,
		Enabled:     r.Enabled,
		Disabled:    r.Disabled,
		LastCounter: r.LastCounter,
		CreatedAt:   r.CreatedAt,
	}
	if r.VerifiedAt.Valid {
		t := r.VerifiedAt.Time
		c.VerifiedAt = &t
	}
	if r.DisabledAt.Valid {
		t := r.DisabledAt.Time
		c.DisabledAt = &t
	}
	return c
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a TOTP credential repository over the given db.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, c *domain.Credential) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO totp_credentials (id, user_id, secret_enc, enabled, disabled, last_counter, created_at)
		 VALUES ($1, $2, $3, FALSE, FALSE, 0, $4)`,
		c.ID, c.UserID, c.SecretEnc, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("create totp credential: %w", err)
	}
	return nil
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID string) (*domain.Credential, error) {
	var row credentialRow
	err := r.db.GetContext(ctx, &row,
		`SELECT id, user_id, secret_enc, enabled, disabled, last_counter, created_at, verified_at, disabled_at
		 FROM totp_credentials WHERE user_id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get totp credential: %w", err)
	}
	return row.toDomain(), nil
}

func (r *postgresRepository) Replace(ctx context.Context, c *domain.Credential) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE totp_credentials
		 SET id = $1, secret_enc = $2, enabled = FALSE, disabled = FALSE,
		     last_counter = 0, created_at = $3, verified_at = NULL, disabled_at = NULL
		 WHERE user_id = $4`,
		c.ID, c.SecretEnc, c.CreatedAt, c.UserID)
	if err != nil {
		return fmt.Errorf("replace totp credential: %w", err)
	}
	return requireRow(res)
}

func (r *postgresRepository) MarkVerified(ctx context.Context, id string, counter int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE totp_credentials
		 SET enabled = TRUE, last_counter = $1, verified_at = NOW()
		 WHERE id = $2 AND NOT disabled`,
		counter, id)
	if err != nil {
		return fmt.Errorf("mark totp credential verified: %w", err)
	}
	return requireRow(res)
}

func (r *postgresRepository) AdvanceCounter(ctx context.Context, id string, counter int64) (bool, error) {
	// The WHERE guard makes the counter monotonic under concurrent verifies;
	// the second request with the same code matches zero rows.
	res, err := r.db.ExecContext(ctx,
		`UPDATE totp_credentials SET last_counter = $1
		 WHERE id = $2 AND last_counter < $1`,
		counter, id)
	if err != nil {
		return false, fmt.Errorf("advance totp counter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *postgresRepository) MarkDisabled(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE totp_credentials
		 SET enabled = FALSE, disabled = TRUE, disabled_at = NOW()
		 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark totp credential disabled: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
