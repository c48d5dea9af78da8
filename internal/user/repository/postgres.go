package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"

	"azkaban/internal/user/domain"
)

const uniqueViolation = "23505"

type principalRow struct {
	ID          string         `db:"id"`
	ExternalUID string         `db:"external_uid"`
	Email       string         `db:"email"`
	Name        sql.NullString `db:"name"`
	Picture     sql.NullString `db:"picture"`
	Role        string         `db:"role"`
	IsActive    bool           `db:"is_active"`
	MFAEnrolled bool           `db:"mfa_enrolled"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	LastLogin   sql.NullTime   `db:"last_login"`
}

// PostgresRepository persists principals in the users table.
type PostgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a principal repository backed by db.
func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the principal for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Principal, error) {
	var row principalRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// GetByExternalUID returns the principal for the external identity, or nil if not found.
func (r *PostgresRepository) GetByExternalUID(ctx context.Context, externalUID string) (*domain.Principal, error) {
	var row principalRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM users WHERE external_uid = $1`, externalUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rowToDomain(&row), nil
}

// List returns principals ordered by creation time.
func (r *PostgresRepository) List(ctx context.Context, offset, limit int) ([]*domain.Principal, error) {
	var rows []principalRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM users ORDER BY created_at LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Principal, 0, len(rows))
	for i := range rows {
		out = append(out, rowToDomain(&rows[i]))
	}
	return out, nil
}

// Create persists the principal. The uniqueness constraint on external_uid is
// the arbiter of concurrent first-sight creates: the loser gets
// ErrDuplicateExternalUID and must re-read.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Principal) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO users (id, external_uid, email, name, picture, role, is_active, mfa_enrolled, created_at, updated_at, last_login)
		VALUES (:id, :external_uid, :email, :name, :picture, :role, :is_active, :mfa_enrolled, :created_at, :updated_at, :last_login)`,
		domainToRow(p))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateExternalUID
		}
		return err
	}
	return nil
}

// UpdateLoginAttributes refreshes last_login, name, and picture only.
func (r *PostgresRepository) UpdateLoginAttributes(ctx context.Context, p *domain.Principal) error {
	_, err := r.db.NamedExecContext(ctx, `
		UPDATE users SET name = :name, picture = :picture, last_login = :last_login, updated_at = :updated_at
		WHERE id = :id`,
		domainToRow(p))
	return err
}

// SetStatus flips is_active. Deactivation preserves the row for history.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetRole assigns the role; referential validity is checked by the caller
// against the binding table.
func (r *PostgresRepository) SetRole(ctx context.Context, id, role string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		id, role, time.Now().UTC())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// SetMFAEnrolled records the enrollment flag used by the authorizer.
func (r *PostgresRepository) SetMFAEnrolled(ctx context.Context, id string, enrolled bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET mfa_enrolled = $2, updated_at = $3 WHERE id = $1`,
		id, enrolled, time.Now().UTC())
	if err != nil {
		return err
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

func rowToDomain(row *principalRow) *domain.Principal {
	p := &domain.Principal{
		ID:          row.ID,
		ExternalUID: row.ExternalUID,
		Email:       row.Email,
		Role:        row.Role,
		IsActive:    row.IsActive,
		MFAEnrolled: row.MFAEnrolled,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Name.Valid {
		p.Name = row.Name.String
	}
	if row.Picture.Valid {
		p.Picture = row.Picture.String
	}
	if row.LastLogin.Valid {
		t := row.LastLogin.Time
		p.LastLogin = &t
	}
	return p
}

func domainToRow(p *domain.Principal) *principalRow {
	row := &principalRow{
		ID:          p.ID,
		ExternalUID: p.ExternalUID,
		Email:       p.Email,
		Name:        sql.NullString{String: p.Name, Valid: p.Name != ""},
		Picture:     sql.NullString{String: p.Picture, Valid: p.Picture != ""},
		Role:        p.Role,
		IsActive:    p.IsActive,
		MFAEnrolled: p.MFAEnrolled,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.LastLogin != nil {
		row.LastLogin = sql.NullTime{Time: *p.LastLogin, Valid: true}
	}
	return row
}
