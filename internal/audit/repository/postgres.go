package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"azkaban/internal/audit/domain"
)

type decisionRow struct {
	ID        string         `db:"id"`
	UserID    sql.NullString `db:"user_id"`
	Resource  string         `db:"resource"`
	Action    string         `db:"action"`
	Outcome   string         `db:"outcome"`
	Reason    string         `db:"reason"`
	IP        string         `db:"ip"`
	CreatedAt time.Time      `db:"created_at"`
}

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns a decision log repository over the given db.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Create(ctx context.Context, entry *domain.DecisionLog) error {
	userID := sql.NullString{String: entry.UserID, Valid: entry.UserID != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, resource, action, outcome, reason, ip, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, userID, entry.Resource, entry.Action, entry.Outcome, entry.Reason, entry.IP, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("create decision log: %w", err)
	}
	return nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.DecisionLog, error) {
	var rows []decisionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, user_id, resource, action, outcome, reason, ip, created_at
		 FROM audit_logs WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list decision logs: %w", err)
	}
	out := make([]*domain.DecisionLog, 0, len(rows))
	for _, row := range rows {
		out = append(out, &domain.DecisionLog{
			ID:        row.ID,
			UserID:    row.UserID.String,
			Resource:  row.Resource,
			Action:    row.Action,
			Outcome:   row.Outcome,
			Reason:    row.Reason,
			IP:        row.IP,
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
