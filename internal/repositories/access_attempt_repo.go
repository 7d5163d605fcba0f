package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccessAttemptRepository stores the masked access attempt ledger
type AccessAttemptRepository struct {
	db *database.DB
}

// NewAccessAttemptRepository creates a new AccessAttemptRepository
func NewAccessAttemptRepository(db *database.DB) *AccessAttemptRepository {
	return &AccessAttemptRepository{db: db}
}

// AppendAccessAttempt records one attempt. Records are never updated.
func (r *AccessAttemptRepository) AppendAccessAttempt(ctx context.Context, attempt *models.AccessAttempt) error {
	query := `
		INSERT INTO access_attempts (id, created_at, masked_identity, masked_address, code_fingerprint, agent, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		attempt.ID,
		attempt.CreatedAt,
		attempt.MaskedIdentity,
		attempt.MaskedAddress,
		attempt.CodeFingerprint,
		attempt.Agent,
		attempt.Outcome,
		attempt.Reason,
	)
	return database.MapPostgresError(err)
}

// RecentAccessAttempts returns the newest attempts
func (r *AccessAttemptRepository) RecentAccessAttempts(ctx context.Context, limit int) ([]*models.AccessAttempt, error) {
	query := `
		SELECT id, created_at, masked_identity, masked_address, code_fingerprint, agent, outcome, reason
		FROM access_attempts
		ORDER BY created_at DESC
		LIMIT $1
	`

	return r.query(ctx, query, limit)
}

// RecentAccessAttemptsByAddress returns the newest attempts from one masked address
func (r *AccessAttemptRepository) RecentAccessAttemptsByAddress(ctx context.Context, maskedAddress string, since time.Time, limit int) ([]*models.AccessAttempt, error) {
	query := `
		SELECT id, created_at, masked_identity, masked_address, code_fingerprint, agent, outcome, reason
		FROM access_attempts
		WHERE masked_address = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	return r.query(ctx, query, maskedAddress, since, limit)
}

// DeleteAccessAttemptsBefore removes attempts older than cutoff
func (r *AccessAttemptRepository) DeleteAccessAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM access_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *AccessAttemptRepository) query(ctx context.Context, query string, args ...interface{}) ([]*models.AccessAttempt, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query access attempts: %w", err)
	}

	attempts, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.AccessAttempt])
	if err != nil {
		return nil, fmt.Errorf("failed to scan access attempts: %w", err)
	}
	return attempts, nil
}
