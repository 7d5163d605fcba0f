package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccessCodeRepository handles database operations for issued access codes
type AccessCodeRepository struct {
	db *database.DB
}

// NewAccessCodeRepository creates a new AccessCodeRepository
func NewAccessCodeRepository(db *database.DB) *AccessCodeRepository {
	return &AccessCodeRepository{db: db}
}

// ReadIssuedAccessCodes returns every issued code, including inactive and
// expired ones, so the guard can tell those apart from unknown codes
func (r *AccessCodeRepository) ReadIssuedAccessCodes(ctx context.Context) ([]models.AccessCode, error) {
	query := `
		SELECT code, identity, role, expires_at, active
		FROM access_codes
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query access codes: %w", err)
	}

	codes, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.AccessCode])
	if err != nil {
		return nil, fmt.Errorf("failed to scan access codes: %w", err)
	}
	return codes, nil
}

// CreateAccessCode issues a new code
func (r *AccessCodeRepository) CreateAccessCode(ctx context.Context, code models.AccessCode) error {
	query := `
		INSERT INTO access_codes (code, identity, role, expires_at, active)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Pool.Exec(ctx, query, code.Code, code.Identity, code.Role, code.ExpiresAt, code.Active)
	return database.MapPostgresError(err)
}
