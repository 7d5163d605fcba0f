package repositories

import (
	"context"
	"fmt"
	"strings"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const findingColumns = `id, subject_id, subject_kind, signature, severity, category, title, description,
	suggested_action, status, occurrences, created_at, updated_at, status_changed_by`

// FindingRepository handles database operations for findings. Findings are
// never deleted; only their status changes.
type FindingRepository struct {
	db *database.DB
}

// NewFindingRepository creates a new FindingRepository
func NewFindingRepository(db *database.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

// WriteFinding inserts a new finding
func (r *FindingRepository) WriteFinding(ctx context.Context, f *models.Finding) error {
	query := `
		INSERT INTO findings (` + findingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		f.ID,
		f.SubjectID,
		f.SubjectKind,
		f.Signature,
		f.Severity,
		f.Category,
		f.Title,
		f.Description,
		f.SuggestedAction,
		f.Status,
		f.Occurrences,
		f.CreatedAt,
		f.UpdatedAt,
		f.StatusChangedBy,
	)
	return database.MapPostgresError(err)
}

// ListFindings returns findings matching filter, newest first
func (r *FindingRepository) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		where = append(where, fmt.Sprintf("subject_kind = $%d", len(args)))
	}

	query := `SELECT ` + findingColumns + ` FROM findings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}

	findings, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[models.Finding])
	if err != nil {
		return nil, fmt.Errorf("failed to scan findings: %w", err)
	}
	return findings, nil
}

// GetFinding returns one finding
func (r *FindingRepository) GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query finding: %w", err)
	}

	f, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[models.Finding])
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return f, nil
}

// UpdateFindingStatus applies a forward status transition. The row is locked
// for the duration of the check so two reviewers cannot race a transition.
func (r *FindingRepository) UpdateFindingStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error) {
	var updated *models.Finding

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		var current models.FindingStatus
		err := tx.QueryRow(ctx, `SELECT status FROM findings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			return database.MapPostgresError(err)
		}

		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%s to %s: %w", current, status, models.ErrInvalidTransition)
		}

		rows, err := tx.Query(ctx, `
			UPDATE findings
			SET status = $2, status_changed_by = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING `+findingColumns, id, status, actor)
		if err != nil {
			return err
		}

		updated, err = pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[models.Finding])
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
