package repositories

import (
	"context"
	"fmt"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/jackc/pgx/v5"
)

// SubjectRepository reads content checked by the compliance scan
type SubjectRepository struct {
	db *database.DB
}

// NewSubjectRepository creates a new SubjectRepository
func NewSubjectRepository(db *database.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// ReadRecentMonitoredSubjects returns the most recently updated content of kind
func (r *SubjectRepository) ReadRecentMonitoredSubjects(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error) {
	query := `
		SELECT id, kind, title, body, updated_at
		FROM monitored_subjects
		WHERE kind = $1
		ORDER BY updated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitored subjects: %w", err)
	}

	subjects, err := pgx.CollectRows(rows, pgx.RowToStructByName[models.MonitoredSubject])
	if err != nil {
		return nil, fmt.Errorf("failed to scan monitored subjects: %w", err)
	}
	return subjects, nil
}

// UpsertMonitoredSubject creates or replaces a content subject
func (r *SubjectRepository) UpsertMonitoredSubject(ctx context.Context, s models.MonitoredSubject) error {
	query := `
		INSERT INTO monitored_subjects (id, kind, title, body, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kind, id) DO UPDATE
		SET title = EXCLUDED.title, body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query, s.ID, s.Kind, s.Title, s.Body, s.UpdatedAt)
	return database.MapPostgresError(err)
}
