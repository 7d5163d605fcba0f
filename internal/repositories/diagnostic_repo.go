package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/jackc/pgx/v5"
)

// DiagnosticRepository stores captured log records for the error scan
type DiagnosticRepository struct {
	db *database.DB
}

// NewDiagnosticRepository creates a new DiagnosticRepository
func NewDiagnosticRepository(db *database.DB) *DiagnosticRepository {
	return &DiagnosticRepository{db: db}
}

// AppendDiagnostic implements logger.DiagnosticWriter
func (r *DiagnosticRepository) AppendDiagnostic(ctx context.Context, rec logger.DiagnosticRecord) error {
	attrs := rec.Attrs
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	contextJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("failed to marshal diagnostic context: %w", err)
	}

	query := `
		INSERT INTO diagnostic_entries (created_at, level, message, source, context)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`

	_, err = r.db.Pool.Exec(ctx, query, rec.Time, rec.Level, rec.Message, rec.Source, string(contextJSON))
	return err
}

// ReadRecentDiagnosticEntries returns the newest entries at level
func (r *DiagnosticRepository) ReadRecentDiagnosticEntries(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
	query := `
		SELECT id, created_at, level, message, source, context
		FROM diagnostic_entries
		WHERE level = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, level, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query diagnostic entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DiagnosticEntry, error) {
		var e models.DiagnosticEntry
		var raw []byte
		if err := row.Scan(&e.ID, &e.CreatedAt, &e.Level, &e.Message, &e.Source, &raw); err != nil {
			return e, err
		}
		if err := e.Context.Scan(raw); err != nil {
			return e, err
		}
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan diagnostic entries: %w", err)
	}

	// oldest first, so clusters keep first-seen order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
