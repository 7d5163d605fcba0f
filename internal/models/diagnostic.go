package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Diagnostic levels
const (
	DiagnosticLevelError = "error"
	DiagnosticLevelWarn  = "warn"
)

// Monitored subject kinds scanned by the compliance pipeline
const (
	SubjectKindPost    = "post"
	SubjectKindPage    = "page"
	SubjectKindProduct = "product"
)

// DiagnosticEntry is one recorded log line the error scan reads back
type DiagnosticEntry struct {
	ID        int64             `db:"id"`
	CreatedAt time.Time         `db:"created_at"`
	Level     string            `db:"level"`
	Message   string            `db:"message"`
	Source    string            `db:"source"`
	Context   DiagnosticContext `db:"context"`
}

// MonitoredSubject is a piece of content checked for compliance
type MonitoredSubject struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Title     string    `db:"title"`
	Body      string    `db:"body"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DiagnosticContext holds structured attributes attached to a diagnostic entry
type DiagnosticContext map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (dc *DiagnosticContext) Scan(value interface{}) error {
	if value == nil {
		*dc = make(DiagnosticContext)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*dc = DiagnosticContext(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (dc DiagnosticContext) Value() (driver.Value, error) {
	if dc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(dc))
}
