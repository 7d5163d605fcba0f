package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// FindingStatus is the review state of a finding. Status only moves forward.
type FindingStatus string

const (
	FindingStatusOpen          FindingStatus = "open"
	FindingStatusInProgress    FindingStatus = "in_progress"
	FindingStatusResolved      FindingStatus = "resolved"
	FindingStatusClosed        FindingStatus = "closed"
	FindingStatusFalsePositive FindingStatus = "false_positive"
)

var findingStatusRank = map[FindingStatus]int{
	FindingStatusOpen:          0,
	FindingStatusInProgress:    1,
	FindingStatusResolved:      2,
	FindingStatusClosed:        2,
	FindingStatusFalsePositive: 2,
}

// Valid reports whether s is a known status
func (s FindingStatus) Valid() bool {
	_, ok := findingStatusRank[s]
	return ok
}

// Terminal reports whether no further transition is allowed from s
func (s FindingStatus) Terminal() bool {
	return s.Valid() && findingStatusRank[s] == 2
}

// CanTransitionTo reports whether a finding in status s may move to next.
// Transitions must strictly increase the rank; a rank may be skipped.
func (s FindingStatus) CanTransitionTo(next FindingStatus) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return findingStatusRank[next] > findingStatusRank[s]
}

// Severity levels reported by the analyzer
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SeverityAtLeast reports whether severity is at or above threshold.
// Unknown severities never match.
func SeverityAtLeast(severity, threshold string) bool {
	s, ok := severityRank[strings.ToLower(severity)]
	if !ok {
		return false
	}
	t, ok := severityRank[strings.ToLower(threshold)]
	if !ok {
		return false
	}
	return s >= t
}

// ValidSeverity reports whether s is a known severity
func ValidSeverity(s string) bool {
	_, ok := severityRank[s]
	return ok
}

// Subject kind for findings raised from error clusters. Compliance findings use
// the content kind (post, page, product).
const SubjectKindErrorCluster = "error_cluster"

// Finding is a bug report or compliance alert raised by a scan
type Finding struct {
	ID              uuid.UUID     `db:"id" json:"id"`
	SubjectID       string        `db:"subject_id" json:"subject_id"`
	SubjectKind     string        `db:"subject_kind" json:"subject_kind"`
	Signature       string        `db:"signature" json:"signature,omitempty"`
	Severity        string        `db:"severity" json:"severity"`
	Category        string        `db:"category" json:"category"`
	Title           string        `db:"title" json:"title"`
	Description     string        `db:"description" json:"description"`
	SuggestedAction string        `db:"suggested_action" json:"suggested_action"`
	Status          FindingStatus `db:"status" json:"status"`
	Occurrences     int           `db:"occurrences" json:"occurrences"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
	StatusChangedBy *string       `db:"status_changed_by" json:"status_changed_by,omitempty"`
}

// FindingFilter narrows a finding listing
type FindingFilter struct {
	Status FindingStatus
	Kind   string
	Limit  int
}
