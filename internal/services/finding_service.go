package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/google/uuid"
)

// FindingStore is the review-side view of finding storage. UpdateFindingStatus
// must apply the transition atomically and return ErrInvalidTransition when
// the current status does not allow it.
type FindingStore interface {
	ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error)
	GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error)
	UpdateFindingStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error)
}

// FindingService handles the human review workflow for findings
type FindingService struct {
	store  FindingStore
	audit  *logger.AuditLogger
	logger *slog.Logger
}

// NewFindingService creates a new FindingService
func NewFindingService(store FindingStore, auditLogger *logger.AuditLogger, log *slog.Logger) *FindingService {
	return &FindingService{
		store:  store,
		audit:  auditLogger,
		logger: log,
	}
}

// List returns findings matching filter, newest first
func (s *FindingService) List(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", filter.Status, models.ErrBadRequest)
	}
	filter.Limit = clampLimit(filter.Limit, 50, 500)

	findings, err := s.store.ListFindings(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	return findings, nil
}

// Get returns one finding
func (s *FindingService) Get(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	return s.store.GetFinding(ctx, id)
}

// UpdateStatus moves a finding forward. Backward moves and moves out of a
// terminal status fail with ErrInvalidTransition.
func (s *FindingService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("unknown status %q: %w", status, models.ErrBadRequest)
	}

	finding, err := s.store.UpdateFindingStatus(ctx, id, status, actor)
	if err != nil {
		return nil, err
	}

	if s.audit != nil {
		s.audit.LogFindingEvent(ctx, "finding_status_changed", id.String(), actor, map[string]string{
			"status":       string(status),
			"subject_kind": finding.SubjectKind,
		})
	}
	s.logger.Info("finding status updated", "finding_id", id.String(), "status", string(status))
	return finding, nil
}
