package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// FindingServiceInterface defines the findings review contract
type FindingServiceInterface interface {
	List(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Finding, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error)
}

// FindingHandler handles findings review requests
type FindingHandler struct {
	service FindingServiceInterface
	logger  *slog.Logger
}

// NewFindingHandler creates a new FindingHandler
func NewFindingHandler(service FindingServiceInterface, logger *slog.Logger) *FindingHandler {
	return &FindingHandler{service: service, logger: logger}
}

// UpdateFindingStatusRequest represents the request body for a status change
type UpdateFindingStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open in_progress resolved closed false_positive"`
}

// ListFindingsResponse wraps a finding listing
type ListFindingsResponse struct {
	Findings []*models.Finding `json:"findings"`
	Count    int               `json:"count"`
}

// List handles GET /findings
// Accepts optional ?status=, ?kind= and ?limit= query params.
func (h *FindingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.FindingFilter{
		Status: models.FindingStatus(q.Get("status")),
		Kind:   q.Get("kind"),
	}
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	findings, err := h.service.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid status filter")
			return
		}
		h.logger.Error("failed to list findings", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to list findings")
		return
	}
	if findings == nil {
		findings = []*models.Finding{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, ListFindingsResponse{Findings: findings, Count: len(findings)})
}

// Get handles GET /findings/{id}
func (h *FindingHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseFindingID(w, r)
	if !ok {
		return
	}

	finding, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "Finding not found")
			return
		}
		h.logger.Error("failed to get finding", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to get finding")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, finding)
}

// UpdateStatus handles PATCH /findings/{id}/status
func (h *FindingHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseFindingID(w, r)
	if !ok {
		return
	}

	claims := auth.GetSessionFromContext(r.Context())
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Unauthorized")
		return
	}

	var req UpdateFindingStatusRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxAccessBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	finding, err := h.service.UpdateStatus(r.Context(), id, models.FindingStatus(req.Status), claims.Subject)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Finding not found")
		case errors.Is(err, models.ErrInvalidTransition):
			pkghttp.WriteConflict(w, "Status transition not allowed")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid status")
		default:
			h.logger.Error("failed to update finding status", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to update finding")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, finding)
}

func parseFindingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid finding id")
		return uuid.Nil, false
	}
	return id, true
}
