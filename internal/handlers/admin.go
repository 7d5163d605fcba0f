package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/models"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AttemptHistoryInterface exposes the access attempt ledger
type AttemptHistoryInterface interface {
	Recent(ctx context.Context, limit int) ([]*models.AccessAttempt, error)
	RecentForAddress(ctx context.Context, addr string, since time.Time, limit int) ([]*models.AccessAttempt, error)
}

// ScanControlInterface is the operator view of one scan scheduler
type ScanControlInterface interface {
	Pipeline() string
	Status() background.SchedulerStatus
	UpdateInterval(ctx context.Context, intervalMinutes int) error
	RunNow(ctx context.Context) bool
}

// AdminHandler handles operator requests for access history and scans.
type AdminHandler struct {
	attempts AttemptHistoryInterface
	scans    map[string]ScanControlInterface
	schedCtx context.Context
	logger   *slog.Logger
}

// NewAdminHandler creates a new AdminHandler. schedCtx is the long-lived
// context restarted schedulers run under; the request context would end the
// schedule with the response.
func NewAdminHandler(attempts AttemptHistoryInterface, scans []ScanControlInterface, schedCtx context.Context, logger *slog.Logger) *AdminHandler {
	byPipeline := make(map[string]ScanControlInterface, len(scans))
	for _, s := range scans {
		byPipeline[s.Pipeline()] = s
	}
	return &AdminHandler{
		attempts: attempts,
		scans:    byPipeline,
		schedCtx: schedCtx,
		logger:   logger,
	}
}

// UpdateIntervalRequest represents the request body for a schedule change
type UpdateIntervalRequest struct {
	IntervalMinutes int `json:"interval_minutes" validate:"required,gte=1,lte=10080"`
}

// AccessAttemptsResponse wraps a ledger listing
type AccessAttemptsResponse struct {
	Attempts []*models.AccessAttempt `json:"attempts"`
	Count    int                     `json:"count"`
}

// ScanStatusResponse lists every configured scheduler
type ScanStatusResponse struct {
	Scans []background.SchedulerStatus `json:"scans"`
}

// GetAccessAttempts handles GET /admin/access-attempts
// Accepts optional ?limit=N (1–200, default 50), ?address= and ?since= (a
// duration such as 24h, only used with address).
func (h *AdminHandler) GetAccessAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var (
		attempts []*models.AccessAttempt
		err      error
	)
	if addr := q.Get("address"); addr != "" {
		since := 24 * time.Hour
		if s := q.Get("since"); s != "" {
			d, perr := time.ParseDuration(s)
			if perr != nil || d <= 0 {
				pkghttp.WriteBadRequest(w, "since must be a positive duration")
				return
			}
			since = d
		}
		attempts, err = h.attempts.RecentForAddress(r.Context(), addr, time.Now().Add(-since), limit)
	} else {
		attempts, err = h.attempts.Recent(r.Context(), limit)
	}
	if err != nil {
		h.logger.Error("failed to read access attempts", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve access attempts")
		return
	}
	if attempts == nil {
		attempts = []*models.AccessAttempt{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, AccessAttemptsResponse{Attempts: attempts, Count: len(attempts)})
}

// GetScans handles GET /admin/scans
func (h *AdminHandler) GetScans(w http.ResponseWriter, r *http.Request) {
	statuses := make([]background.SchedulerStatus, 0, len(h.scans))
	for _, s := range h.scans {
		statuses = append(statuses, s.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Pipeline < statuses[j].Pipeline })

	pkghttp.WriteJSON(w, http.StatusOK, ScanStatusResponse{Scans: statuses})
}

// UpdateScanInterval handles PUT /admin/scans/{pipeline}/interval
func (h *AdminHandler) UpdateScanInterval(w http.ResponseWriter, r *http.Request) {
	scan, ok := h.scanFor(w, r)
	if !ok {
		return
	}

	var req UpdateIntervalRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxAccessBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := scan.UpdateInterval(h.schedCtx, req.IntervalMinutes); err != nil {
		if errors.Is(err, background.ErrInvalidInterval) {
			pkghttp.WriteBadRequest(w, "Invalid interval")
			return
		}
		h.logger.Error("failed to update scan interval", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to update scan interval")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, scan.Status())
}

// RunScan handles POST /admin/scans/{pipeline}/run
func (h *AdminHandler) RunScan(w http.ResponseWriter, r *http.Request) {
	scan, ok := h.scanFor(w, r)
	if !ok {
		return
	}

	if !scan.RunNow(h.schedCtx) {
		pkghttp.WriteConflict(w, "A scan cycle is already running")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"pipeline": scan.Pipeline(),
		"started":  true,
	})
}

func (h *AdminHandler) scanFor(w http.ResponseWriter, r *http.Request) (ScanControlInterface, bool) {
	scan, ok := h.scans[chi.URLParam(r, "pipeline")]
	if !ok {
		pkghttp.WriteNotFound(w, "Unknown scan pipeline")
		return nil, false
	}
	return scan, true
}
