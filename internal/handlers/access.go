package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
)

// maxAccessBodyBytes bounds the access request body
const maxAccessBodyBytes = 4 << 10

// AccessGuardInterface defines the access check contract
type AccessGuardInterface interface {
	Validate(ctx context.Context, req services.AccessRequest) (*models.AccessDecision, error)
}

// AccessHandler handles access code validation
type AccessHandler struct {
	guard    AccessGuardInterface
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewAccessHandler creates a new AccessHandler
func NewAccessHandler(guard AccessGuardInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AccessHandler {
	return &AccessHandler{
		guard:    guard,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// ValidateAccessRequest represents the request body for an access check.
// The code is not validated here; empty or oversized codes are denied by the
// guard so they reach the ledger like any other attempt.
type ValidateAccessRequest struct {
	Code string `json:"code"`
}

// ValidateAccessResponse is returned for a granted access check
type ValidateAccessResponse struct {
	Granted   bool      `json:"granted"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Role      string    `json:"role"`
}

// Validate handles POST /access/validate. Every denial gets the same 401 body
// whatever the reason, lockout included.
func (h *AccessHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req ValidateAccessRequest
	if err := pkghttp.DecodeJSON(w, r, &req, maxAccessBodyBytes); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	decision, err := h.guard.Validate(r.Context(), services.AccessRequest{
		Code:      req.Code,
		Address:   pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: r.Header.Get("User-Agent"),
	})
	if err != nil {
		h.logger.Error("access validation failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if !decision.Granted {
		pkghttp.WriteUnauthorized(w, "Access denied")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, ValidateAccessResponse{
		Granted:   true,
		Token:     decision.Token,
		ExpiresAt: decision.ExpiresAt,
		Role:      decision.Role,
	})
}
