package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithSessionContext adds session claims to the request context for testing
// protected endpoints
func WithSessionContext(req *http.Request, identity, role string) *http.Request {
	claims := &models.SessionClaims{
		Role:             role,
		RegisteredClaims: jwt.RegisteredClaims{Subject: identity},
	}
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, claims)
	return req.WithContext(ctx)
}

// WithURLParams attaches chi route params to req
func WithURLParams(req *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for k, v := range params {
		rctx.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAccessGuard implements AccessGuardInterface for testing
type MockAccessGuard struct {
	ValidateFunc func(ctx context.Context, req services.AccessRequest) (*models.AccessDecision, error)

	mu       sync.Mutex
	requests []services.AccessRequest
}

func (m *MockAccessGuard) Validate(ctx context.Context, req services.AccessRequest) (*models.AccessDecision, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.ValidateFunc == nil {
		return &models.AccessDecision{Granted: false, Reason: models.AccessReasonInvalidCode}, nil
	}
	return m.ValidateFunc(ctx, req)
}

// Requests returns every request the guard saw
func (m *MockAccessGuard) Requests() []services.AccessRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.AccessRequest(nil), m.requests...)
}

// MockFindingService implements FindingServiceInterface for testing
type MockFindingService struct {
	ListFunc         func(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error)
	GetFunc          func(ctx context.Context, id uuid.UUID) (*models.Finding, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error)
}

func (m *MockFindingService) List(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	if m.ListFunc == nil {
		return nil, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockFindingService) Get(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	if m.GetFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetFunc(ctx, id)
}

func (m *MockFindingService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error) {
	if m.UpdateStatusFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.UpdateStatusFunc(ctx, id, status, actor)
}

// MockAttemptHistory implements AttemptHistoryInterface for testing
type MockAttemptHistory struct {
	RecentFunc           func(ctx context.Context, limit int) ([]*models.AccessAttempt, error)
	RecentForAddressFunc func(ctx context.Context, addr string, since time.Time, limit int) ([]*models.AccessAttempt, error)
}

func (m *MockAttemptHistory) Recent(ctx context.Context, limit int) ([]*models.AccessAttempt, error) {
	if m.RecentFunc == nil {
		return nil, nil
	}
	return m.RecentFunc(ctx, limit)
}

func (m *MockAttemptHistory) RecentForAddress(ctx context.Context, addr string, since time.Time, limit int) ([]*models.AccessAttempt, error) {
	if m.RecentForAddressFunc == nil {
		return nil, nil
	}
	return m.RecentForAddressFunc(ctx, addr, since, limit)
}

// MockScanControl implements ScanControlInterface for testing
type MockScanControl struct {
	PipelineName       string
	StatusFunc         func() background.SchedulerStatus
	UpdateIntervalFunc func(ctx context.Context, intervalMinutes int) error
	RunNowFunc         func(ctx context.Context) bool
}

func (m *MockScanControl) Pipeline() string {
	return m.PipelineName
}

func (m *MockScanControl) Status() background.SchedulerStatus {
	if m.StatusFunc == nil {
		return background.SchedulerStatus{Pipeline: m.PipelineName, State: background.SchedulerStopped}
	}
	return m.StatusFunc()
}

func (m *MockScanControl) UpdateInterval(ctx context.Context, intervalMinutes int) error {
	if m.UpdateIntervalFunc == nil {
		return nil
	}
	return m.UpdateIntervalFunc(ctx, intervalMinutes)
}

func (m *MockScanControl) RunNow(ctx context.Context) bool {
	if m.RunNowFunc == nil {
		return true
	}
	return m.RunNowFunc(ctx)
}

// MockPinger implements Pinger for testing
type MockPinger struct {
	Err error
}

func (m *MockPinger) HealthCheck(ctx context.Context) error {
	return m.Err
}
