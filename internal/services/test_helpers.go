package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/google/uuid"
)

// MockAccessCodeReader implements AccessCodeReader for testing
type MockAccessCodeReader struct {
	ReadIssuedAccessCodesFunc func(ctx context.Context) ([]models.AccessCode, error)
}

func (m *MockAccessCodeReader) ReadIssuedAccessCodes(ctx context.Context) ([]models.AccessCode, error) {
	if m.ReadIssuedAccessCodesFunc != nil {
		return m.ReadIssuedAccessCodesFunc(ctx)
	}
	return nil, nil
}

// MockAttemptStore implements AttemptStore for testing. Appended attempts are
// kept in memory when no AppendFunc is set.
type MockAttemptStore struct {
	AppendFunc          func(ctx context.Context, attempt *models.AccessAttempt) error
	RecentFunc          func(ctx context.Context, limit int) ([]*models.AccessAttempt, error)
	RecentByAddressFunc func(ctx context.Context, maskedAddress string, since time.Time, limit int) ([]*models.AccessAttempt, error)
	DeleteBeforeFunc    func(ctx context.Context, cutoff time.Time) (int64, error)

	mu       sync.Mutex
	Attempts []*models.AccessAttempt
}

func (m *MockAttemptStore) AppendAccessAttempt(ctx context.Context, attempt *models.AccessAttempt) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, attempt)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attempts = append(m.Attempts, attempt)
	return nil
}

func (m *MockAttemptStore) RecentAccessAttempts(ctx context.Context, limit int) ([]*models.AccessAttempt, error) {
	if m.RecentFunc != nil {
		return m.RecentFunc(ctx, limit)
	}
	return []*models.AccessAttempt{}, nil
}

func (m *MockAttemptStore) RecentAccessAttemptsByAddress(ctx context.Context, maskedAddress string, since time.Time, limit int) ([]*models.AccessAttempt, error) {
	if m.RecentByAddressFunc != nil {
		return m.RecentByAddressFunc(ctx, maskedAddress, since, limit)
	}
	return []*models.AccessAttempt{}, nil
}

func (m *MockAttemptStore) DeleteAccessAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteBeforeFunc != nil {
		return m.DeleteBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// Recorded returns a snapshot of the attempts appended so far
func (m *MockAttemptStore) Recorded() []*models.AccessAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AccessAttempt(nil), m.Attempts...)
}

// MockFailureDelay implements FailureDelay and counts waits instead of sleeping
type MockFailureDelay struct {
	mu    sync.Mutex
	Waits int
}

func (m *MockFailureDelay) Wait(ctx context.Context, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Waits++
	return nil
}

// Count returns the number of waits so far
func (m *MockFailureDelay) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Waits
}

// MockSessionTokenIssuer implements SessionTokenIssuer for testing
type MockSessionTokenIssuer struct {
	IssueFunc func(identity, role string) (string, time.Time, error)
}

func (m *MockSessionTokenIssuer) Issue(identity, role string) (string, time.Time, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(identity, role)
	}
	return "token-for-" + identity, time.Now().Add(time.Hour), nil
}

// MockDiagnosticReader implements DiagnosticReader for testing
type MockDiagnosticReader struct {
	ReadRecentFunc func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error)
}

func (m *MockDiagnosticReader) ReadRecentDiagnosticEntries(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
	if m.ReadRecentFunc != nil {
		return m.ReadRecentFunc(ctx, level, limit)
	}
	return nil, nil
}

// MockSubjectReader implements SubjectReader for testing
type MockSubjectReader struct {
	ReadRecentFunc func(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error)
}

func (m *MockSubjectReader) ReadRecentMonitoredSubjects(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error) {
	if m.ReadRecentFunc != nil {
		return m.ReadRecentFunc(ctx, kind, limit)
	}
	return nil, nil
}

// MockFindingStore implements FindingWriter and FindingStore for testing.
// Written findings are kept in memory when no WriteFunc is set.
type MockFindingStore struct {
	WriteFunc        func(ctx context.Context, f *models.Finding) error
	ListFunc         func(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error)
	GetFunc          func(ctx context.Context, id uuid.UUID) (*models.Finding, error)
	UpdateStatusFunc func(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error)

	mu       sync.Mutex
	Findings []*models.Finding
}

func (m *MockFindingStore) WriteFinding(ctx context.Context, f *models.Finding) error {
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, f)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Findings = append(m.Findings, f)
	return nil
}

func (m *MockFindingStore) ListFindings(ctx context.Context, filter models.FindingFilter) ([]*models.Finding, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return []*models.Finding{}, nil
}

func (m *MockFindingStore) GetFinding(ctx context.Context, id uuid.UUID) (*models.Finding, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockFindingStore) UpdateFindingStatus(ctx context.Context, id uuid.UUID, status models.FindingStatus, actor string) (*models.Finding, error) {
	if m.UpdateStatusFunc != nil {
		return m.UpdateStatusFunc(ctx, id, status, actor)
	}
	return nil, models.ErrNotFound
}

// Written returns a snapshot of the findings written so far
func (m *MockFindingStore) Written() []*models.Finding {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.Finding(nil), m.Findings...)
}

// MockAnalyzer implements Analyzer for testing and records the texts it saw
type MockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error)

	mu    sync.Mutex
	Calls []map[string]string
}

func (m *MockAnalyzer) Analyze(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, meta)
	m.mu.Unlock()

	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, text, meta)
	}
	return &models.AnalysisResult{IsIssue: false, Severity: models.SeverityLow, Category: "general", SuggestedAction: "None"}, nil
}

// CallCount returns the number of Analyze calls so far
func (m *MockAnalyzer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// MockFindingSink implements FindingSink for testing
type MockFindingSink struct {
	NotifyFunc func(ctx context.Context, f *models.Finding) error

	mu       sync.Mutex
	Notified []*models.Finding
}

func (m *MockFindingSink) Notify(ctx context.Context, f *models.Finding) error {
	m.mu.Lock()
	m.Notified = append(m.Notified, f)
	m.mu.Unlock()

	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, f)
	}
	return nil
}

// MockAttemptRecorderNoop implements AttemptRecorder and discards attempts
type MockAttemptRecorderNoop struct{}

func (MockAttemptRecorderNoop) Record(ctx context.Context, in AttemptInput) error { return nil }
