package services_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scanFixture struct {
	svc         *services.ScanService
	diagnostics *services.MockDiagnosticReader
	subjects    *services.MockSubjectReader
	findings    *services.MockFindingStore
	analyzer    *services.MockAnalyzer
	sink        *services.MockFindingSink
	dedup       *services.DedupCache
	clock       *fakeClock
}

func newScanFixture(cfg services.ScanConfig) *scanFixture {
	clock := newFakeClock()
	f := &scanFixture{
		diagnostics: &services.MockDiagnosticReader{},
		subjects:    &services.MockSubjectReader{},
		findings:    &services.MockFindingStore{},
		analyzer:    &services.MockAnalyzer{},
		sink:        &services.MockFindingSink{},
		dedup:       services.NewDedupCache(services.WithClock(clock.Now)),
		clock:       clock,
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = services.NewScanService(f.diagnostics, f.subjects, f.findings, f.analyzer, f.dedup,
		[]services.FindingSink{f.sink}, cfg, nil, log, services.WithClock(clock.Now))
	return f
}

func diagEntries(clock *fakeClock, messages ...string) []models.DiagnosticEntry {
	out := make([]models.DiagnosticEntry, len(messages))
	for i, msg := range messages {
		out[i] = models.DiagnosticEntry{
			ID:        int64(i + 1),
			CreatedAt: clock.Now().Add(time.Duration(i) * time.Second),
			Level:     models.DiagnosticLevelError,
			Message:   msg,
			Source:    "checkout",
		}
	}
	return out
}

func issueResult() *models.AnalysisResult {
	return &models.AnalysisResult{
		IsIssue:         true,
		Severity:        models.SeverityHigh,
		Category:        "database",
		Title:           "Lookup failures",
		Description:     "Users cannot be loaded",
		SuggestedAction: "Check the user table",
	}
}

func TestRunErrorScan_ClustersAndDropsSingletons(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		assert.Equal(t, models.DiagnosticLevelError, level)
		assert.Equal(t, 200, limit)
		return diagEntries(f.clock, "Failed for user 42 at /a/b", "Failed for user 99 at /c/d", "Disk full"), nil
	}
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		assert.Contains(t, text, "Failed for user <num> at <path>")
		return issueResult(), nil
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Candidates)
	assert.Equal(t, 1, report.Analyzed)
	assert.Equal(t, 1, report.Findings)
	assert.Equal(t, "ok", report.Status())
	assert.Equal(t, 1, f.analyzer.CallCount())

	written := f.findings.Written()
	require.Len(t, written, 1)
	assert.Equal(t, models.SubjectKindErrorCluster, written[0].SubjectKind)
	assert.Equal(t, "Failed for user <num> at <path>", written[0].Signature)
	assert.Equal(t, services.SignatureSubjectID(written[0].Signature), written[0].SubjectID)
	assert.Equal(t, 2, written[0].Occurrences)
	assert.Equal(t, models.FindingStatusOpen, written[0].Status)
	assert.Len(t, f.sink.Notified, 1)
}

func TestRunErrorScan_DedupUntilTTLExpires(t *testing.T) {
	f := newScanFixture(services.ScanConfig{ErrorTTL: time.Hour})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "timeout after 30s", "timeout after 31s"), nil
	}

	_, err := f.svc.RunErrorScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, f.analyzer.CallCount())

	f.clock.Advance(30 * time.Minute)
	report, err := f.svc.RunErrorScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, f.analyzer.CallCount(), "cooling-down subject is not resubmitted")

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.RunErrorScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.analyzer.CallCount(), "expired subject is eligible again")
}

func TestRunErrorScan_AnalyzerFailureLeavesSubjectUnmarked(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "a 1", "a 2", "b 'x'", "b 'y'"), nil
	}
	calls := 0
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		calls++
		if calls == 1 {
			return nil, models.ErrAnalyzerUnavailable
		}
		return issueResult(), nil
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.AnalyzerFailures)
	assert.Equal(t, 1, report.Findings, "one failing subject does not abort the cycle")
	assert.Equal(t, "partial", report.Status())

	_, err = f.svc.RunErrorScan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, f.analyzer.CallCount(), "failed subject is retried next cycle")
}

func TestRunErrorScan_NonIssueIsMarked(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "cache miss 1", "cache miss 2"), nil
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Analyzed)
	assert.Zero(t, report.Findings)
	assert.Empty(t, f.findings.Written())
	assert.True(t, f.dedup.HasBeenChecked(services.SignatureSubjectID("cache miss <num>")))
}

func TestRunErrorScan_FindingWriteRetriedOnce(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "db down 1", "db down 2"), nil
	}
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		return issueResult(), nil
	}
	var writes int32
	f.findings.WriteFunc = func(ctx context.Context, finding *models.Finding) error {
		if atomic.AddInt32(&writes, 1) == 1 {
			return errors.New("connection reset")
		}
		return nil
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&writes))
	assert.Equal(t, 1, report.Findings)
	assert.Zero(t, report.StorageFailures)
}

func TestRunErrorScan_StorageFailureKeepsPriorWrites(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "a 1", "a 2", "b 'x'", "b 'y'"), nil
	}
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		return issueResult(), nil
	}
	var stored []*models.Finding
	f.findings.WriteFunc = func(ctx context.Context, finding *models.Finding) error {
		if finding.Signature == "b <str>" {
			return errors.New("disk full")
		}
		stored = append(stored, finding)
		return nil
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Findings)
	assert.Equal(t, 1, report.StorageFailures)
	require.Len(t, stored, 1)
	assert.False(t, f.dedup.HasBeenChecked(services.SignatureSubjectID("b <str>")))
	assert.True(t, f.dedup.HasBeenChecked(services.SignatureSubjectID("a <num>")))
}

func TestRunErrorScan_SinkFailureIgnored(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "x 1", "x 2"), nil
	}
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		return issueResult(), nil
	}
	f.sink.NotifyFunc = func(ctx context.Context, finding *models.Finding) error {
		return errors.New("smtp down")
	}

	report, err := f.svc.RunErrorScan(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, report.Findings)
	assert.Len(t, f.sink.Notified, 1)
}

func TestRunErrorScan_ReadFailure(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return nil, errors.New("db unavailable")
	}

	report, err := f.svc.RunErrorScan(context.Background())

	assert.Error(t, err)
	require.NotNil(t, report)
	assert.Zero(t, f.analyzer.CallCount())
}

func TestRunErrorScan_CancelledContext(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "x 1", "x 2"), nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.RunErrorScan(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.analyzer.CallCount())
}

func TestRunErrorScan_ThrottlesAnalyzerCalls(t *testing.T) {
	f := newScanFixture(services.ScanConfig{AnalyzerDelay: 40 * time.Millisecond})
	f.diagnostics.ReadRecentFunc = func(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error) {
		return diagEntries(f.clock, "a 1", "a 2", "b 'x'", "b 'y'", "c /x/y", "c /z"), nil
	}

	start := time.Now()
	report, err := f.svc.RunErrorScan(context.Background())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Analyzed)
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
}

func TestRunComplianceScan(t *testing.T) {
	f := newScanFixture(services.ScanConfig{SubjectKinds: []string{models.SubjectKindPost, models.SubjectKindPage}})
	f.subjects.ReadRecentFunc = func(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error) {
		assert.Equal(t, 50, limit)
		if kind == models.SubjectKindPage {
			return nil, errors.New("timeout")
		}
		return []models.MonitoredSubject{
			{ID: "1", Kind: kind, Title: "Miracle cure", Body: "Guaranteed results"},
			{ID: "2", Kind: kind, Title: "About us", Body: "We sell tea"},
		}, nil
	}
	f.analyzer.AnalyzeFunc = func(ctx context.Context, text string, meta map[string]string) (*models.AnalysisResult, error) {
		assert.Equal(t, services.PipelineCompliance, meta["pipeline"])
		if meta["subject_id"] == "content:post:1" {
			return issueResult(), nil
		}
		return &models.AnalysisResult{Severity: models.SeverityLow, Category: "general", SuggestedAction: "none"}, nil
	}

	report, err := f.svc.RunComplianceScan(context.Background())

	require.NoError(t, err, "one failing kind does not fail the cycle")
	assert.Equal(t, 2, report.Candidates)
	assert.Equal(t, 1, report.Findings)

	written := f.findings.Written()
	require.Len(t, written, 1)
	assert.Equal(t, "content:post:1", written[0].SubjectID)
	assert.Equal(t, models.SubjectKindPost, written[0].SubjectKind)
	assert.Equal(t, 1, written[0].Occurrences)

	assert.True(t, f.dedup.HasBeenChecked("content:post:2"))
	f.clock.Advance(6 * 24 * time.Hour)
	assert.True(t, f.dedup.HasBeenChecked("content:post:2"))
	f.clock.Advance(25 * time.Hour)
	assert.False(t, f.dedup.HasBeenChecked("content:post:2"))
}

func TestRunComplianceScan_AllKindsFail(t *testing.T) {
	f := newScanFixture(services.ScanConfig{})
	f.subjects.ReadRecentFunc = func(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error) {
		return nil, errors.New("db unavailable")
	}

	_, err := f.svc.RunComplianceScan(context.Background())

	assert.Error(t, err)
}
