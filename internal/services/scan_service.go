package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Pipeline names, used for metrics, logs and the admin surface
const (
	PipelineErrors     = "errors"
	PipelineCompliance = "compliance"
)

// DiagnosticReader reads recent diagnostic log entries
type DiagnosticReader interface {
	ReadRecentDiagnosticEntries(ctx context.Context, level string, limit int) ([]models.DiagnosticEntry, error)
}

// SubjectReader reads recently changed content subjects
type SubjectReader interface {
	ReadRecentMonitoredSubjects(ctx context.Context, kind string, limit int) ([]models.MonitoredSubject, error)
}

// FindingWriter persists new findings
type FindingWriter interface {
	WriteFinding(ctx context.Context, finding *models.Finding) error
}

// FindingSink is told about every finding after it is stored. Failures are
// logged and never fail the cycle.
type FindingSink interface {
	Notify(ctx context.Context, finding *models.Finding) error
}

// ScanConfig holds the scan pipeline settings
type ScanConfig struct {
	LogLimit        int
	SubjectLimit    int
	SubjectKinds    []string
	MinClusterSize  int
	ErrorTTL        time.Duration
	ComplianceTTL   time.Duration
	AnalyzerDelay   time.Duration
	AnalyzerTimeout time.Duration
}

func (c *ScanConfig) applyDefaults() {
	if c.LogLimit <= 0 {
		c.LogLimit = 200
	}
	if c.SubjectLimit <= 0 {
		c.SubjectLimit = 50
	}
	if len(c.SubjectKinds) == 0 {
		c.SubjectKinds = []string{models.SubjectKindPost, models.SubjectKindPage, models.SubjectKindProduct}
	}
	if c.MinClusterSize < 2 {
		c.MinClusterSize = 2
	}
	if c.ErrorTTL <= 0 {
		c.ErrorTTL = time.Hour
	}
	if c.ComplianceTTL <= 0 {
		c.ComplianceTTL = 7 * 24 * time.Hour
	}
	if c.AnalyzerTimeout <= 0 {
		c.AnalyzerTimeout = 30 * time.Second
	}
}

// ScanReport summarizes one scan cycle
type ScanReport struct {
	Pipeline         string        `json:"pipeline"`
	Candidates       int           `json:"candidates"`
	Skipped          int           `json:"skipped"`
	Analyzed         int           `json:"analyzed"`
	Findings         int           `json:"findings"`
	AnalyzerFailures int           `json:"analyzer_failures"`
	StorageFailures  int           `json:"storage_failures"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// Status is the cycle outcome recorded in metrics
func (r *ScanReport) Status() string {
	if r.AnalyzerFailures > 0 || r.StorageFailures > 0 {
		return "partial"
	}
	return "ok"
}

// scanSubject is one unit handed to the analyzer
type scanSubject struct {
	id          string
	kind        string
	signature   string
	title       string
	text        string
	occurrences int
	meta        map[string]string
	ttl         time.Duration
}

// ScanService runs the error-cluster and content-compliance pipelines
type ScanService struct {
	diagnostics DiagnosticReader
	subjects    SubjectReader
	findings    FindingWriter
	analyzer    Analyzer
	dedup       *DedupCache
	sinks       []FindingSink
	limiter     *rate.Limiter
	tracer      trace.Tracer
	cfg         ScanConfig
	audit       *logger.AuditLogger
	logger      *slog.Logger
	now         func() time.Time
	metrics     *metrics.Metrics
}

// NewScanService creates a new ScanService. The analyzer throttle is shared by
// both pipelines since they call the same analyzer.
func NewScanService(
	diagnostics DiagnosticReader,
	subjects SubjectReader,
	findings FindingWriter,
	analyzer Analyzer,
	dedup *DedupCache,
	sinks []FindingSink,
	cfg ScanConfig,
	auditLogger *logger.AuditLogger,
	log *slog.Logger,
	opts ...Option,
) *ScanService {
	cfg.applyDefaults()
	o := applyOptions(opts)

	limit := rate.Inf
	if cfg.AnalyzerDelay > 0 {
		limit = rate.Every(cfg.AnalyzerDelay)
	}

	return &ScanService{
		diagnostics: diagnostics,
		subjects:    subjects,
		findings:    findings,
		analyzer:    analyzer,
		dedup:       dedup,
		sinks:       sinks,
		limiter:     rate.NewLimiter(limit, 1),
		tracer:      otel.Tracer("github.com/BradenHooton/warden/internal/services"),
		cfg:         cfg,
		audit:       auditLogger,
		logger:      log,
		now:         o.now,
		metrics:     o.metrics,
	}
}

// RunErrorScan clusters recent error entries and analyzes every cluster that
// is not cooling down
func (s *ScanService) RunErrorScan(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{Pipeline: PipelineErrors, StartedAt: s.now()}

	entries, err := s.diagnostics.ReadRecentDiagnosticEntries(ctx, models.DiagnosticLevelError, s.cfg.LogLimit)
	if err != nil {
		return s.finish(report, fmt.Errorf("failed to read diagnostic entries: %w", err))
	}

	clusters := ClusterEntries(entries, s.cfg.MinClusterSize)
	subjects := make([]scanSubject, 0, len(clusters))
	for _, c := range clusters {
		subjects = append(subjects, errorClusterSubject(c, s.cfg.ErrorTTL))
	}

	return s.finish(report, s.process(ctx, report, subjects))
}

// RunComplianceScan analyzes recently changed content of every configured kind
func (s *ScanService) RunComplianceScan(ctx context.Context) (*ScanReport, error) {
	report := &ScanReport{Pipeline: PipelineCompliance, StartedAt: s.now()}

	var subjects []scanSubject
	var readErrs []error
	for _, kind := range s.cfg.SubjectKinds {
		items, err := s.subjects.ReadRecentMonitoredSubjects(ctx, kind, s.cfg.SubjectLimit)
		if err != nil {
			s.logger.Error("failed to read monitored subjects", "kind", kind, "error", err)
			readErrs = append(readErrs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		for _, item := range items {
			subjects = append(subjects, contentSubject(item, s.cfg.ComplianceTTL))
		}
	}

	if len(readErrs) == len(s.cfg.SubjectKinds) {
		return s.finish(report, fmt.Errorf("failed to read monitored subjects: %w", errors.Join(readErrs...)))
	}

	return s.finish(report, s.process(ctx, report, subjects))
}

// process walks the subjects in order. Only cancellation stops the walk;
// a failing subject is left unmarked so the next cycle retries it.
func (s *ScanService) process(ctx context.Context, report *ScanReport, subjects []scanSubject) error {
	for _, subj := range subjects {
		report.Candidates++

		if s.dedup.HasBeenChecked(subj.id) {
			report.Skipped++
			continue
		}

		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("scan interrupted: %w", err)
		}

		result, err := s.analyze(ctx, report.Pipeline, subj)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("scan interrupted: %w", ctx.Err())
			}
			report.AnalyzerFailures++
			s.logger.Warn("analyzer call failed, subject left for next cycle",
				"pipeline", report.Pipeline,
				"subject_id", subj.id,
				"error", err,
			)
			continue
		}
		report.Analyzed++

		if !result.IsIssue {
			s.dedup.MarkChecked(subj.id, subj.ttl)
			continue
		}

		finding := s.buildFinding(subj, result)
		if err := s.writeFinding(ctx, finding); err != nil {
			report.StorageFailures++
			s.logger.Error("failed to store finding, subject left for next cycle",
				"pipeline", report.Pipeline,
				"subject_id", subj.id,
				"error", err,
			)
			continue
		}

		report.Findings++
		s.metrics.IncrementFindingsWritten(finding.SubjectKind)
		s.dedup.MarkChecked(subj.id, subj.ttl)

		if s.audit != nil {
			s.audit.LogFindingEvent(ctx, "finding_raised", finding.ID.String(), "", map[string]string{
				"pipeline":   report.Pipeline,
				"subject_id": finding.SubjectID,
				"severity":   finding.Severity,
				"category":   finding.Category,
			})
		}
		s.notify(ctx, finding)
	}
	return nil
}

func (s *ScanService) analyze(ctx context.Context, pipeline string, subj scanSubject) (*models.AnalysisResult, error) {
	ctx, span := s.tracer.Start(ctx, "scan.analyze", trace.WithAttributes(
		attribute.String("scan.pipeline", pipeline),
		attribute.String("scan.subject_id", subj.id),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalyzerTimeout)
	defer cancel()

	result, err := s.analyzer.Analyze(callCtx, subj.text, subj.meta)
	if err == nil && result == nil {
		err = models.ErrMalformedAnalysis
	}
	if err != nil {
		outcome := "error"
		switch {
		case errors.Is(err, models.ErrMalformedAnalysis):
			outcome = "malformed"
		case errors.Is(callCtx.Err(), context.DeadlineExceeded):
			outcome = "timeout"
		}
		s.metrics.IncrementAnalyzerCall(pipeline, outcome)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}

	s.metrics.IncrementAnalyzerCall(pipeline, "ok")
	span.SetAttributes(attribute.Bool("scan.is_issue", result.IsIssue))
	return result, nil
}

// writeFinding retries a failed write once
func (s *ScanService) writeFinding(ctx context.Context, finding *models.Finding) error {
	err := s.findings.WriteFinding(ctx, finding)
	if err == nil {
		return nil
	}
	s.logger.Warn("finding write failed, retrying once", "subject_id", finding.SubjectID, "error", err)
	if ctx.Err() != nil {
		return err
	}
	return s.findings.WriteFinding(ctx, finding)
}

func (s *ScanService) notify(ctx context.Context, finding *models.Finding) {
	for _, sink := range s.sinks {
		if err := sink.Notify(ctx, finding); err != nil {
			s.logger.Warn("finding sink failed",
				"sink", fmt.Sprintf("%T", sink),
				"finding_id", finding.ID.String(),
				"error", err,
			)
		}
	}
}

func (s *ScanService) buildFinding(subj scanSubject, result *models.AnalysisResult) *models.Finding {
	now := s.now()
	title := result.Title
	if title == "" {
		title = subj.title
	}
	return &models.Finding{
		ID:              uuid.New(),
		SubjectID:       subj.id,
		SubjectKind:     subj.kind,
		Signature:       subj.signature,
		Severity:        result.Severity,
		Category:        result.Category,
		Title:           truncateRunes(title, 200),
		Description:     result.Description,
		SuggestedAction: result.SuggestedAction,
		Status:          models.FindingStatusOpen,
		Occurrences:     subj.occurrences,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *ScanService) finish(report *ScanReport, err error) (*ScanReport, error) {
	report.Duration = s.now().Sub(report.StartedAt)

	status := report.Status()
	if err != nil {
		status = "error"
	}
	s.metrics.ObserveScanCycle(report.Pipeline, status, report.Duration.Seconds())

	s.logger.Info("scan cycle finished",
		"pipeline", report.Pipeline,
		"status", status,
		"candidates", report.Candidates,
		"skipped", report.Skipped,
		"analyzed", report.Analyzed,
		"findings", report.Findings,
		"analyzer_failures", report.AnalyzerFailures,
		"storage_failures", report.StorageFailures,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, err
}

// ContentSubjectID is the dedup identity of a content item
func ContentSubjectID(kind, id string) string {
	return "content:" + kind + ":" + id
}

func errorClusterSubject(c ErrorCluster, ttl time.Duration) scanSubject {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Signature: %s\n", c.Signature)
	fmt.Fprintf(&sb, "Occurrences: %d between %s and %s\n", c.Count,
		c.FirstSeen.UTC().Format(time.RFC3339), c.LastSeen.UTC().Format(time.RFC3339))
	if len(c.Sources) > 0 {
		fmt.Fprintf(&sb, "Sources: %s\n", strings.Join(c.Sources, ", "))
	}
	sb.WriteString("Samples:\n")
	for _, sample := range c.Samples {
		fmt.Fprintf(&sb, "- %s\n", sample)
	}

	return scanSubject{
		id:          c.SubjectID,
		kind:        models.SubjectKindErrorCluster,
		signature:   c.Signature,
		title:       "Recurring error: " + c.Signature,
		text:        sb.String(),
		occurrences: c.Count,
		ttl:         ttl,
		meta: map[string]string{
			"pipeline":     PipelineErrors,
			"subject_id":   c.SubjectID,
			"subject_kind": models.SubjectKindErrorCluster,
			"occurrences":  strconv.Itoa(c.Count),
		},
	}
}

func contentSubject(item models.MonitoredSubject, ttl time.Duration) scanSubject {
	id := ContentSubjectID(item.Kind, item.ID)
	return scanSubject{
		id:          id,
		kind:        item.Kind,
		title:       "Compliance review: " + item.Title,
		text:        item.Title + "\n\n" + item.Body,
		occurrences: 1,
		ttl:         ttl,
		meta: map[string]string{
			"pipeline":     PipelineCompliance,
			"subject_id":   id,
			"subject_kind": item.Kind,
			"title":        item.Title,
		},
	}
}
