package logger

import (
	"context"
	"log/slog"
	"time"
)

// AccessAuditEvent is the masked view of an access attempt. Callers mask
// values before building it.
type AccessAuditEvent struct {
	MaskedIdentity  string
	MaskedAddress   string
	CodeFingerprint string
	MaskedCode      string
	Agent           string
	Outcome         string
	Reason          string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAccessAttempt logs one access guard decision. Denials are logged at warn.
func (al *AuditLogger) LogAccessAttempt(ctx context.Context, event AccessAuditEvent, granted bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "access"),
		slog.String("event_type", "access_attempt"),
		slog.String("outcome", event.Outcome),
		slog.String("reason", event.Reason),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.MaskedIdentity != "" {
		attrs = append(attrs, slog.String("identity", event.MaskedIdentity))
	}
	if event.MaskedAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.MaskedAddress))
	}
	if event.CodeFingerprint != "" {
		attrs = append(attrs, slog.String("code_fingerprint", event.CodeFingerprint))
	}
	if event.MaskedCode != "" {
		attrs = append(attrs, slog.String("code", event.MaskedCode))
	}
	if event.Agent != "" {
		attrs = append(attrs, slog.String("agent", event.Agent))
	}

	level := slog.LevelWarn
	if granted {
		level = slog.LevelInfo
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogFindingEvent logs finding lifecycle events (raised, status changes)
func (al *AuditLogger) LogFindingEvent(ctx context.Context, eventType, findingID, actor string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "finding"),
		slog.String("event_type", eventType),
		slog.String("finding_id", findingID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if actor != "" {
		attrs = append(attrs, slog.String("actor", MaskIdentity(actor)))
	}
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}
