package services

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/pkg/logger"
	"github.com/google/uuid"
	"github.com/mssola/useragent"
	"golang.org/x/crypto/blake2b"
)

// AttemptStore is the durable log of access attempts
type AttemptStore interface {
	AppendAccessAttempt(ctx context.Context, attempt *models.AccessAttempt) error
	RecentAccessAttempts(ctx context.Context, limit int) ([]*models.AccessAttempt, error)
	RecentAccessAttemptsByAddress(ctx context.Context, maskedAddress string, since time.Time, limit int) ([]*models.AccessAttempt, error)
	DeleteAccessAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AttemptInput is an unmasked attempt as seen by the guard. It never leaves
// the ledger in this form.
type AttemptInput struct {
	Identity  string
	Address   string
	Code      string
	UserAgent string
	Outcome   string
	Reason    string
}

// LedgerConfig configures the attempt ledger
type LedgerConfig struct {
	FingerprintKey []byte
	Retention      time.Duration
}

// AttemptLedger masks access attempts and appends them to the durable log
type AttemptLedger struct {
	store       AttemptStore
	auditLogger *logger.AuditLogger
	logger      *slog.Logger
	key         []byte
	retention   time.Duration
	now         func() time.Time
}

// NewAttemptLedger creates a new AttemptLedger
func NewAttemptLedger(store AttemptStore, config LedgerConfig, auditLogger *logger.AuditLogger, log *slog.Logger, opts ...Option) *AttemptLedger {
	o := applyOptions(opts)

	key := config.FingerprintKey
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	if config.Retention <= 0 {
		config.Retention = 30 * 24 * time.Hour
	}

	return &AttemptLedger{
		store:       store,
		auditLogger: auditLogger,
		logger:      log,
		key:         key,
		retention:   config.Retention,
		now:         o.now,
	}
}

// Record masks in and appends it. The audit line is emitted even when the
// store write fails.
func (l *AttemptLedger) Record(ctx context.Context, in AttemptInput) error {
	attempt := &models.AccessAttempt{
		ID:              uuid.New(),
		CreatedAt:       l.now().UTC(),
		MaskedIdentity:  logger.MaskIdentity(in.Identity),
		MaskedAddress:   logger.MaskAddress(in.Address),
		CodeFingerprint: l.Fingerprint(in.Code),
		Agent:           AgentFamily(in.UserAgent),
		Outcome:         in.Outcome,
		Reason:          in.Reason,
	}

	l.auditLogger.LogAccessAttempt(ctx, logger.AccessAuditEvent{
		MaskedIdentity:  attempt.MaskedIdentity,
		MaskedAddress:   attempt.MaskedAddress,
		CodeFingerprint: attempt.CodeFingerprint,
		MaskedCode:      logger.MaskCode(strings.TrimSpace(in.Code)),
		Agent:           attempt.Agent,
		Outcome:         attempt.Outcome,
		Reason:          attempt.Reason,
	}, attempt.Outcome == models.AccessOutcomeGranted)

	if err := l.store.AppendAccessAttempt(ctx, attempt); err != nil {
		return fmt.Errorf("failed to append access attempt: %w", err)
	}
	return nil
}

// Fingerprint returns a keyed hash prefix of code so repeated guesses can be
// correlated without storing the code
func (l *AttemptLedger) Fingerprint(code string) string {
	if code == "" {
		return ""
	}
	h, err := blake2b.New256(l.key)
	if err != nil {
		return ""
	}
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil)[:8])
}

// Recent returns the newest attempts, newest first
func (l *AttemptLedger) Recent(ctx context.Context, limit int) ([]*models.AccessAttempt, error) {
	attempts, err := l.store.RecentAccessAttempts(ctx, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("failed to read access attempts: %w", err)
	}
	return attempts, nil
}

// RecentForAddress returns attempts from addr since the given time. The
// address is masked before the lookup, so neighbours sharing a prefix match too.
func (l *AttemptLedger) RecentForAddress(ctx context.Context, addr string, since time.Time, limit int) ([]*models.AccessAttempt, error) {
	attempts, err := l.store.RecentAccessAttemptsByAddress(ctx, logger.MaskAddress(addr), since, clampLimit(limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("failed to read access attempts: %w", err)
	}
	return attempts, nil
}

// Name identifies the ledger in maintenance logs
func (l *AttemptLedger) Name() string { return "attempt_ledger" }

// Sweep deletes attempts older than the retention window
func (l *AttemptLedger) Sweep(ctx context.Context) (int, error) {
	cutoff := l.now().Add(-l.retention)
	deleted, err := l.store.DeleteAccessAttemptsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired access attempts: %w", err)
	}
	return int(deleted), nil
}

// AgentFamily reduces a user agent to browser family, major version and OS
func AgentFamily(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "unknown"
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		name = "other"
	}
	if major, _, ok := strings.Cut(version, "."); ok {
		version = major
	}

	family := name
	if version != "" {
		family += "/" + version
	}
	if ua.Bot() {
		return "bot:" + family
	}
	if os := ua.OS(); os != "" {
		family += " (" + os + ")"
	}
	return family
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
