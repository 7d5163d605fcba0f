package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/warden/internal/metrics"
	"github.com/BradenHooton/warden/internal/models"
	"github.com/BradenHooton/warden/pkg/logger"
)

// AccessCodeReader supplies the issued access codes
type AccessCodeReader interface {
	ReadIssuedAccessCodes(ctx context.Context) ([]models.AccessCode, error)
}

// AttemptRecorder appends access attempts to the ledger
type AttemptRecorder interface {
	Record(ctx context.Context, in AttemptInput) error
}

// FailureDelay waits after a denial
type FailureDelay interface {
	Wait(ctx context.Context, success bool) error
}

// SessionTokenIssuer signs session tokens for granted attempts
type SessionTokenIssuer interface {
	Issue(identity, role string) (string, time.Time, error)
}

// RotatingCodeSource yields the currently acceptable rotating codes
type RotatingCodeSource interface {
	Candidates(now time.Time) []string
}

// AccessGuardConfig holds the out-of-band static codes
type AccessGuardConfig struct {
	PrivilegedCodes []string
	DemoCodes       []string
	MaxCodeLength   int
}

// AccessRequest is one presented access code
type AccessRequest struct {
	Code      string
	Address   string
	UserAgent string
}

type codeCandidate struct {
	code     string
	identity string
	role     string
	active   bool
	expired  bool
}

// AccessGuard validates access codes. Every candidate is compared in constant
// time on every call, and every denial waits a randomized delay.
type AccessGuard struct {
	codes    AccessCodeReader
	tracker  *LockoutTracker
	ledger   AttemptRecorder
	delay    FailureDelay
	issuer   SessionTokenIssuer
	operator RotatingCodeSource
	config   AccessGuardConfig
	logger   *slog.Logger
	now      func() time.Time
	compare  func(a, b string) bool
	metrics  *metrics.Metrics
}

// NewAccessGuard creates a new AccessGuard. operator may be nil.
func NewAccessGuard(
	codes AccessCodeReader,
	tracker *LockoutTracker,
	ledger AttemptRecorder,
	delay FailureDelay,
	issuer SessionTokenIssuer,
	operator RotatingCodeSource,
	config AccessGuardConfig,
	log *slog.Logger,
	opts ...Option,
) *AccessGuard {
	o := applyOptions(opts)
	if config.MaxCodeLength <= 0 {
		config.MaxCodeLength = 256
	}
	return &AccessGuard{
		codes:    codes,
		tracker:  tracker,
		ledger:   ledger,
		delay:    delay,
		issuer:   issuer,
		operator: operator,
		config:   config,
		logger:   log,
		now:      o.now,
		compare:  o.compare,
		metrics:  o.metrics,
	}
}

// Validate decides whether req grants access. The returned error is non-nil
// only when a granted session could not be issued; every denial is reported
// through the decision.
func (g *AccessGuard) Validate(ctx context.Context, req AccessRequest) (*models.AccessDecision, error) {
	// The lock check also reserves a failure slot; every path below settles it.
	if !g.tracker.Acquire(req.Address) {
		until, _ := g.tracker.LockedUntil(req.Address)
		g.logger.Debug("attempt from locked address",
			slog.String("ip_address", logger.MaskAddress(req.Address)),
			slog.Time("locked_until", until))
		return g.deny(ctx, req, "", models.AccessReasonTemporarilyLocked), nil
	}

	code := strings.TrimSpace(req.Code)
	if code == "" || len(code) > g.config.MaxCodeLength {
		g.tracker.Release(req.Address)
		return g.deny(ctx, req, "", models.AccessReasonMalformedInput), nil
	}

	candidates, lookupErr := g.candidates(ctx)
	if lookupErr != nil {
		g.logger.Error("failed to read issued access codes", slog.Any("error", lookupErr))
	}

	matched := -1
	for i, c := range candidates {
		if g.compare(code, c.code) && matched < 0 {
			matched = i
		}
	}

	switch {
	case matched >= 0 && !candidates[matched].active:
		return g.denyCounted(ctx, req, candidates[matched].identity, models.AccessReasonCodeInactive), nil
	case matched >= 0 && candidates[matched].expired:
		return g.denyCounted(ctx, req, candidates[matched].identity, models.AccessReasonCodeExpired), nil
	case matched >= 0:
		return g.grant(ctx, req, candidates[matched])
	case lookupErr != nil:
		// The code may be valid; do not hold the store outage against the caller.
		g.tracker.Release(req.Address)
		return g.deny(ctx, req, "", models.AccessReasonLookupFailed), nil
	default:
		return g.denyCounted(ctx, req, "", models.AccessReasonInvalidCode), nil
	}
}

func (g *AccessGuard) candidates(ctx context.Context) ([]codeCandidate, error) {
	var out []codeCandidate
	for _, c := range g.config.PrivilegedCodes {
		out = append(out, codeCandidate{code: c, identity: "privileged", role: models.AccessRolePrivileged, active: true})
	}
	for _, c := range g.config.DemoCodes {
		out = append(out, codeCandidate{code: c, identity: "demo", role: models.AccessRoleDemo, active: true})
	}

	now := g.now()
	if g.operator != nil {
		for _, c := range g.operator.Candidates(now) {
			out = append(out, codeCandidate{code: c, identity: "operator", role: models.AccessRolePrivileged, active: true})
		}
	}

	issued, err := g.codes.ReadIssuedAccessCodes(ctx)
	if err != nil {
		return out, err
	}
	for _, c := range issued {
		role := c.Role
		if role == "" {
			role = models.AccessRoleMember
		}
		out = append(out, codeCandidate{
			code:     c.Code,
			identity: c.Identity,
			role:     role,
			active:   c.Active,
			expired:  c.Expired(now),
		})
	}
	return out, nil
}

func (g *AccessGuard) grant(ctx context.Context, req AccessRequest, c codeCandidate) (*models.AccessDecision, error) {
	token, expiresAt, err := g.issuer.Issue(c.identity, c.role)
	if err != nil {
		g.tracker.Release(req.Address)
		g.logger.Error("failed to issue session token", slog.Any("error", err))
		return nil, err
	}

	g.tracker.RecordSuccess(req.Address)
	g.record(ctx, req, c.identity, models.AccessOutcomeGranted, models.AccessReasonGranted)
	g.metrics.IncrementAccessDecision(models.AccessOutcomeGranted, models.AccessReasonGranted)

	return &models.AccessDecision{
		Granted:   true,
		Reason:    models.AccessReasonGranted,
		Role:      c.role,
		Identity:  c.identity,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

// denyCounted settles the reservation as a failure before denying
func (g *AccessGuard) denyCounted(ctx context.Context, req AccessRequest, identity, reason string) *models.AccessDecision {
	count, locked := g.tracker.RecordFailure(req.Address)
	if locked {
		g.logger.Warn("address reached lockout ceiling",
			slog.String("ip_address", logger.MaskAddress(req.Address)),
			slog.Int("failures", count))
	}
	return g.deny(ctx, req, identity, reason)
}

func (g *AccessGuard) deny(ctx context.Context, req AccessRequest, identity, reason string) *models.AccessDecision {
	g.record(ctx, req, identity, models.AccessOutcomeDenied, reason)
	g.metrics.IncrementAccessDecision(models.AccessOutcomeDenied, reason)

	if err := g.delay.Wait(ctx, false); err != nil {
		g.logger.Debug("failure delay interrupted", slog.Any("error", err))
	}

	return &models.AccessDecision{Granted: false, Reason: reason}
}

func (g *AccessGuard) record(ctx context.Context, req AccessRequest, identity, outcome, reason string) {
	err := g.ledger.Record(ctx, AttemptInput{
		Identity:  identity,
		Address:   req.Address,
		Code:      req.Code,
		UserAgent: req.UserAgent,
		Outcome:   outcome,
		Reason:    reason,
	})
	if err != nil {
		g.logger.Error("failed to record access attempt", slog.Any("error", err))
	}
}
