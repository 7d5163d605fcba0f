package models

import (
	"time"

	"github.com/google/uuid"
)

// Access roles granted by the guard
const (
	AccessRolePrivileged = "privileged"
	AccessRoleDemo       = "demo"
	AccessRoleMember     = "member"
)

// Access attempt outcomes
const (
	AccessOutcomeGranted = "granted"
	AccessOutcomeDenied  = "denied"
)

// Reasons recorded with every access decision. Only the ledger and the logs
// see these; callers get a generic message.
const (
	AccessReasonGranted           = "granted"
	AccessReasonTemporarilyLocked = "temporarily_locked"
	AccessReasonInvalidCode       = "invalid_code"
	AccessReasonCodeInactive      = "code_inactive"
	AccessReasonCodeExpired       = "code_expired"
	AccessReasonLookupFailed      = "lookup_failed"
	AccessReasonMalformedInput    = "malformed_input"
)

// AccessCode is an issued access code as read from storage
type AccessCode struct {
	Code      string     `db:"code"`
	Identity  string     `db:"identity"`
	Role      string     `db:"role"`
	ExpiresAt *time.Time `db:"expires_at"`
	Active    bool       `db:"active"`
}

// Expired reports whether the code has an expiry in the past
func (c AccessCode) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// AccessAttempt is one masked ledger record. Nothing in it is stored in clear.
type AccessAttempt struct {
	ID              uuid.UUID `db:"id" json:"id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	MaskedIdentity  string    `db:"masked_identity" json:"masked_identity"`
	MaskedAddress   string    `db:"masked_address" json:"masked_address"`
	CodeFingerprint string    `db:"code_fingerprint" json:"code_fingerprint"`
	Agent           string    `db:"agent" json:"agent"`
	Outcome         string    `db:"outcome" json:"outcome"`
	Reason          string    `db:"reason" json:"reason"`
}

// AccessDecision is the result of a guard validation
type AccessDecision struct {
	Granted   bool
	Reason    string
	Role      string
	Identity  string
	Token     string
	ExpiresAt time.Time
}
