// Package action defines the moderation action model shared by the
// store, scheduler, and lifecycle controller.
package action

import (
	"fmt"
	"strings"
	"time"
)

// Kind represents the category of restriction an action imposes.
type Kind string

const (
	KindWarning      Kind = "warning"
	KindMute         Kind = "mute"
	KindTimeout      Kind = "timeout"
	KindTemporaryBan Kind = "temporary_ban"
	KindPermanentBan Kind = "permanent_ban"
)

// AllKinds returns all known action kinds.
func AllKinds() []Kind {
	return []Kind{
		KindWarning,
		KindMute,
		KindTimeout,
		KindTemporaryBan,
		KindPermanentBan,
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindWarning, KindMute, KindTimeout, KindTemporaryBan, KindPermanentBan:
		return true
	}
	return false
}

// Status represents where an action is in its lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is an end state. Terminal actions
// are retained for audit and never mutated again.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusCancelled || s == StatusFailed
}

// Duration limits per kind. Timeout mirrors the platform's own ceiling
// on communication disabling.
const (
	MaxTimeoutDuration      = 28 * 24 * time.Hour
	MaxTemporaryBanDuration = 365 * 24 * time.Hour

	// MaxReasonLen bounds the free-text reason in bytes.
	MaxReasonLen = 512
)

// Action is one moderation action against a subject within a scope.
// At most one Active action of a given kind exists per (subject, scope)
// pair; a newer request of the same kind supersedes the old one.
type Action struct {
	SubjectID string `cbor:"subject_id"`
	ScopeID   string `cbor:"scope_id"`
	Kind      Kind   `cbor:"kind"`

	IssuedAt  time.Time  `cbor:"issued_at"`
	ExpiresAt *time.Time `cbor:"expires_at,omitempty"` // nil means until cancelled

	IssuerID string `cbor:"issuer_id"`
	Reason   string `cbor:"reason"`

	Status   Status `cbor:"status"`
	Revision uint64 `cbor:"revision"`

	// Terminal bookkeeping, retained for audit.
	ResolvedAt    *time.Time `cbor:"resolved_at,omitempty"`
	FailureReason string     `cbor:"failure_reason,omitempty"`
}

// Key returns the store key for the action's (scope, subject, kind)
// slot. Subject and scope IDs are platform snowflakes and never contain
// the separator.
func (a *Action) Key() string {
	return StoreKey(a.SubjectID, a.ScopeID, a.Kind)
}

// StoreKey builds the composite store key for a (subject, scope, kind)
// slot.
func StoreKey(subjectID, scopeID string, kind Kind) string {
	return scopeID + ":" + subjectID + ":" + string(kind)
}

// ValidationError rejects a malformed request before any persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid moderation request: " + e.Field + ": " + e.Message
}

// ValidateDuration checks the duration bounds for a kind. A nil
// duration means no expiry was requested.
func ValidateDuration(kind Kind, duration *time.Duration) error {
	switch kind {
	case KindWarning:
		if duration != nil {
			return &ValidationError{Field: "duration", Message: "warnings do not expire"}
		}
	case KindPermanentBan:
		if duration != nil {
			return &ValidationError{Field: "duration", Message: "permanent bans do not expire"}
		}
	case KindMute:
		if duration != nil && *duration <= 0 {
			return &ValidationError{Field: "duration", Message: "must be positive"}
		}
	case KindTimeout:
		if duration == nil {
			return &ValidationError{Field: "duration", Message: "timeouts require a duration"}
		}
		if *duration <= 0 {
			return &ValidationError{Field: "duration", Message: "must be positive"}
		}
		if *duration > MaxTimeoutDuration {
			return &ValidationError{Field: "duration", Message: fmt.Sprintf("exceeds maximum of %s", MaxTimeoutDuration)}
		}
	case KindTemporaryBan:
		if duration == nil {
			return &ValidationError{Field: "duration", Message: "temporary bans require a duration"}
		}
		if *duration <= 0 {
			return &ValidationError{Field: "duration", Message: "must be positive"}
		}
		if *duration > MaxTemporaryBanDuration {
			return &ValidationError{Field: "duration", Message: fmt.Sprintf("exceeds maximum of %s", MaxTemporaryBanDuration)}
		}
	default:
		return &ValidationError{Field: "kind", Message: "unknown kind: " + string(kind)}
	}
	return nil
}

// ValidateReason checks the free-text reason bound.
func ValidateReason(reason string) error {
	if len(reason) > MaxReasonLen {
		return &ValidationError{Field: "reason", Message: fmt.Sprintf("exceeds %d bytes", MaxReasonLen)}
	}
	if strings.ContainsRune(reason, 0) {
		return &ValidationError{Field: "reason", Message: "contains NUL byte"}
	}
	return nil
}
