package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode is the machine-readable classification surfaced to callers and
// stamped on audit entries.
type ErrorCode string

const (
	CodeGuardrailViolation    ErrorCode = "guardrail_violation"
	CodeMissingVersion        ErrorCode = "missing_version"
	CodeVersionConflict       ErrorCode = "version_conflict"
	CodeStatusConflict        ErrorCode = "status_conflict"
	CodeNewerDraftExists      ErrorCode = "newer_draft_exists"
	CodeHashMismatch          ErrorCode = "hash_mismatch"
	CodeOwnerScopeMismatch    ErrorCode = "owner_scope_mismatch"
	CodeMissingOwnerScope     ErrorCode = "missing_owner_scope"
	CodeLocked                ErrorCode = "locked"
	CodeMissingConfirmation   ErrorCode = "missing_confirmation"
	CodeMissingRollbackReason ErrorCode = "missing_rollback_reason"
	CodeNoRollbackTarget      ErrorCode = "no_rollback_target"
	CodeVersionRace           ErrorCode = "version_race"
)

// Domain sentinel errors.
var (
	ErrNotFound     = errors.New("configuration not found")
	ErrAuditFailure = errors.New("publish audit write failed")
)

// FieldErrors maps request fields to validation issues.
type FieldErrors map[string][]string

func (f FieldErrors) add(field, message string) {
	if f == nil {
		return
	}
	f[field] = append(f[field], message)
}

// ValidationError is returned when the input payload is structurally invalid
// (bad scope, segment, config type, malformed JSON).
type ValidationError struct {
	Fields FieldErrors
}

func (v *ValidationError) Error() string {
	return "validation error"
}

func newValidationError(fields map[string]string) error {
	fe := FieldErrors{}
	for key, message := range fields {
		fe.add(key, message)
	}
	return &ValidationError{Fields: fe}
}

// GuardrailError is a structural business-rule violation: the payload is
// well-typed but breaks a publishing guardrail (row counts, required logo
// block, widget limits). Not retryable without fixing the payload.
type GuardrailError struct {
	Reason string
}

func (e *GuardrailError) Error() string {
	return fmt.Sprintf("guardrail violation: %s", e.Reason)
}

// ConflictError covers every optimistic-concurrency and ownership failure on
// the publish path. The payload explains what the caller's view missed.
type ConflictError struct {
	Code              ErrorCode  `json:"code"`
	Message           string     `json:"message"`
	CurrentVersion    int        `json:"currentVersion,omitempty"`
	SubmittedVersion  int        `json:"submittedVersion,omitempty"`
	NewerDraftVersion int        `json:"newerDraftVersion,omitempty"`
	LastPublishedBy   string     `json:"lastPublishedBy,omitempty"`
	LastPublishedAt   *time.Time `json:"lastPublishedAt,omitempty"`
	Holder            string     `json:"holder,omitempty"`
	RetryAfterMs      int64      `json:"retryAfterMs,omitempty"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
