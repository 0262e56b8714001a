package reconcile

import (
	"errors"
	"fmt"

	"github.com/graftkit/graft/internal/document"
)

// ErrorCode categorizes reconciliation failures. Every code is fatal to the
// current batch: the enclosing transaction is rolled back and nothing is
// retried internally.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a referenced identity that does not exist
	// in storage, or a before/after anchor absent from the current
	// collection.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeStaleUpdate indicates a functional update or remove action
	// targeting a member not present in the current working collection.
	ErrCodeStaleUpdate ErrorCode = "STALE_UPDATE"

	// ErrCodeDuplicateNodes indicates the same identity claimed more than
	// once: duplicated functional-update targets, a reference claimed by
	// two owners, or conflicting intents for one entity.
	ErrCodeDuplicateNodes ErrorCode = "DUPLICATE_NODES"

	// ErrCodeReadOnlyAttribute indicates an attempt to change an
	// attribute marked read-only or immutable-after-create.
	ErrCodeReadOnlyAttribute ErrorCode = "READ_ONLY_ATTRIBUTE"

	// ErrCodePermissions indicates an authorization checkpoint rejected
	// the node. Check says which checkpoint: view, edit, or delete.
	ErrCodePermissions ErrorCode = "PERMISSIONS"

	// ErrCodeValidation indicates the final state was rejected by domain
	// validation; Fields carries per-field messages when available.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeLockFailure indicates an optimistic version mismatch: the
	// record changed under us since the submitted version token.
	ErrCodeLockFailure ErrorCode = "LOCK_FAILURE"

	// ErrCodeDatabaseConstraint indicates a storage-layer constraint
	// violation other than uniqueness.
	ErrCodeDatabaseConstraint ErrorCode = "DATABASE_CONSTRAINT"

	// ErrCodeUniqueViolation indicates a unique constraint violation,
	// with constraint details in Fields where the driver exposes them.
	ErrCodeUniqueViolation ErrorCode = "UNIQUE_VIOLATION"

	// ErrCodeCycle indicates an operation re-entered while building or
	// running. The worklist drain is the only legal way to resolve
	// forward references, so this is always an internal fault of the
	// submitted graph.
	ErrCodeCycle ErrorCode = "CYCLE"

	// ErrCodeOrphanedReference indicates a named reference that was never
	// consumed by the primary document.
	ErrCodeOrphanedReference ErrorCode = "ORPHANED_REFERENCE"
)

// Error is a reconciliation failure, carrying enough identity context to
// tell the caller which node and which proposed change triggered it.
type Error struct {
	Code    ErrorCode
	Message string

	// Ref identifies the failing node; a zero ID renders as "new".
	Ref document.Ref

	// Assoc names the association involved, when one is.
	Assoc string

	// Check names the authorization checkpoint for permission errors:
	// "view", "edit", or "delete".
	Check string

	// Fields carries per-field validation messages or constraint details.
	Fields map[string]string
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Ref.Type != "" {
		msg += fmt.Sprintf(" (node=%s", e.Ref)
		if e.Assoc != "" {
			msg += fmt.Sprintf(", association=%s", e.Assoc)
		}
		if e.Check != "" {
			msg += fmt.Sprintf(", check=%s", e.Check)
		}
		msg += ")"
	}
	return msg
}

// CodeOf extracts the reconcile error code from err, or "" if err is not a
// reconcile error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsCode reports whether err is a reconcile error with the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

func newError(code ErrorCode, ref document.Ref, format string, args ...any) *Error {
	return &Error{Code: code, Ref: ref, Message: fmt.Sprintf(format, args...)}
}

func newAssocError(code ErrorCode, ref document.Ref, assoc, format string, args ...any) *Error {
	return &Error{Code: code, Ref: ref, Assoc: assoc, Message: fmt.Sprintf(format, args...)}
}

// NewPermissionError builds the PERMISSIONS error raised when an external
// authorizer rejects a node at one of the engine's checkpoints.
func NewPermissionError(ref document.Ref, check, reason string) *Error {
	if reason == "" {
		reason = "not permitted"
	}
	return &Error{Code: ErrCodePermissions, Ref: ref, Check: check, Message: reason}
}

// NewLockFailure builds the LOCK_FAILURE error for an optimistic version
// mismatch on the given node.
func NewLockFailure(ref document.Ref, submitted int64) *Error {
	return &Error{
		Code:    ErrCodeLockFailure,
		Ref:     ref,
		Message: fmt.Sprintf("version %d is stale", submitted),
	}
}

// NewValidationError builds a VALIDATION error with field-level messages.
func NewValidationError(ref document.Ref, fields map[string]string) *Error {
	return &Error{
		Code:    ErrCodeValidation,
		Ref:     ref,
		Message: "domain validation rejected the final state",
		Fields:  fields,
	}
}
