package document

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes document parse failures.
type ErrorCode string

const (
	// ErrCodeInvalidSyntax indicates a malformed node shape: missing type
	// tag, wrong value kind, conflicting anchors, and the like.
	ErrCodeInvalidSyntax ErrorCode = "INVALID_SYNTAX"

	// ErrCodeUnknownView indicates an unresolvable type tag.
	ErrCodeUnknownView ErrorCode = "UNKNOWN_VIEW"

	// ErrCodeUnknownAttribute indicates a key that is neither a declared
	// attribute nor a declared association of the target type.
	ErrCodeUnknownAttribute ErrorCode = "UNKNOWN_ATTRIBUTE"

	// ErrCodeUnknownAssociation indicates an association shape submitted
	// for a name the schema declares as something else.
	ErrCodeUnknownAssociation ErrorCode = "UNKNOWN_ASSOCIATION"

	// ErrCodeDuplicateNodes indicates the same (type, id) submitted more
	// than once across the document's roots and references.
	ErrCodeDuplicateNodes ErrorCode = "DUPLICATE_NODES"
)

// Error is a document parse error with enough position context to tell the
// caller which node was malformed.
type Error struct {
	Code    ErrorCode
	Message string

	// Path locates the failing node within the submission, e.g.
	// "roots[1].comments[0]" or "references[draft]".
	Path string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the parse error code from err, or "" if err is not a
// document error. Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

func newError(code ErrorCode, path, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Path: path}
}
