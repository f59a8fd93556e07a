// Package proto defines the typed request/response envelope and error
// taxonomy shared by the CLI and daemon surfaces.
package proto

import "fmt"

// ErrorCode is the stable taxonomy from spec §7. Values are never
// renumbered; new codes are appended.
type ErrorCode string

const (
	// Input
	ErrInvalidArgument    ErrorCode = "InvalidArgument"
	ErrCommandParseError  ErrorCode = "CommandParseError"
	ErrInvalidEditOp      ErrorCode = "InvalidEditOperation"

	// Storage
	ErrWorkspaceNotFound      ErrorCode = "WorkspaceNotFound"
	ErrInvalidWorkspace       ErrorCode = "InvalidWorkspace"
	ErrWorkspaceCorrupt       ErrorCode = "WorkspaceCorrupt"
	ErrStorageIoError         ErrorCode = "StorageIoError"
	ErrStorageSchemaMismatch  ErrorCode = "StorageSchemaMismatch"

	// Session
	ErrSessionNotFound   ErrorCode = "SessionNotFound"
	ErrSessionCorrupt    ErrorCode = "SessionCorrupt"
	ErrSessionDeleted    ErrorCode = "SessionDeleted"
	ErrSessionIdConflict ErrorCode = "SessionIdConflict"

	// Circuit
	ErrCircuitFileNotFound   ErrorCode = "CircuitFileNotFound"
	ErrCircuitFileUnreadable ErrorCode = "CircuitFileUnreadable"
	ErrCircuitStateCorrupt   ErrorCode = "CircuitStateCorrupt"
	ErrConflict              ErrorCode = "Conflict"

	// Internal
	ErrInternalError ErrorCode = "InternalError"
)

// Error is a typed error carrying one of the stable ErrorCode values plus a
// human-readable message. It is the only error shape allowed to cross the
// CLI/daemon boundary (spec §7: no exception or panic crosses that
// boundary).
type Error struct {
	Code    ErrorCode
	Message string
	// Detail carries optional structured payload (e.g. conflict pairs) that
	// a caller can render without parsing Message.
	Detail any
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a typed Error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches structured detail to an Error and returns it.
func (e *Error) WithDetail(detail any) *Error {
	e.Detail = detail
	return e
}

// CodeOf extracts the ErrorCode from err, defaulting to InternalError for
// untyped errors. Never panics.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var te *Error
	if as(err, &te) {
		return te.Code
	}
	return ErrInternalError
}

// as is a small local stand-in for errors.As: it follows err's single
// Unwrap() error chain looking for an *Error.
func as(err error, target **Error) bool {
	for err != nil {
		if te, ok := err.(*Error); ok {
			*target = te
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
