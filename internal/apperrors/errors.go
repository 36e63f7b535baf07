// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
)

// StatusError is recorded on a storage whose load failed.
type StatusError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *StatusError) Unwrap() error {
	return e.Err
}

// Common static errors used throughout the application.
var (
	// ErrUnprocessable is returned when an archive cannot be decoded or exceeds a resource limit.
	ErrUnprocessable = errors.New("unprocessable content")

	// ErrSecurityViolation is returned when an archive entry path fails validation.
	ErrSecurityViolation = errors.New("security violation")

	// ErrNotSupported is returned when a backend cannot implement an operation.
	ErrNotSupported = errors.New("operation not supported by this storage")

	// ErrNotFound is returned when a lookup does not match any child.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned when writing to a read-only storage.
	ErrReadOnly = errors.New("storage is read-only")

	// ErrNotLoaded is returned when an operation requires a loaded storage.
	ErrNotLoaded = errors.New("storage not loaded")

	// ErrNoContent is returned when a file has no content to read or render.
	ErrNoContent = errors.New("file has no content")

	// ErrEmptyName is returned when a file or folder name is empty.
	ErrEmptyName = errors.New("name cannot be empty")

	// ErrInvalidName is returned when a name is "." or "..", or contains a path separator.
	ErrInvalidName = errors.New("invalid name")

	// ErrManagerTypeMismatch is returned when a file already carries a manager of a different type.
	ErrManagerTypeMismatch = errors.New("file already has a manager of a different type")

	// ErrNotAttached is returned when a manager is used after being detached from its file.
	ErrNotAttached = errors.New("manager is not attached to a file")

	// ErrInvalidKeyPath is returned when an edit key path cannot be applied to a document.
	ErrInvalidKeyPath = errors.New("invalid key path")

	// ErrTrailingData is returned when a document has content after its top-level value.
	ErrTrailingData = errors.New("trailing data after document")

	// ErrInvalidLangValue is returned when a .lang value contains a line break.
	ErrInvalidLangValue = errors.New("lang value cannot contain line breaks")

	// ErrInvalidSize is returned when a size setting cannot be parsed.
	ErrInvalidSize = errors.New("invalid size")

	// ErrArgsRequired is returned when a command is missing positional arguments.
	ErrArgsRequired = errors.New("missing required arguments")
)
