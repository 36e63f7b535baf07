// Package security validates untrusted archive input before any of it is
// turned into a folder tree.
package security

import (
	"fmt"

	"github.com/fclairamb/packfs/internal/apperrors"
)

// Size units.
const (
	bytesPerKB = 1024
	bytesPerMB = 1024 * bytesPerKB
)

// Default resource limits.
const (
	DefaultMaxInputSize        = 100 * bytesPerMB
	DefaultMaxUncompressedSize = 500 * bytesPerMB
	DefaultMaxEntryCount       = 10000
	DefaultMaxFileSize         = 100 * bytesPerMB
)

// Limits bounds the resources an archive may consume. A zero field disables
// that particular check.
type Limits struct {
	MaxInputSize        int64 // compressed input bytes
	MaxUncompressedSize int64 // sum of all uncompressed entry sizes
	MaxEntryCount       int   // number of entries, directories included
	MaxFileSize         int64 // uncompressed size of a single entry
}

// DefaultLimits returns the built-in limits.
func DefaultLimits() Limits {
	return Limits{
		MaxInputSize:        DefaultMaxInputSize,
		MaxUncompressedSize: DefaultMaxUncompressedSize,
		MaxEntryCount:       DefaultMaxEntryCount,
		MaxFileSize:         DefaultMaxFileSize,
	}
}

// LimitError reports a resource limit that was exceeded.
type LimitError struct {
	Limit  string
	Actual int64
	Max    int64
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("%s %d exceeds limit %d", e.Limit, e.Actual, e.Max)
}

// Unwrap lets callers match ErrUnprocessable.
func (e *LimitError) Unwrap() error {
	return apperrors.ErrUnprocessable
}

// CheckInputSize rejects inputs larger than MaxInputSize.
func CheckInputSize(size int64, limits Limits) error {
	if limits.MaxInputSize > 0 && size > limits.MaxInputSize {
		return &LimitError{Limit: "input size", Actual: size, Max: limits.MaxInputSize}
	}
	return nil
}

// CheckFileSize rejects a single entry larger than MaxFileSize.
func CheckFileSize(size int64, limits Limits) error {
	if limits.MaxFileSize > 0 && size > limits.MaxFileSize {
		return &LimitError{Limit: "file size", Actual: size, Max: limits.MaxFileSize}
	}
	return nil
}
