package security

import (
	"fmt"
	"math"
	"strings"

	"github.com/fclairamb/packfs/internal/apperrors"
)

// Entry is the subset of an archive entry's header the gate inspects.
type Entry struct {
	Path             string
	UncompressedSize uint64
}

// ViolationError reports an entry path that failed validation.
type ViolationError struct {
	Path   string
	Reason string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	return fmt.Sprintf("unsafe entry path %q: %s", SanitizePath(e.Path), e.Reason)
}

// Unwrap lets callers match ErrSecurityViolation.
func (e *ViolationError) Unwrap() error {
	return apperrors.ErrSecurityViolation
}

// ValidateEntries checks a complete archive listing against limits.
// It must run before any node is created: a nil result is the only
// permission to build a tree from entries.
func ValidateEntries(entries []Entry, limits Limits) error {
	if limits.MaxEntryCount > 0 && len(entries) > limits.MaxEntryCount {
		return &LimitError{Limit: "entry count", Actual: int64(len(entries)), Max: int64(limits.MaxEntryCount)}
	}

	var total uint64
	for i := range entries {
		size := entries[i].UncompressedSize
		if size > math.MaxInt64 {
			return &LimitError{Limit: "file size", Actual: math.MaxInt64, Max: limits.MaxFileSize}
		}
		if err := CheckFileSize(int64(size), limits); err != nil {
			return err
		}
		total += size
		if total > math.MaxInt64 {
			total = math.MaxInt64
		}
	}
	if limits.MaxUncompressedSize > 0 && total > uint64(limits.MaxUncompressedSize) {
		return &LimitError{Limit: "uncompressed size", Actual: int64(total), Max: limits.MaxUncompressedSize}
	}

	for i := range entries {
		if err := ValidatePath(entries[i].Path); err != nil {
			return err
		}
	}

	return nil
}

// ValidatePath rejects entry paths that are empty, absolute, carry a drive
// letter, contain a ".." segment, or contain a NUL byte.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return &ViolationError{Path: p, Reason: "empty path"}
	case strings.ContainsRune(p, 0):
		return &ViolationError{Path: p, Reason: "NUL byte"}
	case p[0] == '/' || p[0] == '\\':
		return &ViolationError{Path: p, Reason: "absolute path"}
	case hasDrivePrefix(p):
		return &ViolationError{Path: p, Reason: "drive letter prefix"}
	}

	for _, segment := range splitSegments(p) {
		if segment == ".." {
			return &ViolationError{Path: p, Reason: "path traversal"}
		}
	}

	return nil
}

func hasDrivePrefix(p string) bool {
	if len(p) < 2 || p[1] != ':' {
		return false
	}
	c := p[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// splitSegments splits on both separators; archives written on Windows
// occasionally carry backslashes.
func splitSegments(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' })
}
