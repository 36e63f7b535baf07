package storage

import (
	"fmt"
	"path"
	"strings"

	"golang.org/x/text/cases"

	"github.com/fclairamb/packfs/internal/apperrors"
)

// Separator is the path delimiter used by every storage.
const Separator = "/"

// textExtensions lists the extensions whose content is decoded as text.
var textExtensions = map[string]bool{
	".json": true, ".jsonc": true, ".mcmeta": true, ".material": true,
	".lang": true, ".txt": true, ".md": true, ".mcfunction": true,
	".js": true, ".mjs": true, ".ts": true, ".yaml": true, ".yml": true,
	".xml": true, ".html": true, ".htm": true, ".css": true, ".csv": true,
	".properties": true, ".toml": true, ".ini": true, ".svg": true,
	".fragment": true, ".vertex": true, ".geometry": true,
}

// CanonicalizeName folds a name for case-insensitive lookup.
// Display casing is kept on the node; only map keys use this form.
func CanonicalizeName(name string) string {
	// A Caser is stateful, so one is created per call.
	return cases.Fold().String(strings.TrimSpace(name))
}

// Extension returns the lowercase extension of name, including the dot.
func Extension(name string) string {
	return strings.ToLower(path.Ext(name))
}

// IsTextPath reports whether content at name should be treated as text.
func IsTextPath(name string) bool {
	return textExtensions[Extension(name)]
}

// EncodingFor chooses the content encoding from the file extension.
func EncodingFor(name string) Encoding {
	if IsTextPath(name) {
		return EncodingText
	}
	return EncodingBinary
}

// PathError records an error and the node path that caused it.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// ValidateName checks that name can be used as a single path segment.
func ValidateName(name string) error {
	return validateName("validate name", name)
}

func validateName(op, name string) error {
	trimmed := strings.TrimSpace(name)
	switch {
	case trimmed == "":
		return &PathError{Op: op, Path: name, Err: apperrors.ErrEmptyName}
	case trimmed == "." || trimmed == "..", strings.ContainsAny(name, "/\\\x00"):
		return &PathError{Op: op, Path: name, Err: apperrors.ErrInvalidName}
	}
	return nil
}

// normalizeRelative converts backslashes and trims leading separators so
// "/a/b", "a/b" and `a\b` address the same node.
func normalizeRelative(p string) string {
	p = strings.ReplaceAll(p, "\\", Separator)
	return strings.TrimLeft(p, Separator)
}

// splitFirst splits p on its first separator.
func splitFirst(p string) (head, rest string, found bool) {
	return strings.Cut(p, Separator)
}
