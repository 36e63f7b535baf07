package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/fclairamb/packfs/internal/apperrors"
)

// Encoding describes how a payload is interpreted.
type Encoding int

const (
	// EncodingBinary is opaque bytes.
	EncodingBinary Encoding = iota
	// EncodingText is UTF-8 text.
	EncodingText
)

// String returns the encoding name.
func (e Encoding) String() string {
	if e == EncodingText {
		return "text"
	}
	return "binary"
}

// UpdateKind tells subscribers where new content came from.
type UpdateKind int

const (
	// UpdateEdit is a regular edit by a caller other than the attached manager.
	UpdateEdit UpdateKind = iota
	// UpdatePersist is a write made by the file's own manager.
	UpdatePersist
	// UpdateExternal is content replaced from the backing medium.
	UpdateExternal
)

// String returns the update kind name.
func (k UpdateKind) String() string {
	switch k {
	case UpdatePersist:
		return "persist"
	case UpdateExternal:
		return "external"
	default:
		return "edit"
	}
}

// ContentUpdate is dispatched when a file's content changes.
type ContentUpdate struct {
	File *File
	Kind UpdateKind
}

// Format selects how two payloads are compared.
type Format int

const (
	// FormatBytes compares byte for byte.
	FormatBytes Format = iota
	// FormatJSON compares parsed JSON (comments and trailing commas allowed).
	FormatJSON
	// FormatYAML compares parsed YAML.
	FormatYAML
)

// FormatFor picks the comparison format from the file extension.
func FormatFor(name string) Format {
	switch Extension(name) {
	case ".json", ".jsonc", ".mcmeta", ".material":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatBytes
	}
}

// ContentEqual reports whether a and b hold the same content for a file
// called name. Structured formats are compared after parsing, so layout
// and comment changes do not count; if either side fails to parse the
// comparison falls back to bytes.
func ContentEqual(name string, a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch FormatFor(name) {
	case FormatJSON:
		return structurallyEqual(a, b, decodeJSON)
	case FormatYAML:
		return structurallyEqual(a, b, decodeYAML)
	default:
		return false
	}
}

func structurallyEqual(a, b []byte, decode func([]byte) (any, error)) bool {
	left, err := decode(a)
	if err != nil {
		return false
	}
	right, err := decode(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(left, right)
}

func decodeJSON(data []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	// Numbers stay textual so 1.0 and 1 differ only if their text differs.
	decoder.UseNumber()

	var v any
	if err := decoder.Decode(&v); err != nil {
		return nil, err
	}
	if err := decoder.Decode(new(any)); !errors.Is(err, io.EOF) {
		return nil, apperrors.ErrTrailingData
	}
	return v, nil
}

// decodeYAML returns every document of a stream.
func decodeYAML(data []byte) (any, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))

	var docs []any
	for {
		var v any
		err := decoder.Decode(&v)
		if errors.Is(err, io.EOF) {
			return docs, nil
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, v)
	}
}
