package definition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/storage"
)

// JSON manages a JSON document decoded into T. Comments and trailing
// commas are accepted on load; output is indented JSON.
type JSON[T any] struct {
	*Base
	value T
}

// NewJSON creates an unloaded JSON manager for file. Use it as the
// constructor passed to Ensure.
func NewJSON[T any](file *storage.File) *JSON[T] {
	j := &JSON[T]{}
	j.Base = NewBase(file, j)
	return j
}

// Decode implements Codec. Empty or absent content decodes to the zero value.
func (j *JSON[T]) Decode(data []byte) error {
	var value T
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode json: %w", err)
		}
		if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode json: %w", apperrors.ErrTrailingData)
		}
	}
	j.value = value
	return nil
}

// Encode implements Codec.
func (j *JSON[T]) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(j.value, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

// Reset implements Codec.
func (j *JSON[T]) Reset() {
	var zero T
	j.value = zero
}

// Value returns the loaded document. Reference types share memory with
// the manager; use Update to change them.
func (j *JSON[T]) Value() (T, error) {
	var value T
	err := j.read(func() { value = j.value })
	return value, err
}

// Update applies fn to the document. Call Persist or Save to write it back.
func (j *JSON[T]) Update(fn func(*T)) error {
	return j.read(func() { fn(&j.value) })
}

// SetKey sets the value at a dot-separated key path in doc, creating
// intermediate objects as needed.
func SetKey(doc map[string]any, keyPath string, value any) error {
	keys := strings.Split(keyPath, ".")
	for _, k := range keys {
		if k == "" {
			return fmt.Errorf("%w: %q", apperrors.ErrInvalidKeyPath, keyPath)
		}
	}

	current := doc
	for i, k := range keys[:len(keys)-1] {
		next, ok := current[k]
		if !ok || next == nil {
			child := make(map[string]any)
			current[k] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %q is not an object", apperrors.ErrInvalidKeyPath, strings.Join(keys[:i+1], "."))
		}
		current = child
	}

	current[keys[len(keys)-1]] = value
	return nil
}

// ParseValue reads a command-line value as JSON, falling back to a plain
// string when it is not valid JSON.
func ParseValue(raw string) any {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var value any
	if err := dec.Decode(&value); err != nil || dec.More() {
		return raw
	}
	return value
}
