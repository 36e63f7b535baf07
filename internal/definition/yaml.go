package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/storage"
)

const yamlIndent = 2

// YAML manages a YAML document decoded into T.
type YAML[T any] struct {
	*Base
	value T
}

// NewYAML creates an unloaded YAML manager for file.
func NewYAML[T any](file *storage.File) *YAML[T] {
	y := &YAML[T]{}
	y.Base = NewBase(file, y)
	return y
}

// Decode implements Codec.
func (y *YAML[T]) Decode(data []byte) error {
	var value T
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&value); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml: %w", err)
		}
		// A single document is managed; more would be lost on persist.
		if err := dec.Decode(new(any)); !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode yaml: %w", apperrors.ErrTrailingData)
		}
	}
	y.value = value
	return nil
}

// Encode implements Codec.
func (y *YAML[T]) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(yamlIndent)
	if err := enc.Encode(y.value); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Reset implements Codec.
func (y *YAML[T]) Reset() {
	var zero T
	y.value = zero
}

// Value returns the loaded document.
func (y *YAML[T]) Value() (T, error) {
	var value T
	err := y.read(func() { value = y.value })
	return value, err
}

// Update applies fn to the document.
func (y *YAML[T]) Update(fn func(*T)) error {
	return y.read(func() { fn(&y.value) })
}
