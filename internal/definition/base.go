package definition

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/event"
	"github.com/fclairamb/packfs/internal/metrics"
	"github.com/fclairamb/packfs/internal/storage"
)

// Codec converts between file content and a manager's representation.
// Base calls every method with its lock held.
type Codec interface {
	// Decode replaces the representation with data. Absent content is nil.
	Decode(data []byte) error
	// Encode renders the representation.
	Encode() ([]byte, error)
	// Reset discards the representation.
	Reset()
}

// Option configures a Base.
type Option func(*Base)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Base) {
		b.logger = l
	}
}

// Base is the load-once machinery shared by managers. Embed it and supply
// a Codec.
type Base struct {
	file     *storage.File
	codec    Codec
	logger   *slog.Logger
	onLoaded event.Dispatcher[struct{}]
	detached atomic.Bool

	// loadMu serializes Load so concurrent calls collapse into one.
	loadMu sync.Mutex

	// mu guards loaded and the codec's representation.
	mu     sync.Mutex
	loaded bool
}

// NewBase creates the machinery for a manager of file.
func NewBase(file *storage.File, codec Codec, opts ...Option) *Base {
	b := &Base{
		file:   file,
		codec:  codec,
		logger: file.Storage().Logger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// File returns the managed file.
func (b *Base) File() *storage.File {
	return b.file
}

// IsLoaded reports whether the representation reflects the file.
func (b *Base) IsLoaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// OnLoaded returns the dispatcher fired once per completed load.
func (b *Base) OnLoaded() *event.Dispatcher[struct{}] {
	return &b.onLoaded
}

// Load fetches and parses the file content. It is a no-op once loaded.
func (b *Base) Load(ctx context.Context) error {
	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	if b.IsLoaded() {
		return nil
	}

	if _, err := b.file.LoadContent(ctx, false); err != nil {
		return b.loadFailed(ctx, err)
	}

	b.mu.Lock()
	if err := b.codec.Decode(b.file.Content()); err != nil {
		b.codec.Reset()
		b.mu.Unlock()
		return b.loadFailed(ctx, fmt.Errorf("parse %s: %w", b.file.Path(), err))
	}
	b.loaded = true
	b.mu.Unlock()

	metrics.RecordManagerLoad(true)
	b.logger.DebugContext(ctx, "definition loaded", "path", b.file.Path())

	b.onLoaded.Dispatch(struct{}{})
	return nil
}

func (b *Base) loadFailed(ctx context.Context, err error) error {
	metrics.RecordManagerLoad(false)
	b.logger.WarnContext(ctx, "definition load failed", "path", b.file.Path(), "error", err)
	return err
}

// Invalidate resets the manager to unloaded and drops its representation.
func (b *Base) Invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		return
	}
	b.loaded = false
	b.codec.Reset()
	b.logger.Debug("definition invalidated", "path", b.file.Path())
}

// Persist renders the representation into the file. Nothing is marked for
// saving when the rendered content is structurally unchanged.
func (b *Base) Persist(ctx context.Context) error {
	if b.detached.Load() {
		return fmt.Errorf("persist %s: %w", b.file.Path(), apperrors.ErrNotAttached)
	}

	b.mu.Lock()
	if !b.loaded {
		b.mu.Unlock()
		return fmt.Errorf("persist %s: %w", b.file.Path(), apperrors.ErrNotLoaded)
	}
	data, err := b.codec.Encode()
	b.mu.Unlock()
	if err != nil {
		b.logger.WarnContext(ctx, "definition render failed", "path", b.file.Path(), "error", err)
		return fmt.Errorf("render %s: %w", b.file.Path(), err)
	}

	changed, err := b.file.SetContent(ctx, data, storage.UpdatePersist)
	if err != nil {
		b.logger.WarnContext(ctx, "definition persist failed", "path", b.file.Path(), "error", err)
		return err
	}

	b.logger.DebugContext(ctx, "definition persisted", "path", b.file.Path(), "changed", changed)
	return nil
}

// Save persists and flushes the file to its medium.
func (b *Base) Save(ctx context.Context) error {
	if err := b.Persist(ctx); err != nil {
		return err
	}
	if err := b.file.SaveContent(ctx, false); err != nil {
		b.logger.WarnContext(ctx, "definition save failed", "path", b.file.Path(), "error", err)
		return err
	}
	return nil
}

// read runs fn with the representation locked. It fails when not loaded.
func (b *Base) read(fn func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		return fmt.Errorf("%s: %w", b.file.Path(), apperrors.ErrNotLoaded)
	}
	fn()
	return nil
}

func (b *Base) detach() {
	b.detached.Store(true)
}
