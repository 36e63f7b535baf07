// Package archive implements a storage medium backed by an in-memory ZIP
// archive. The folder tree is built from the archive's flat listing once
// the security gate has accepted it; entry payloads are inflated only when
// a file's content is requested.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/metrics"
	"github.com/fclairamb/packfs/internal/security"
	"github.com/fclairamb/packfs/internal/storage"
)

// State is the load state of an archive storage.
type State int

const (
	// StateUnloaded means the archive has not been read.
	StateUnloaded State = iota
	// StateLoading means the gate or tree construction is running.
	StateLoading
	// StateLoaded means the tree is built.
	StateLoaded
	// StateFailed means decoding or validation failed; no tree was built.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailed:
		return "failed"
	default:
		return "unloaded"
	}
}

// Storage is a file tree whose medium is a ZIP archive held in memory.
type Storage struct {
	*storage.Storage
	engine *engine
}

// Option configures an archive Storage.
type Option func(*config)

type config struct {
	limits      security.Limits
	logger      *slog.Logger
	storageOpts []storage.Option
}

// WithLimits sets the resource limits enforced on load.
func WithLimits(limits security.Limits) Option {
	return func(c *config) {
		c.limits = limits
	}
}

// WithLogger sets a custom logger for the archive and its storage.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithStorageOptions passes options through to the underlying storage.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(c *config) {
		c.storageOpts = append(c.storageOpts, opts...)
	}
}

// New creates an archive storage over data. Nothing is decoded until Load.
// Empty data starts a new, empty archive.
func New(data []byte, opts ...Option) *Storage {
	cfg := &config{
		limits: security.DefaultLimits(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	e := &engine{
		raw:    data,
		limits: cfg.limits,
		logger: cfg.logger,
	}
	storageOpts := append([]storage.Option{storage.WithLogger(cfg.logger)}, cfg.storageOpts...)
	e.storage = storage.New(e, storageOpts...)

	return &Storage{Storage: e.storage, engine: e}
}

// Load validates the archive and builds the folder tree. It is a no-op once
// loaded; after a failure it returns the recorded error again.
func (s *Storage) Load(ctx context.Context) error {
	return s.Storage.Load(ctx)
}

// State returns the load state.
func (s *Storage) State() State {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return s.engine.state
}

// EntryCount returns the number of file entries held in the arena.
func (s *Storage) EntryCount() int {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	return len(s.engine.entries)
}

// entry is one slot of the archive arena. Files refer to entries by index.
type entry struct {
	zf      *zip.File // nil for entries created after load
	data    []byte    // write-back slot
	written bool
	fetched bool
}

// engine is the storage.Backend over the archive arena.
type engine struct {
	storage *storage.Storage
	raw     []byte
	limits  security.Limits
	logger  *slog.Logger

	mu      sync.Mutex
	state   State
	loadErr error
	entries []*entry
}

// LoadFolder builds the whole tree the first time any folder is loaded.
// The flat listing already describes every folder, so later calls are no-ops.
func (e *engine) LoadFolder(ctx context.Context, _ *storage.Folder) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateLoaded:
		return nil
	case StateFailed:
		return e.loadErr
	}

	e.state = StateLoading
	e.logger.DebugContext(ctx, "loading archive", "size", len(e.raw))

	if err := e.build(ctx); err != nil {
		e.state = StateFailed
		e.loadErr = err
		e.storage.SetError(&apperrors.StatusError{Op: "load archive", Err: err})

		result := metrics.ResultFailed
		if isRejection(err) {
			result = metrics.ResultRejected
		}
		metrics.RecordArchiveLoad(result, 0)
		e.logger.WarnContext(ctx, "archive rejected", "result", result, "error", err)
		return err
	}

	e.state = StateLoaded
	e.storage.SetError(nil)
	metrics.RecordArchiveLoad(metrics.ResultOK, len(e.entries))
	e.logger.DebugContext(ctx, "archive loaded", "entries", len(e.entries))
	return nil
}

// build runs the gate over the complete listing and only then creates nodes.
func (e *engine) build(ctx context.Context) error {
	if err := security.CheckInputSize(int64(len(e.raw)), e.limits); err != nil {
		return err
	}
	if len(e.raw) == 0 {
		return nil
	}

	// A reader returned alongside an error only flags insecure names, which
	// the gate below judges itself.
	reader, err := zip.NewReader(bytes.NewReader(e.raw), int64(len(e.raw)))
	if reader == nil {
		return fmt.Errorf("%w: decode archive: %w", apperrors.ErrUnprocessable, err)
	}

	listing := make([]security.Entry, len(reader.File))
	for i, zf := range reader.File {
		listing[i] = security.Entry{Path: zf.Name, UncompressedSize: zf.UncompressedSize64}
	}
	if err := security.ValidateEntries(listing, e.limits); err != nil {
		return err
	}

	// Plan every path before touching the tree so construction cannot fail halfway.
	paths := make([]string, len(reader.File))
	for i, zf := range reader.File {
		p, err := cleanEntryPath(zf.Name)
		if err != nil {
			return err
		}
		paths[i] = p
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	root := e.storage.Root()
	entries := make([]*entry, 0, len(reader.File))
	for i, zf := range reader.File {
		if paths[i] == "" {
			continue
		}
		if zf.FileInfo().IsDir() || strings.HasSuffix(zf.Name, "/") {
			if _, err := root.EnsureFolderFromPath(paths[i]); err != nil {
				return fmt.Errorf("%w: %w", apperrors.ErrUnprocessable, err)
			}
			continue
		}

		entries = append(entries, &entry{zf: zf})
		if err := attach(root, paths[i], len(entries)-1); err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrUnprocessable, err)
		}
	}
	e.entries = entries

	return nil
}

// attach places the entry at p under folder. A path without delimiters is
// a direct child file; otherwise the head segment becomes a folder and the
// remainder is attached inside it.
func attach(folder *storage.Folder, p string, ref int) error {
	if strings.Count(p, storage.Separator) == 0 {
		file, err := folder.EnsureFile(p)
		if err != nil {
			return err
		}
		// A later entry with the same canonical path replaces the earlier one.
		file.SetRef(ref)
		return nil
	}

	head, rest, _ := strings.Cut(p, storage.Separator)
	child, err := folder.EnsureFolder(head)
	if err != nil {
		return err
	}
	return attach(child, rest, ref)
}

// cleanEntryPath normalizes separators and drops empty and "." segments.
// It runs after the gate, so ".." and absolute paths are already excluded.
func cleanEntryPath(name string) (string, error) {
	name = strings.ReplaceAll(name, "\\", storage.Separator)

	segments := strings.Split(name, storage.Separator)
	kept := segments[:0]
	for _, segment := range segments {
		if segment == "" || segment == "." {
			continue
		}
		if err := storage.ValidateName(segment); err != nil {
			return "", fmt.Errorf("%w: entry %q: %w", apperrors.ErrUnprocessable, security.SanitizePath(name), err)
		}
		kept = append(kept, segment)
	}

	return strings.Join(kept, storage.Separator), nil
}

func isRejection(err error) bool {
	var violation *security.ViolationError
	var limit *security.LimitError
	return errors.As(err, &violation) || errors.As(err, &limit)
}
