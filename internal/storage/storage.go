// Package storage provides the virtual file and folder tree shared by every
// storage medium. A Backend supplies the medium; the Storage owns the tree
// and serializes every operation that touches the medium.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Backend is a storage medium. The Storage calls every method while holding
// its write guard, so implementations may build the tree with EnsureFile
// and EnsureFolder but must not call guarded operations such as
// LoadContent, SaveContent or Folder.Load.
//
//nolint:interfacebloat // Backend mirrors the full node contract
type Backend interface {
	// LoadFolder enumerates the children of folder into it.
	LoadFolder(ctx context.Context, folder *Folder) error
	// FolderExists reports whether folder exists on the medium.
	FolderExists(ctx context.Context, folder *Folder) (bool, error)
	// FileExists reports whether file exists on the medium.
	FileExists(ctx context.Context, file *File) (bool, error)
	// ReadFile returns the file payload. A file absent from the medium
	// returns an error matching apperrors.ErrNotFound.
	ReadFile(ctx context.Context, file *File) ([]byte, error)
	// WriteFile stores data as the file payload.
	WriteFile(ctx context.Context, file *File, data []byte) error
	// DeleteFile removes the file from the medium.
	DeleteFile(ctx context.Context, file *File) error
	// MoveFile relocates the file to dest, relative to the storage root.
	MoveFile(ctx context.Context, file *File, dest string) error
}

// Status is the health of a storage.
type Status int

const (
	// StatusOK means the storage is usable.
	StatusOK Status = iota
	// StatusError means loading failed; see ErrorMessage.
	StatusError
)

// Storage is the root container of a file tree.
type Storage struct {
	// mu is the single-writer guard: one medium-touching operation at a time.
	mu           sync.Mutex
	backend      Backend
	root         *Folder
	readOnly     bool
	lastModified time.Time
	logger       *slog.Logger
	limiter      *rate.Limiter

	statusMu     sync.Mutex
	status       Status
	errorMessage string
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets a custom logger for the storage.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = l
	}
}

// WithReadOnly marks the storage read-only; saves are rejected.
func WithReadOnly(readOnly bool) Option {
	return func(s *Storage) {
		s.readOnly = readOnly
	}
}

// WithWriteLimit paces SaveAll to at most r writes per second with the given burst.
func WithWriteLimit(r rate.Limit, burst int) Option {
	return func(s *Storage) {
		if r > 0 {
			s.limiter = rate.NewLimiter(r, max(burst, 1))
		}
	}
}

// New creates a storage over backend. The root folder is empty until Load.
func New(backend Backend, opts ...Option) *Storage {
	s := &Storage{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.root = newFolder(s, nil, "")
	return s
}

// Root returns the root folder.
func (s *Storage) Root() *Folder {
	return s.root
}

// Logger returns the storage logger.
func (s *Storage) Logger() *slog.Logger {
	return s.logger
}

// IsReadOnly reports whether saves are rejected.
func (s *Storage) IsReadOnly() bool {
	return s.readOnly
}

// LastModified returns the time of the latest content change anywhere in the tree.
func (s *Storage) LastModified() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastModified
}

// Load enumerates the root folder.
func (s *Storage) Load(ctx context.Context) error {
	return s.root.Load(ctx, false)
}

// SetError records a failed load on the storage.
func (s *Storage) SetError(err error) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	if err == nil {
		s.status = StatusOK
		s.errorMessage = ""
		return
	}
	s.status = StatusError
	s.errorMessage = err.Error()
}

// Status returns the storage status.
func (s *Storage) Status() Status {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.status
}

// ErrorMessage returns the message recorded by SetError.
func (s *Storage) ErrorMessage() string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return s.errorMessage
}

// Walk visits every file in path order: a folder's files first, then its
// subfolders. It stops at the first error fn returns.
func (s *Storage) Walk(fn func(*File) error) error {
	return s.root.walk(fn)
}

// DirtyFiles returns the files whose content has not been saved.
func (s *Storage) DirtyFiles() []*File {
	var dirty []*File
	_ = s.Walk(func(f *File) error {
		if f.NeedsSave() {
			dirty = append(dirty, f)
		}
		return nil
	})
	return dirty
}

// SaveAll flushes every dirty file and returns how many were written.
func (s *Storage) SaveAll(ctx context.Context) (int, error) {
	dirty := s.DirtyFiles()
	if len(dirty) == 0 {
		return 0, nil
	}

	s.logger.DebugContext(ctx, "saving dirty files", "count", len(dirty))

	saved := 0
	for _, f := range dirty {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return saved, fmt.Errorf("wait for write slot: %w", err)
			}
		}
		if err := f.SaveContent(ctx, false); err != nil {
			return saved, err
		}
		saved++
	}

	s.logger.DebugContext(ctx, "saved dirty files", "count", saved)
	return saved, nil
}

// touch records a modification; the caller holds mu.
func (s *Storage) touch(now time.Time) {
	if now.After(s.lastModified) {
		s.lastModified = now
	}
}
