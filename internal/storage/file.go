package storage

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/event"
	"github.com/fclairamb/packfs/internal/metrics"
)

// NoRef marks a file with no backend handle.
const NoRef = -1

// File is a leaf node. Content is fetched from the backend on first access
// and cached until replaced.
type File struct {
	storage *Storage

	// nodeMu guards the location, which MoveTo changes.
	nodeMu    sync.RWMutex
	name      string
	canonical string
	parent    *Folder

	// Guarded by storage.mu.
	data       []byte
	loaded     bool
	needsSave  bool
	deleted    bool
	modified   time.Time
	lastLoaded time.Time

	ref atomic.Int64

	onUpdated event.Dispatcher[ContentUpdate]

	attachMu   sync.Mutex
	attachment any
}

func newFile(s *Storage, parent *Folder, name string) *File {
	f := &File{
		name:      name,
		canonical: CanonicalizeName(name),
		parent:    parent,
		storage:   s,
	}
	f.ref.Store(NoRef)
	return f
}

// Name returns the display name.
func (f *File) Name() string {
	_, name := f.location()
	return name
}

// Parent returns the containing folder.
func (f *File) Parent() *Folder {
	parent, _ := f.location()
	return parent
}

func (f *File) location() (*Folder, string) {
	f.nodeMu.RLock()
	defer f.nodeMu.RUnlock()
	return f.parent, f.name
}

// Storage returns the owning storage.
func (f *File) Storage() *Storage {
	return f.storage
}

// Path returns the full path from the storage root, e.g. "/a/b.json".
func (f *File) Path() string {
	parent, name := f.location()
	return parent.Path() + name
}

// RelativePath returns Path without the leading separator.
func (f *File) RelativePath() string {
	return strings.TrimPrefix(f.Path(), Separator)
}

// Extension returns the lowercase extension including the dot.
func (f *File) Extension() string {
	return Extension(f.Name())
}

// Encoding returns the payload encoding chosen from the extension.
func (f *File) Encoding() Encoding {
	return EncodingFor(f.Name())
}

// Ref returns the backend handle, an index into the backend's own arena.
func (f *File) Ref() int {
	return int(f.ref.Load())
}

// SetRef binds the file to a backend handle.
func (f *File) SetRef(ref int) {
	f.ref.Store(int64(ref))
}

// OnContentUpdated returns the dispatcher fired after content changes.
func (f *File) OnContentUpdated() *event.Dispatcher[ContentUpdate] {
	return &f.onUpdated
}

// IsContentLoaded reports whether the payload has been fetched.
func (f *File) IsContentLoaded() bool {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.loaded
}

// NeedsSave reports whether content changed since the last save.
func (f *File) NeedsSave() bool {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.needsSave
}

// Modified returns the time of the last content change.
func (f *File) Modified() time.Time {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.modified
}

// Content returns the cached payload, or nil when absent or not loaded.
// The slice must not be modified.
func (f *File) Content() []byte {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.data
}

// Text returns the cached payload as a string.
func (f *File) Text() string {
	return string(f.Content())
}

// HasContent reports whether a payload is loaded and present.
func (f *File) HasContent() bool {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.loaded && f.data != nil
}

// Exists reports whether the file exists on the medium.
func (f *File) Exists(ctx context.Context) (bool, error) {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.FileExists(ctx, f)
}

// LoadContent fetches the payload and returns when it was fetched. It is a
// no-op once loaded unless force is set. A failed fetch keeps the previous
// content. A forced reload that changes the content notifies subscribers
// with UpdateExternal.
func (f *File) LoadContent(ctx context.Context, force bool) (time.Time, error) {
	s := f.storage
	s.mu.Lock()
	loadedAt, changed, err := f.loadContentLocked(ctx, force)
	s.mu.Unlock()

	if changed {
		f.onUpdated.Dispatch(ContentUpdate{File: f, Kind: UpdateExternal})
	}
	return loadedAt, err
}

func (f *File) loadContentLocked(ctx context.Context, force bool) (time.Time, bool, error) {
	s := f.storage
	if f.deleted {
		return f.lastLoaded, false, f.errDeleted("load content")
	}
	if f.loaded && !force {
		return f.lastLoaded, false, nil
	}
	if err := ctx.Err(); err != nil {
		return f.lastLoaded, false, err
	}

	s.logger.DebugContext(ctx, "loading content", "path", f.Path())

	data, err := s.backend.ReadFile(ctx, f)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		metrics.RecordContentLoad(false)
		s.logger.DebugContext(ctx, "load content failed", "path", f.Path(), "error", err)
		return f.lastLoaded, false, &PathError{Op: "load content", Path: f.Path(), Err: err}
	}
	metrics.RecordContentLoad(true)

	changed := f.loaded && !ContentEqual(f.name, f.data, data)
	f.data = data
	f.loaded = true
	f.needsSave = false
	f.lastLoaded = time.Now()

	s.logger.DebugContext(ctx, "load content complete", "path", f.Path(), "size", len(data))
	return f.lastLoaded, changed, nil
}

// SetContent replaces the payload. It reports false and leaves the file
// clean when data is structurally identical to the current content.
// Subscribers are notified unless kind is UpdatePersist. A deleted file
// rejects new content with ErrNotFound.
func (f *File) SetContent(ctx context.Context, data []byte, kind UpdateKind) (bool, error) {
	s := f.storage
	s.mu.Lock()

	if f.deleted {
		s.mu.Unlock()
		return false, f.errDeleted("set content")
	}
	if !f.loaded {
		// The comparison needs a baseline. A medium that cannot supply one
		// simply means every write counts as a change.
		if _, _, err := f.loadContentLocked(ctx, false); err != nil {
			s.logger.DebugContext(ctx, "no baseline for content comparison", "path", f.Path(), "error", err)
		}
	}

	if f.loaded && ContentEqual(f.name, f.data, data) && (f.data == nil) == (data == nil) {
		s.mu.Unlock()
		metrics.RecordWriteAvoided()
		s.logger.DebugContext(ctx, "content unchanged", "path", f.Path(), "kind", kind.String())
		return false, nil
	}

	now := time.Now()
	f.data = slices.Clone(data)
	f.loaded = true
	f.needsSave = true
	f.modified = now
	s.touch(now)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "content updated", "path", f.Path(), "kind", kind.String(), "size", len(data))

	if kind != UpdatePersist {
		f.onUpdated.Dispatch(ContentUpdate{File: f, Kind: kind})
	}
	return true, nil
}

// SetText is SetContent for string content.
func (f *File) SetText(ctx context.Context, text string, kind UpdateKind) (bool, error) {
	return f.SetContent(ctx, []byte(text), kind)
}

// SaveContent writes dirty content to the medium. It is a no-op when the
// file is clean unless force is set. Content set to nil is persisted by
// deleting the file from the medium.
func (f *File) SaveContent(ctx context.Context, force bool) error {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.deleted {
		return f.errDeleted("save content")
	}
	if !f.needsSave && !force {
		return nil
	}
	if s.readOnly {
		return &PathError{Op: "save content", Path: f.Path(), Err: apperrors.ErrReadOnly}
	}
	if !f.loaded {
		// Nothing in memory to write.
		f.needsSave = false
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.data == nil {
		return f.removeContentLocked(ctx)
	}

	s.logger.DebugContext(ctx, "saving content", "path", f.Path(), "size", len(f.data))

	if err := s.backend.WriteFile(ctx, f, f.data); err != nil {
		metrics.RecordContentSave(false)
		s.logger.DebugContext(ctx, "save content failed", "path", f.Path(), "error", err)
		return &PathError{Op: "save content", Path: f.Path(), Err: err}
	}
	metrics.RecordContentSave(true)

	f.needsSave = false
	s.logger.DebugContext(ctx, "save content complete", "path", f.Path())
	return nil
}

// removeContentLocked persists an absent payload by deleting it from the
// medium; the caller holds storage.mu.
func (f *File) removeContentLocked(ctx context.Context) error {
	s := f.storage
	s.logger.DebugContext(ctx, "removing content", "path", f.Path())

	if err := s.backend.DeleteFile(ctx, f); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		metrics.RecordContentSave(false)
		return &PathError{Op: "save content", Path: f.Path(), Err: err}
	}
	metrics.RecordContentSave(true)

	f.needsSave = false
	return nil
}

func (f *File) errDeleted(op string) error {
	return &PathError{Op: op, Path: f.Path(), Err: apperrors.ErrNotFound}
}

// Hash returns the hex BLAKE3-256 digest of the payload, loading it first
// if needed. An absent payload hashes as empty input.
func (f *File) Hash(ctx context.Context) (string, error) {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, err := f.loadContentLocked(ctx, false); err != nil {
		return "", err
	}

	sum := blake3.Sum256(f.data)
	return hex.EncodeToString(sum[:]), nil
}

// MoveTo relocates the file to dest, a path relative to the storage root.
func (f *File) MoveTo(ctx context.Context, dest string) error {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.deleted {
		return f.errDeleted("move")
	}
	dest = normalizeRelative(dest)
	dir, name := path.Split(dest)
	if err := validateName("move", name); err != nil {
		return err
	}

	if err := s.backend.MoveFile(ctx, f, dest); err != nil {
		return &PathError{Op: "move", Path: f.Path(), Err: err}
	}

	target, err := s.root.EnsureFolderFromPath(dir)
	if err != nil {
		return fmt.Errorf("move %s: %w", f.Path(), err)
	}

	f.parent.removeFile(f)
	f.nodeMu.Lock()
	f.name = strings.TrimSpace(name)
	f.canonical = CanonicalizeName(name)
	f.parent = target
	f.nodeMu.Unlock()
	target.adoptFile(f)
	s.touch(time.Now())
	return nil
}

// Delete removes the file from the medium and from its folder.
func (f *File) Delete(ctx context.Context) error {
	s := f.storage
	s.mu.Lock()

	if f.deleted {
		s.mu.Unlock()
		return f.errDeleted("delete")
	}
	if err := s.backend.DeleteFile(ctx, f); err != nil {
		s.mu.Unlock()
		return &PathError{Op: "delete", Path: f.Path(), Err: err}
	}

	f.parent.removeFile(f)
	f.data = nil
	f.loaded = false
	f.needsSave = false
	f.deleted = true
	s.touch(time.Now())
	s.mu.Unlock()

	f.Detach(nil)
	return nil
}

// Attachment returns the value attached to the file, or nil.
func (f *File) Attachment() any {
	f.attachMu.Lock()
	defer f.attachMu.Unlock()
	return f.attachment
}

// LoadOrAttach returns the current attachment, or stores and returns the
// result of create when there is none. Concurrent callers all receive the
// same value and create runs at most once.
func (f *File) LoadOrAttach(create func() any) any {
	f.attachMu.Lock()
	defer f.attachMu.Unlock()

	if f.attachment == nil {
		f.attachment = create()
	}
	return f.attachment
}

// Detach clears the attachment if it is expected, or unconditionally when
// expected is nil. It reports whether anything was cleared.
func (f *File) Detach(expected any) bool {
	f.attachMu.Lock()
	defer f.attachMu.Unlock()

	if f.attachment == nil || (expected != nil && f.attachment != expected) {
		return false
	}
	f.attachment = nil
	return true
}
