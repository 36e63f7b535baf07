package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fclairamb/packfs/internal/apperrors"
)

// Folder is a directory node. Children are keyed by canonical name.
type Folder struct {
	name      string
	canonical string
	parent    *Folder
	storage   *Storage

	mu      sync.RWMutex
	folders map[string]*Folder
	files   map[string]*File

	// lastProcessed is guarded by storage.mu; zero until enumerated.
	lastProcessed time.Time
}

func newFolder(s *Storage, parent *Folder, name string) *Folder {
	return &Folder{
		name:      name,
		canonical: CanonicalizeName(name),
		parent:    parent,
		storage:   s,
		folders:   make(map[string]*Folder),
		files:     make(map[string]*File),
	}
}

// Name returns the display name. The root folder's name is empty.
func (f *Folder) Name() string {
	return f.name
}

// Parent returns the containing folder, or nil for the root.
func (f *Folder) Parent() *Folder {
	return f.parent
}

// Storage returns the owning storage.
func (f *Folder) Storage() *Storage {
	return f.storage
}

// IsRoot reports whether f is its storage's root.
func (f *Folder) IsRoot() bool {
	return f.parent == nil
}

// Path returns the full path, ending with a separator ("/" for the root).
func (f *Folder) Path() string {
	if f.parent == nil {
		return Separator
	}
	return f.parent.Path() + f.name + Separator
}

// IsLoaded reports whether children have been enumerated.
func (f *Folder) IsLoaded() bool {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return !f.lastProcessed.IsZero()
}

// LastProcessed returns when children were last enumerated.
func (f *Folder) LastProcessed() time.Time {
	f.storage.mu.Lock()
	defer f.storage.mu.Unlock()
	return f.lastProcessed
}

// Load enumerates children from the backend. Once loaded it is a no-op
// unless force is set.
func (f *Folder) Load(ctx context.Context, force bool) error {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if !f.lastProcessed.IsZero() && !force {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.logger.DebugContext(ctx, "loading folder", "path", f.Path())

	if err := s.backend.LoadFolder(ctx, f); err != nil {
		s.logger.DebugContext(ctx, "load folder failed", "path", f.Path(), "error", err)
		return fmt.Errorf("load folder %s: %w", f.Path(), err)
	}

	f.lastProcessed = time.Now()

	s.logger.DebugContext(ctx, "load folder complete", "path", f.Path(), "count", f.Count())
	return nil
}

// Exists reports whether the folder exists on the medium.
func (f *Folder) Exists(ctx context.Context) (bool, error) {
	s := f.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backend.FolderExists(ctx, f)
}

// EnsureFolder returns the child folder called name, creating it if needed.
func (f *Folder) EnsureFolder(name string) (*Folder, error) {
	if err := validateName("ensure folder", name); err != nil {
		return nil, err
	}
	key := CanonicalizeName(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if child, ok := f.folders[key]; ok {
		return child, nil
	}
	child := newFolder(f.storage, f, strings.TrimSpace(name))
	f.folders[key] = child
	return child, nil
}

// EnsureFile returns the child file called name, creating it if needed.
func (f *Folder) EnsureFile(name string) (*File, error) {
	if err := validateName("ensure file", name); err != nil {
		return nil, err
	}
	key := CanonicalizeName(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if child, ok := f.files[key]; ok {
		return child, nil
	}
	child := newFile(f.storage, f, strings.TrimSpace(name))
	f.files[key] = child
	return child, nil
}

// EnsureFolderFromPath walks p relative to f, creating folders as needed.
func (f *Folder) EnsureFolderFromPath(p string) (*Folder, error) {
	p = strings.TrimRight(normalizeRelative(p), Separator)
	if p == "" {
		return f, nil
	}

	head, rest, found := splitFirst(p)
	child, err := f.EnsureFolder(head)
	if err != nil {
		return nil, err
	}
	if !found {
		return child, nil
	}
	return child.EnsureFolderFromPath(rest)
}

// EnsureFileFromPath walks p relative to f, creating folders and the leaf file as needed.
func (f *Folder) EnsureFileFromPath(p string) (*File, error) {
	p = normalizeRelative(p)

	head, rest, found := splitFirst(p)
	if !found {
		return f.EnsureFile(head)
	}
	child, err := f.EnsureFolder(head)
	if err != nil {
		return nil, err
	}
	return child.EnsureFileFromPath(rest)
}

// File returns the existing child file called name.
func (f *Folder) File(name string) (*File, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	child, ok := f.files[CanonicalizeName(name)]
	if !ok {
		return nil, &PathError{Op: "get file", Path: f.Path() + name, Err: apperrors.ErrNotFound}
	}
	return child, nil
}

// Folder returns the existing child folder called name.
func (f *Folder) Folder(name string) (*Folder, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	child, ok := f.folders[CanonicalizeName(name)]
	if !ok {
		return nil, &PathError{Op: "get folder", Path: f.Path() + name, Err: apperrors.ErrNotFound}
	}
	return child, nil
}

// FolderFromPath resolves an existing folder relative to f without creating anything.
func (f *Folder) FolderFromPath(p string) (*Folder, error) {
	p = strings.TrimRight(normalizeRelative(p), Separator)
	if p == "" {
		return f, nil
	}

	head, rest, found := splitFirst(p)
	child, err := f.Folder(head)
	if err != nil {
		return nil, err
	}
	if !found {
		return child, nil
	}
	return child.FolderFromPath(rest)
}

// FileFromPath resolves an existing file relative to f without creating anything.
func (f *Folder) FileFromPath(p string) (*File, error) {
	p = normalizeRelative(p)

	head, rest, found := splitFirst(p)
	if !found {
		return f.File(head)
	}
	child, err := f.Folder(head)
	if err != nil {
		return nil, err
	}
	return child.FileFromPath(rest)
}

// Files returns the child files sorted by canonical name.
func (f *Folder) Files() []*File {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := sortedKeys(f.files)
	files := make([]*File, len(keys))
	for i, k := range keys {
		files[i] = f.files[k]
	}
	return files
}

// Folders returns the child folders sorted by canonical name.
func (f *Folder) Folders() []*Folder {
	f.mu.RLock()
	defer f.mu.RUnlock()

	keys := sortedKeys(f.folders)
	folders := make([]*Folder, len(keys))
	for i, k := range keys {
		folders[i] = f.folders[k]
	}
	return folders
}

// Count returns the number of direct children.
func (f *Folder) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.files) + len(f.folders)
}

// walk visits files depth first in sorted order.
func (f *Folder) walk(fn func(*File) error) error {
	for _, file := range f.Files() {
		if err := fn(file); err != nil {
			return err
		}
	}
	for _, child := range f.Folders() {
		if err := child.walk(fn); err != nil {
			return err
		}
	}
	return nil
}

// removeFile drops file from f if it is still the child under its name.
func (f *Folder) removeFile(file *File) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.files[file.canonical] == file {
		delete(f.files, file.canonical)
	}
}

// adoptFile places file under f, replacing any file with the same canonical
// name. The caller has already pointed file at f.
func (f *Folder) adoptFile(file *File) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[file.canonical] = file
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
