// Package local implements a storage medium backed by a directory on disk,
// optionally tracked by a git repository.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/storage"
)

const (
	// File and directory permissions.
	dirPerm  = 0750 // Directory permissions: rwxr-x---
	filePerm = 0600 // File permissions: rw-------

	gitDir = ".git"

	defaultAuthorName  = "packfs"
	defaultAuthorEmail = "packfs@localhost"
)

// Author identifies who commits saved files.
type Author struct {
	Name  string
	Email string
}

// Storage is a file tree whose medium is a local directory.
type Storage struct {
	*storage.Storage
	disk *disk
}

// Option configures a local Storage.
type Option func(*config)

type config struct {
	logger      *slog.Logger
	git         bool
	author      Author
	storageOpts []storage.Option
}

// WithLogger sets a custom logger for the medium and its storage.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithGit opens the directory as a git repository, creating one if needed,
// so saved files can be committed.
func WithGit(author Author) Option {
	return func(c *config) {
		c.git = true
		c.author = author
	}
}

// WithStorageOptions passes options through to the underlying storage.
func WithStorageOptions(opts ...storage.Option) Option {
	return func(c *config) {
		c.storageOpts = append(c.storageOpts, opts...)
	}
}

// New creates a storage rooted at path, creating the directory if needed.
func New(path string, opts ...Option) (*Storage, error) {
	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	if err := os.MkdirAll(path, dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	d := &disk{
		rootPath: path,
		logger:   cfg.logger,
		author:   cfg.author,
	}
	if d.author.Name == "" {
		d.author.Name = defaultAuthorName
	}
	if d.author.Email == "" {
		d.author.Email = defaultAuthorEmail
	}

	if cfg.git {
		repo, err := openOrCreateRepo(path)
		if err != nil {
			return nil, err
		}
		d.repo = repo
	}

	storageOpts := append([]storage.Option{storage.WithLogger(cfg.logger)}, cfg.storageOpts...)
	return &Storage{Storage: storage.New(d, storageOpts...), disk: d}, nil
}

// RootPath returns the directory backing the storage.
func (s *Storage) RootPath() string {
	return s.disk.rootPath
}

// FS returns an fs.FS view of the directory.
func (s *Storage) FS() fs.FS {
	return os.DirFS(s.disk.rootPath)
}

// Commit stages every change in the directory and commits it. It reports
// whether a commit was created; a clean worktree creates none.
func (s *Storage) Commit(ctx context.Context, message string) (bool, error) {
	return s.disk.commit(ctx, message)
}

// disk is the storage.Backend over a directory.
type disk struct {
	rootPath string
	logger   *slog.Logger
	author   Author

	// mu guards the repository; files are already serialized by the storage.
	mu   sync.Mutex
	repo *git.Repository
}

func (d *disk) fullPath(rel string) string {
	return filepath.Join(d.rootPath, filepath.FromSlash(rel))
}

func folderPath(folder *storage.Folder) string {
	return folder.Path()[len(storage.Separator):]
}

// LoadFolder adds the directory's entries as children of folder.
func (d *disk) LoadFolder(ctx context.Context, folder *storage.Folder) error {
	dir := folderPath(folder)
	d.logger.DebugContext(ctx, "listing directory", "dir", dir)

	entries, err := os.ReadDir(d.fullPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			d.logger.DebugContext(ctx, "directory does not exist", "dir", dir)
			return nil
		}
		return fmt.Errorf("read dir %s: %w", dir, err)
	}

	count := 0
	for _, entry := range entries {
		if folder.IsRoot() && entry.Name() == gitDir {
			continue
		}
		if err := storage.ValidateName(entry.Name()); err != nil {
			d.logger.DebugContext(ctx, "skipping entry", "dir", dir, "name", entry.Name(), "error", err)
			continue
		}

		switch {
		case entry.IsDir():
			_, err = folder.EnsureFolder(entry.Name())
		case entry.Type().IsRegular():
			_, err = folder.EnsureFile(entry.Name())
		default:
			continue
		}
		if err != nil {
			return err
		}
		count++
	}

	d.logger.DebugContext(ctx, "list directory complete", "dir", dir, "count", count)
	return nil
}

// FolderExists reports whether the folder's directory exists.
func (d *disk) FolderExists(_ context.Context, folder *storage.Folder) (bool, error) {
	info, err := os.Stat(d.fullPath(folderPath(folder)))
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// FileExists reports whether the file exists on disk.
func (d *disk) FileExists(_ context.Context, file *storage.File) (bool, error) {
	info, err := os.Stat(d.fullPath(file.RelativePath()))
	if err == nil {
		return info.Mode().IsRegular(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ReadFile reads the file from disk.
func (d *disk) ReadFile(ctx context.Context, file *storage.File) ([]byte, error) {
	path := file.RelativePath()
	d.logger.DebugContext(ctx, "reading file", "path", path)

	data, err := os.ReadFile(d.fullPath(path)) //nolint:gosec // path is built from validated node names
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("read file %s: %w", path, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	d.logger.DebugContext(ctx, "read file complete", "path", path, "size", len(data))
	return data, nil
}

// WriteFile writes the file, creating parent directories.
func (d *disk) WriteFile(ctx context.Context, file *storage.File, data []byte) error {
	path := file.RelativePath()
	d.logger.DebugContext(ctx, "writing file", "path", path, "size", len(data))

	fullPath := d.fullPath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), dirPerm); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.WriteFile(fullPath, data, filePerm); err != nil {
		return fmt.Errorf("write file %s: %w", path, err)
	}

	d.logger.DebugContext(ctx, "write file complete", "path", path)
	return nil
}

// DeleteFile removes the file. A file that was never written is not an error.
func (d *disk) DeleteFile(ctx context.Context, file *storage.File) error {
	path := file.RelativePath()
	d.logger.DebugContext(ctx, "deleting file", "path", path)

	if err := os.Remove(d.fullPath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete file %s: %w", path, err)
	}
	return nil
}

// MoveFile renames the file to dest, creating parent directories.
func (d *disk) MoveFile(ctx context.Context, file *storage.File, dest string) error {
	path := file.RelativePath()
	d.logger.DebugContext(ctx, "moving file", "path", path, "dest", dest)

	target := d.fullPath(dest)
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	if err := os.Rename(d.fullPath(path), target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("move file %s: %w", path, err)
	}
	return nil
}

func (d *disk) commit(ctx context.Context, message string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.repo == nil {
		return false, fmt.Errorf("commit: %w", apperrors.ErrNotSupported)
	}

	worktree, err := d.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("get worktree: %w", err)
	}

	// Stage all changes in the worktree (equivalent to git add -A)
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return false, fmt.Errorf("git add: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("get status: %w", err)
	}

	hasChanges := false
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			hasChanges = true
			break
		}
	}
	if !hasChanges {
		d.logger.DebugContext(ctx, "nothing to commit")
		return false, nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  d.author.Name,
			Email: d.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}

	d.logger.InfoContext(ctx, "committed", "hash", hash.String(), "message", message)
	return true, nil
}

// openOrCreateRepo opens an existing repository or creates a new one.
func openOrCreateRepo(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open git repo: %w", err)
	}

	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init git repo: %w", err)
	}
	return repo, nil
}
