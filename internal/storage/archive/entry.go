package archive

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/klauspost/compress/zip"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/metrics"
	"github.com/fclairamb/packfs/internal/security"
	"github.com/fclairamb/packfs/internal/storage"
)

// lookup returns the arena entry bound to file; the caller holds e.mu.
func (e *engine) lookup(file *storage.File) *entry {
	ref := file.Ref()
	if ref < 0 || ref >= len(e.entries) {
		return nil
	}
	return e.entries[ref]
}

// ReadFile returns the write-back value when there is one, otherwise it
// inflates the archive entry.
func (e *engine) ReadFile(ctx context.Context, file *storage.File) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookup(file)
	switch {
	case en == nil:
		return nil, apperrors.ErrNotFound
	case en.written:
		return slices.Clone(en.data), nil
	case en.zf == nil:
		return nil, apperrors.ErrNotFound
	}

	data, err := e.inflate(en.zf)
	if err != nil {
		return nil, err
	}
	en.fetched = true

	e.logger.DebugContext(ctx, "inflated entry",
		"path", file.Path(),
		"encoding", file.Encoding().String(),
		"size", len(data))
	return data, nil
}

// inflate decompresses zf, refusing to produce more than the header
// declared or more than the per-file limit.
func (e *engine) inflate(zf *zip.File) ([]byte, error) {
	limit := int64(zf.UncompressedSize64)
	if e.limits.MaxFileSize > 0 && limit > e.limits.MaxFileSize {
		limit = e.limits.MaxFileSize
	}

	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open entry %s: %w", apperrors.ErrUnprocessable, security.SanitizePath(zf.Name), err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: inflate entry %s: %w", apperrors.ErrUnprocessable, security.SanitizePath(zf.Name), err)
	}
	if int64(len(data)) > limit {
		return nil, &security.LimitError{Limit: "inflated size", Actual: int64(len(data)), Max: limit}
	}

	metrics.RecordDecompressed(len(data))
	return data, nil
}

// WriteFile stores data in the entry's write-back slot, allocating a new
// entry for files that did not come from the archive.
func (e *engine) WriteFile(ctx context.Context, file *storage.File, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLoaded {
		return apperrors.ErrNotLoaded
	}

	en := e.lookup(file)
	if en == nil {
		en = &entry{}
		e.entries = append(e.entries, en)
		file.SetRef(len(e.entries) - 1)
		e.logger.DebugContext(ctx, "new archive entry", "path", file.Path())
	}

	en.data = slices.Clone(data)
	en.written = true
	return nil
}

// FileExists reports whether the file is backed by an entry with content.
func (e *engine) FileExists(_ context.Context, file *storage.File) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookup(file)
	return en != nil && (en.zf != nil || en.written), nil
}

// FolderExists reports whether the folder is part of the loaded tree.
func (e *engine) FolderExists(_ context.Context, folder *storage.Folder) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateLoaded {
		return false, nil
	}
	return folder.IsRoot() || folder.Count() > 0, nil
}

// DeleteFile is not available on archives.
func (e *engine) DeleteFile(context.Context, *storage.File) error {
	return fmt.Errorf("archive delete: %w", apperrors.ErrNotSupported)
}

// MoveFile is not available on archives.
func (e *engine) MoveFile(context.Context, *storage.File, string) error {
	return fmt.Errorf("archive move: %w", apperrors.ErrNotSupported)
}
