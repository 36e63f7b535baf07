package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/storage"
)

// Generate flushes dirty files into the arena and writes every file of the
// tree to w as a new archive, deflated at best compression. Entries that
// were never modified are passed through from the source archive. Folders
// without children get a directory entry so they survive a reload.
func (s *Storage) Generate(ctx context.Context, w io.Writer) error {
	if s.State() != StateLoaded {
		return apperrors.ErrNotLoaded
	}

	if _, err := s.SaveAll(ctx); err != nil {
		return fmt.Errorf("flush before generate: %w", err)
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	written := 0
	err := s.Walk(func(file *storage.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, modified, ok, err := s.engine.payload(file)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		header := &zip.FileHeader{
			Name:     file.RelativePath(),
			Method:   zip.Deflate,
			Modified: modified,
		}
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", header.Name, err)
		}
		if _, err := fw.Write(data); err != nil {
			return fmt.Errorf("write entry %s: %w", header.Name, err)
		}
		written++
		return nil
	})
	if err == nil {
		err = writeEmptyFolders(ctx, zw, s.Root(), &written)
	}
	if err != nil {
		_ = zw.Close()
		return err
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}

	s.Logger().DebugContext(ctx, "archive generated", "entries", written)
	return nil
}

// writeEmptyFolders adds a directory entry for every childless folder
// below folder. Non-empty folders are implied by the paths of their files.
func writeEmptyFolders(ctx context.Context, zw *zip.Writer, folder *storage.Folder, written *int) error {
	for _, sub := range folder.Folders() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if sub.Count() > 0 {
			if err := writeEmptyFolders(ctx, zw, sub, written); err != nil {
				return err
			}
			continue
		}

		header := &zip.FileHeader{
			Name:   strings.TrimPrefix(sub.Path(), storage.Separator),
			Method: zip.Store,
		}
		header.SetMode(fs.ModeDir | 0o755)
		if _, err := zw.CreateHeader(header); err != nil {
			return fmt.Errorf("create entry %s: %w", header.Name, err)
		}
		*written++
	}
	return nil
}

// GenerateBytes is Generate into memory.
func (s *Storage) GenerateBytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.Generate(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// payload returns the bytes to write for file and whether it has any.
func (e *engine) payload(file *storage.File) ([]byte, time.Time, bool, error) {
	// The storage guard is always taken before e.mu, never after.
	modified := file.Modified()
	if modified.IsZero() {
		modified = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	en := e.lookup(file)
	switch {
	case en == nil:
		return nil, time.Time{}, false, nil
	case en.written:
		return en.data, modified, true, nil
	case en.zf != nil:
		data, err := e.inflate(en.zf)
		if err != nil {
			return nil, time.Time{}, false, err
		}
		return data, en.zf.Modified, true, nil
	default:
		return nil, time.Time{}, false, nil
	}
}
