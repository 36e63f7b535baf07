package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fclairamb/packfs/internal/apperrors"
)

var errMedium = errors.New("medium unavailable")

// memBackend is an in-memory medium keyed by relative path.
type memBackend struct {
	mu      sync.Mutex
	files   map[string][]byte
	reads   int
	writes  int
	failing bool
}

func newMemBackend(files map[string]string) *memBackend {
	b := &memBackend{files: make(map[string][]byte)}
	for k, v := range files {
		b.files[k] = []byte(v)
	}
	return b
}

func (b *memBackend) LoadFolder(_ context.Context, folder *Folder) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := strings.TrimPrefix(folder.Path(), Separator)
	for p := range b.files {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		head, _, nested := strings.Cut(rest, Separator)
		var err error
		if nested {
			_, err = folder.EnsureFolder(head)
		} else {
			_, err = folder.EnsureFile(head)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *memBackend) FolderExists(_ context.Context, folder *Folder) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := strings.TrimPrefix(folder.Path(), Separator)
	for p := range b.files {
		if strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return folder.IsRoot(), nil
}

func (b *memBackend) FileExists(_ context.Context, file *File) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.files[file.RelativePath()]
	return ok, nil
}

func (b *memBackend) ReadFile(_ context.Context, file *File) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.reads++
	if b.failing {
		return nil, errMedium
	}
	data, ok := b.files[file.RelativePath()]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (b *memBackend) WriteFile(_ context.Context, file *File, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failing {
		return errMedium
	}
	b.writes++
	b.files[file.RelativePath()] = append([]byte(nil), data...)
	return nil
}

func (b *memBackend) DeleteFile(_ context.Context, file *File) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.files[file.RelativePath()]; !ok {
		return apperrors.ErrNotFound
	}
	delete(b.files, file.RelativePath())
	return nil
}

func (b *memBackend) MoveFile(_ context.Context, file *File, dest string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.files[file.RelativePath()]
	if !ok {
		return apperrors.ErrNotFound
	}
	delete(b.files, file.RelativePath())
	b.files[path.Clean(dest)] = data
	return nil
}

func (b *memBackend) get(p string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, ok := b.files[p]
	return string(data), ok
}

func setupStorage(t *testing.T, files map[string]string, opts ...Option) (*Storage, *memBackend) {
	t.Helper()

	b := newMemBackend(files)
	return New(b, opts...), b
}

func TestEnsure_CanonicalDeduplication(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	root := s.Root()

	first, err := root.EnsureFolder("Textures")
	require.NoError(t, err)
	second, err := root.EnsureFolder(" textures ")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, "Textures", second.Name())

	f1, err := root.EnsureFileFromPath("TEXTURES/Stone.PNG")
	require.NoError(t, err)
	f2, err := root.EnsureFileFromPath(`textures\stone.png`)
	require.NoError(t, err)
	assert.Same(t, f1, f2)
	assert.Same(t, first, f1.Parent())
	assert.Equal(t, 1, root.Count())
	assert.Equal(t, 1, first.Count())

	// Folders and files live in separate namespaces.
	sameName, err := first.EnsureFolder("stone.png")
	require.NoError(t, err)
	assert.Equal(t, 2, first.Count())
	assert.Equal(t, "/Textures/stone.png/", sameName.Path())
}

func TestEnsure_RejectsInvalidNames(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	root := s.Root()

	tests := []struct {
		name string
		want error
	}{
		{name: "", want: apperrors.ErrEmptyName},
		{name: "   ", want: apperrors.ErrEmptyName},
		{name: ".", want: apperrors.ErrInvalidName},
		{name: "..", want: apperrors.ErrInvalidName},
		{name: "a/b", want: apperrors.ErrInvalidName},
		{name: `a\b`, want: apperrors.ErrInvalidName},
		{name: "a\x00b", want: apperrors.ErrInvalidName},
	}

	for _, tt := range tests {
		_, err := root.EnsureFile(tt.name)
		require.ErrorIs(t, err, tt.want, "file %q", tt.name)
		_, err = root.EnsureFolder(tt.name)
		require.ErrorIs(t, err, tt.want, "folder %q", tt.name)
	}
	assert.Zero(t, root.Count())

	_, err := root.EnsureFileFromPath("a/../b.json")
	require.ErrorIs(t, err, apperrors.ErrInvalidName)
}

func TestPaths(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	root := s.Root()

	assert.Equal(t, "/", root.Path())
	assert.True(t, root.IsRoot())
	assert.Nil(t, root.Parent())

	f, err := root.EnsureFileFromPath("/a/b/c.JSON")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c.JSON", f.Path())
	assert.Equal(t, "a/b/c.JSON", f.RelativePath())
	assert.Equal(t, ".json", f.Extension())
	assert.Equal(t, EncodingText, f.Encoding())
	assert.Equal(t, "/a/b/", f.Parent().Path())
	assert.Equal(t, "/a/", f.Parent().Parent().Path())
	assert.Same(t, s, f.Storage())
	assert.Equal(t, NoRef, f.Ref())

	folder, err := root.FolderFromPath("a/b/")
	require.NoError(t, err)
	assert.Same(t, f.Parent(), folder)

	again, err := root.FileFromPath("A/B/c.json")
	require.NoError(t, err)
	assert.Same(t, f, again)
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	root := s.Root()
	_, err := root.EnsureFileFromPath("a/b.json")
	require.NoError(t, err)

	_, err = root.File("missing.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = root.FileFromPath("a/missing.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = root.FileFromPath("x/b.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = root.FolderFromPath("a/b.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)

	var pathErr *PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "/a/b.json", pathErr.Path)

	assert.Equal(t, 1, root.Count(), "lookups never create nodes")
}

func TestLoad(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, map[string]string{
		"manifest.json":    "{}",
		"items/apple.json": "{}",
	})
	root := s.Root()
	assert.False(t, root.IsLoaded())

	require.NoError(t, s.Load(ctx))
	assert.True(t, root.IsLoaded())
	assert.Len(t, root.Files(), 1)
	assert.Len(t, root.Folders(), 1)

	items, err := root.Folder("items")
	require.NoError(t, err)
	assert.False(t, items.IsLoaded())
	require.NoError(t, items.Load(ctx, false))
	assert.Len(t, items.Files(), 1)

	first := root.LastProcessed()
	require.NoError(t, root.Load(ctx, false))
	assert.Equal(t, first, root.LastProcessed())

	time.Sleep(time.Millisecond)
	require.NoError(t, root.Load(ctx, true))
	assert.True(t, root.LastProcessed().After(first))
}

func TestLoadContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.txt": "hello"})
	f, err := s.Root().EnsureFile("a.txt")
	require.NoError(t, err)

	assert.False(t, f.IsContentLoaded())
	loadedAt, err := f.LoadContent(ctx, false)
	require.NoError(t, err)
	assert.False(t, loadedAt.IsZero())
	assert.Equal(t, "hello", f.Text())
	assert.True(t, f.HasContent())

	again, err := f.LoadContent(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, loadedAt, again)
	assert.Equal(t, 1, b.reads)
}

func TestLoadContent_AbsentFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, nil)
	f, err := s.Root().EnsureFile("new.json")
	require.NoError(t, err)

	_, err = f.LoadContent(ctx, false)
	require.NoError(t, err)
	assert.True(t, f.IsContentLoaded())
	assert.False(t, f.HasContent())
	assert.Nil(t, f.Content())

	exists, err := f.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadContent_FailureKeepsContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.txt": "hello"})
	f, err := s.Root().EnsureFile("a.txt")
	require.NoError(t, err)
	_, err = f.LoadContent(ctx, false)
	require.NoError(t, err)

	b.mu.Lock()
	b.failing = true
	b.mu.Unlock()

	_, err = f.LoadContent(ctx, true)
	require.ErrorIs(t, err, errMedium)
	assert.Equal(t, "hello", f.Text())
}

func TestLoadContent_ForcedReloadNotifies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.json": `{"a":1}`})
	f, err := s.Root().EnsureFile("a.json")
	require.NoError(t, err)
	_, err = f.LoadContent(ctx, false)
	require.NoError(t, err)

	var kinds []UpdateKind
	f.OnContentUpdated().Subscribe(func(u ContentUpdate) {
		assert.Same(t, f, u.File)
		kinds = append(kinds, u.Kind)
	})

	// Same structure, no notification.
	b.mu.Lock()
	b.files["a.json"] = []byte(`{ "a" : 1 }`)
	b.mu.Unlock()
	_, err = f.LoadContent(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, kinds)

	b.mu.Lock()
	b.files["a.json"] = []byte(`{"a":2}`)
	b.mu.Unlock()
	_, err = f.LoadContent(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []UpdateKind{UpdateExternal}, kinds)
}

func TestSetContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.json": `{"a":1}`})
	f, err := s.Root().EnsureFile("a.json")
	require.NoError(t, err)

	var kinds []UpdateKind
	unsubscribe := f.OnContentUpdated().Subscribe(func(u ContentUpdate) {
		kinds = append(kinds, u.Kind)
	})
	defer unsubscribe()

	changed, err := f.SetText(ctx, "{\n  \"a\": 1\n}\n", UpdateEdit)
	require.NoError(t, err)
	assert.False(t, changed, "whitespace-only change")
	assert.False(t, f.NeedsSave())
	assert.True(t, s.LastModified().IsZero())
	assert.Empty(t, kinds)
	assert.Equal(t, 1, b.reads, "the baseline is fetched before comparing")

	changed, err = f.SetText(ctx, `{"a":2}`, UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, f.NeedsSave())
	assert.False(t, f.Modified().IsZero())
	assert.Equal(t, f.Modified(), s.LastModified())
	assert.Equal(t, []UpdateKind{UpdateEdit}, kinds)

	changed, err = f.SetText(ctx, `{"a":3}`, UpdatePersist)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, []UpdateKind{UpdateEdit}, kinds, "persist writes are not dispatched")

	stored, _ := b.get("a.json")
	assert.JSONEq(t, `{"a":1}`, stored, "nothing is written before a save")
}

func TestSetContent_CopiesInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, nil)
	f, err := s.Root().EnsureFile("a.bin")
	require.NoError(t, err)

	data := []byte{1, 2, 3}
	_, err = f.SetContent(ctx, data, UpdateEdit)
	require.NoError(t, err)
	data[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, f.Content())
}

func TestSetContent_EmptyVersusAbsent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, nil)
	f, err := s.Root().EnsureFile("empty.txt")
	require.NoError(t, err)

	changed, err := f.SetContent(ctx, []byte{}, UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed, "creating empty content is a change")
	assert.True(t, f.HasContent())
}

func TestContentEqual(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		file string
		a, b string
		want bool
	}{
		{name: "json layout", file: "a.json", a: `{"a":1}`, b: "{\n  \"a\": 1\n}\n", want: true},
		{name: "json comment", file: "a.json", a: `{"a":1}`, b: "{\"a\":1} // note", want: true},
		{name: "json trailing value", file: "a.json", a: `{"a":1}`, b: `{"a":1} {"b":2}`},
		{name: "json trailing garbage", file: "a.json", a: `{"a":1}`, b: `{"a":1} trailing-garbage`},
		{name: "yaml layout", file: "a.yaml", a: "a: 1\n", b: "a:   1\n", want: true},
		{name: "yaml extra document", file: "a.yaml", a: "a: 1\n", b: "a: 1\n---\nb: 2\n"},
		{name: "yaml documents", file: "a.yml", a: "a: 1\n---\nb: 2\n", b: "a: 1\n---\nb:  2\n", want: true},
		{name: "yaml garbage", file: "a.yaml", a: "a: 1\n", b: "a: 1\n---\n[unclosed\n"},
		{name: "text", file: "a.txt", a: "a", b: "a ", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ContentEqual(tt.file, []byte(tt.a), []byte(tt.b)))
		})
	}
}

func TestSetContent_TrailingDataIsAChange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, map[string]string{"a.json": `{"a":1}`, "a.yaml": "a: 1\n"})

	jsonFile, err := s.Root().EnsureFile("a.json")
	require.NoError(t, err)
	changed, err := jsonFile.SetText(ctx, `{"a":1} {"b":2} trailing-garbage`, UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, jsonFile.NeedsSave())
	assert.Equal(t, `{"a":1} {"b":2} trailing-garbage`, jsonFile.Text())

	yamlFile, err := s.Root().EnsureFile("a.yaml")
	require.NoError(t, err)
	changed, err = yamlFile.SetText(ctx, "a: 1\n---\nb: 2\n", UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, yamlFile.NeedsSave())
}

func TestSaveContent_AbsentContentDeletesFromMedium(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.txt": "x"})
	f, err := s.Root().EnsureFile("a.txt")
	require.NoError(t, err)

	changed, err := f.SetContent(ctx, nil, UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, f.NeedsSave())

	require.NoError(t, f.SaveContent(ctx, false))
	assert.False(t, f.NeedsSave())
	_, ok := b.get("a.txt")
	assert.False(t, ok)
	assert.Zero(t, b.writes)

	// Already absent on the medium.
	require.NoError(t, f.SaveContent(ctx, true))
}

func TestSaveContent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, nil)
	f, err := s.Root().EnsureFileFromPath("items/apple.json")
	require.NoError(t, err)

	require.NoError(t, f.SaveContent(ctx, false))
	assert.Zero(t, b.writes, "clean files are not written")

	_, err = f.SetText(ctx, `{"id":"apple"}`, UpdateEdit)
	require.NoError(t, err)
	require.NoError(t, f.SaveContent(ctx, false))
	assert.False(t, f.NeedsSave())
	assert.Equal(t, 1, b.writes)

	stored, ok := b.get("items/apple.json")
	require.True(t, ok)
	assert.Equal(t, `{"id":"apple"}`, stored)

	require.NoError(t, f.SaveContent(ctx, true))
	assert.Equal(t, 2, b.writes)

	exists, err := f.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveContent_Failure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, nil)
	f, err := s.Root().EnsureFile("a.txt")
	require.NoError(t, err)
	_, err = f.SetText(ctx, "a", UpdateEdit)
	require.NoError(t, err)

	b.mu.Lock()
	b.failing = true
	b.mu.Unlock()

	require.ErrorIs(t, f.SaveContent(ctx, false), errMedium)
	assert.True(t, f.NeedsSave())
}

func TestReadOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.txt": "a"}, WithReadOnly(true))
	assert.True(t, s.IsReadOnly())

	f, err := s.Root().EnsureFile("a.txt")
	require.NoError(t, err)

	changed, err := f.SetText(ctx, "b", UpdateEdit)
	require.NoError(t, err)
	assert.True(t, changed)

	require.ErrorIs(t, f.SaveContent(ctx, false), apperrors.ErrReadOnly)
	assert.Zero(t, b.writes)

	_, err = s.SaveAll(ctx)
	require.ErrorIs(t, err, apperrors.ErrReadOnly)
}

func TestSaveAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, nil, WithWriteLimit(rate.Inf, 1))

	for _, p := range []string{"a.txt", "b/c.txt", "b/d/e.txt"} {
		f, err := s.Root().EnsureFileFromPath(p)
		require.NoError(t, err)
		_, err = f.SetText(ctx, p, UpdateEdit)
		require.NoError(t, err)
	}
	_, err := s.Root().EnsureFile("untouched.txt")
	require.NoError(t, err)

	assert.Len(t, s.DirtyFiles(), 3)

	saved, err := s.SaveAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, saved)
	assert.Empty(t, s.DirtyFiles())
	assert.Equal(t, 3, b.writes)

	stored, _ := b.get("b/d/e.txt")
	assert.Equal(t, "b/d/e.txt", stored)
}

func TestSaveAll_CanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil, WithWriteLimit(rate.Every(time.Hour), 1))
	ctx, cancel := context.WithCancel(context.Background())

	for _, p := range []string{"a.txt", "b.txt"} {
		f, err := s.Root().EnsureFile(p)
		require.NoError(t, err)
		_, err = f.SetText(ctx, p, UpdateEdit)
		require.NoError(t, err)
	}

	cancel()
	saved, err := s.SaveAll(ctx)
	require.Error(t, err)
	assert.Less(t, saved, 2)
}

func TestWalkOrder(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	for _, p := range []string{"z.txt", "b/y.txt", "a/x.txt", "a.txt", "a/c/w.txt"} {
		_, err := s.Root().EnsureFileFromPath(p)
		require.NoError(t, err)
	}

	var visited []string
	require.NoError(t, s.Walk(func(f *File) error {
		visited = append(visited, f.Path())
		return nil
	}))
	assert.Equal(t, []string{"/a.txt", "/z.txt", "/a/x.txt", "/a/c/w.txt", "/b/y.txt"}, visited)

	stop := errors.New("stop")
	count := 0
	err := s.Walk(func(*File) error {
		count++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestHash(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, map[string]string{"a.txt": "abc", "b.txt": "abc", "c.txt": "abd"})
	hashOf := func(name string) string {
		f, err := s.Root().EnsureFile(name)
		require.NoError(t, err)
		h, err := f.Hash(ctx)
		require.NoError(t, err)
		return h
	}

	a := hashOf("a.txt")
	assert.Len(t, a, 64)
	assert.Equal(t, a, hashOf("b.txt"))
	assert.NotEqual(t, a, hashOf("c.txt"))
}

func TestMoveTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a/b.json": "{}"})
	f, err := s.Root().EnsureFileFromPath("a/b.json")
	require.NoError(t, err)
	oldParent := f.Parent()

	require.NoError(t, f.MoveTo(ctx, "c/d/B2.json"))
	assert.Equal(t, "/c/d/B2.json", f.Path())
	assert.Zero(t, oldParent.Count())

	moved, err := s.Root().FileFromPath("c/d/b2.json")
	require.NoError(t, err)
	assert.Same(t, f, moved)

	_, ok := b.get("c/d/B2.json")
	assert.True(t, ok)
	_, ok = b.get("a/b.json")
	assert.False(t, ok)
	assert.False(t, s.LastModified().IsZero())

	require.ErrorIs(t, f.MoveTo(ctx, "c/"), apperrors.ErrEmptyName)
}

func TestMoveTo_ConcurrentPathReads(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, _ := setupStorage(t, map[string]string{"a/b.json": "{}"})
	f, err := s.Root().EnsureFileFromPath("a/b.json")
	require.NoError(t, err)

	done := make(chan struct{})
	var seen []string
	go func() {
		defer close(done)
		for range 100 {
			seen = append(seen, f.Path())
		}
	}()

	require.NoError(t, f.MoveTo(ctx, "c/d.json"))
	<-done

	for _, p := range seen {
		assert.Contains(t, []string{"/a/b.json", "/c/d.json"}, p)
	}
	assert.Equal(t, "/c/d.json", f.Path())
	assert.Equal(t, "d.json", f.Name())
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a/b.json": "{}"})
	f, err := s.Root().EnsureFileFromPath("a/b.json")
	require.NoError(t, err)
	f.LoadOrAttach(func() any { return "manager" })

	require.NoError(t, f.Delete(ctx))
	_, err = s.Root().FileFromPath("a/b.json")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	_, ok := b.get("a/b.json")
	assert.False(t, ok)
	assert.Nil(t, f.Attachment())

	require.ErrorIs(t, f.Delete(ctx), apperrors.ErrNotFound)
}

func TestDelete_RejectsLaterWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, b := setupStorage(t, map[string]string{"a.json": `{"a":1}`})
	f, err := s.Root().EnsureFile("a.json")
	require.NoError(t, err)
	_, err = f.LoadContent(ctx, false)
	require.NoError(t, err)

	require.NoError(t, f.Delete(ctx))

	_, err = f.SetText(ctx, `{"a":2}`, UpdateEdit)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.ErrorIs(t, f.SaveContent(ctx, true), apperrors.ErrNotFound)
	_, err = f.LoadContent(ctx, true)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.ErrorIs(t, f.MoveTo(ctx, "b.json"), apperrors.ErrNotFound)

	assert.False(t, f.NeedsSave())
	_, ok := b.get("a.json")
	assert.False(t, ok)
	assert.Zero(t, b.writes)
}

func TestAttachment(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	f, err := s.Root().EnsureFile("a.json")
	require.NoError(t, err)

	assert.Nil(t, f.Attachment())

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	results := make([]any, 16)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.LoadOrAttach(func() any {
				mu.Lock()
				defer mu.Unlock()
				created++
				return &created
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	for _, r := range results {
		assert.Same(t, &created, r)
	}

	assert.False(t, f.Detach(new(int)), "a different value is not detached")
	assert.True(t, f.Detach(&created))
	assert.Nil(t, f.Attachment())
	assert.False(t, f.Detach(nil))
}

func TestStatus(t *testing.T) {
	t.Parallel()

	s, _ := setupStorage(t, nil)
	assert.Equal(t, StatusOK, s.Status())

	s.SetError(errors.New("broken archive"))
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, "broken archive", s.ErrorMessage())

	s.SetError(nil)
	assert.Equal(t, StatusOK, s.Status())
	assert.Empty(t, s.ErrorMessage())
}
