// Package definition binds one cached, parsed representation (a Manager) to
// a storage File. A Manager loads once, writes back through the File's
// structural comparison, and drops its cache when the File is updated by
// anyone else.
package definition

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/fclairamb/packfs/internal/apperrors"
	"github.com/fclairamb/packfs/internal/event"
	"github.com/fclairamb/packfs/internal/metrics"
	"github.com/fclairamb/packfs/internal/storage"
)

// Manager is a parsed representation of a file's content.
type Manager interface {
	File() *storage.File
	IsLoaded() bool
	OnLoaded() *event.Dispatcher[struct{}]
	Load(ctx context.Context) error
	Persist(ctx context.Context) error
	Save(ctx context.Context) error
	Invalidate()
}

// slot is what a File carries as its attachment. The type is fixed when
// the slot is created; the manager is built at most once.
type slot struct {
	typ  reflect.Type
	once sync.Once

	mu          sync.Mutex
	manager     Manager
	unsubscribe func()
	detached    bool
}

func (s *slot) current() Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manager
}

// build runs newFn and binds the result unless the slot was detached
// meanwhile.
func (s *slot) build(file *storage.File, newFn func() Manager) {
	m := newFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.detached {
		return
	}
	s.manager = m
	s.unsubscribe = file.OnContentUpdated().Subscribe(func(u storage.ContentUpdate) {
		if u.Kind == storage.UpdatePersist {
			return
		}
		if m.IsLoaded() {
			metrics.RecordManagerInvalidation()
		}
		m.Invalidate()
	})
}

// close marks the slot detached and returns the manager it held.
func (s *slot) close() Manager {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detached = true
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
	return s.manager
}

// maxSlotRetries bounds how often Ensure starts over after racing a Detach.
const maxSlotRetries = 3

// Ensure returns the Manager of type M attached to file, constructing it
// with newFn on first use, and loads it if needed. Concurrent callers for
// the same file share one instance. onLoaded, when not nil, is called once
// if this call triggers the load that completes it; it is not called for
// a Manager that was already loaded.
func Ensure[M Manager](ctx context.Context, file *storage.File, newFn func(*storage.File) M, onLoaded func(M)) (M, error) {
	var zero M

	m, err := attach(file, newFn)
	if err != nil {
		return zero, err
	}

	if m.IsLoaded() {
		return m, nil
	}

	var unsubscribe func()
	if onLoaded != nil {
		unsubscribe = m.OnLoaded().SubscribeOnce(func(struct{}) { onLoaded(m) })
	}
	err = m.Load(ctx)
	if unsubscribe != nil {
		// Loaded by someone else in between: the handler belongs to no cycle.
		unsubscribe()
	}
	if err != nil {
		return m, err
	}

	return m, nil
}

// Attached returns the Manager of type M on file without creating or
// loading one.
func Attached[M Manager](file *storage.File) (M, bool) {
	var zero M

	s, ok := file.Attachment().(*slot)
	if !ok || s.typ != reflect.TypeFor[M]() {
		return zero, false
	}
	m, ok := s.current().(M)
	return m, ok
}

// Detach drops file's Manager. The next Ensure builds a fresh one. It
// reports whether a Manager was attached.
func Detach(file *storage.File) bool {
	s, ok := file.Attachment().(*slot)
	if !ok || !file.Detach(s) {
		return false
	}

	m := s.close()
	if d, ok := m.(interface{ detach() }); ok {
		d.detach()
	}
	return m != nil
}

func attach[M Manager](file *storage.File, newFn func(*storage.File) M) (M, error) {
	var zero M
	typ := reflect.TypeFor[M]()

	for range maxSlotRetries {
		s, ok := file.LoadOrAttach(func() any { return &slot{typ: typ} }).(*slot)
		if !ok || s.typ != typ {
			return zero, &storage.PathError{Op: "ensure manager", Path: file.Path(), Err: apperrors.ErrManagerTypeMismatch}
		}

		s.once.Do(func() {
			s.build(file, func() Manager { return newFn(file) })
		})

		// No manager means the slot was detached before construction finished.
		if m, ok := s.current().(M); ok {
			return m, nil
		}
	}

	return zero, fmt.Errorf("ensure manager %s: %w", file.Path(), apperrors.ErrNotAttached)
}
