package accessory

import (
	"sync"

	"github.com/tphakala/audiorm/internal/errors"
)

// Library is an owned handle to a loaded shared object. Close is
// idempotent and safe to defer on every path.
type Library struct {
	path   string
	mu     sync.Mutex
	handle uintptr
}

// Load opens the shared library at path with immediate symbol binding.
func Load(path string) (*Library, error) {
	if path == "" {
		return nil, errors.Newf("plugin path is empty").
			Category(errors.CategoryValidation).
			Build()
	}
	h, err := dlopen(path)
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryPlugin).
			Context("operation", "load").
			Context("path", path).
			Build()
	}
	return &Library{path: path, handle: h}, nil
}

// Path returns the file the library was loaded from.
func (l *Library) Path() string { return l.path }

// Symbol resolves an exported function.
func (l *Library) Symbol(name string) (uintptr, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return 0, errors.Newf("library %s is closed", l.path).
			Category(errors.CategoryState).
			Build()
	}
	sym, err := dlsym(l.handle, name)
	if err != nil {
		return 0, errors.New(err).
			Category(errors.CategoryPlugin).
			Context("operation", "resolve").
			Context("symbol", name).
			Context("path", l.path).
			Build()
	}
	return sym, nil
}

// Close unloads the library. Calls after the first return nil.
func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return nil
	}
	h := l.handle
	l.handle = 0
	if err := dlclose(h); err != nil {
		return errors.New(err).
			Category(errors.CategoryPlugin).
			Context("operation", "unload").
			Context("path", l.path).
			Build()
	}
	return nil
}
