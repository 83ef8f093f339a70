package gline

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// Library is a loaded gline binding together with its resolved entry points.
//
// A Library is created by one goroutine and is safe for concurrent use afterwards.
// Close waits for in-flight native calls and refuses every call made after it.
type Library struct {
	path    string
	handle  uintptr
	symbols *symbolTable
	release func(uintptr) error

	// callMu is held for reading by every native call and for writing by Close.
	callMu sync.RWMutex
	closed bool

	liveModels atomic.Int64
}

// Open loads the shared library at path and resolves every required entry point.
//
// A loader failure returns a *LoadError carrying the platform diagnostic. A missing
// entry point returns a *SymbolNotFoundError naming it; the library is released and
// no partially usable Library is returned.
func Open(path string) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return nil, &LoadError{Path: path, Reason: "library path is empty"}
	}

	handle, err := loadLibrary(path)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: loaderReason(err)}
	}

	return newLibrary(path, handle, func(name string) (uintptr, error) {
		return getSymbol(handle, name)
	}, closeLibrary)
}

func newLibrary(path string, handle uintptr, resolve symbolResolver, release func(uintptr) error) (*Library, error) {
	symbols, err := buildSymbolTable(resolve)
	if err != nil {
		if closeErr := release(handle); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("gline: failed to release %q after symbol resolution failed: %w", path, closeErr))
		}
		return nil, err
	}

	return &Library{
		path:    path,
		handle:  handle,
		symbols: symbols,
		release: release,
	}, nil
}

func loaderReason(err error) string {
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "unknown loader error"
	}
	return reason
}

// Path returns the path the library was opened from.
func (l *Library) Path() string {
	return l.path
}

// LiveModels returns the number of models created from l that have not been closed.
func (l *Library) LiveModels() int {
	return int(l.liveModels.Load())
}

// Close releases the library handle. Calling Close more than once is a no-op.
//
// Models still open are not freed: their destructors live in the library being
// unloaded. Close them first.
func (l *Library) Close() error {
	l.callMu.Lock()
	defer l.callMu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if live := l.liveModels.Load(); live > 0 {
		log.Printf("WARNING: closing gline library %q with %d live model(s); their native state is leaked", l.path, live)
	}

	handle := l.handle
	l.handle = 0
	l.symbols = nil
	if err := l.release(handle); err != nil {
		return fmt.Errorf("gline: failed to close library %q: %w", l.path, err)
	}
	return nil
}

// call runs fn while holding the library open.
func (l *Library) call(fn func(*symbolTable) error) error {
	l.callMu.RLock()
	defer l.callMu.RUnlock()

	if l.closed {
		return ErrLibraryClosed
	}
	return fn(l.symbols)
}
