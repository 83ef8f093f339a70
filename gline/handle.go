package gline

import "sync"

// ownedHandle is an opaque native pointer owned by exactly one Go value.
// The address is never dereferenced on the Go side; it is only passed back to the
// binding. consume zeroes it so the matching free runs once.
type ownedHandle struct {
	mu   sync.RWMutex
	addr uintptr
}

func newOwnedHandle(addr uintptr) *ownedHandle {
	return &ownedHandle{addr: addr}
}

// use runs fn with the address under a shared lock.
func (h *ownedHandle) use(fn func(addr uintptr) error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.addr == 0 {
		return ErrModelClosed
	}
	return fn(h.addr)
}

// useExclusive runs fn with the address under an exclusive lock.
func (h *ownedHandle) useExclusive(fn func(addr uintptr) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.addr == 0 {
		return ErrModelClosed
	}
	return fn(h.addr)
}

// consume hands the address to release and invalidates the handle.
// It reports false if the handle was already consumed.
func (h *ownedHandle) consume(release func(addr uintptr)) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.addr == 0 {
		return false
	}
	addr := h.addr
	h.addr = 0
	release(addr)
	return true
}

func (h *ownedHandle) valid() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.addr != 0
}
