package gline

import (
	"fmt"
	"strings"
	"unsafe"
)

// maxCStringLen bounds the terminator scan over native strings.
const maxCStringLen = 1 << 20

// emptyCStringArray backs zero-length arrays so the binding never receives a null
// array pointer.
var emptyCStringArray [1]uintptr

// goToCstring converts a Go string to a null-terminated byte slice suitable for passing to
// the binding. The returned slice must stay reachable for as long as the native side reads
// the pointer.
func goToCstring(s string) ([]byte, uintptr) {
	b := append([]byte(s), 0)
	return b, uintptr(unsafe.Pointer(&b[0]))
}

// cstringToGo copies a null-terminated native string into Go memory.
// A null pointer yields the empty string. A string with no terminator within
// maxCStringLen bytes is reported as ErrMalformedResult.
func cstringToGo(ptr uintptr) (string, error) {
	if ptr == 0 {
		return "", nil
	}

	// #nosec G103 -- ptr addresses memory owned by the binding until its free call.
	base := unsafe.Pointer(ptr)
	for n := 0; ; n++ {
		if *(*byte)(unsafe.Add(base, n)) == 0 {
			return string(unsafe.Slice((*byte)(base), n)), nil
		}
		if n == maxCStringLen {
			return "", fmt.Errorf("%w: native string exceeds %d bytes without a terminator", ErrMalformedResult, maxCStringLen)
		}
	}
}

// cStringArray is a native `const char**` view over Go strings.
type cStringArray struct {
	buffers [][]byte
	ptrs    []uintptr
}

func newCStringArray(values []string) *cStringArray {
	arr := &cStringArray{
		buffers: make([][]byte, len(values)),
		ptrs:    make([]uintptr, len(values)),
	}
	for i, v := range values {
		arr.buffers[i], arr.ptrs[i] = goToCstring(v)
	}
	return arr
}

func (a *cStringArray) pointer() uintptr {
	if len(a.ptrs) == 0 {
		return uintptr(unsafe.Pointer(&emptyCStringArray[0]))
	}
	return uintptr(unsafe.Pointer(&a.ptrs[0]))
}

func (a *cStringArray) length() uintptr {
	return uintptr(len(a.ptrs))
}

// firstNUL returns the first value containing an interior NUL byte.
func firstNUL(values ...string) (string, bool) {
	for _, v := range values {
		if strings.IndexByte(v, 0) >= 0 {
			return v, true
		}
	}
	return "", false
}
