//go:build (linux || darwin) && (amd64 || arm64)

package gline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"
)

// stubArena hands out memory outside the Go heap, standing in for the binding's allocator.
type stubArena struct {
	mu   sync.Mutex
	buf  []byte
	next int
}

func newStubArena(t *testing.T, size int) *stubArena {
	t.Helper()
	buf, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		t.Fatalf("mmap stub arena: %v", err)
	}
	t.Cleanup(func() {
		_ = unix.Munmap(buf)
	})
	return &stubArena{buf: buf}
}

func (a *stubArena) alloc(size int) unsafe.Pointer {
	a.mu.Lock()
	defer a.mu.Unlock()

	const align = 16
	off := (a.next + align - 1) &^ (align - 1)
	if size == 0 {
		size = 1
	}
	if off+size > len(a.buf) {
		panic(fmt.Sprintf("stub arena exhausted: need %d bytes at %d of %d", size, off, len(a.buf)))
	}
	a.next = off + size
	return unsafe.Pointer(&a.buf[off])
}

func (a *stubArena) cstring(s string) uintptr {
	p := a.alloc(len(s) + 1)
	dst := unsafe.Slice((*byte)(p), len(s)+1)
	copy(dst, s)
	dst[len(s)] = 0
	return uintptr(p)
}

// bytes copies raw bytes into the arena without appending a terminator.
func (a *stubArena) bytes(b []byte) uintptr {
	p := a.alloc(len(b))
	copy(unsafe.Slice((*byte)(p), len(b)), b)
	return uintptr(p)
}

func (a *stubArena) spanBatch(spans []Span) uintptr {
	header := (*batchHeader)(a.alloc(int(unsafe.Sizeof(batchHeader{}))))
	header.count = uintptr(len(spans))
	if len(spans) == 0 {
		return uintptr(unsafe.Pointer(header))
	}
	records := unsafe.Slice((*flatSpan)(a.alloc(len(spans)*int(unsafe.Sizeof(flatSpan{})))), len(spans))
	for i, s := range spans {
		records[i] = flatSpan{
			sequenceIndex: uintptr(s.SequenceIndex),
			start:         uintptr(s.Start),
			end:           uintptr(s.End),
			class:         a.cstring(s.Class),
			text:          a.cstring(s.Text),
			prob:          s.Probability,
		}
	}
	header.records = uintptr(unsafe.Pointer(&records[0]))
	return uintptr(unsafe.Pointer(header))
}

func (a *stubArena) relationBatch(relations []Relation) uintptr {
	header := (*batchHeader)(a.alloc(int(unsafe.Sizeof(batchHeader{}))))
	header.count = uintptr(len(relations))
	if len(relations) == 0 {
		return uintptr(unsafe.Pointer(header))
	}
	records := unsafe.Slice((*flatRelation)(a.alloc(len(relations)*int(unsafe.Sizeof(flatRelation{})))), len(relations))
	for i, r := range relations {
		records[i] = flatRelation{
			sequenceIndex: uintptr(r.SequenceIndex),
			source:        a.cstring(r.Source),
			target:        a.cstring(r.Target),
			relation:      a.cstring(r.Relation),
			prob:          r.Probability,
		}
	}
	header.records = uintptr(unsafe.Pointer(&records[0]))
	return uintptr(unsafe.Pointer(header))
}

// rawBatch writes a header with arbitrary fields.
func (a *stubArena) rawBatch(records, count uintptr) uintptr {
	header := (*batchHeader)(a.alloc(int(unsafe.Sizeof(batchHeader{}))))
	header.records = records
	header.count = count
	return uintptr(unsafe.Pointer(header))
}

// hostPointer reinterprets an address the bridge passed in without a
// uintptr-to-pointer conversion.
func hostPointer(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

func hostString(addr uintptr) string {
	if addr == 0 {
		return ""
	}
	p := hostPointer(addr)
	n := 0
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func hostStrings(array, count uintptr) []string {
	if count == 0 {
		return []string{}
	}
	ptrs := unsafe.Slice((*uintptr)(hostPointer(array)), int(count))
	out := make([]string, len(ptrs))
	for i, p := range ptrs {
		out[i] = hostString(p)
	}
	return out
}

type stubSchema struct {
	relation string
	heads    []string
	tails    []string
}

// stubBinding is the behavior and bookkeeping behind the stub entry points.
type stubBinding struct {
	t     *testing.T
	arena *stubArena

	mu sync.Mutex

	// behavior
	failConstruct bool
	nullResult    bool
	spans         []Span
	relations     []Relation
	rawResult     func(a *stubArena) uintptr

	// bookkeeping
	nextHandle      uintptr
	models          map[uintptr]string
	results         map[uintptr]bool
	newCalls        map[string]int
	freeModelCalls  map[string]int
	freeResultCalls map[string]int
	misuse          []string
	lastModelPath   string
	lastDeviceType  string
	lastInputs      []string
	lastLabels      []string
	schemas         []stubSchema
}

var activeStub atomic.Pointer[stubBinding]

func installStub(t *testing.T) *stubBinding {
	t.Helper()
	s := &stubBinding{
		t:               t,
		arena:           newStubArena(t, 1<<20),
		nextHandle:      0x1000,
		models:          map[uintptr]string{},
		results:         map[uintptr]bool{},
		newCalls:        map[string]int{},
		freeModelCalls:  map[string]int{},
		freeResultCalls: map[string]int{},
	}
	if !activeStub.CompareAndSwap(nil, s) {
		t.Fatalf("another stub binding is installed; stub tests must not run in parallel")
	}
	t.Cleanup(func() {
		activeStub.Store(nil)
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, m := range s.misuse {
			t.Errorf("stub binding misuse: %s", m)
		}
	})
	return s
}

func currentStub() *stubBinding {
	s := activeStub.Load()
	if s == nil {
		panic("stub binding called with no stub installed")
	}
	return s
}

func (s *stubBinding) newModel(kind string, modelPath, deviceType uintptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastModelPath = hostString(modelPath)
	s.lastDeviceType = hostString(deviceType)
	if s.failConstruct {
		return 0
	}
	s.newCalls[kind]++
	s.nextHandle += 0x10
	s.models[s.nextHandle] = kind
	return s.nextHandle
}

func (s *stubBinding) checkModel(kind string, model uintptr, op string) bool {
	got, ok := s.models[model]
	if !ok {
		s.misuse = append(s.misuse, fmt.Sprintf("%s on unknown or freed %s model %#x", op, kind, model))
		return false
	}
	if got != kind {
		s.misuse = append(s.misuse, fmt.Sprintf("%s on %s model %#x passed to %s entry point", op, got, model, kind))
		return false
	}
	return true
}

func (s *stubBinding) infer(kind string, model, inputs, inputCount, labels, labelCount uintptr) uintptr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkModel(kind, model, "inference") {
		return 0
	}
	s.lastInputs = hostStrings(inputs, inputCount)
	s.lastLabels = hostStrings(labels, labelCount)

	var result uintptr
	switch {
	case s.nullResult:
		return 0
	case s.rawResult != nil:
		result = s.rawResult(s.arena)
	case kind == "relation":
		result = s.arena.relationBatch(s.relations)
	default:
		result = s.arena.spanBatch(s.spans)
	}
	s.results[result] = true
	return result
}

func (s *stubBinding) addSchema(model, relation, heads, headCount, tails, tailCount uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.checkModel("relation", model, "add_relation_schema") {
		return
	}
	s.schemas = append(s.schemas, stubSchema{
		relation: hostString(relation),
		heads:    hostStrings(heads, headCount),
		tails:    hostStrings(tails, tailCount),
	})
}

func (s *stubBinding) freeModel(kind string, model uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if model == 0 {
		s.misuse = append(s.misuse, fmt.Sprintf("free_%s_model called with null", kind))
		return
	}
	if !s.checkModel(kind, model, "free") {
		return
	}
	delete(s.models, model)
	s.freeModelCalls[kind]++
}

func (s *stubBinding) freeResult(kind string, result uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result == 0 {
		s.misuse = append(s.misuse, fmt.Sprintf("%s result destructor called with null", kind))
		return
	}
	if !s.results[result] {
		s.misuse = append(s.misuse, fmt.Sprintf("%s result %#x freed twice or never allocated", kind, result))
		return
	}
	delete(s.results, result)
	s.freeResultCalls[kind]++
}

func (s *stubBinding) liveModels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.models)
}

func (s *stubBinding) liveResults() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

var (
	stubSymbolsOnce sync.Once
	stubSymbols     map[string]uintptr
)

// stubAddresses returns C-callable entry points for every required symbol.
// Callbacks are process-global and never released, so they are created once.
func stubAddresses() map[string]uintptr {
	stubSymbolsOnce.Do(func() {
		stubSymbols = map[string]uintptr{
			symNewSpanModel: purego.NewCallback(func(modelPath, deviceType uintptr) uintptr {
				return currentStub().newModel("span", modelPath, deviceType)
			}),
			symInferenceSpan: purego.NewCallback(func(model, inputs, inputCount, labels, labelCount uintptr) uintptr {
				return currentStub().infer("span", model, inputs, inputCount, labels, labelCount)
			}),
			symFreeSpanModel: purego.NewCallback(func(model uintptr) uintptr {
				currentStub().freeModel("span", model)
				return 0
			}),
			symNewTokenModel: purego.NewCallback(func(modelPath, deviceType uintptr) uintptr {
				return currentStub().newModel("token", modelPath, deviceType)
			}),
			symInferenceToken: purego.NewCallback(func(model, inputs, inputCount, labels, labelCount uintptr) uintptr {
				return currentStub().infer("token", model, inputs, inputCount, labels, labelCount)
			}),
			symFreeTokenModel: purego.NewCallback(func(model uintptr) uintptr {
				currentStub().freeModel("token", model)
				return 0
			}),
			symFreeBatchResult: purego.NewCallback(func(result uintptr) uintptr {
				currentStub().freeResult("batch", result)
				return 0
			}),
			symNewRelationModel: purego.NewCallback(func(modelPath, deviceType uintptr) uintptr {
				return currentStub().newModel("relation", modelPath, deviceType)
			}),
			symAddRelationSchema: purego.NewCallback(func(model, relation, heads, headCount, tails, tailCount uintptr) uintptr {
				currentStub().addSchema(model, relation, heads, headCount, tails, tailCount)
				return 0
			}),
			symInferenceRelation: purego.NewCallback(func(model, inputs, inputCount, labels, labelCount uintptr) uintptr {
				return currentStub().infer("relation", model, inputs, inputCount, labels, labelCount)
			}),
			symFreeRelationModel: purego.NewCallback(func(model uintptr) uintptr {
				currentStub().freeModel("relation", model)
				return 0
			}),
			symFreeRelationResult: purego.NewCallback(func(result uintptr) uintptr {
				currentStub().freeResult("relation", result)
				return 0
			}),
		}
	})
	return stubSymbols
}

// stubResolver resolves from the stub, pretending the named symbols are not exported.
func stubResolver(missing ...string) symbolResolver {
	skip := make(map[string]bool, len(missing))
	for _, name := range missing {
		skip[name] = true
	}
	addrs := stubAddresses()
	return func(name string) (uintptr, error) {
		if skip[name] {
			return 0, fmt.Errorf("undefined symbol: %s", name)
		}
		addr, ok := addrs[name]
		if !ok {
			return 0, fmt.Errorf("undefined symbol: %s", name)
		}
		return addr, nil
	}
}

type releaseCounter struct {
	calls atomic.Int32
	err   error
}

func (r *releaseCounter) release(handle uintptr) error {
	r.calls.Add(1)
	return r.err
}

const stubLibraryHandle = uintptr(0xdead0000)

// openStubLibrary installs a stub binding and opens a Library over it.
func openStubLibrary(t *testing.T) (*Library, *stubBinding, *releaseCounter) {
	t.Helper()
	stub := installStub(t)
	rel := &releaseCounter{}
	lib, err := newLibrary("stub.so", stubLibraryHandle, stubResolver(), rel.release)
	if err != nil {
		t.Fatalf("failed to open stub library: %v", err)
	}
	t.Cleanup(func() {
		_ = lib.Close()
	})
	return lib, stub, rel
}
