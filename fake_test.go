package remotehook

import (
	"errors"
	"fmt"

	"github.com/k2io/remotehook/memory"
)

var errInjected = errors.New("injected failure")

// fakeMemory is a sparse byte store standing in for a target process.
type fakeMemory struct {
	mem  map[uintptr]byte
	next uintptr

	allocated []uintptr
	freed     []uintptr
	failFree  map[uintptr]bool
	failWrite map[uintptr]bool
	failAlloc bool

	matches map[string][]uintptr
	scans   int
	writes  []uintptr
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{
		mem:       make(map[uintptr]byte),
		next:      0x10000000,
		failFree:  make(map[uintptr]bool),
		failWrite: make(map[uintptr]bool),
		matches:   make(map[string][]uintptr),
	}
}

func (f *fakeMemory) load(address uintptr, data []byte) {
	for i, b := range data {
		f.mem[address+uintptr(i)] = b
	}
}

func (f *fakeMemory) ReadBytes(address uintptr, size int) ([]byte, error) {
	out := make([]byte, size)
	for i := range out {
		b, ok := f.mem[address+uintptr(i)]
		if !ok {
			return nil, &memory.Error{Op: "read", Kind: memory.ErrReadFailed, Addr: address, Size: size}
		}
		out[i] = b
	}
	return out, nil
}

func (f *fakeMemory) WriteBytes(address uintptr, data []byte) error {
	if f.failWrite[address] {
		return &memory.Error{Op: "write", Kind: memory.ErrWriteFailed, Addr: address, Err: errInjected}
	}
	f.writes = append(f.writes, address)
	f.load(address, data)
	return nil
}

func (f *fakeMemory) Allocate(size int) (uintptr, error) {
	if f.failAlloc {
		return 0, &memory.Error{Op: "allocate", Kind: memory.ErrAllocationFailed, Size: size}
	}
	address := f.next
	f.next += 0x1000
	f.load(address, make([]byte, size))
	f.allocated = append(f.allocated, address)
	return address, nil
}

func (f *fakeMemory) AllocateExecutable(size int) (uintptr, error) {
	return f.Allocate(size)
}

func (f *fakeMemory) Free(address uintptr) error {
	if f.failFree[address] {
		return &memory.Error{Op: "free", Kind: memory.ErrFreeFailed, Addr: address, Err: errInjected}
	}
	f.freed = append(f.freed, address)
	return nil
}

func (f *fakeMemory) PatternScan(pattern, module string, returnMultiple bool) ([]uintptr, error) {
	f.scans++
	found := f.matches[pattern]
	switch {
	case len(found) == 0:
		return nil, &memory.Error{Op: "pattern scan", Kind: memory.ErrPatternNotFound, Pattern: pattern}
	case len(found) > 1 && !returnMultiple:
		return nil, &memory.Error{Op: "pattern scan", Kind: memory.ErrAmbiguousPattern, Pattern: pattern, Count: len(found)}
	}
	return found, nil
}

// fixedDefinition installs constant bytecode.
type fixedDefinition struct {
	pattern  string
	module   string
	jump     []byte
	hook     []byte
	stubSize int

	calls   []string
	preErr  error
	postErr error
}

func (d *fixedDefinition) Pattern() (string, string, error) {
	d.calls = append(d.calls, "pattern")
	return d.pattern, d.module, nil
}

func (d *fixedDefinition) JumpBytecode(h *Hook) ([]byte, error) {
	d.calls = append(d.calls, "jump")
	return d.jump, nil
}

func (d *fixedDefinition) HookBytecode(h *Hook) ([]byte, error) {
	d.calls = append(d.calls, "hook")
	if h.State().HookAddress == 0 {
		return nil, fmt.Errorf("hook address not set")
	}
	return d.hook, nil
}

func (d *fixedDefinition) StubSize() int {
	if d.stubSize == 0 {
		return DefaultStubSize
	}
	return d.stubSize
}

func (d *fixedDefinition) PreHook(h *Hook) error {
	d.calls = append(d.calls, "pre")
	return d.preErr
}

func (d *fixedDefinition) PostHook(h *Hook) error {
	d.calls = append(d.calls, "post")
	return d.postErr
}
