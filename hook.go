// Package remotehook installs and removes inline hooks in another
// process.
//
// A Hook patches a jump over the instructions found by a pattern scan and
// points it at a stub allocated in the target. What the jump and the stub
// contain is up to the hook's Definition; the Hook only sequences the
// remote operations and keeps enough state to undo them.
package remotehook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/k2io/remotehook/memory"
)

var (
	// ErrDoubleHook means already hooked
	ErrDoubleHook = errors.New("double hook")
	// ErrNotInstalled means there is nothing to uninstall
	ErrNotInstalled = errors.New("hook not installed")
	// ErrJumpAddressNotFound means the hook pattern matched nothing
	ErrJumpAddressNotFound = errors.New("jump address not found")
	// ErrRelativeAddr means an instruction cannot be moved
	ErrRelativeAddr = errors.New("relative address in instruction")
	// ErrInstructionDecode means the bytes at the jump address are not code
	ErrInstructionDecode = errors.New("cannot decode instruction")
	// ErrStubTooLarge means the hook bytecode does not fit its allocation
	ErrStubTooLarge = errors.New("hook bytecode larger than allocation")
)

// DefaultStubSize is the stub allocation used when a Definition does not
// implement StubSizer.
const DefaultStubSize = 50

// Memory is the remote memory a Hook works on. *memory.Reader implements
// it.
type Memory interface {
	ReadBytes(address uintptr, size int) ([]byte, error)
	WriteBytes(address uintptr, data []byte) error
	Allocate(size int) (uintptr, error)
	AllocateExecutable(size int) (uintptr, error)
	Free(address uintptr) error
	PatternScan(pattern, module string, returnMultiple bool) ([]uintptr, error)
}

// Definition supplies the content of one hook family.
type Definition interface {
	// Pattern locates the jump address. An empty module scans the whole
	// process.
	Pattern() (pattern, module string, err error)
	// JumpBytecode is written over the jump address. It is called after
	// HookBytecode, with both addresses set.
	JumpBytecode(h *Hook) ([]byte, error)
	// HookBytecode is written at the hook address.
	HookBytecode(h *Hook) ([]byte, error)
}

// StubSizer overrides DefaultStubSize.
type StubSizer interface {
	StubSize() int
}

// PreHooker runs after the original bytes are saved and before anything
// is written.
type PreHooker interface {
	PreHook(h *Hook) error
}

// PostHooker runs after the jump is written.
type PostHooker interface {
	PostHook(h *Hook) error
}

// State is what a Hook knows about its installation.
type State struct {
	JumpAddress          uintptr
	HookAddress          uintptr
	JumpOriginalBytecode []byte
	JumpBytecode         []byte
	HookBytecode         []byte
	AllocatedAddresses   []uintptr
}

func (s State) clone() State {
	s.JumpOriginalBytecode = bytes.Clone(s.JumpOriginalBytecode)
	s.JumpBytecode = bytes.Clone(s.JumpBytecode)
	s.HookBytecode = bytes.Clone(s.HookBytecode)
	s.AllocatedAddresses = slices.Clone(s.AllocatedAddresses)
	return s
}

// Hook is one inline hook. It is not safe for concurrent use; a Registry
// serializes installs across hooks.
type Hook struct {
	mem   Memory
	def   Definition
	cache *Cache
	log   *slog.Logger

	state State
	// the jump has been, or is being, written over the original bytes
	patched   bool
	installed bool
}

// HookOption customizes a Hook.
type HookOption func(*Hook)

// WithCache shares an address cache between hooks.
func WithCache(c *Cache) HookOption {
	return func(h *Hook) { h.cache = c }
}

func WithLogger(logger *slog.Logger) HookOption {
	return func(h *Hook) { h.log = logger }
}

// NewHook returns an uninstalled hook.
func NewHook(mem Memory, def Definition, opts ...HookOption) *Hook {
	h := &Hook{mem: mem, def: def}
	for _, opt := range opts {
		opt(h)
	}
	if h.cache == nil {
		h.cache = NewCache()
	}
	if h.log == nil {
		h.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h
}

func (h *Hook) Memory() Memory {
	return h.mem
}

func (h *Hook) Definition() Definition {
	return h.def
}

func (h *Hook) Cache() *Cache {
	return h.cache
}

// State returns a copy of the hook's state.
func (h *Hook) State() State {
	return h.state.clone()
}

// Installed reports whether the last Install completed.
func (h *Hook) Installed() bool {
	return h.installed
}

// released reports whether nothing of the hook remains in the target.
func (h *Hook) released() bool {
	return !h.patched && len(h.state.AllocatedAddresses) == 0
}

// Alloc allocates executable memory in the target and tracks it for
// Uninstall.
func (h *Hook) Alloc(size int) (uintptr, error) {
	address, err := h.mem.AllocateExecutable(size)
	if err != nil {
		return 0, err
	}
	h.state.AllocatedAddresses = append(h.state.AllocatedAddresses, address)
	return address, nil
}

func cacheKey(pattern, module string) string {
	if module == "" {
		return pattern
	}
	return module + "!" + pattern
}

// JumpAddress finds the single match of pattern. Results are cached by
// pattern and module. No match is ErrJumpAddressNotFound.
func (h *Hook) JumpAddress(pattern, module string) (uintptr, error) {
	key := cacheKey(pattern, module)
	if address, ok := h.cache.Get(key); ok {
		return address, nil
	}
	found, err := h.mem.PatternScan(pattern, module, false)
	if errors.Is(err, memory.ErrPatternNotFound) || (err == nil && len(found) == 0) {
		return 0, &JumpError{Pattern: pattern, Module: module, Err: err}
	}
	if err != nil {
		return 0, err
	}
	h.cache.Set(key, found[0])
	return found[0], nil
}

// HookAddress allocates size bytes for the stub.
func (h *Hook) HookAddress(size int) (uintptr, error) {
	return h.Alloc(size)
}

// Locate resolves the jump address without installing anything.
func (h *Hook) Locate() (uintptr, error) {
	pattern, module, err := h.def.Pattern()
	if err != nil {
		return 0, err
	}
	return h.JumpAddress(pattern, module)
}

func (h *Hook) stubSize() int {
	if s, ok := h.def.(StubSizer); ok {
		return s.StubSize()
	}
	return DefaultStubSize
}

// Install performs the hook: it locates the jump address, allocates the
// stub, saves the bytes the jump will cover, writes the stub and finally
// writes the jump. On failure everything allocated so far stays tracked
// and Uninstall releases it; Install refuses to run again until then.
func (h *Hook) Install() error {
	if h.installed || h.patched || len(h.state.AllocatedAddresses) > 0 {
		return ErrDoubleHook
	}
	pattern, module, err := h.def.Pattern()
	if err != nil {
		return fmt.Errorf("hook pattern: %w", err)
	}
	jump, err := h.JumpAddress(pattern, module)
	if err != nil {
		return err
	}
	h.state.JumpAddress = jump

	stub, err := h.HookAddress(h.stubSize())
	if err != nil {
		return err
	}
	h.state.HookAddress = stub
	h.log.Debug("hook located", "pattern", pattern, "module", module, "jump", jump, "stub", stub)

	hookCode, err := h.def.HookBytecode(h)
	if err != nil {
		return fmt.Errorf("hook bytecode: %w", err)
	}
	if len(hookCode) > h.stubSize() {
		return fmt.Errorf("%w: %d > %d", ErrStubTooLarge, len(hookCode), h.stubSize())
	}
	h.state.HookBytecode = hookCode

	jumpCode, err := h.def.JumpBytecode(h)
	if err != nil {
		return fmt.Errorf("jump bytecode: %w", err)
	}
	h.state.JumpBytecode = jumpCode

	original, err := h.mem.ReadBytes(jump, len(jumpCode))
	if err != nil {
		return err
	}
	h.state.JumpOriginalBytecode = original

	if pre, ok := h.def.(PreHooker); ok {
		if err := pre.PreHook(h); err != nil {
			return fmt.Errorf("prehook: %w", err)
		}
	}
	if err := h.mem.WriteBytes(stub, hookCode); err != nil {
		return err
	}
	h.patched = true
	if err := h.mem.WriteBytes(jump, jumpCode); err != nil {
		return err
	}
	if post, ok := h.def.(PostHooker); ok {
		if err := post.PostHook(h); err != nil {
			return fmt.Errorf("posthook: %w", err)
		}
	}
	h.installed = true
	h.log.Debug("hook installed", "jump", jump, "stub", stub, "size", len(jumpCode))
	return nil
}

// Uninstall writes the saved bytes back over the jump and frees every
// tracked allocation. Allocations are not freed if the restore fails,
// since the jump may still lead into them. A failed free does not stop
// the others; all failures are returned joined and those addresses stay
// tracked.
func (h *Hook) Uninstall() error {
	if !h.patched && len(h.state.AllocatedAddresses) == 0 {
		return ErrNotInstalled
	}
	if h.patched {
		if err := h.mem.WriteBytes(h.state.JumpAddress, h.state.JumpOriginalBytecode); err != nil {
			return fmt.Errorf("restore original bytes: %w", err)
		}
		h.patched = false
	}
	h.installed = false

	var (
		errs []error
		kept []uintptr
	)
	for _, address := range h.state.AllocatedAddresses {
		if err := h.mem.Free(address); err != nil {
			h.log.Debug("free failed", "address", address, "err", err)
			errs = append(errs, err)
			kept = append(kept, address)
		}
	}
	h.state = State{AllocatedAddresses: kept}
	if len(errs) == 0 {
		h.log.Debug("hook removed")
	}
	return errors.Join(errs...)
}

// JumpError reports a hook pattern without a match.
type JumpError struct {
	Pattern string
	Module  string
	Err     error
}

func (e *JumpError) Error() string {
	msg := fmt.Sprintf("%v: pattern %q", ErrJumpAddressNotFound, e.Pattern)
	if e.Module != "" {
		msg += fmt.Sprintf(" in %s", e.Module)
	}
	return msg
}

func (e *JumpError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrJumpAddressNotFound}
	}
	return []error{ErrJumpAddressNotFound, e.Err}
}
