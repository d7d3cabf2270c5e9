package memory

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProcessNotRunning means the target exited before or during the call
	ErrProcessNotRunning = errors.New("process is not running")
	// ErrOutOfRange means the address is zero or above the user-space ceiling
	ErrOutOfRange = errors.New("address out of range")
	// ErrReadFailed means the target memory could not be read
	ErrReadFailed = errors.New("read failed")
	// ErrWriteFailed means the target memory could not be written
	ErrWriteFailed = errors.New("write failed")
	// ErrAllocationFailed means the OS refused a remote allocation
	ErrAllocationFailed = errors.New("allocation failed")
	// ErrFreeFailed means a remote region could not be released
	ErrFreeFailed = errors.New("free failed")
	// ErrThreadCreationFailed means a remote thread could not be started
	ErrThreadCreationFailed = errors.New("thread creation failed")
	// ErrPatternNotFound means a scan produced no match
	ErrPatternNotFound = errors.New("pattern not found")
	// ErrAmbiguousPattern means a single-result scan matched more than once
	ErrAmbiguousPattern = errors.New("ambiguous pattern")
	// ErrBadPattern means the pattern text could not be compiled
	ErrBadPattern = errors.New("bad pattern")
	// ErrModuleNotFound means the module file is missing on disk
	ErrModuleNotFound = errors.New("module not found")
	// ErrModuleNotLoaded means the live process has no such module
	ErrModuleNotLoaded = errors.New("module not loaded")
	// ErrSymbolNotFound means the export table lacks the symbol
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrParse means the file is not a valid module image
	ErrParse = errors.New("malformed module image")
	// ErrIO means the module file could not be read
	ErrIO = errors.New("module io error")
	// ErrUnknownExitCode means the exit status is neither running nor exited
	ErrUnknownExitCode = errors.New("unknown process exit code")
	// ErrInvalidType means a typed access used a type without a fixed layout
	ErrInvalidType = errors.New("type has no fixed size")
	// ErrUnsupported means the backend cannot perform the operation
	ErrUnsupported = errors.New("operation not supported on this platform")
)

// Error carries the context of a failed primitive. Kind is one of the
// sentinel errors above and Err, when set, is the OS-level cause.
type Error struct {
	Op      string
	Kind    error
	Addr    uintptr
	Size    int
	Pattern string
	Module  string
	Symbol  string
	Count   int
	Code    uint32
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Addr != 0 {
		fmt.Fprintf(&b, " at 0x%x", e.Addr)
	}
	if e.Size != 0 {
		fmt.Fprintf(&b, " (%d bytes)", e.Size)
	}
	if e.Pattern != "" {
		fmt.Fprintf(&b, " pattern %q", e.Pattern)
	}
	if e.Module != "" {
		fmt.Fprintf(&b, " module %q", e.Module)
	}
	if e.Symbol != "" {
		fmt.Fprintf(&b, " symbol %q", e.Symbol)
	}
	if e.Count != 0 {
		fmt.Fprintf(&b, " (%d matches)", e.Count)
	}
	if e.Code != 0 {
		fmt.Fprintf(&b, " (code %d)", e.Code)
	}
	if e.Err != nil {
		b.WriteString(" - ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
