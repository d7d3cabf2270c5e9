package memory

import "strings"

// Exit codes reported by Process.ExitCode.
const (
	// StillActive is the status of a process that has not exited yet.
	StillActive uint32 = 259
	// ExitNormal is the status of a process that exited cleanly.
	ExitNormal uint32 = 0
)

// Process is the OS-level access to one target process. A Reader owns
// its Process and serializes every call, so implementations need not be
// safe for concurrent use.
type Process interface {
	Pid() uint32
	ExitCode() (uint32, error)
	// ReadMemory fills buf from address or fails; short reads are errors.
	ReadMemory(address uintptr, buf []byte) error
	// WriteMemory writes all of data at address or fails.
	WriteMemory(address uintptr, data []byte) error
	// Query returns the region containing address, or the unmapped gap
	// that starts at address.
	Query(address uintptr) (Region, error)
	Allocate(size uintptr, prot Protection) (uintptr, error)
	Free(address uintptr) error
	// CreateThread starts a thread at address and returns without
	// waiting for it.
	CreateThread(address uintptr) error
	// FindModule looks up a loaded module by base name, ignoring case.
	FindModule(name string) (Module, bool, error)
	Close() error
}

// Module is a module mapped in the live process.
type Module struct {
	Name string
	Path string
	Base uintptr
	Size uintptr
}

// End returns the first address past the module image.
func (m Module) End() uintptr {
	return m.Base + m.Size
}

// RegionState is the commit state of a virtual memory region.
type RegionState uint8

const (
	StateFree RegionState = iota
	StateReserve
	StateCommit
)

func (s RegionState) String() string {
	switch s {
	case StateReserve:
		return "reserve"
	case StateCommit:
		return "commit"
	default:
		return "free"
	}
}

// Protection is a normalized page protection. The zero value means no
// access.
type Protection uint8

const (
	ProtRead Protection = 1 << iota
	ProtWrite
	ProtExec
	ProtGuard
)

// Scannable reports whether a region with this protection is searched by
// PatternScan: exactly one of r, rx, rw or rwx.
func (p Protection) Scannable() bool {
	switch p {
	case ProtRead, ProtRead | ProtExec, ProtRead | ProtWrite, ProtRead | ProtWrite | ProtExec:
		return true
	}
	return false
}

func (p Protection) String() string {
	var b strings.Builder
	for _, f := range []struct {
		bit Protection
		c   byte
	}{{ProtRead, 'r'}, {ProtWrite, 'w'}, {ProtExec, 'x'}} {
		if p&f.bit != 0 {
			b.WriteByte(f.c)
		} else {
			b.WriteByte('-')
		}
	}
	if p&ProtGuard != 0 {
		b.WriteByte('g')
	}
	return b.String()
}

// Region is one entry of the target's virtual memory map.
type Region struct {
	Base    uintptr
	Size    uintptr
	State   RegionState
	Protect Protection
}

// End returns the first address past the region.
func (r Region) End() uintptr {
	return r.Base + r.Size
}

// Committed reports whether the region is backed by storage.
func (r Region) Committed() bool {
	return r.State == StateCommit
}
