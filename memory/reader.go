// Package memory reads, writes and searches the address space of another
// process.
//
// A Reader wraps a Process backend and exposes the primitives the hook
// engine is built on. Each primitive takes the Reader's lock for exactly
// one backend call; nothing is held across multi-step sequences, so
// callers that need atomicity must serialize themselves.
package memory

import (
	"io"
	"log/slog"
	"sync"

	symbols "github.com/k2io/remotehook/internal/objSymbols"
)

const (
	// highest user-space address accepted by ReadBytes and WriteBytes
	defaultAddressCeiling = ^uintptr(0) >> 1
	// end of the user-mode address space on 64-bit Windows
	defaultScanCeiling = uintptr(0x7FFFFFFF0000 & uint64(^uintptr(0)))
	// largest buffer ReadBytes allocates
	defaultMaxReadSize = 1 << 30
)

// Config holds the values the core would otherwise look up from ambient
// state. The zero value is completed by NewReader.
type Config struct {
	// SystemDir is searched for modules when GetAddressFromSymbol is
	// given no directory.
	SystemDir string
	// AddressCeiling is the highest valid user-space address.
	AddressCeiling uintptr
	// ScanCeiling bounds a scan that is not restricted to a module.
	ScanCeiling uintptr
	// MaxReadSize bounds the size accepted by ReadBytes.
	MaxReadSize int
	Logger      *slog.Logger
}

// Option customizes a Reader.
type Option func(*Config)

func WithSystemDir(dir string) Option {
	return func(c *Config) { c.SystemDir = dir }
}

func WithAddressCeiling(ceiling uintptr) Option {
	return func(c *Config) { c.AddressCeiling = ceiling }
}

func WithScanCeiling(ceiling uintptr) Option {
	return func(c *Config) { c.ScanCeiling = ceiling }
}

func WithMaxReadSize(size int) Option {
	return func(c *Config) { c.MaxReadSize = size }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Reader is the remote memory interface for one process.
type Reader struct {
	mu      sync.Mutex
	process Process

	config Config
	log    *slog.Logger

	symMu       sync.Mutex
	symbolTable map[string]map[string]uint32
	loadSymbols func(path string) (map[string]uint32, error)
}

// NewReader takes ownership of process.
func NewReader(process Process, opts ...Option) *Reader {
	config := Config{}
	for _, opt := range opts {
		opt(&config)
	}
	if config.SystemDir == "" {
		config.SystemDir = defaultSystemDir()
	}
	if config.AddressCeiling == 0 {
		config.AddressCeiling = defaultAddressCeiling
	}
	if config.ScanCeiling == 0 {
		config.ScanCeiling = defaultScanCeiling
	}
	if config.MaxReadSize <= 0 {
		config.MaxReadSize = defaultMaxReadSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Reader{
		process:     process,
		config:      config,
		log:         config.Logger,
		symbolTable: make(map[string]map[string]uint32),
		loadSymbols: symbols.ReadExports,
	}
}

// Config returns the effective configuration.
func (r *Reader) Config() Config {
	return r.config
}

func (r *Reader) Pid() uint32 {
	return r.process.Pid()
}

// Close releases the process backend.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process.Close()
}

// IsRunning inspects the exit status of the target. Any status other than
// StillActive or ExitNormal is reported as ErrUnknownExitCode.
func (r *Reader) IsRunning() (bool, error) {
	r.mu.Lock()
	code, err := r.process.ExitCode()
	r.mu.Unlock()
	if err != nil {
		return false, &Error{Op: "exit code", Kind: ErrUnknownExitCode, Err: err}
	}
	switch code {
	case StillActive:
		return true, nil
	case ExitNormal:
		return false, nil
	}
	return false, &Error{Op: "exit code", Kind: ErrUnknownExitCode, Code: code}
}

func (r *Reader) validAddress(address uintptr) bool {
	return address != 0 && address <= r.config.AddressCeiling
}

// accessError picks ErrProcessNotRunning over kind when the target is
// confirmed to have exited.
func (r *Reader) accessError(op string, kind error, address uintptr, size int, cause error) error {
	if running, err := r.IsRunning(); err == nil && !running {
		kind = ErrProcessNotRunning
	}
	return &Error{Op: op, Kind: kind, Addr: address, Size: size, Err: cause}
}

// validRange reports whether size bytes from address stay below the
// address ceiling.
func (r *Reader) validRange(address uintptr, size int) bool {
	return r.validAddress(address) && size >= 0 && uint64(size) <= uint64(r.config.AddressCeiling-address)+1
}

// ReadBytes returns exactly size bytes starting at address. Sizes above
// MaxReadSize, or ranges crossing the address ceiling, are ErrOutOfRange.
func (r *Reader) ReadBytes(address uintptr, size int) ([]byte, error) {
	if !r.validRange(address, size) || size > r.config.MaxReadSize {
		return nil, &Error{Op: "read", Kind: ErrOutOfRange, Addr: address, Size: size}
	}
	buf := make([]byte, size)
	if size == 0 {
		return buf, nil
	}
	r.mu.Lock()
	err := r.process.ReadMemory(address, buf)
	r.mu.Unlock()
	if err != nil {
		return nil, r.accessError("read", ErrReadFailed, address, size, err)
	}
	return buf, nil
}

// ReadInto fills buf starting at address.
func (r *Reader) ReadInto(address uintptr, buf []byte) error {
	if !r.validAddress(address) {
		return &Error{Op: "read", Kind: ErrOutOfRange, Addr: address, Size: len(buf)}
	}
	if len(buf) == 0 {
		return nil
	}
	r.mu.Lock()
	err := r.process.ReadMemory(address, buf)
	r.mu.Unlock()
	if err != nil {
		return r.accessError("read", ErrReadFailed, address, len(buf), err)
	}
	return nil
}

// WriteBytes writes data at address.
func (r *Reader) WriteBytes(address uintptr, data []byte) error {
	if !r.validAddress(address) {
		return &Error{Op: "write", Kind: ErrOutOfRange, Addr: address, Size: len(data)}
	}
	if len(data) == 0 {
		return nil
	}
	r.mu.Lock()
	err := r.process.WriteMemory(address, data)
	r.mu.Unlock()
	if err != nil {
		return r.accessError("write", ErrWriteFailed, address, len(data), err)
	}
	return nil
}

// Allocate commits size bytes of read-write memory in the target.
func (r *Reader) Allocate(size int) (uintptr, error) {
	return r.allocate(size, ProtRead|ProtWrite)
}

// AllocateExecutable commits size bytes of read-write-execute memory, for
// code the target will run.
func (r *Reader) AllocateExecutable(size int) (uintptr, error) {
	return r.allocate(size, ProtRead|ProtWrite|ProtExec)
}

func (r *Reader) allocate(size int, prot Protection) (uintptr, error) {
	if size <= 0 {
		return 0, &Error{Op: "allocate", Kind: ErrAllocationFailed, Size: size}
	}
	r.mu.Lock()
	address, err := r.process.Allocate(uintptr(size), prot)
	r.mu.Unlock()
	if err != nil || address == 0 {
		return 0, &Error{Op: "allocate", Kind: ErrAllocationFailed, Size: size, Err: err}
	}
	r.log.Debug("allocated remote memory", "address", address, "size", size, "protect", prot.String())
	return address, nil
}

// Free releases a region returned by Allocate.
func (r *Reader) Free(address uintptr) error {
	r.mu.Lock()
	err := r.process.Free(address)
	r.mu.Unlock()
	if err != nil {
		return &Error{Op: "free", Kind: ErrFreeFailed, Addr: address, Err: err}
	}
	r.log.Debug("freed remote memory", "address", address)
	return nil
}

// StartThread runs code at address on a new remote thread. It does not
// wait for the thread.
func (r *Reader) StartThread(address uintptr) error {
	r.mu.Lock()
	err := r.process.CreateThread(address)
	r.mu.Unlock()
	if err != nil {
		return &Error{Op: "start thread", Kind: ErrThreadCreationFailed, Addr: address, Err: err}
	}
	return nil
}

func (r *Reader) query(address uintptr) (Region, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process.Query(address)
}

func (r *Reader) findModule(name string) (Module, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.process.FindModule(name)
}

// Module returns the live module with the given name.
func (r *Reader) Module(name string) (Module, error) {
	module, ok, err := r.findModule(name)
	if err != nil {
		return Module{}, &Error{Op: "module", Kind: ErrModuleNotLoaded, Module: name, Err: err}
	}
	if !ok {
		return Module{}, &Error{Op: "module", Kind: ErrModuleNotLoaded, Module: name}
	}
	return module, nil
}

// Regions lists the memory map below the scan ceiling.
func (r *Reader) Regions() ([]Region, error) {
	var regions []Region
	err := r.walk(0, r.config.ScanCeiling, func(region Region) error {
		regions = append(regions, region)
		return nil
	})
	return regions, err
}

// walk visits every region overlapping [start, end). Each visited region
// begins at the walk cursor, so no byte is visited twice even when a
// mapping grows between queries.
func (r *Reader) walk(start, end uintptr, visit func(Region) error) error {
	address := start
	for address < end {
		region, err := r.query(address)
		if err != nil {
			if running, rerr := r.IsRunning(); rerr == nil && !running {
				return &Error{Op: "query", Kind: ErrProcessNotRunning, Addr: address, Err: err}
			}
			r.log.Debug("region walk stopped", "address", address, "err", err)
			return nil
		}
		next := region.End()
		if next <= address {
			return nil
		}
		if region.Base < address {
			region.Size -= address - region.Base
			region.Base = address
		}
		if err := visit(region); err != nil {
			return err
		}
		address = next
	}
	return nil
}
