package memory

import (
	"errors"
	"sort"
	"strings"
)

var errFake = errors.New("fake failure")

type fakeRegion struct {
	Region
	data []byte
	// reads fail as if the region was released after the query
	vanished bool
}

// fakeProcess is an in-memory target with a sparse region map.
type fakeProcess struct {
	regions  []*fakeRegion
	modules  []Module
	exitCode uint32
	exitErr  error

	queryErr   error
	failAlloc  bool
	failFree   map[uintptr]bool
	failThread bool

	nextAlloc uintptr
	allocs    map[uintptr]Protection
	threads   []uintptr
	queries   int
	// onQuery runs before each Query with the running query count
	onQuery func(n int)
	closed  bool
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		exitCode:  StillActive,
		failFree:  make(map[uintptr]bool),
		nextAlloc: 0x70000000,
		allocs:    make(map[uintptr]Protection),
	}
}

func (f *fakeProcess) mapRegion(base uintptr, data []byte, prot Protection) *fakeRegion {
	r := &fakeRegion{Region: Region{Base: base, Size: uintptr(len(data)), State: StateCommit, Protect: prot}, data: data}
	f.regions = append(f.regions, r)
	sort.Slice(f.regions, func(i, j int) bool { return f.regions[i].Base < f.regions[j].Base })
	return r
}

func (f *fakeProcess) reserve(base, size uintptr) {
	f.regions = append(f.regions, &fakeRegion{Region: Region{Base: base, Size: size, State: StateReserve}})
	sort.Slice(f.regions, func(i, j int) bool { return f.regions[i].Base < f.regions[j].Base })
}

func (f *fakeProcess) find(address uintptr, size int) (*fakeRegion, int, bool) {
	for _, r := range f.regions {
		if address >= r.Base && address+uintptr(size) <= r.End() && r.data != nil {
			return r, int(address - r.Base), true
		}
	}
	return nil, 0, false
}

func (f *fakeProcess) Pid() uint32 {
	return 4242
}

func (f *fakeProcess) ExitCode() (uint32, error) {
	return f.exitCode, f.exitErr
}

func (f *fakeProcess) ReadMemory(address uintptr, buf []byte) error {
	if f.exitCode != StillActive {
		return errFake
	}
	r, off, ok := f.find(address, len(buf))
	if !ok || r.vanished {
		return errFake
	}
	copy(buf, r.data[off:])
	return nil
}

func (f *fakeProcess) WriteMemory(address uintptr, data []byte) error {
	if f.exitCode != StillActive {
		return errFake
	}
	r, off, ok := f.find(address, len(data))
	if !ok || r.Protect&ProtWrite == 0 {
		return errFake
	}
	copy(r.data[off:], data)
	return nil
}

func (f *fakeProcess) Query(address uintptr) (Region, error) {
	f.queries++
	if f.onQuery != nil {
		f.onQuery(f.queries)
	}
	if f.queryErr != nil {
		return Region{}, f.queryErr
	}
	for _, r := range f.regions {
		if r.End() <= address {
			continue
		}
		if r.Base <= address {
			return r.Region, nil
		}
		return Region{Base: address, Size: r.Base - address, State: StateFree}, nil
	}
	return Region{Base: address, Size: ^uintptr(0) - address, State: StateFree}, nil
}

func (f *fakeProcess) Allocate(size uintptr, prot Protection) (uintptr, error) {
	if f.failAlloc {
		return 0, errFake
	}
	address := f.nextAlloc
	f.nextAlloc += 0x10000
	f.mapRegion(address, make([]byte, size), prot)
	f.allocs[address] = prot
	return address, nil
}

func (f *fakeProcess) Free(address uintptr) error {
	if f.failFree[address] {
		return errFake
	}
	if _, ok := f.allocs[address]; !ok {
		return errFake
	}
	delete(f.allocs, address)
	for i, r := range f.regions {
		if r.Base == address {
			f.regions = append(f.regions[:i], f.regions[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeProcess) CreateThread(address uintptr) error {
	if f.failThread {
		return errFake
	}
	f.threads = append(f.threads, address)
	return nil
}

func (f *fakeProcess) FindModule(name string) (Module, bool, error) {
	for _, m := range f.modules {
		if strings.EqualFold(m.Name, name) {
			return m, true, nil
		}
	}
	return Module{}, false, nil
}

func (f *fakeProcess) Close() error {
	f.closed = true
	return nil
}
