//go:build windows

package memory

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	kernel32               = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx     = kernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx      = kernel32.NewProc("VirtualFreeEx")
	procCreateRemoteThread = kernel32.NewProc("CreateRemoteThread")
)

const processAccess = windows.PROCESS_VM_OPERATION |
	windows.PROCESS_VM_READ |
	windows.PROCESS_VM_WRITE |
	windows.PROCESS_QUERY_INFORMATION |
	windows.PROCESS_CREATE_THREAD

type winProcess struct {
	handle windows.Handle
	pid    uint32
	owned  bool
}

// Open opens pid with the access rights the Reader needs.
func Open(pid uint32) (Process, error) {
	h, err := windows.OpenProcess(processAccess, false, pid)
	if err != nil {
		return nil, fmt.Errorf("OpenProcess(%d): %w", pid, err)
	}
	return &winProcess{handle: h, pid: pid, owned: true}, nil
}

// FromHandle wraps a handle opened elsewhere. The handle is not closed by
// Close.
func FromHandle(h windows.Handle) (Process, error) {
	pid, err := windows.GetProcessId(h)
	if err != nil {
		return nil, fmt.Errorf("GetProcessId: %w", err)
	}
	return &winProcess{handle: h, pid: pid}, nil
}

func defaultSystemDir() string {
	dir, err := windows.GetSystemDirectory()
	if err != nil {
		return ""
	}
	return dir
}

func (p *winProcess) Pid() uint32 {
	return p.pid
}

func (p *winProcess) ExitCode() (uint32, error) {
	var code uint32
	if err := windows.GetExitCodeProcess(p.handle, &code); err != nil {
		return 0, err
	}
	return code, nil
}

func (p *winProcess) ReadMemory(address uintptr, buf []byte) error {
	var n uintptr
	if err := windows.ReadProcessMemory(p.handle, address, &buf[0], uintptr(len(buf)), &n); err != nil {
		return err
	}
	if n != uintptr(len(buf)) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (p *winProcess) WriteMemory(address uintptr, data []byte) error {
	var n uintptr
	if err := windows.WriteProcessMemory(p.handle, address, &data[0], uintptr(len(data)), &n); err != nil {
		return err
	}
	if n != uintptr(len(data)) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

func (p *winProcess) Query(address uintptr) (Region, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(p.handle, address, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return Region{}, err
	}
	return Region{
		Base:    mbi.BaseAddress,
		Size:    mbi.RegionSize,
		State:   regionState(mbi.State),
		Protect: protection(mbi.Protect),
	}, nil
}

func regionState(state uint32) RegionState {
	switch state {
	case windows.MEM_COMMIT:
		return StateCommit
	case windows.MEM_RESERVE:
		return StateReserve
	}
	return StateFree
}

func protection(protect uint32) Protection {
	var p Protection
	switch protect &^ (windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE) {
	case windows.PAGE_READONLY:
		p = ProtRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		p = ProtRead | ProtWrite
	case windows.PAGE_EXECUTE:
		p = ProtExec
	case windows.PAGE_EXECUTE_READ:
		p = ProtRead | ProtExec
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		p = ProtRead | ProtWrite | ProtExec
	}
	if protect&windows.PAGE_GUARD != 0 {
		p |= ProtGuard
	}
	return p
}

func pageProtection(prot Protection) uintptr {
	switch prot &^ ProtGuard {
	case ProtRead:
		return windows.PAGE_READONLY
	case ProtRead | ProtWrite:
		return windows.PAGE_READWRITE
	case ProtExec:
		return windows.PAGE_EXECUTE
	case ProtRead | ProtExec:
		return windows.PAGE_EXECUTE_READ
	case ProtRead | ProtWrite | ProtExec:
		return windows.PAGE_EXECUTE_READWRITE
	}
	return windows.PAGE_NOACCESS
}

func (p *winProcess) Allocate(size uintptr, prot Protection) (uintptr, error) {
	address, _, err := procVirtualAllocEx.Call(
		uintptr(p.handle), 0, size,
		windows.MEM_COMMIT|windows.MEM_RESERVE,
		pageProtection(prot),
	)
	if address == 0 {
		return 0, fmt.Errorf("VirtualAllocEx: %w", err)
	}
	return address, nil
}

func (p *winProcess) Free(address uintptr) error {
	ok, _, err := procVirtualFreeEx.Call(uintptr(p.handle), address, 0, windows.MEM_RELEASE)
	if ok == 0 {
		return fmt.Errorf("VirtualFreeEx: %w", err)
	}
	return nil
}

func (p *winProcess) CreateThread(address uintptr) error {
	thread, _, err := procCreateRemoteThread.Call(uintptr(p.handle), 0, 0, address, 0, 0, 0)
	if thread == 0 {
		return fmt.Errorf("CreateRemoteThread: %w", err)
	}
	// the thread keeps running after its handle is closed
	return windows.CloseHandle(windows.Handle(thread))
}

func (p *winProcess) FindModule(name string) (Module, bool, error) {
	snapshot, err := windows.CreateToolhelp32Snapshot(windows.TH32CS_SNAPMODULE|windows.TH32CS_SNAPMODULE32, p.pid)
	if err != nil {
		return Module{}, false, fmt.Errorf("CreateToolhelp32Snapshot: %w", err)
	}
	defer windows.CloseHandle(snapshot)

	var entry windows.ModuleEntry32
	entry.Size = uint32(unsafe.Sizeof(entry))
	err = windows.Module32First(snapshot, &entry)
	for err == nil {
		moduleName := windows.UTF16ToString(entry.Module[:])
		if strings.EqualFold(moduleName, name) {
			path := windows.UTF16ToString(entry.ExePath[:])
			return Module{
				Name: filepath.Base(path),
				Path: path,
				Base: entry.ModBaseAddr,
				Size: uintptr(entry.ModBaseSize),
			}, true, nil
		}
		err = windows.Module32Next(snapshot, &entry)
	}
	if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
		return Module{}, false, nil
	}
	return Module{}, false, err
}

func (p *winProcess) Close() error {
	if !p.owned {
		return nil
	}
	return windows.CloseHandle(p.handle)
}
