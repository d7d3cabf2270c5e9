//go:build linux

package memory

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// linuxProcess reads with process_vm_readv and writes through
// /proc/<pid>/mem, which also reaches pages mapped without write access.
// Remote allocation and thread creation need code injection and are not
// offered.
type linuxProcess struct {
	pid int
	mem int
}

// Open attaches to pid. The caller needs ptrace access to the target.
func Open(pid uint32) (Process, error) {
	if err := unix.Kill(int(pid), 0); err != nil && !errors.Is(err, unix.EPERM) {
		return nil, fmt.Errorf("process %d: %w", pid, err)
	}
	fd, err := unix.Open(fmt.Sprintf("/proc/%d/mem", pid), unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open /proc/%d/mem: %w", pid, err)
	}
	return &linuxProcess{pid: int(pid), mem: fd}, nil
}

func defaultSystemDir() string {
	return "/usr/lib"
}

func (p *linuxProcess) Pid() uint32 {
	return uint32(p.pid)
}

func (p *linuxProcess) ExitCode() (uint32, error) {
	err := unix.Kill(p.pid, 0)
	switch {
	case errors.Is(err, unix.ESRCH):
		return ExitNormal, nil
	case err != nil && !errors.Is(err, unix.EPERM):
		return 0, err
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", p.pid))
	if err != nil || exited(data) {
		return ExitNormal, nil
	}
	return StillActive, nil
}

// exited reports a zombie or dead state in the contents of
// /proc/<pid>/stat. The state field follows the parenthesized command
// name, which may itself contain spaces and parentheses.
func exited(stat []byte) bool {
	i := bytes.LastIndexByte(stat, ')')
	if i < 0 {
		return false
	}
	fields := strings.Fields(string(stat[i+1:]))
	return len(fields) > 0 && (fields[0] == "Z" || fields[0] == "X")
}

func (p *linuxProcess) ReadMemory(address uintptr, buf []byte) error {
	local := []unix.Iovec{{Base: &buf[0]}}
	local[0].SetLen(len(buf))
	remote := []unix.RemoteIovec{{Base: address, Len: len(buf)}}
	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}

func (p *linuxProcess) WriteMemory(address uintptr, data []byte) error {
	n, err := unix.Pwrite(p.mem, data, int64(address))
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

type mapping struct {
	start, end uintptr
	prot       Protection
	path       string
}

func (p *linuxProcess) maps() ([]mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mapping
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m, ok := parseMapsLine(sc.Text())
		if ok {
			out = append(out, m)
		}
	}
	return out, sc.Err()
}

// parseMapsLine reads one line of /proc/<pid>/maps:
//
//	7f1c2a000000-7f1c2a021000 r-xp 00000000 08:01 1234 /usr/lib/libc.so.6
func parseMapsLine(line string) (mapping, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return mapping{}, false
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return mapping{}, false
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return mapping{}, false
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return mapping{}, false
	}
	m := mapping{start: uintptr(start), end: uintptr(end)}
	perms := fields[1]
	if len(perms) >= 3 {
		if perms[0] == 'r' {
			m.prot |= ProtRead
		}
		if perms[1] == 'w' {
			m.prot |= ProtWrite
		}
		if perms[2] == 'x' {
			m.prot |= ProtExec
		}
	}
	if len(fields) >= 6 {
		m.path = strings.Join(fields[5:], " ")
	}
	return m, true
}

func (p *linuxProcess) Query(address uintptr) (Region, error) {
	maps, err := p.maps()
	if err != nil {
		return Region{}, err
	}
	return regionAt(maps, address), nil
}

// regionAt describes the sorted maps from address onward: the rest of the
// mapping containing address, or the gap up to the next mapping.
func regionAt(maps []mapping, address uintptr) Region {
	for _, m := range maps {
		if m.end <= address {
			continue
		}
		if m.start <= address {
			return Region{Base: address, Size: m.end - address, State: StateCommit, Protect: m.prot}
		}
		return Region{Base: address, Size: m.start - address, State: StateFree}
	}
	return Region{Base: address, Size: ^uintptr(0) - address, State: StateFree}
}

func (p *linuxProcess) Allocate(uintptr, Protection) (uintptr, error) {
	return 0, ErrUnsupported
}

func (p *linuxProcess) Free(uintptr) error {
	return ErrUnsupported
}

func (p *linuxProcess) CreateThread(uintptr) error {
	return ErrUnsupported
}

func (p *linuxProcess) FindModule(name string) (Module, bool, error) {
	maps, err := p.maps()
	if err != nil {
		return Module{}, false, err
	}
	module, found := moduleFrom(maps, name)
	return module, found, nil
}

// moduleFrom spans every mapping of the file called name, matched on the
// base name without regard to case.
func moduleFrom(maps []mapping, name string) (Module, bool) {
	var (
		module Module
		found  bool
	)
	for _, m := range maps {
		if m.path == "" || !strings.EqualFold(filepath.Base(m.path), name) {
			continue
		}
		// maps is sorted, so the first mapping is the image base
		if !found {
			module = Module{Name: filepath.Base(m.path), Path: m.path, Base: m.start}
			found = true
		}
		if m.end > module.End() {
			module.Size = m.end - module.Base
		}
	}
	return module, found
}

func (p *linuxProcess) Close() error {
	return unix.Close(p.mem)
}
