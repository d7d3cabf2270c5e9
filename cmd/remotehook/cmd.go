package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/samber/lo"

	"github.com/k2io/remotehook"
	"github.com/k2io/remotehook/memory"
)

const usage = `  scan [module!]<pattern>        find the single match of a pattern
  scanall [module!]<pattern>     find every match of a pattern
  sym <module> <symbol>          resolve an exported symbol in the live process
  reload <module> <symbol>       like sym, re-reading the module file
  exports <path>                 list the exports of a module file
  read <addr> [size]             hex dump memory
  str <addr> [max]               read a NUL terminated string
  write <addr> <hex>             write bytes
  module <name>                  show a loaded module
  regions                        list committed memory regions
  running                        report whether the target is alive
  alloc <size>                   allocate read-write memory
  free <addr>                    release an allocation
  thread <addr>                  start a remote thread
  detour [module!]<pattern> = <hex>   run payload bytes before the matched code
  undetour <addr>                remove the detour at addr
  hooks                          list installed detours
  shell                          interactive mode
`

type session struct {
	r     *memory.Reader
	hooks *remotehook.Registry
	cache *remotehook.Cache
	log   *slog.Logger
	out   io.Writer
	color bool
}

type cmdHandler struct {
	regex *regexp.Regexp
	fn    func(*session, []string) error
}

const num = `(0[xX][0-9a-fA-F]+|[0-9]+)`

var compiledCmds = []cmdHandler{
	{regexp.MustCompile(`^\s*(scan|scanall)\s+(?:(\S+)!)?(.+?)\s*$`), (*session).cmdScan},
	{regexp.MustCompile(`^\s*(sym|reload)\s+(\S+)\s+(\S+)\s*$`), (*session).cmdSym},
	{regexp.MustCompile(`^\s*(exports)\s+(.+?)\s*$`), (*session).cmdExports},
	{regexp.MustCompile(`^\s*(read|db)\s+` + num + `(?:\s+` + num + `)?\s*$`), (*session).cmdRead},
	{regexp.MustCompile(`^\s*(str)\s+` + num + `(?:\s+` + num + `)?\s*$`), (*session).cmdStr},
	{regexp.MustCompile(`^\s*(write)\s+` + num + `\s+([0-9a-fA-F ]+?)\s*$`), (*session).cmdWrite},
	{regexp.MustCompile(`^\s*(module)\s+(\S+)\s*$`), (*session).cmdModule},
	{regexp.MustCompile(`^\s*(regions)\s*$`), (*session).cmdRegions},
	{regexp.MustCompile(`^\s*(running)\s*$`), (*session).cmdRunning},
	{regexp.MustCompile(`^\s*(alloc)\s+` + num + `\s*$`), (*session).cmdAlloc},
	{regexp.MustCompile(`^\s*(free)\s+` + num + `\s*$`), (*session).cmdFree},
	{regexp.MustCompile(`^\s*(thread)\s+` + num + `\s*$`), (*session).cmdThread},
	{regexp.MustCompile(`^\s*(detour)\s+(?:(\S+)!)?(.+?)\s*=\s*([0-9a-fA-F ]+?)\s*$`), (*session).cmdDetour},
	{regexp.MustCompile(`^\s*(undetour)\s+` + num + `\s*$`), (*session).cmdUndetour},
	{regexp.MustCompile(`^\s*(hooks)\s*$`), (*session).cmdHooks},
}

var errNoTarget = errors.New("no target process")

func (s *session) CmdExec(req string) error {
	for _, handler := range compiledCmds {
		if m := handler.regex.FindStringSubmatch(req); m != nil {
			return handler.fn(s, m)
		}
	}
	return errors.New("unknown command")
}

func parseNum(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}
	return uintptr(v), nil
}

func parseHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.Join(strings.Fields(s), ""))
}

func formatAddrs(addrs []uintptr) string {
	return strings.Join(lo.Map(addrs, func(addr uintptr, _ int) string {
		return fmt.Sprintf("0x%x", addr)
	}), " ")
}

func (s *session) target() error {
	if s.r == nil {
		return errNoTarget
	}
	return nil
}

func (s *session) cmdScan(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	addrs, err := s.r.PatternScan(m[3], m[2], m[1] == "scanall")
	if err != nil {
		return err
	}
	s.Printf("%s\n", formatAddrs(addrs))
	return nil
}

func (s *session) cmdSym(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := s.r.GetAddressFromSymbol(m[2], m[3], "", m[1] == "reload")
	if err != nil {
		return err
	}
	s.Printf("%s!%s = 0x%x\n", m[2], m[3], address)
	return nil
}

func (s *session) cmdExports(m []string) error {
	exports, err := remotehook.Exports(m[2])
	if err != nil {
		return err
	}
	s.Printf("%s: %d exports\n", filepath.Base(m[2]), len(exports))
	names := make([]string, 0, len(exports))
	for name := range exports {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		s.Printf("  0x%x  %s\n", exports[name], name)
	}
	return nil
}

func (s *session) cmdRead(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	size := uintptr(0x40)
	if m[3] != "" {
		if size, err = parseNum(m[3]); err != nil {
			return err
		}
	}
	data, err := s.r.ReadBytes(address, int(size))
	if err != nil {
		return err
	}
	s.hexdump(address, data)
	return nil
}

func (s *session) cmdStr(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	limit := uintptr(256)
	if m[3] != "" {
		if limit, err = parseNum(m[3]); err != nil {
			return err
		}
	}
	str, err := s.r.ReadNullTerminatedString(address, int(limit))
	if err != nil {
		return err
	}
	s.Printf("%s\n", strconv.Quote(str))
	return nil
}

func (s *session) cmdWrite(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	data, err := parseHex(m[3])
	if err != nil {
		return err
	}
	if err := s.r.WriteBytes(address, data); err != nil {
		return err
	}
	s.Printf("wrote %d bytes at 0x%x\n", len(data), address)
	return nil
}

func (s *session) cmdModule(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	module, err := s.r.Module(m[2])
	if err != nil {
		return err
	}
	s.Printf("%s base 0x%x size 0x%x %s\n", module.Name, module.Base, module.Size, module.Path)
	return nil
}

func (s *session) cmdRegions(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	regions, err := s.r.Regions()
	if err != nil {
		return err
	}
	committed := lo.Filter(regions, func(region memory.Region, _ int) bool {
		return region.Committed()
	})
	for _, region := range committed {
		s.Printf("0x%x-0x%x %s\n", region.Base, region.End(), region.Protect.String())
	}
	return nil
}

func (s *session) cmdRunning(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	running, err := s.r.IsRunning()
	if err != nil {
		return err
	}
	s.Printf("pid %d running: %s\n", s.r.Pid(), strconv.FormatBool(running))
	return nil
}

func (s *session) cmdAlloc(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	size, err := parseNum(m[2])
	if err != nil {
		return err
	}
	address, err := s.r.Allocate(int(size))
	if err != nil {
		return err
	}
	s.Printf("0x%x\n", address)
	return nil
}

func (s *session) cmdFree(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	return s.r.Free(address)
}

func (s *session) cmdThread(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	return s.r.StartThread(address)
}

func (s *session) cmdDetour(m []string) error {
	if err := s.target(); err != nil {
		return err
	}
	payload, err := parseHex(m[4])
	if err != nil {
		return err
	}
	h := remotehook.NewHook(s.r, &remotehook.Detour{Signature: m[3], Module: m[2], Payload: payload},
		remotehook.WithCache(s.cache), remotehook.WithLogger(s.log))
	if err := s.hooks.Install(h); err != nil {
		if len(h.State().AllocatedAddresses) > 0 {
			if cerr := h.Uninstall(); cerr != nil {
				s.LogError("cleanup: %v", cerr)
			}
		}
		return err
	}
	state := h.State()
	s.Printf("detour at 0x%x, stub at 0x%x\n", state.JumpAddress, state.HookAddress)
	return nil
}

func (s *session) cmdUndetour(m []string) error {
	address, err := parseNum(m[2])
	if err != nil {
		return err
	}
	return s.hooks.Uninstall(address)
}

func (s *session) cmdHooks(m []string) error {
	s.Printf("%d hooks installed\n", s.hooks.Len())
	return nil
}

// Close removes every detour still installed.
func (s *session) Close() {
	if s.hooks.Len() == 0 {
		return
	}
	if err := s.hooks.UninstallAll(); err != nil {
		s.LogError("uninstall: %v", err)
	}
}

func (s *session) Interactive() {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            fmt.Sprintf("[remotehook:%d]$ ", s.r.Pid()),
		HistoryFile:       filepath.Join(os.TempDir(), "remotehook_history.txt"),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		s.LogError("%v", err)
		return
	}
	defer rl.Close()
	defer s.Close()

	for {
		req, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				break
			}
			continue
		}
		req = strings.TrimSpace(req)
		if req == "" {
			continue
		}
		if req == "q" || req == "exit" || req == "quit" {
			break
		}
		if req == "help" {
			fmt.Fprint(s.out, usage)
			continue
		}
		if err := s.CmdExec(req); err != nil {
			s.LogError("%v", err)
		}
	}
}
