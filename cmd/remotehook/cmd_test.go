package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/k2io/remotehook"
	"github.com/k2io/remotehook/internal/pefixture"
)

func newTestSession() (*session, *bytes.Buffer) {
	var out bytes.Buffer
	return &session{out: &out, hooks: remotehook.NewRegistry(), cache: remotehook.NewCache()}, &out
}

func TestParseHex(t *testing.T) {
	data, err := parseHex("48 8b 05  c3")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, []byte{0x48, 0x8b, 0x05, 0xc3}) {
		t.Fatalf("expected 488b05c3 - got %x", data)
	}
	if _, err := parseHex("4"); err == nil {
		t.Fatalf("expected odd length to fail")
	}
}

func TestFormatAddrs(t *testing.T) {
	got := formatAddrs([]uintptr{0x10, 0x401000})
	if got != "0x10 0x401000" {
		t.Fatalf("expected '0x10 0x401000' - got '%s'", got)
	}
}

func TestCmdExports(t *testing.T) {
	path, err := pefixture.WriteDLL(t.TempDir(), "game.dll", 0x180000000, []pefixture.Export{
		{Name: "Update", RVA: 0x2000},
		{Name: "Init", RVA: 0x1800},
	})
	if err != nil {
		t.Fatal(err)
	}
	s, out := newTestSession()
	if err := s.CmdExec("exports " + path); err != nil {
		t.Fatal(err)
	}
	exp := "game.dll: 2 exports\n  0x1800  Init\n  0x2000  Update\n"
	if out.String() != exp {
		t.Fatalf("expected %q - got %q", exp, out.String())
	}
}

func TestCmdNeedsTarget(t *testing.T) {
	s, _ := newTestSession()
	for _, req := range []string{"scan 48 8B", "read 0x1000", "sym kernel32.dll LoadLibraryA", "detour game.exe!55 = 90"} {
		if err := s.CmdExec(req); !errors.Is(err, errNoTarget) {
			t.Fatalf("%s: expected errNoTarget - got %v", req, err)
		}
	}
}

func TestCmdUnknown(t *testing.T) {
	s, _ := newTestSession()
	if err := s.CmdExec("frobnicate"); err == nil {
		t.Fatalf("expected unknown command error")
	}
}

func TestScanRegex(t *testing.T) {
	m := compiledCmds[0].regex.FindStringSubmatch("scan game.exe!48 8B ?? 55")
	if m == nil || m[2] != "game.exe" || m[3] != "48 8B ?? 55" {
		t.Fatalf("expected module and pattern - got %q", m)
	}
	m = compiledCmds[0].regex.FindStringSubmatch("scanall 48 8B ?? 55")
	if m == nil || m[1] != "scanall" || m[2] != "" || m[3] != "48 8B ?? 55" {
		t.Fatalf("expected pattern only - got %q", m)
	}
}

func TestHexdump(t *testing.T) {
	s, out := newTestSession()
	s.hexdump(0x1000, []byte("AB\x00"))
	line := out.String()
	if !strings.HasPrefix(line, "0x0000000000001000: 41 42 00 ") || !strings.HasSuffix(line, " AB.\n") {
		t.Fatalf("unexpected dump %q", line)
	}
}
