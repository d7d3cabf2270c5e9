package memory

import (
	"errors"
	"slices"
	"testing"
)

var needle = []byte{0x48, 0x8b, 0x05, 0x11, 0x22, 0x33, 0x44, 0xc3}

func region(size int, at ...int) []byte {
	data := make([]byte, size)
	for _, off := range at {
		copy(data[off:], needle)
	}
	return data
}

const needlePattern = "48 8B 05 ?? ?? ?? ?? C3"

func TestPatternScanSingle(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x123), ProtRead|ProtExec)
	got, err := r.PatternScan(needlePattern, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uintptr{0x10123}) {
		t.Fatalf("expected [0x10123] - got %x", got)
	}
}

func TestPatternScanNotFound(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000), ProtRead)
	_, err := r.PatternScan(needlePattern, "", false)
	if !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound - got %v", err)
	}
	_, err = r.PatternScan(needlePattern, "", true)
	if !errors.Is(err, ErrPatternNotFound) {
		t.Fatalf("expected ErrPatternNotFound with returnMultiple - got %v", err)
	}
}

func TestPatternScanAmbiguous(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x10, 0x800), ProtRead)
	p.mapRegion(0x40000, region(0x1000, 0x20), ProtRead|ProtWrite)
	_, err := r.PatternScan(needlePattern, "", false)
	if !errors.Is(err, ErrAmbiguousPattern) {
		t.Fatalf("expected ErrAmbiguousPattern - got %v", err)
	}
	var merr *Error
	if !errors.As(err, &merr) || merr.Count != 3 {
		t.Fatalf("expected count 3 - got %v", err)
	}
}

func TestPatternScanMultiple(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x40000, region(0x1000, 0x20), ProtRead|ProtWrite|ProtExec)
	p.mapRegion(0x10000, region(0x1000, 0x800, 0x10), ProtRead)
	got, err := r.PatternScan(needlePattern, "", true)
	if err != nil {
		t.Fatal(err)
	}
	exp := []uintptr{0x10010, 0x10800, 0x40020}
	if !slices.Equal(got, exp) {
		t.Fatalf("expected %x - got %x", exp, got)
	}
}

func TestPatternScanSkipsProtections(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x10), 0)
	p.mapRegion(0x20000, region(0x1000, 0x10), ProtExec)
	p.mapRegion(0x30000, region(0x1000, 0x10), ProtRead|ProtGuard)
	p.mapRegion(0x40000, region(0x1000, 0x10), ProtRead|ProtWrite)
	p.reserve(0x50000, 0x10000)

	got, err := r.PatternScan(needlePattern, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uintptr{0x40010}) {
		t.Fatalf("expected [0x40010] - got %x", got)
	}
}

func TestPatternScanSkipsVanishedRegion(t *testing.T) {
	p, r := newTestReader(t)
	gone := p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	gone.vanished = true
	p.mapRegion(0x20000, region(0x1000, 0x10), ProtRead)
	got, err := r.PatternScan(needlePattern, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uintptr{0x20010}) {
		t.Fatalf("expected [0x20010] - got %x", got)
	}
}

func TestPatternScanGrowingRegion(t *testing.T) {
	p, r := newTestReader(t)
	a := p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	p.mapRegion(0x20000, region(0x1000), ProtRead)
	// the third query lands past a, which then grows over its old end
	p.onQuery = func(n int) {
		if n == 3 {
			a.data = region(0x2000, 0x10, 0x1010)
			a.Size = 0x2000
		}
	}
	got, err := r.PatternScan(needlePattern, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uintptr{0x10010, 0x11010}) {
		t.Fatalf("expected [0x10010 0x11010] - got %x", got)
	}
}

func TestRegionsStartAtCursor(t *testing.T) {
	p, r := newTestReader(t)
	a := p.mapRegion(0x10000, region(0x1000), ProtRead)
	p.onQuery = func(n int) {
		if n == 3 {
			a.data = region(0x2000)
			a.Size = 0x2000
		}
	}
	regions, err := r.Regions()
	if err != nil {
		t.Fatal(err)
	}
	for i := 1; i < len(regions); i++ {
		if regions[i].Base != regions[i-1].End() {
			t.Fatalf("expected region %d to start at 0x%x - got 0x%x", i, regions[i-1].End(), regions[i].Base)
		}
	}
}

func TestPatternScanModule(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	p.mapRegion(0x400000, region(0x1000, 0x10), ProtRead|ProtExec)
	p.mapRegion(0x401000, region(0x1000, 0x10), ProtRead)
	p.mapRegion(0x402000, region(0x1000, 0x10), ProtRead)
	p.modules = []Module{{Name: "Game.exe", Base: 0x400000, Size: 0x2000}}

	got, err := r.PatternScan(needlePattern, "game.exe", true)
	if err != nil {
		t.Fatal(err)
	}
	exp := []uintptr{0x400010, 0x401010}
	if !slices.Equal(got, exp) {
		t.Fatalf("expected %x - got %x", exp, got)
	}
}

func TestPatternScanModuleNotLoaded(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	_, err := r.PatternScan(needlePattern, "missing.dll", false)
	if !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("expected ErrModuleNotLoaded - got %v", err)
	}
}

func TestPatternScanCeiling(t *testing.T) {
	p := newFakeProcess()
	p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	p.mapRegion(0x90000, region(0x1000, 0x10), ProtRead)
	r := NewReader(p, WithScanCeiling(0x80000))
	got, err := r.PatternScan(needlePattern, "", true)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, []uintptr{0x10010}) {
		t.Fatalf("expected [0x10010] - got %x", got)
	}
}

func TestPatternScanBadPattern(t *testing.T) {
	_, r := newTestReader(t)
	if _, err := r.PatternScan(`\x4G`, "", false); !errors.Is(err, ErrBadPattern) {
		t.Fatalf("expected ErrBadPattern - got %v", err)
	}
}

func TestPatternScanProcessExited(t *testing.T) {
	p, r := newTestReader(t)
	p.mapRegion(0x10000, region(0x1000, 0x10), ProtRead)
	p.queryErr = errFake
	p.exitCode = ExitNormal
	_, err := r.PatternScan(needlePattern, "", false)
	if !errors.Is(err, ErrProcessNotRunning) {
		t.Fatalf("expected ErrProcessNotRunning - got %v", err)
	}
}
