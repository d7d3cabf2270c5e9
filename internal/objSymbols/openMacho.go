package symbols

import (
	"debug/macho"
	"io"
	"math"
	"strings"
)

const (
	machoTypeMask = 0x0e // N_TYPE
	machoSect     = 0x0e // N_SECT
	machoExt      = 0x01 // N_EXT
)

type machoFile struct {
	macho *macho.File
}

func openMacho(r io.ReaderAt) (rawFile, error) {
	f, err := macho.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &machoFile{f}, nil
}

// Exports returns external symbols defined in a section, relative to the
// __TEXT segment, without the leading underscore.
func (f *machoFile) Exports() (map[string]uint32, error) {
	machoOff := make(map[string]uint32)
	if f.macho.Symtab == nil {
		return machoOff, nil
	}
	var base uint64
	if text := f.macho.Segment("__TEXT"); text != nil {
		base = text.Addr
	}
	for _, s := range f.macho.Symtab.Syms {
		if s.Type&machoExt == 0 || s.Type&machoTypeMask != machoSect {
			continue
		}
		if s.Value < base || s.Value-base > math.MaxUint32 {
			continue
		}
		machoOff[strings.TrimPrefix(s.Name, "_")] = uint32(s.Value - base)
	}
	return machoOff, nil
}
