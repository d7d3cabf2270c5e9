package symbols

import (
	"debug/elf"
	"errors"
	"io"
	"math"
)

type elfFile struct {
	elf *elf.File
}

func openElf(r io.ReaderAt) (rawFile, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &elfFile{f}, nil
}

func (e *elfFile) Exports() (map[string]uint32, error) {
	elfSyms, err := e.elf.DynamicSymbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return map[string]uint32{}, nil
	}
	if err != nil {
		return nil, err
	}
	return getElfOff(elfSyms), nil
}

// getElfOff keeps defined global and weak functions and objects. For a
// shared object their values are offsets from the load base.
func getElfOff(stab []elf.Symbol) map[string]uint32 {
	elfOff := make(map[string]uint32)
	for _, k := range stab {
		if k.Section == elf.SHN_UNDEF || k.Value > math.MaxUint32 {
			continue
		}
		switch elf.ST_BIND(k.Info) {
		case elf.STB_GLOBAL, elf.STB_WEAK:
		default:
			continue
		}
		switch elf.ST_TYPE(k.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
			elfOff[k.Name] = uint32(k.Value)
		}
	}
	return elfOff
}
