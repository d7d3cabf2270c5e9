package symbols

import (
	"fmt"
	"io"

	"github.com/Binject/debug/pe"
)

// IMAGE_DIRECTORY_ENTRY_EXPORT
const exportEntry = 0

type peFile struct {
	pe *pe.File
}

func openPE(r io.ReaderAt) (rawFile, error) {
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &peFile{f}, nil
}

// exportDirectory returns the RVA range of the export directory. Export
// addresses inside it are forwarder strings, not code.
func (f *peFile) exportDirectory() (uint32, uint32) {
	var dd pe.DataDirectory
	switch oh := f.pe.OptionalHeader.(type) {
	case *pe.OptionalHeader64:
		if oh.NumberOfRvaAndSizes > exportEntry {
			dd = oh.DataDirectory[exportEntry]
		}
	case *pe.OptionalHeader32:
		if oh.NumberOfRvaAndSizes > exportEntry {
			dd = oh.DataDirectory[exportEntry]
		}
	}
	return dd.VirtualAddress, dd.VirtualAddress + dd.Size
}

func (f *peFile) Exports() (map[string]uint32, error) {
	exports, err := f.pe.Exports()
	if err != nil {
		return nil, err
	}
	dirStart, dirEnd := f.exportDirectory()
	peOff := make(map[string]uint32, len(exports))
	for _, e := range exports {
		if e.VirtualAddress == 0 {
			continue
		}
		if e.VirtualAddress >= dirStart && e.VirtualAddress < dirEnd {
			continue
		}
		name := e.Name
		if name == "" {
			name = fmt.Sprintf("#%d", e.Ordinal)
		}
		peOff[name] = e.VirtualAddress
	}
	return peOff, nil
}
