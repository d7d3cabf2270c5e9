// Package pefixture builds minimal PE32+ DLL images for tests.
package pefixture

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
)

const (
	// e_lfanew
	peHeaderOffset = 0x40
	fileAlignment  = 0x200
	sectionAlign   = 0x1000
	// RVA of the .edata section
	EdataRVA = 0x1000
)

// Export is one entry of the export address table. A non-empty Forward
// makes it a forwarder to that "DLL.Symbol" string instead of RVA. An
// empty Name exports by ordinal only.
type Export struct {
	Name    string
	RVA     uint32
	Forward string
}

func align(v, to uint32) uint32 {
	return (v + to - 1) &^ (to - 1)
}

// edata lays out the export directory and its tables at EdataRVA.
func edata(dllName string, exports []Export) []byte {
	type named struct {
		name  string
		index uint16
	}
	var names []named
	for i, e := range exports {
		if e.Name != "" {
			names = append(names, named{e.Name, uint16(i)})
		}
	}
	sort.Slice(names, func(i, j int) bool { return names[i].name < names[j].name })

	eat := uint32(40)
	npt := eat + uint32(4*len(exports))
	ot := npt + uint32(4*len(names))
	strs := ot + uint32(2*len(names))

	var strtab bytes.Buffer
	addString := func(s string) uint32 {
		rva := EdataRVA + strs + uint32(strtab.Len())
		strtab.WriteString(s)
		strtab.WriteByte(0)
		return rva
	}

	dllNameRVA := addString(dllName)
	nameRVAs := make([]uint32, len(names))
	for i, n := range names {
		nameRVAs[i] = addString(n.name)
	}
	funcs := make([]uint32, len(exports))
	for i, e := range exports {
		funcs[i] = e.RVA
		if e.Forward != "" {
			funcs[i] = addString(e.Forward)
		}
	}

	var out bytes.Buffer
	w := func(v any) { binary.Write(&out, binary.LittleEndian, v) }
	w(uint32(0))              // Characteristics
	w(uint32(0))              // TimeDateStamp
	w(uint16(0))              // MajorVersion
	w(uint16(0))              // MinorVersion
	w(dllNameRVA)             // Name
	w(uint32(1))              // Base
	w(uint32(len(exports)))   // NumberOfFunctions
	w(uint32(len(names)))     // NumberOfNames
	w(uint32(EdataRVA + eat)) // AddressOfFunctions
	w(uint32(EdataRVA + npt)) // AddressOfNames
	w(uint32(EdataRVA + ot))  // AddressOfNameOrdinals
	w(funcs)
	w(nameRVAs)
	for _, n := range names {
		w(n.index)
	}
	out.Write(strtab.Bytes())
	return out.Bytes()
}

// DLL returns a PE32+ image named dllName with the given preferred image
// base and exports. Ordinals start at 1 in slice order.
func DLL(dllName string, imageBase uint64, exports []Export) []byte {
	data := edata(dllName, exports)
	rawSize := align(uint32(len(data)), fileAlignment)

	fh := pe.FileHeader{
		Machine:              pe.IMAGE_FILE_MACHINE_AMD64,
		NumberOfSections:     1,
		SizeOfOptionalHeader: uint16(binary.Size(pe.OptionalHeader64{})),
		Characteristics: pe.IMAGE_FILE_EXECUTABLE_IMAGE |
			pe.IMAGE_FILE_LARGE_ADDRESS_AWARE |
			pe.IMAGE_FILE_DLL,
	}
	oh := pe.OptionalHeader64{
		Magic:                 0x20b,
		ImageBase:             imageBase,
		SectionAlignment:      sectionAlign,
		FileAlignment:         fileAlignment,
		MajorSubsystemVersion: 6,
		SizeOfImage:           EdataRVA + align(uint32(len(data)), sectionAlign),
		SizeOfHeaders:         fileAlignment,
		SizeOfInitializedData: rawSize,
		Subsystem:             pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
		NumberOfRvaAndSizes:   16,
	}
	oh.DataDirectory[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = pe.DataDirectory{
		VirtualAddress: EdataRVA,
		Size:           uint32(len(data)),
	}
	sh := pe.SectionHeader32{
		VirtualSize:      uint32(len(data)),
		VirtualAddress:   EdataRVA,
		SizeOfRawData:    rawSize,
		PointerToRawData: fileAlignment,
		Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	}
	copy(sh.Name[:], ".edata")

	var out bytes.Buffer
	dos := make([]byte, peHeaderOffset)
	dos[0], dos[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(dos[0x3c:], peHeaderOffset)
	out.Write(dos)
	out.WriteString("PE\x00\x00")
	binary.Write(&out, binary.LittleEndian, fh)
	binary.Write(&out, binary.LittleEndian, oh)
	binary.Write(&out, binary.LittleEndian, sh)
	out.Write(make([]byte, fileAlignment-out.Len()))
	out.Write(data)
	out.Write(make([]byte, int(rawSize)-len(data)))
	return out.Bytes()
}

// WriteDLL writes DLL(name, ...) to dir/name and returns the path.
func WriteDLL(dir, name string, imageBase uint64, exports []Export) (string, error) {
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, DLL(name, imageBase, exports), 0o644)
}
