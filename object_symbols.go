package remotehook

import (
	sym "github.com/k2io/remotehook/internal/objSymbols"
)

// Exports reads the export table of the module image at name, mapping
// each exported symbol to its offset from the image base.
func Exports(name string) (map[string]uint32, error) {
	return sym.ReadExports(name)
}
