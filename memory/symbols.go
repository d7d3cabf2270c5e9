package memory

import (
	"errors"
	"io/fs"
	"maps"
	"os"
	"path/filepath"

	symbols "github.com/k2io/remotehook/internal/objSymbols"
)

// GetSymbols returns the export table of the module file at modulePath,
// mapping symbol names to offsets from the module base. Tables are cached
// per path until forceReload is set. The returned map is a copy.
func (r *Reader) GetSymbols(modulePath string, forceReload bool) (map[string]uint32, error) {
	r.symMu.Lock()
	defer r.symMu.Unlock()

	if !forceReload {
		if table, ok := r.symbolTable[modulePath]; ok {
			return maps.Clone(table), nil
		}
	}

	table, err := r.loadSymbols(modulePath)
	if err != nil {
		kind := ErrIO
		if errors.Is(err, symbols.ErrFormat) {
			kind = ErrParse
		}
		return nil, &Error{Op: "symbols", Kind: kind, Module: modulePath, Err: err}
	}
	if table == nil {
		table = make(map[string]uint32)
	}
	r.symbolTable[modulePath] = table
	r.log.Debug("loaded symbols", "path", modulePath, "count", len(table))
	return maps.Clone(table), nil
}

// GetAddressFromSymbol resolves an exported symbol to its address in the
// live process: the symbol's offset in the on-disk image of moduleName,
// found in moduleDir or the configured system directory, plus the base
// the module is currently loaded at.
func (r *Reader) GetAddressFromSymbol(moduleName, symbolName, moduleDir string, forceReload bool) (uintptr, error) {
	if moduleDir == "" {
		moduleDir = r.config.SystemDir
	}
	path := filepath.Join(moduleDir, moduleName)
	if _, err := os.Stat(path); err != nil {
		kind := ErrIO
		if errors.Is(err, fs.ErrNotExist) {
			kind = ErrModuleNotFound
		}
		return 0, &Error{Op: "symbol address", Kind: kind, Module: path, Err: err}
	}

	table, err := r.GetSymbols(path, forceReload)
	if err != nil {
		return 0, err
	}
	offset, ok := table[symbolName]
	if !ok {
		return 0, &Error{Op: "symbol address", Kind: ErrSymbolNotFound, Module: moduleName, Symbol: symbolName}
	}

	module, ok, err := r.findModule(moduleName)
	if err != nil || !ok {
		return 0, &Error{Op: "symbol address", Kind: ErrModuleNotLoaded, Module: moduleName, Symbol: symbolName, Err: err}
	}
	return module.Base + uintptr(offset), nil
}
