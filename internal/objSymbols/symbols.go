// Package symbols reads the export tables of on-disk module images.
package symbols

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrFormat means the file is not a module image any reader understands.
var ErrFormat = errors.New("unrecognized object file")

type rawFile interface {
	// Exports maps exported names to offsets from the image base.
	Exports() (map[string]uint32, error)
}

var objType = []func(io.ReaderAt) (rawFile, error){
	openPE,
	openElf,
	openMacho,
}

// readerAt remembers the first read failure other than end of file, so an
// I/O error is not mistaken for an unrecognized format.
type readerAt struct {
	r   io.ReaderAt
	err error
}

func (ra *readerAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := ra.r.ReadAt(p, off)
	if err != nil && err != io.EOF && ra.err == nil {
		ra.err = err
	}
	return n, err
}

// ReadExports parses the module at name and returns its exports. Errors
// opening or reading the file are returned as is; files no reader accepts
// yield ErrFormat.
func ReadExports(name string) (map[string]uint32, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readExports(f, name)
}

func readExports(r io.ReaderAt, name string) (map[string]uint32, error) {
	ra := &readerAt{r: r}
	for _, try := range objType {
		raw, err := try(ra)
		if ra.err != nil {
			return nil, fmt.Errorf("read %s: %w", name, ra.err)
		}
		if err != nil {
			continue
		}
		exports, err := raw.Exports()
		if ra.err != nil {
			return nil, fmt.Errorf("read %s: %w", name, ra.err)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", name, ErrFormat, err)
		}
		return exports, nil
	}
	return nil, fmt.Errorf("open %s: %w", name, ErrFormat)
}
