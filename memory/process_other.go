//go:build !windows && !linux

package memory

// Open is not available on this platform; supply a Process backend
// directly to NewReader instead.
func Open(pid uint32) (Process, error) {
	return nil, &Error{Op: "open", Kind: ErrUnsupported}
}

func defaultSystemDir() string {
	return ""
}
