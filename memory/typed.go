package memory

import (
	"bytes"
	"encoding/binary"
)

// Read decodes a T stored little-endian at address. T must have a fixed
// size in the encoding/binary sense: sized integers, floats, bools, and
// arrays or structs of those.
func Read[T any](r *Reader, address uintptr) (T, error) {
	var value T
	size := binary.Size(value)
	if size <= 0 {
		return value, &Error{Op: "read typed", Kind: ErrInvalidType, Addr: address}
	}
	data, err := r.ReadBytes(address, size)
	if err != nil {
		return value, err
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &value); err != nil {
		return value, &Error{Op: "read typed", Kind: ErrInvalidType, Addr: address, Err: err}
	}
	return value, nil
}

// Write encodes value little-endian at address.
func Write[T any](r *Reader, address uintptr, value T) error {
	size := binary.Size(value)
	if size <= 0 {
		return &Error{Op: "write typed", Kind: ErrInvalidType, Addr: address}
	}
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if err := binary.Write(buf, binary.LittleEndian, value); err != nil {
		return &Error{Op: "write typed", Kind: ErrInvalidType, Addr: address, Err: err}
	}
	return r.WriteBytes(address, buf.Bytes())
}

// ReadPointer reads a 64-bit pointer.
func (r *Reader) ReadPointer(address uintptr) (uintptr, error) {
	v, err := Read[uint64](r, address)
	return uintptr(v), err
}

func (r *Reader) ReadUint32(address uintptr) (uint32, error) {
	return Read[uint32](r, address)
}

func (r *Reader) ReadUint64(address uintptr) (uint64, error) {
	return Read[uint64](r, address)
}

const stringChunk = 32

// ReadNullTerminatedString reads bytes until a NUL or maxSize bytes. The
// read proceeds in small chunks so it does not run into an unmapped page
// far past the terminator.
func (r *Reader) ReadNullTerminatedString(address uintptr, maxSize int) (string, error) {
	var out []byte
	for len(out) < maxSize {
		n := stringChunk
		if rest := maxSize - len(out); rest < n {
			n = rest
		}
		chunk, err := r.ReadBytes(address+uintptr(len(out)), n)
		if err != nil {
			return "", err
		}
		if i := bytes.IndexByte(chunk, 0); i >= 0 {
			return string(append(out, chunk[:i]...)), nil
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}
