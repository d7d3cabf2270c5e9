// Copyright (C) 2022 K2 Cyber Security Inc.

package remotehook

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// E9 rel32
	JmpRel32Len = 5
	// FF 25 00000000 imm64
	JmpAbs64Len = 14
	// 48 B8 imm64 FF E0
	MovRaxJmpLen = 12
	// 49 BB imm64 41 FF E3
	MovR11JmpLen = 13
)

func overflowsS32(from, to uintptr) bool {
	rel := int64(to) - int64(from)
	return rel < math.MinInt32 || rel > math.MaxInt32
}

// JmpRel32 encodes a near jump placed at from that lands on to.
func JmpRel32(from, to uintptr) ([]byte, error) {
	next := from + JmpRel32Len
	if overflowsS32(next, to) {
		return nil, fmt.Errorf("%w: jump from 0x%x to 0x%x needs more than rel32", ErrRelativeAddr, from, to)
	}
	seq := []byte{0xe9, 0, 0, 0, 0}
	binary.LittleEndian.PutUint32(seq[1:], uint32(int32(int64(to)-int64(next))))
	return seq, nil
}

// JmpAbs64 encodes an indirect jump through the 8 bytes that follow it.
// It clobbers no register.
func JmpAbs64(to uintptr) []byte {
	seq := []byte{
		0xff, 0x25, 0, 0, 0, 0, // JMP [RIP+0]
		0, 0, 0, 0, 0, 0, 0, 0,
	}
	binary.LittleEndian.PutUint64(seq[6:], uint64(to))
	return seq
}

// MovRaxJmp encodes MOV RAX, to; JMP RAX.
func MovRaxJmp(to uintptr) []byte {
	seq := []byte{
		0x48, 0xb8, // MOV RAX, addr
		0, 0, 0, 0, 0, 0, 0, 0,
		0xff, 0xe0, // JMP RAX
	}
	binary.LittleEndian.PutUint64(seq[2:], uint64(to))
	return seq
}

// MovR11Jmp encodes MOV R11, to; JMP R11.
func MovR11Jmp(to uintptr) []byte {
	seq := []byte{
		0x49, 0xbb, // MOV R11, addr64
		0, 0, 0, 0, 0, 0, 0, 0,
		0x41, 0xff, 0xe3, // JMP R11
	}
	binary.LittleEndian.PutUint64(seq[2:], uint64(to))
	return seq
}

// Jmp picks the short jump when to is reachable from from and the
// register-free absolute jump otherwise.
func Jmp(from, to uintptr) []byte {
	if seq, err := JmpRel32(from, to); err == nil {
		return seq
	}
	return JmpAbs64(to)
}

// JmpLen is len(Jmp(from, to)).
func JmpLen(from, to uintptr) int {
	if overflowsS32(from+JmpRel32Len, to) {
		return JmpAbs64Len
	}
	return JmpRel32Len
}

// PadNop extends seq with NOPs to size bytes.
func PadNop(seq []byte, size int) []byte {
	for len(seq) < size {
		seq = append(seq, 0x90)
	}
	return seq
}
