// Copyright (C) 2022 K2 Cyber Security Inc.

package remotehook

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// longest x86-64 instruction
const maxInstLen = 15

// the stolen instructions can overrun the jump by one instruction, and the
// stub ends with a jump back
const detourSlack = JmpAbs64Len + maxInstLen - 1 + JmpAbs64Len

type info struct {
	length      int
	relocatable bool
}

func analysis(src []byte) (inf info, err error) {
	inst, err := x86asm.Decode(src, 64)
	if err != nil {
		return inf, fmt.Errorf("%w: %w", ErrInstructionDecode, err)
	}
	inf.length = inst.Len
	inf.relocatable = true
	for _, a := range inst.Args {
		if mem, ok := a.(x86asm.Mem); ok {
			if mem.Base == x86asm.RIP {
				inf.relocatable = false
				return
			}
		} else if _, ok := a.(x86asm.Rel); ok {
			inf.relocatable = false
			return
		}
	}
	return
}

// StolenLength returns how many bytes of whole instructions at the start
// of code cover at least size bytes. Instructions addressing relative to
// their own location cannot be moved and give ErrRelativeAddr. Code ending
// mid-instruction gives ErrInstructionDecode wrapping x86asm.ErrTruncated.
func StolenLength(code []byte, size int) (int, error) {
	var length int
	for length < size {
		if length >= len(code) {
			return 0, fmt.Errorf("%w: %w: need %d bytes, have %d", ErrInstructionDecode, x86asm.ErrTruncated, size, len(code))
		}
		inf, err := analysis(code[length:])
		if err != nil {
			return 0, err
		}
		if !inf.relocatable {
			return 0, fmt.Errorf("%w at offset %d", ErrRelativeAddr, length)
		}
		length += inf.length
	}
	return length, nil
}

// Detour runs Payload before the instructions at the pattern match.
//
// The jump address gets a jump to the stub, padded with NOPs to a whole
// number of instructions. The stub holds Payload, the instructions the
// jump displaced and a jump back to the first instruction after them.
// Payload must be position independent and preserve whatever state the
// displaced instructions rely on.
//
// A Detour keeps per-install state and serves a single Hook.
type Detour struct {
	Signature string
	Module    string
	Payload   []byte

	stolen int
}

func (d *Detour) Pattern() (string, string, error) {
	if d.Signature == "" {
		return "", "", fmt.Errorf("detour has no signature")
	}
	return d.Signature, d.Module, nil
}

func (d *Detour) StubSize() int {
	return len(d.Payload) + detourSlack
}

// stolenCode reads the whole instructions covering need bytes at address.
// It starts with need bytes and extends a byte at a time while the last
// instruction is cut off, so code near the end of a mapping is not read
// past.
func stolenCode(mem Memory, address uintptr, need int) ([]byte, int, error) {
	code, err := mem.ReadBytes(address, need)
	if err != nil {
		return nil, 0, err
	}
	for {
		stolen, err := StolenLength(code, need)
		if err == nil {
			return code, stolen, nil
		}
		if !errors.Is(err, x86asm.ErrTruncated) || len(code) >= need+maxInstLen-1 {
			return nil, 0, err
		}
		next, err := mem.ReadBytes(address+uintptr(len(code)), 1)
		if err != nil {
			return nil, 0, err
		}
		code = append(code, next...)
	}
}

func (d *Detour) HookBytecode(h *Hook) ([]byte, error) {
	state := h.State()
	need := JmpLen(state.JumpAddress, state.HookAddress)
	code, stolen, err := stolenCode(h.Memory(), state.JumpAddress, need)
	if err != nil {
		return nil, err
	}
	d.stolen = stolen

	stub := make([]byte, 0, d.StubSize())
	stub = append(stub, d.Payload...)
	stub = append(stub, code[:stolen]...)
	back := state.HookAddress + uintptr(len(stub))
	stub = append(stub, Jmp(back, state.JumpAddress+uintptr(stolen))...)
	return stub, nil
}

func (d *Detour) JumpBytecode(h *Hook) ([]byte, error) {
	if d.stolen == 0 {
		return nil, fmt.Errorf("jump bytecode requested before hook bytecode")
	}
	state := h.State()
	return PadNop(Jmp(state.JumpAddress, state.HookAddress), d.stolen), nil
}
