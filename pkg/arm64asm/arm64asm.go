// Package arm64asm implements the narrow ARM64 instruction encoder,
// disassembler and linear scanner the patch driver needs (spec §4.F): a
// handful of fixed 32-bit little-endian instruction forms, never a
// general-purpose assembler or disassembler.
package arm64asm

import (
	"github.com/blacktop/inferno/internal/bitutil"
)

// GPReg names one of the 16 general-purpose registers these instruction
// forms can address directly (5-bit Rd/Rn/Rt fields never exceed this set
// in the patches this module emits).
type GPReg uint8

const (
	R0 GPReg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// MOVZShift is the `hw` field of a MOVZ instruction: the immediate's
// position, in units of 16 bits.
type MOVZShift uint8

const (
	MOVZShift0 MOVZShift = iota
	MOVZShift16
	MOVZShift32
	MOVZShift48
)

// ADDShift is the `sh` field of an ADD (immediate) instruction.
type ADDShift uint8

const (
	ADDShift0  ADDShift = iota
	ADDShift12
)

// InstBytes is the fixed 4-byte little-endian encoding of one instruction.
type InstBytes = [4]byte

// InstSize is the width, in bytes, of every instruction this module emits or scans.
const InstSize = 4

func instToBytes(inst uint32) InstBytes {
	return InstBytes{byte(inst), byte(inst >> 8), byte(inst >> 16), byte(inst >> 24)}
}

// Fixed instruction encodings and masks, spec §4.F / §8.
const (
	nopInst      uint32 = 0xD503201F
	retInst      uint32 = 0xD65F03C0
	movzInst     uint32 = 0x52800000
	blInst       uint32 = 0x94000000
	blInstMask   uint32 = 0xFC000000
	cbzInst      uint32 = 0x34000000
	cbzInstMask  uint32 = 0x7F000000
	blraInst     uint32 = 0xD63F0800
	blraInstMask uint32 = 0xFEFFF800
	adrpInst     uint32 = 0x90000000
	addInst      uint32 = 0x11000000
	blrInst      uint32 = 0xD63F0000
)

// adrpImmMax is the largest signed page-count ADRP's 21-bit immediate can hold.
const adrpImmMax = int32(1<<20 - 1)

// adrpMax is the largest page-aligned byte distance ADRP can reach.
const adrpMax = uint64(1<<20-1) << 0xC

// MakeMOVZ encodes a MOVZ: load a 16-bit immediate into reg, optionally
// shifted. wide selects the 64-bit form; shift must be MOVZShift0 when
// wide is true (a wide MOVZ has no shift of its own in this module's usage).
func MakeMOVZ(reg GPReg, wide bool, imm uint16, shift MOVZShift) (uint32, error) {
	if wide && shift != MOVZShift0 {
		return 0, errShiftWithWide
	}
	var w uint32
	if wide {
		w = 1
	}
	return (w << 31) | movzInst | (uint32(shift) << 21) | (uint32(imm) << 5) | uint32(reg), nil
}

// MakeNOP encodes NOP.
func MakeNOP() uint32 { return nopInst }

// MakeRET encodes RET (return to LR).
func MakeRET() uint32 { return retInst }

// DisasBL decodes a BL instruction's target address given the address it
// was fetched from.
func DisasBL(instAddr uint64, inst uint32) uint64 {
	imm := int32(bitutil.SignExtend(bitutil.Extract(inst, 0, 26), 25))
	imm *= InstSize
	if imm < 0 {
		return instAddr - uint64(-imm)
	}
	return instAddr + uint64(imm)
}

// MakeADRP encodes ADRP: load the page address off pages away from the
// instruction's own page into reg.
func MakeADRP(off int32, reg GPReg) (uint32, error) {
	if off > adrpImmMax || off < -adrpImmMax {
		return 0, errADRPRange
	}
	imm := uint32(off)
	return adrpInst | (bitutil.Extract(imm, 0, 2) << 29) | (bitutil.Extract(imm, 2, 19) << 5) | uint32(reg), nil
}

// MakeADD encodes ADD (immediate).
func MakeADD(imm uint16, wide bool, srcReg, dstReg GPReg, shift ADDShift) (uint32, error) {
	if bitutil.Extract(imm, 12, 4) != 0 {
		return 0, errADDImm
	}
	var w uint32
	if wide {
		w = 1
	}
	return addInst | (w << 31) | (uint32(shift) << 22) | (uint32(imm) << 10) | (uint32(srcReg) << 5) | uint32(dstReg), nil
}

// MakeBLR encodes BLR: branch with link to the address in reg.
func MakeBLR(reg GPReg) uint32 {
	return blrInst | (uint32(reg) << 5)
}
