package arm64asm

import (
	"github.com/blacktop/inferno/pkg/dsc"
	"github.com/blacktop/inferno/pkg/journal"
)

// Assembler queues instruction writes against a dyld cache through a
// journal.Queue, translating each VM target address via a cache header
// before it reaches the queue.
type Assembler struct {
	queue *journal.Queue
}

// NewAssembler returns an Assembler that queues its writes on q.
func NewAssembler(q *journal.Queue) *Assembler {
	return &Assembler{queue: q}
}

func (a *Assembler) writeInst(path string, header *dsc.Header, target uint64, inst uint32) error {
	off, err := header.VMToFileOff(target)
	if err != nil {
		return err
	}
	bytes := instToBytes(inst)
	a.queue.QueueWrite(path, int64(off), bytes[:])
	return nil
}

func (a *Assembler) writeInstIncr(path string, header *dsc.Header, target *uint64, inst uint32) error {
	if err := a.writeInst(path, header, *target, inst); err != nil {
		return err
	}
	*target += InstSize
	return nil
}

// WriteMOVZ queues a MOVZ at target.
func (a *Assembler) WriteMOVZ(path string, header *dsc.Header, target uint64, reg GPReg, wide bool, imm uint16, shift MOVZShift) error {
	inst, err := MakeMOVZ(reg, wide, imm, shift)
	if err != nil {
		return err
	}
	return a.writeInst(path, header, target, inst)
}

// WriteMOVZIncr is WriteMOVZ, advancing *target by one instruction.
func (a *Assembler) WriteMOVZIncr(path string, header *dsc.Header, target *uint64, reg GPReg, wide bool, imm uint16, shift MOVZShift) error {
	inst, err := MakeMOVZ(reg, wide, imm, shift)
	if err != nil {
		return err
	}
	return a.writeInstIncr(path, header, target, inst)
}

// WriteNOP queues a NOP at target.
func (a *Assembler) WriteNOP(path string, header *dsc.Header, target uint64) error {
	return a.writeInst(path, header, target, MakeNOP())
}

// WriteNOPIncr is WriteNOP, advancing *target by one instruction.
func (a *Assembler) WriteNOPIncr(path string, header *dsc.Header, target *uint64) error {
	return a.writeInstIncr(path, header, target, MakeNOP())
}

// WriteRET queues a RET at target.
func (a *Assembler) WriteRET(path string, header *dsc.Header, target uint64) error {
	return a.writeInst(path, header, target, MakeRET())
}

// WriteRETIncr is WriteRET, advancing *target by one instruction.
func (a *Assembler) WriteRETIncr(path string, header *dsc.Header, target *uint64) error {
	return a.writeInstIncr(path, header, target, MakeRET())
}

// WriteADRPAddIncr queues the two-instruction page-relative load idiom
// (ADRP + ADD) that leaves reg holding target's exact address, advancing
// *address past both instructions.
func (a *Assembler) WriteADRPAddIncr(path string, header *dsc.Header, address *uint64, target uint64, reg GPReg) error {
	pcPage := *address &^ 0xFFF
	targetPage := target &^ 0xFFF
	low12 := uint16(target & 0xFFF)

	var offPages uint64
	var sign int32 = 1
	if targetPage > pcPage {
		offPages = targetPage - pcPage
	} else {
		offPages = pcPage - targetPage
		sign = -1
	}
	if offPages > adrpMax {
		return errTargetTooFar
	}

	adrp, err := MakeADRP(sign*int32(offPages>>0xC), reg)
	if err != nil {
		return err
	}
	if err := a.writeInstIncr(path, header, address, adrp); err != nil {
		return err
	}

	add, err := MakeADD(low12, true, reg, reg, ADDShift0)
	if err != nil {
		return err
	}
	return a.writeInstIncr(path, header, address, add)
}

// WriteBLR queues a BLR reg at address.
func (a *Assembler) WriteBLR(path string, header *dsc.Header, address uint64, reg GPReg) error {
	return a.writeInst(path, header, address, MakeBLR(reg))
}
