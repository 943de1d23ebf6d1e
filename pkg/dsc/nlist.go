package dsc

import (
	"github.com/blacktop/inferno/internal/bitutil"
	"github.com/blacktop/inferno/internal/byteio"
)

// NListTypeSection is the only nlist "type" bitfield value the symbol
// walk accepts (spec §3 NList entry: "we only accept type == 7 meaning
// Section").
const NListTypeSection = 7

// NList is one Mach-O symbol-table entry: string-index, flags, value.
type NList struct {
	Strx      uint32
	TypeFlags uint8
	Sect      uint8
	Desc      uint16
	Value     uint64
}

// Ext is bit 0 of TypeFlags.
func (n NList) Ext() bool { return bitutil.Test(n.TypeFlags, 0) }

// Type is the 3-bit field at bits 1..3 of TypeFlags.
func (n NList) Type() uint8 { return bitutil.Extract(n.TypeFlags, 1, 3) }

// Pext is bit 4 of TypeFlags.
func (n NList) Pext() bool { return bitutil.Test(n.TypeFlags, 4) }

// Stab is the 3-bit field at bits 5..7 of TypeFlags.
func (n NList) Stab() uint8 { return bitutil.Extract(n.TypeFlags, 5, 3) }

// ReadNList reads one 16-byte NList record.
func ReadNList(r *byteio.Reader) (NList, error) {
	strx, err := r.ReadU32LE()
	if err != nil {
		return NList{}, err
	}
	typeFlags, err := r.ReadU8()
	if err != nil {
		return NList{}, err
	}
	sect, err := r.ReadU8()
	if err != nil {
		return NList{}, err
	}
	desc, err := r.ReadU16LE()
	if err != nil {
		return NList{}, err
	}
	value, err := r.ReadU64LE()
	if err != nil {
		return NList{}, err
	}
	return NList{Strx: strx, TypeFlags: typeFlags, Sect: sect, Desc: desc, Value: value}, nil
}
