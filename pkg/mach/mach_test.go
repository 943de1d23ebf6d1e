package mach

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/blacktop/inferno/internal/byteio"
)

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func cstr16(name string) []byte {
	b := make([]byte, 16)
	copy(b, name)
	return b
}

// buildSyntheticMachO assembles a minimal 64-bit Mach-O: one LC_SEGMENT_64
// (__TEXT, no sections) and one LC_SYMTAB.
func buildSyntheticMachO() []byte {
	var buf bytes.Buffer

	buf.Write(u32(Magic64))
	buf.Write(u32(uint32(CPUTypeARM64)))
	buf.Write(make([]byte, 8)) // cpusubtype, filetype
	buf.Write(u32(2))          // ncmds
	buf.Write(make([]byte, 12))

	// LC_SEGMENT_64 __TEXT, nsects=0
	buf.Write(u32(0x19))
	buf.Write(u32(72))
	buf.Write(cstr16("__TEXT"))
	buf.Write(u64(0x100000000))
	buf.Write(u64(0x4000))
	buf.Write(u64(0))
	buf.Write(u64(0x4000))
	buf.Write(u32(7))
	buf.Write(u32(5))
	buf.Write(u32(0)) // nsects
	buf.Write(u32(0))

	// LC_SYMTAB
	buf.Write(u32(0x2))
	buf.Write(u32(24))
	buf.Write(u32(0x5000))
	buf.Write(u32(3))
	buf.Write(u32(0x6000))
	buf.Write(u32(0x40))

	return buf.Bytes()
}

func TestParseSyntheticMachO(t *testing.T) {
	raw := buildSyntheticMachO()
	h, err := Parse(byteio.New(bytes.NewReader(raw)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if h.CPUType != CPUTypeARM64 {
		t.Errorf("CPUType = %#x, want %#x", h.CPUType, CPUTypeARM64)
	}

	seg, err := h.FindSegment("__TEXT")
	if err != nil {
		t.Fatalf("FindSegment(__TEXT): %v", err)
	}
	if seg.VMAddr != 0x100000000 || seg.FileSize != 0x4000 {
		t.Errorf("__TEXT segment = %+v, unexpected", seg)
	}

	if h.Symtab == nil {
		t.Fatal("expected a parsed LC_SYMTAB")
	}
	if h.Symtab.SymOff != 0x5000 || h.Symtab.SymCount != 3 || h.Symtab.StrOff != 0x6000 || h.Symtab.StrSize != 0x40 {
		t.Errorf("Symtab = %+v, unexpected", h.Symtab)
	}
}

func TestFindSegmentMissing(t *testing.T) {
	h := &Header{Segments: map[string]*Segment{}}
	if _, err := h.FindSegment("__DATA"); err == nil {
		t.Error("expected error for missing segment")
	}
}

func TestParseRejectsBadMagic(t *testing.T) {
	buf := append(u32(0xDEADBEEF), make([]byte, 28)...)
	if _, err := Parse(byteio.New(bytes.NewReader(buf))); err == nil {
		t.Error("expected error for invalid magic")
	}
}
