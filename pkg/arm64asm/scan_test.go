package arm64asm

import (
	"os"
	"testing"

	"github.com/blacktop/inferno/pkg/dsc"
)

func writeWords(t *testing.T, words []uint32) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "cache")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, w := range words {
		b := instToBytes(w)
		if _, err := f.Write(b[:]); err != nil {
			t.Fatal(err)
		}
	}
	return f.Name()
}

func syntheticHeader() *dsc.Header {
	return &dsc.Header{
		Mappings: []dsc.Mapping{{Base: 0x1000, Size: 0x1000, FileOff: 0}},
	}
}

// TestFindCBZ is spec §8's literal CBZ-scan scenario: a buffer of four
// words [NOP, NOP, cbz-narrow, NOP] loaded at VM 0x1000.
func TestFindCBZ(t *testing.T) {
	path := writeWords(t, []uint32{MakeNOP(), MakeNOP(), 0x34000040, MakeNOP()})
	header := syntheticHeader()

	addr, err := FindCBZ(path, header, 0x1000, false, false, 8)
	if err != nil {
		t.Fatalf("FindCBZ: %v", err)
	}
	if addr != 0x1008 {
		t.Errorf("FindCBZ = %#x, want 0x1008", addr)
	}
}

func TestFindCBZNotFound(t *testing.T) {
	path := writeWords(t, []uint32{MakeNOP(), MakeNOP()})
	header := syntheticHeader()

	if _, err := FindCBZ(path, header, 0x1000, false, false, 2); err == nil {
		t.Error("expected out-of-range error when no cbz is present")
	}
}

func TestFindBL(t *testing.T) {
	blWord := blInst | 1 // bl with imm26=1, target = addr + 4
	path := writeWords(t, []uint32{MakeNOP(), blWord, MakeNOP()})
	header := syntheticHeader()

	addr, err := FindBL(path, header, 0x1000, nil, false, 8)
	if err != nil {
		t.Fatalf("FindBL: %v", err)
	}
	if addr != 0x1004 {
		t.Errorf("FindBL = %#x, want 0x1004", addr)
	}
}
