package bitutil

import "testing"

func TestMask(t *testing.T) {
	if got := Mask[uint32](0, 8); got != 0xFF {
		t.Errorf("Mask(0,8) = %#x, want 0xff", got)
	}
	if got := Mask[uint32](8, 8); got != 0xFF00 {
		t.Errorf("Mask(8,8) = %#x, want 0xff00", got)
	}
}

func TestTest(t *testing.T) {
	var v uint32 = 1 << 31
	if !Test(v, 31) {
		t.Error("bit 31 should be set")
	}
	if Test(v, 30) {
		t.Error("bit 30 should not be set")
	}
}

func TestExtract(t *testing.T) {
	var v uint32 = 0x94000001
	if got := Extract(v, 0, 26); got != 1 {
		t.Errorf("Extract(0,26) = %#x, want 1", got)
	}
}

func TestSignExtendNegative(t *testing.T) {
	// all 26 low bits set represents -1 in 26-bit two's complement
	var v uint32 = (1 << 26) - 1
	got := SignExtend(v, 25)
	if int32(got) != -1 {
		t.Errorf("SignExtend = %#x, want all-ones (-1)", got)
	}
}

func TestSignExtendPositive(t *testing.T) {
	var v uint32 = 1
	if got := SignExtend(v, 25); got != 1 {
		t.Errorf("SignExtend(1,25) = %#x, want 1", got)
	}
}
