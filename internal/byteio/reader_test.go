package byteio

import (
	"bytes"
	"testing"

	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/pkg/errors"
)

func TestReadPrimitivesLE(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	r := New(bytes.NewReader(buf))

	u8, err := r.ReadU8()
	if err != nil || u8 != 0x01 {
		t.Fatalf("ReadU8 = %v, %v", u8, err)
	}
	u16, err := r.ReadU16LE()
	if err != nil || u16 != 0x0302 {
		t.Fatalf("ReadU16LE = %#x, %v", u16, err)
	}
	u32, err := r.ReadU32LE()
	if err != nil || u32 != 0x07060504 {
		t.Fatalf("ReadU32LE = %#x, %v", u32, err)
	}
}

func TestReadU64LE(t *testing.T) {
	buf := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}
	r := New(bytes.NewReader(buf))
	v, err := r.ReadU64LE()
	if err != nil {
		t.Fatal(err)
	}
	want := uint64(0x0807060504030201)
	if v != want {
		t.Errorf("ReadU64LE = %#x, want %#x", v, want)
	}
}

func TestReadCStr(t *testing.T) {
	buf := append([]byte("hello"), 0, 'x')
	r := New(bytes.NewReader(buf))
	s, err := r.ReadCStr()
	if err != nil || s != "hello" {
		t.Fatalf("ReadCStr = %q, %v", s, err)
	}
	// cursor should be positioned right after the NUL, leaving 'x' next.
	b, err := r.ReadU8()
	if err != nil || b != 'x' {
		t.Fatalf("cursor after ReadCStr: got %v, %v", b, err)
	}
}

func TestReadCStrUnterminated(t *testing.T) {
	r := New(bytes.NewReader([]byte("noterm")))
	if _, err := r.ReadCStr(); !errors.Is(err, ierrors.OutOfRange) {
		t.Errorf("expected OutOfRange for unterminated cstring, got %v", err)
	}
}

func TestReadCStrN(t *testing.T) {
	buf := append([]byte("ab"), 0, 0, 'z')
	r := New(bytes.NewReader(buf))
	s, err := r.ReadCStrN(4)
	if err != nil || s != "ab" {
		t.Fatalf("ReadCStrN = %q, %v", s, err)
	}
	// ReadCStrN must always advance exactly n bytes, regardless of the NUL.
	b, err := r.ReadU8()
	if err != nil || b != 'z' {
		t.Fatalf("cursor after ReadCStrN(4): got %v, %v", b, err)
	}
}

func TestSeekAndTell(t *testing.T) {
	r := New(bytes.NewReader([]byte{0, 1, 2, 3, 4, 5}))
	if err := r.Seek(3, SeekStart); err != nil {
		t.Fatal(err)
	}
	pos, err := r.Tell()
	if err != nil || pos != 3 {
		t.Fatalf("Tell = %d, %v", pos, err)
	}
	b, err := r.ReadU8()
	if err != nil || b != 3 {
		t.Fatalf("ReadU8 after seek = %v, %v", b, err)
	}
	if err := r.Seek(-1, SeekCurrent); err != nil {
		t.Fatal(err)
	}
	pos, err = r.Tell()
	if err != nil || pos != 3 {
		t.Fatalf("Tell after relative seek = %d, %v", pos, err)
	}
}

func TestReadBytesShortReadIsOutOfRange(t *testing.T) {
	r := New(bytes.NewReader([]byte{1, 2}))
	if _, err := r.ReadBytes(4); !errors.Is(err, ierrors.OutOfRange) {
		t.Errorf("expected OutOfRange on short read, got %v", err)
	}
}
