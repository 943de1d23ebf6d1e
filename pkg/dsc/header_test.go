package dsc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/blacktop/inferno/internal/byteio"
)

// buildSyntheticMainCache constructs the minimal main-cache header from
// spec §8's literal scenario: one mapping (base=0x180000000, size=0x1000,
// file_off=0), one image (base=0x180000000, path="/a"), no subcaches, no
// symbol_file_uuid.
func buildSyntheticMainCache() []byte {
	buf := make([]byte, 0x200)
	le := binary.LittleEndian

	const (
		mappingTableOff = 0x100
		imageTableOff   = 0x140
		pathOff         = 0x180
	)

	le.PutUint32(buf[0x10:], mappingTableOff)
	le.PutUint32(buf[0x14:], 1) // mapping count

	le.PutUint64(buf[0xE0:], 0x180000000) // cache_base

	le.PutUint32(buf[0x18:], imageTableOff)
	le.PutUint32(buf[0x1C:], 1) // image count

	le.PutUint64(buf[mappingTableOff:], 0x180000000) // base
	le.PutUint64(buf[mappingTableOff+8:], 0x1000)     // size
	le.PutUint64(buf[mappingTableOff+16:], 0)         // file_off

	le.PutUint64(buf[imageTableOff:], 0x180000000) // image base
	le.PutUint32(buf[imageTableOff+24:], pathOff)   // path offset

	copy(buf[pathOff:], "/a\x00")

	return buf
}

func TestParseHeaderSyntheticMainCache(t *testing.T) {
	buf := buildSyntheticMainCache()
	r := byteio.New(bytes.NewReader(buf))

	h, err := ParseHeader(r, KindMain, 0)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}

	if len(h.Mappings) != 1 {
		t.Fatalf("got %d mappings, want 1", len(h.Mappings))
	}
	if h.Mappings[0].Base != 0x180000000 || h.Mappings[0].Size != 0x1000 || h.Mappings[0].FileOff != 0 {
		t.Errorf("mapping = %+v, unexpected", h.Mappings[0])
	}

	if len(h.Images) != 1 || h.Images[0].Path != "/a" || h.Images[0].Base != 0x180000000 {
		t.Fatalf("images = %+v, unexpected", h.Images)
	}

	off, err := h.VMToFileOff(0x180000500)
	if err != nil {
		t.Fatalf("VMToFileOff: %v", err)
	}
	if off != 0x500 {
		t.Errorf("VMToFileOff(0x180000500) = %#x, want 0x500", off)
	}

	if len(h.SubCaches) != 0 {
		t.Errorf("expected no subcaches, got %d", len(h.SubCaches))
	}
}

func TestVMToFileOffOutOfRange(t *testing.T) {
	h := &Header{Mappings: []Mapping{{Base: 0x1000, Size: 0x100, FileOff: 0}}}
	if _, err := h.VMToFileOff(0x2000); err == nil {
		t.Error("expected error for address outside every mapping")
	}
}
