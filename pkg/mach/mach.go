// Package mach implements the narrow Mach-O image parser the dyld cache
// analyser needs (spec §4.C): just enough of the 64-bit load-command
// stream to find LC_SEGMENT_64 segments/sections and the LC_SYMTAB
// command. It deliberately does not attempt general Mach-O linking
// semantics (chained fixups, relocations) — those are out of scope
// per spec §1.
package mach

import (
	"github.com/blacktop/inferno/internal/byteio"
	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/pkg/errors"
)

// Magic64 is the only magic this parser accepts: a 64-bit Mach-O.
const Magic64 = 0xFEEDFACF

// CPUType mirrors the handful of cpu_type_t values original_source/macho.hpp
// carries on MachHeader, even though nothing here currently branches on it.
type CPUType uint32

const (
	cpuArchABI64 CPUType = 0x01000000
	cpuTypeARM   CPUType = 12
	// CPUTypeARM64 is the only architecture this module ever expects to see.
	CPUTypeARM64 CPUType = cpuTypeARM | cpuArchABI64
)

// Load command opcodes this parser recognizes; everything else is skipped
// losslessly via cmdsize.
const (
	lcSegment64 uint32 = 0x19
	lcSymtab    uint32 = 0x2
)

// Section is an LC_SEGMENT_64 section_64 record.
type Section struct {
	VMAddr     uint64
	VMSize     uint64
	FileOff    uint32
	Align      uint32
	RelocOff   uint32
	RelocCount uint32
	Flags      uint32
	Reserved1  uint32
	Reserved2  uint32
	Reserved3  uint32
}

// Segment is an LC_SEGMENT_64 command, sections keyed by their
// (NUL-truncated, up to 16 bytes) name.
type Segment struct {
	VMAddr   uint64
	VMSize   uint64
	FileOff  uint64
	FileSize uint64
	MaxProt  uint32
	InitProt uint32
	Flags    uint32
	Sections map[string]*Section
}

// FindSection looks up a section by name within this segment.
func (s *Segment) FindSection(name string) (*Section, error) {
	sect, ok := s.Sections[name]
	if !ok {
		return nil, errors.Wrapf(ierrors.OutOfRange, "cannot find `%s` section", name)
	}
	return sect, nil
}

// Symtab is an LC_SYMTAB command.
type Symtab struct {
	SymOff   uint32
	SymCount uint32
	StrOff   uint32
	StrSize  uint32
}

// Header is a parsed 64-bit Mach-O image header: segments and an optional
// symbol table command.
type Header struct {
	Magic    uint32
	CPUType  CPUType
	Segments map[string]*Segment
	Symtab   *Symtab
}

// FindSegment looks up a segment by name.
func (h *Header) FindSegment(name string) (*Segment, error) {
	seg, ok := h.Segments[name]
	if !ok {
		return nil, errors.Wrapf(ierrors.OutOfRange, "cannot find `%s` segment", name)
	}
	return seg, nil
}

// FindSection looks up segName/sectName.
func (h *Header) FindSection(segName, sectName string) (*Section, error) {
	seg, err := h.FindSegment(segName)
	if err != nil {
		return nil, err
	}
	return seg.FindSection(sectName)
}

// Parse reads a Mach-O image header from r, which must already be
// positioned at the image's first byte.
func Parse(r *byteio.Reader) (*Header, error) {
	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if magic != Magic64 {
		return nil, errors.Wrapf(ierrors.InvalidInput, "invalid Mach-O magic %#x", magic)
	}

	cpuType, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(8, byteio.SeekCurrent); err != nil { // cpusubtype, filetype
		return nil, err
	}
	ncmds, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(12, byteio.SeekCurrent); err != nil { // sizeofcmds, flags, reserved
		return nil, err
	}

	h := &Header{
		Magic:    magic,
		CPUType:  CPUType(cpuType),
		Segments: make(map[string]*Segment),
	}

	for i := uint32(0); i < ncmds; i++ {
		cmdStart, err := r.Tell()
		if err != nil {
			return nil, err
		}
		cmd, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		cmdsize, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}

		switch cmd {
		case lcSegment64:
			name, seg, err := parseSegment(r)
			if err != nil {
				return nil, err
			}
			h.Segments[name] = seg
		case lcSymtab:
			symtab, err := parseSymtab(r)
			if err != nil {
				return nil, err
			}
			h.Symtab = symtab
		default:
			// Unknown commands are skipped losslessly below.
		}

		if err := r.Seek(cmdStart+int64(cmdsize), byteio.SeekStart); err != nil {
			return nil, err
		}
	}

	return h, nil
}

func parseSymtab(r *byteio.Reader) (*Symtab, error) {
	symOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	symCount, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	strOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	strSize, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	return &Symtab{SymOff: symOff, SymCount: symCount, StrOff: strOff, StrSize: strSize}, nil
}

func parseSegment(r *byteio.Reader) (string, *Segment, error) {
	name, err := r.ReadCStrN(16)
	if err != nil {
		return "", nil, err
	}
	vmAddr, err := r.ReadU64LE()
	if err != nil {
		return "", nil, err
	}
	vmSize, err := r.ReadU64LE()
	if err != nil {
		return "", nil, err
	}
	fileOff, err := r.ReadU64LE()
	if err != nil {
		return "", nil, err
	}
	fileSize, err := r.ReadU64LE()
	if err != nil {
		return "", nil, err
	}
	maxProt, err := r.ReadU32LE()
	if err != nil {
		return "", nil, err
	}
	initProt, err := r.ReadU32LE()
	if err != nil {
		return "", nil, err
	}
	sectCount, err := r.ReadU32LE()
	if err != nil {
		return "", nil, err
	}
	flags, err := r.ReadU32LE()
	if err != nil {
		return "", nil, err
	}

	seg := &Segment{
		VMAddr:   vmAddr,
		VMSize:   vmSize,
		FileOff:  fileOff,
		FileSize: fileSize,
		MaxProt:  maxProt,
		InitProt: initProt,
		Flags:    flags,
		Sections: make(map[string]*Section, sectCount),
	}

	for i := uint32(0); i < sectCount; i++ {
		sectName, err := r.ReadCStrN(16)
		if err != nil {
			return "", nil, err
		}
		if err := r.Seek(16, byteio.SeekCurrent); err != nil { // segname, already known
			return "", nil, err
		}
		sAddr, err := r.ReadU64LE()
		if err != nil {
			return "", nil, err
		}
		sSize, err := r.ReadU64LE()
		if err != nil {
			return "", nil, err
		}
		sFileOff, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		align, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		relocOff, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		relocCount, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		sFlags, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		reserved1, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		reserved2, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}
		reserved3, err := r.ReadU32LE()
		if err != nil {
			return "", nil, err
		}

		seg.Sections[sectName] = &Section{
			VMAddr:     sAddr,
			VMSize:     sSize,
			FileOff:    sFileOff,
			Align:      align,
			RelocOff:   relocOff,
			RelocCount: relocCount,
			Flags:      sFlags,
			Reserved1:  reserved1,
			Reserved2:  reserved2,
			Reserved3:  reserved3,
		}
	}

	return name, seg, nil
}
