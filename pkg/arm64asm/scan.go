package arm64asm

import (
	"os"

	"github.com/blacktop/inferno/internal/bitutil"
	"github.com/blacktop/inferno/internal/byteio"
	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/blacktop/inferno/pkg/dsc"
	"github.com/pkg/errors"
)

// DefaultInstLimit is the scan window every patch in internal/patchset
// uses unless it has a specific reason to narrow it (spec §4.F).
const DefaultInstLimit = 0x400

func openAt(path string, header *dsc.Header, startAddr uint64) (*os.File, *byteio.Reader, error) {
	off, err := header.VMToFileOff(startAddr)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrapf(ierrors.Io, "open %s: %v", path, err)
	}
	r := byteio.New(f)
	if err := r.Seek(int64(off), byteio.SeekStart); err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, r, nil
}

// FindCBZ does a linear forward or reverse scan from startAddr for the
// first CBZ of the requested width, returning its address. CBNZ does not
// match.
func FindCBZ(path string, header *dsc.Header, startAddr uint64, wide, rev bool, instLimit uint32) (uint64, error) {
	f, r, err := openAt(path, header, startAddr)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for i := uint32(0); i < instLimit; i++ {
		inst, err := readScanWord(r, rev)
		if err != nil {
			return 0, err
		}
		if (inst&cbzInstMask) == cbzInst && bitutil.Test(inst, 31) == wide {
			return scanAddr(startAddr, i, rev), nil
		}
	}
	return 0, errors.Wrapf(ierrors.OutOfRange,
		"no cbz instruction found start_addr=%#x wide=%v rev=%v inst_limit=%#x", startAddr, wide, rev, instLimit)
}

// FindBL scans for a BL instruction. If targetAddr is non-nil, only a BL
// whose decoded target matches it qualifies; otherwise the first BL found wins.
func FindBL(path string, header *dsc.Header, startAddr uint64, targetAddr *uint64, rev bool, instLimit uint32) (uint64, error) {
	f, r, err := openAt(path, header, startAddr)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for i := uint32(0); i < instLimit; i++ {
		instAddr := scanAddr(startAddr, i, rev)
		inst, err := readScanWord(r, rev)
		if err != nil {
			return 0, err
		}
		if (inst & blInstMask) == blInst {
			if targetAddr == nil || DisasBL(instAddr, inst) == *targetAddr {
				return instAddr, nil
			}
		}
	}
	return 0, errors.Wrapf(ierrors.OutOfRange, "no bl instruction found start_addr=%#x", startAddr)
}

// FindBLIncr is FindBL, returning the address immediately after the
// matched BL (its intrinsic "incr" form, spec §4.F).
func FindBLIncr(path string, header *dsc.Header, startAddr uint64, targetAddr *uint64, rev bool, instLimit uint32) (uint64, error) {
	addr, err := FindBL(path, header, startAddr, targetAddr, rev, instLimit)
	if err != nil {
		return 0, err
	}
	return addr + InstSize, nil
}

// FindBLRA scans for a BLRAA/BLRAB pointer-authenticated indirect branch
// matching the requested zero-modifier and key-B selector bits.
func FindBLRA(path string, header *dsc.Header, startAddr uint64, zero, keyB, rev bool, instLimit uint32) (uint64, error) {
	f, r, err := openAt(path, header, startAddr)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for i := uint32(0); i < instLimit; i++ {
		instAddr := scanAddr(startAddr, i, rev)
		inst, err := readScanWord(r, rev)
		if err != nil {
			return 0, err
		}
		if (inst&blraInstMask) == blraInst && bitutil.Test(inst, 24) == zero && bitutil.Test(inst, 10) == keyB {
			return instAddr, nil
		}
	}
	return 0, errors.Wrapf(ierrors.OutOfRange,
		"no blra instruction found start_addr=%#x zero=%v key_b=%v", startAddr, zero, keyB)
}

func scanAddr(startAddr uint64, i uint32, rev bool) uint64 {
	if rev {
		return startAddr - uint64(i)*InstSize
	}
	return startAddr + uint64(i)*InstSize
}

// readScanWord reads one instruction word and, for a reverse scan,
// rewinds two words so the next read lands one word further back.
func readScanWord(r *byteio.Reader, rev bool) (uint32, error) {
	inst, err := r.ReadU32LE()
	if err != nil {
		return 0, err
	}
	if rev {
		if err := r.Seek(-int64(InstSize)*2, byteio.SeekCurrent); err != nil {
			return 0, err
		}
	}
	return inst, nil
}
