// Package byteio provides endian-aware primitive reads and seeks over a
// random-access byte source (spec §4.A). All multi-byte reads are
// little-endian regardless of host endianness, matching the on-disk
// layout of the dyld shared cache and its embedded Mach-O images.
package byteio

import (
	"io"

	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/pkg/errors"
)

// Whence values for Reader.Seek, mirroring io.Seeker but restricted to the
// two modes the core components actually use.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
)

// Reader wraps an io.ReadSeeker with the fixed-width little-endian
// primitives the cache/Mach-O parsers are built on.
type Reader struct {
	rs io.ReadSeeker
}

// New wraps rs for little-endian primitive reads.
func New(rs io.ReadSeeker) *Reader {
	return &Reader{rs: rs}
}

// Seek repositions the cursor. whence must be SeekStart or SeekCurrent.
func (r *Reader) Seek(offset int64, whence int) error {
	if _, err := r.rs.Seek(offset, whence); err != nil {
		return errors.Wrapf(ierrors.OutOfRange, "seek %d (whence=%d): %v", offset, whence, err)
	}
	return nil
}

// Tell returns the current cursor position.
func (r *Reader) Tell() (int64, error) {
	off, err := r.rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, errors.Wrap(ierrors.Io, err.Error())
	}
	return off, nil
}

// ReadBytes reads exactly n bytes, failing with OutOfRange on a short read.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.rs, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ierrors.OutOfRange, "short read of %d bytes", n)
		}
		return nil, errors.Wrap(ierrors.Io, err.Error())
	}
	return buf, nil
}

// ReadCStr reads an unbounded NUL-terminated string.
func (r *Reader) ReadCStr() (string, error) {
	var out []byte
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(r.rs, one); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return "", errors.Wrap(ierrors.OutOfRange, "unterminated cstring")
			}
			return "", errors.Wrap(ierrors.Io, err.Error())
		}
		if one[0] == 0 {
			break
		}
		out = append(out, one[0])
	}
	return string(out), nil
}

// ReadCStrN reads up to n bytes, stopping at the first NUL, and always
// leaves the cursor exactly n bytes past where it started.
func (r *Reader) ReadCStrN(n int) (string, error) {
	buf, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	end := 0
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[:end]), nil
}

// ReadU8 reads one byte.
func (r *Reader) ReadU8() (uint8, error) {
	b, err := r.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU16LE reads a little-endian uint16.
func (r *Reader) ReadU16LE() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// ReadU32LE reads a little-endian uint32.
func (r *Reader) ReadU32LE() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadU64LE reads a little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}
