// Package bitutil implements the mask/extract/sign-extend primitives used
// to decode the packed bit-fields found throughout the dyld cache and
// Mach-O headers (NList type flags, chained-fixup pointers, ARM64
// instruction immediates) without relying on host struct packing.
package bitutil

// Unsigned is any fixed-width unsigned integer type these helpers operate over.
type Unsigned interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

// Mask returns a bitmask of length bits starting at bit index start.
func Mask[T Unsigned](start, length uint8) T {
	return T(((T(1) << length) - 1) << start)
}

// Test reports whether bit i of val is set.
func Test[T Unsigned](val T, i uint8) bool {
	return val&Mask[T](i, 1) != 0
}

// Extract returns the length-bit field of val starting at bit start.
func Extract[T Unsigned](val T, start, length uint8) T {
	return (val & Mask[T](start, length)) >> start
}

// SignExtend treats bit topBit of val as a sign bit and fills every bit
// above it with that bit's value.
func SignExtend[T Unsigned](val T, topBit uint8) T {
	width := T(8 * sizeOf[T]())
	if Test(val, topBit) {
		return val | Mask[T](topBit, uint8(width)-topBit)
	}
	return val
}

func sizeOf[T Unsigned]() int {
	var v T
	switch any(v).(type) {
	case uint8:
		return 1
	case uint16:
		return 2
	case uint32:
		return 4
	default:
		return 8
	}
}
