// Package dsc parses the dyld shared-cache container (spec §4.D) and
// provides the analyser that resolves symbolic addresses across a main
// cache and its sub-caches to (file, file-offset) pairs (spec §4.E).
package dsc

import (
	"strconv"

	"github.com/blacktop/inferno/internal/byteio"
	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// HeaderKind distinguishes the three on-disk header flavours a dyld cache
// file can carry; each flavour populates a different subset of Header's
// fields (spec §4.D).
type HeaderKind int

const (
	KindMain HeaderKind = iota
	KindSub
	KindSymbols
)

func (k HeaderKind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindSub:
		return "sub"
	case KindSymbols:
		return "symbols"
	default:
		return "unknown"
	}
}

// Mapping is a contiguous VM range backed by a contiguous file range.
// Invariant: mappings of one cache file cover disjoint VM ranges.
type Mapping struct {
	Base    uint64
	Size    uint64
	FileOff uint64
}

// ImageEntry names one image recorded in the main cache's image table.
type ImageEntry struct {
	Base uint64
	Path string
}

// LocalSymbolEntry locates one image's run of NLists inside the local
// symbols blob.
type LocalSymbolEntry struct {
	NListStartIndex uint32
	NListCount      uint32
}

// LocalSymbolsInfo is the local-symbol table header plus its per-image
// index, keyed by each image's VM base address. Offsets are relative to
// the start of the local-symbols blob inside its host cache file.
type LocalSymbolsInfo struct {
	NListOff   uint32
	StringsOff uint32
	Entries    map[uint64]LocalSymbolEntry
}

// SubCacheRef names a companion file referenced from the main cache's
// sub-cache table.
type SubCacheRef struct {
	VMOff  uint64
	Suffix string
}

// Header is the parsed form of a single dyld-cache file header. Which
// fields are populated depends on Kind (spec §4.D).
type Header struct {
	Kind      HeaderKind
	Mappings  []Mapping
	Images    []ImageEntry
	CacheBase uint64

	SymbolFileUUID uuid.UUID // uuid.Nil means "absent"

	LocalSymbolsOff uint32
	LocalSymbols    *LocalSymbolsInfo

	SubCaches []SubCacheRef
}

// Absolute byte offsets within a dyld cache file header, per spec §4.D.
const (
	offMappingHeader  = 0x10
	offCacheBase      = 0xE0
	offSymbolFileUUID = 0x190
	offLocalSymbols   = 0x48
	offImagesOld      = 0x18
	offImagesNew      = 0x1C0
	offSubCacheTable  = 0x188

	// Heuristic thresholds that decide which on-disk layout a given
	// header uses; see spec §4.D steps 4, 7 and 9.
	symbolFileSupportMin = 0x190
	splitLayoutMin       = 0x18C
	subCacheV1Max        = 0x1C8
)

// ParseHeader parses one dyld-cache header of the given kind. mainCacheBase
// is the main cache's own CacheBase, used as the additive base when
// building the image-base key for local-symbol entries of a Symbols
// header (a Sub header reads no local symbols, so it ignores the value);
// pass 0 when parsing the Main header itself.
func ParseHeader(r *byteio.Reader, kind HeaderKind, mainCacheBase uint64) (*Header, error) {
	if err := r.Seek(offMappingHeader, byteio.SeekStart); err != nil {
		return nil, err
	}
	mappingOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	mappingCount, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}

	h := &Header{Kind: kind}

	if kind != KindSymbols && mappingOff != 0 && mappingCount != 0 {
		if err := r.Seek(int64(mappingOff), byteio.SeekStart); err != nil {
			return nil, err
		}
		h.Mappings = make([]Mapping, 0, mappingCount)
		for i := uint32(0); i < mappingCount; i++ {
			m, err := readMapping(r)
			if err != nil {
				return nil, err
			}
			h.Mappings = append(h.Mappings, m)
		}
	}

	if err := r.Seek(offCacheBase, byteio.SeekStart); err != nil {
		return nil, err
	}
	cacheBase, err := r.ReadU64LE()
	if err != nil {
		return nil, err
	}
	h.CacheBase = cacheBase

	if kind == KindSub {
		return h, nil
	}

	symbolFileSupport := kind == KindSymbols
	if !symbolFileSupport {
		symbolFileSupport = mappingOff >= symbolFileSupportMin
		if symbolFileSupport {
			if err := r.Seek(offSymbolFileUUID, byteio.SeekStart); err != nil {
				return nil, err
			}
			raw, err := r.ReadBytes(16)
			if err != nil {
				return nil, err
			}
			copy(h.SymbolFileUUID[:], raw)
		}
	}

	if kind == KindSymbols || h.SymbolFileUUID == uuid.Nil {
		if err := r.Seek(offLocalSymbols, byteio.SeekStart); err != nil {
			return nil, err
		}
		localSymbolsOff, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		h.LocalSymbolsOff = localSymbolsOff

		base := mainCacheBase
		if base == 0 {
			base = h.CacheBase
		}
		info, err := parseLocalSymbolsInfo(r, localSymbolsOff, symbolFileSupport, base)
		if err != nil {
			return nil, err
		}
		h.LocalSymbols = info
	}

	if kind != KindMain {
		return h, nil
	}

	split := mappingOff >= splitLayoutMin
	if split {
		if err := r.Seek(offImagesNew, byteio.SeekStart); err != nil {
			return nil, err
		}
	} else {
		if err := r.Seek(offImagesOld, byteio.SeekStart); err != nil {
			return nil, err
		}
	}
	imageOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	imageCount, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}

	// Apple bug: some shipped sub-cache headers copy the main header's
	// image table verbatim, leaving image_count == 0. This is not a
	// rejection of legitimate input — it is the only reliable signal
	// that a main-cache parse was attempted on a sub-cache.
	if split && imageCount == 0 {
		return nil, errors.Wrap(ierrors.InvalidInput, "main cache expected, got subcache")
	}

	if imageOff != 0 && imageCount != 0 {
		if err := r.Seek(int64(imageOff), byteio.SeekStart); err != nil {
			return nil, err
		}
		h.Images = make([]ImageEntry, 0, imageCount)
		for i := uint32(0); i < imageCount; i++ {
			img, err := readImageEntry(r)
			if err != nil {
				return nil, err
			}
			h.Images = append(h.Images, img)
		}
	}

	if split {
		if err := r.Seek(offSubCacheTable, byteio.SeekStart); err != nil {
			return nil, err
		}
		subCacheOff, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		subCacheCount, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}

		if subCacheOff != 0 && subCacheCount != 0 {
			subCacheV1 := mappingOff <= subCacheV1Max
			if err := r.Seek(int64(subCacheOff), byteio.SeekStart); err != nil {
				return nil, err
			}
			h.SubCaches = make([]SubCacheRef, 0, subCacheCount)
			for i := uint32(0); i < subCacheCount; i++ {
				ref, err := readSubCacheRef(r, i, subCacheV1)
				if err != nil {
					return nil, err
				}
				h.SubCaches = append(h.SubCaches, ref)
			}
		}
	}

	return h, nil
}

func readMapping(r *byteio.Reader) (Mapping, error) {
	base, err := r.ReadU64LE()
	if err != nil {
		return Mapping{}, err
	}
	size, err := r.ReadU64LE()
	if err != nil {
		return Mapping{}, err
	}
	fileOff, err := r.ReadU64LE()
	if err != nil {
		return Mapping{}, err
	}
	if err := r.Seek(8, byteio.SeekCurrent); err != nil {
		return Mapping{}, err
	}
	return Mapping{Base: base, Size: size, FileOff: fileOff}, nil
}

func readImageEntry(r *byteio.Reader) (ImageEntry, error) {
	base, err := r.ReadU64LE()
	if err != nil {
		return ImageEntry{}, err
	}
	if err := r.Seek(16, byteio.SeekCurrent); err != nil {
		return ImageEntry{}, err
	}
	pathOff, err := r.ReadU32LE()
	if err != nil {
		return ImageEntry{}, err
	}
	if err := r.Seek(4, byteio.SeekCurrent); err != nil {
		return ImageEntry{}, err
	}

	prevPos, err := r.Tell()
	if err != nil {
		return ImageEntry{}, err
	}
	if err := r.Seek(int64(pathOff), byteio.SeekStart); err != nil {
		return ImageEntry{}, err
	}
	path, err := r.ReadCStr()
	if err != nil {
		return ImageEntry{}, err
	}
	if err := r.Seek(prevPos, byteio.SeekStart); err != nil {
		return ImageEntry{}, err
	}

	return ImageEntry{Base: base, Path: path}, nil
}

func readSubCacheRef(r *byteio.Reader, index uint32, v1 bool) (SubCacheRef, error) {
	if err := r.Seek(16, byteio.SeekCurrent); err != nil {
		return SubCacheRef{}, err
	}
	vmOff, err := r.ReadU64LE()
	if err != nil {
		return SubCacheRef{}, err
	}
	var suffix string
	if v1 {
		suffix = "." + strconv.Itoa(int(index)+1)
	} else {
		suffix, err = r.ReadCStrN(32)
		if err != nil {
			return SubCacheRef{}, err
		}
	}
	return SubCacheRef{VMOff: vmOff, Suffix: suffix}, nil
}

func parseLocalSymbolsInfo(r *byteio.Reader, localInfoOff uint32, is64 bool, cacheBase uint64) (*LocalSymbolsInfo, error) {
	if localInfoOff == 0 {
		return &LocalSymbolsInfo{Entries: map[uint64]LocalSymbolEntry{}}, nil
	}

	if err := r.Seek(int64(localInfoOff), byteio.SeekStart); err != nil {
		return nil, err
	}
	nlistOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(4, byteio.SeekCurrent); err != nil {
		return nil, err
	}
	stringsOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	if err := r.Seek(4, byteio.SeekCurrent); err != nil {
		return nil, err
	}
	entriesOff, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}
	entriesCount, err := r.ReadU32LE()
	if err != nil {
		return nil, err
	}

	info := &LocalSymbolsInfo{
		NListOff:   nlistOff,
		StringsOff: stringsOff,
		Entries:    make(map[uint64]LocalSymbolEntry, entriesCount),
	}

	if err := r.Seek(int64(localInfoOff)+int64(entriesOff), byteio.SeekStart); err != nil {
		return nil, err
	}
	for i := uint32(0); i < entriesCount; i++ {
		var dylibOff uint64
		if is64 {
			dylibOff, err = r.ReadU64LE()
		} else {
			var v uint32
			v, err = r.ReadU32LE()
			dylibOff = uint64(v)
		}
		if err != nil {
			return nil, err
		}
		startIdx, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		count, err := r.ReadU32LE()
		if err != nil {
			return nil, err
		}
		info.Entries[cacheBase+dylibOff] = LocalSymbolEntry{NListStartIndex: startIdx, NListCount: count}
	}

	return info, nil
}

// VMToFileOff linearly scans h's mappings for the first range containing
// addr and returns the corresponding file offset.
func (h *Header) VMToFileOff(addr uint64) (uint64, error) {
	for _, m := range h.Mappings {
		if addr >= m.Base && addr < m.Base+m.Size {
			return m.FileOff + (addr - m.Base), nil
		}
	}
	return 0, errors.Wrapf(ierrors.OutOfRange, "address %#x not covered by any mapping", addr)
}
