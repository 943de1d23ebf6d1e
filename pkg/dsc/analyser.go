package dsc

import (
	"os"

	"github.com/blacktop/inferno/internal/bitutil"
	"github.com/blacktop/inferno/internal/byteio"
	"github.com/blacktop/inferno/internal/ierrors"
	"github.com/blacktop/inferno/pkg/mach"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CacheEntry is one opened-and-parsed cache file: the main cache, one of
// its sub-caches, or the optional dedicated symbols file.
type CacheEntry struct {
	Path   string
	Header *Header
}

// Analyser opens a main dyld cache, its declared sub-caches, and its
// optional symbols file, and resolves images/symbols/Objective-C classes
// across all of them (spec §4.E). No file handle is held open between
// calls — every read opens, uses and closes its own handle (spec §5).
type Analyser struct {
	// Caches holds the main cache at index 0 followed by every sub-cache,
	// in declaration order.
	Caches []*CacheEntry
	// SymbolsEntry is the dedicated `<path>.symbols` cache, or nil if the
	// main cache carries no symbol_file_uuid.
	SymbolsEntry *CacheEntry
}

// Open parses basePath as a main dyld cache, then opens and parses every
// sub-cache and optional symbols file it references. Failure to open any
// referenced file is fatal.
func Open(basePath string) (*Analyser, error) {
	mainHeader, err := parseHeaderFile(basePath, KindMain, 0)
	if err != nil {
		return nil, err
	}

	a := &Analyser{
		Caches: make([]*CacheEntry, 0, 1+len(mainHeader.SubCaches)),
	}
	a.Caches = append(a.Caches, &CacheEntry{Path: basePath, Header: mainHeader})

	for _, sub := range mainHeader.SubCaches {
		subPath := basePath + sub.Suffix
		subHeader, err := parseHeaderFile(subPath, KindSub, mainHeader.CacheBase)
		if err != nil {
			return nil, errors.Wrapf(err, "subcache %s", subPath)
		}
		a.Caches = append(a.Caches, &CacheEntry{Path: subPath, Header: subHeader})
	}

	if mainHeader.SymbolFileUUID != uuid.Nil {
		symPath := basePath + ".symbols"
		symHeader, err := parseHeaderFile(symPath, KindSymbols, mainHeader.CacheBase)
		if err != nil {
			return nil, errors.Wrapf(err, "symbols cache %s", symPath)
		}
		a.SymbolsEntry = &CacheEntry{Path: symPath, Header: symHeader}
	}

	return a, nil
}

func parseHeaderFile(path string, kind HeaderKind, mainCacheBase uint64) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ierrors.Io, "open %s: %v", path, err)
	}
	defer f.Close()
	return ParseHeader(byteio.New(f), kind, mainCacheBase)
}

// MainCache returns the main cache entry (Caches[0]).
func (a *Analyser) MainCache() *CacheEntry {
	return a.Caches[0]
}

// FindEntryFromVMAddr probes every cache entry (main then subs) by
// attempting VM→file translation and returns the first success.
func (a *Analyser) FindEntryFromVMAddr(addr uint64) (uint64, *CacheEntry, error) {
	for _, e := range a.Caches {
		if off, err := e.Header.VMToFileOff(addr); err == nil {
			return off, e, nil
		}
	}
	return 0, nil, errors.Wrapf(ierrors.OutOfRange, "address %#x not found in any cache file", addr)
}

// Image is a runtime handle built by FindImage: a resolved image's
// symbol and Objective-C class maps, immutable once built.
type Image struct {
	Path        string
	Header      *Header
	FileOff     uint64
	VMBase      uint64
	Symbols     map[string]uint64
	ObjCClasses map[string]uint64
}

// ResolveSym returns the VM address of the first name found among an
// ordered list of candidate symbol names (spec §9: replaces templated
// variadic lookup with "accepts an ordered sequence of candidates").
func (img *Image) ResolveSym(names ...string) (uint64, error) {
	for _, name := range names {
		if v, ok := img.Symbols[name]; ok {
			return v, nil
		}
	}
	if len(names) == 0 {
		return 0, errors.Wrap(ierrors.InvalidInput, "resolve_sym requires at least one candidate name")
	}
	return 0, errors.Wrapf(ierrors.OutOfRange, "symbol `%s` not found", names[0])
}

// ResolveObjCClass returns the VM address of an Objective-C class by name.
func (img *Image) ResolveObjCClass(name string) (uint64, error) {
	if v, ok := img.ObjCClasses[name]; ok {
		return v, nil
	}
	return 0, errors.Wrapf(ierrors.OutOfRange, "Objective-C class `%s` not found", name)
}

// FindImage locates the first image in the main cache whose install name
// satisfies matcher, parses its Mach-O header, and builds its symbol map
// (and, if requested, its Objective-C class map).
func (a *Analyser) FindImage(matcher Matcher, withObjCClasses bool) (*Image, error) {
	main := a.MainCache()

	var found *ImageEntry
	for i := range main.Header.Images {
		if matcher.Matches(main.Header.Images[i].Path) {
			found = &main.Header.Images[i]
			break
		}
	}
	if found == nil {
		return nil, errors.Wrapf(ierrors.OutOfRange, "image `%s` not found", matcher.Name())
	}

	imageOff, imageEntry, err := a.FindEntryFromVMAddr(found.Base)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(imageEntry.Path)
	if err != nil {
		return nil, errors.Wrapf(ierrors.Io, "open %s: %v", imageEntry.Path, err)
	}
	defer f.Close()

	r := byteio.New(f)
	if err := r.Seek(int64(imageOff), byteio.SeekStart); err != nil {
		return nil, err
	}
	header, err := mach.Parse(r)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing image `%s`", matcher.Name())
	}

	linkedit, err := header.FindSegment("__LINKEDIT")
	if err != nil {
		return nil, err
	}
	linkeditBase := linkedit.VMAddr - linkedit.FileOff

	symbols := make(map[string]uint64)

	if header.Symtab != nil {
		if err := a.collectSymtabSymbols(header, linkeditBase, symbols); err != nil {
			return nil, err
		}
	}
	if err := a.collectLocalSymbols(found.Base, symbols); err != nil {
		return nil, err
	}

	objcClasses := make(map[string]uint64)
	if withObjCClasses {
		if err := a.collectObjCClasses(header, found.Base, objcClasses); err != nil {
			return nil, err
		}
	}

	return &Image{
		Path:        imageEntry.Path,
		Header:      imageEntry.Header,
		FileOff:     imageOff,
		VMBase:      found.Base,
		Symbols:     symbols,
		ObjCClasses: objcClasses,
	}, nil
}

// collectSymtabSymbols is Pass A of spec §4.E step 4: the image's own
// LC_SYMTAB, via the LINKEDIT vm_addr/file_off delta.
func (a *Analyser) collectSymtabSymbols(h *mach.Header, linkeditBase uint64, out map[string]uint64) error {
	symtab := h.Symtab

	symtabOff, symtabEntry, err := a.FindEntryFromVMAddr(linkeditBase + uint64(symtab.SymOff))
	if err != nil {
		return err
	}
	strOff, strEntry, err := a.FindEntryFromVMAddr(linkeditBase + uint64(symtab.StrOff))
	if err != nil {
		return err
	}

	symFile, err := os.Open(symtabEntry.Path)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", symtabEntry.Path, err)
	}
	defer symFile.Close()
	symReader := byteio.New(symFile)
	if err := symReader.Seek(int64(symtabOff), byteio.SeekStart); err != nil {
		return err
	}

	strFile, err := os.Open(strEntry.Path)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", strEntry.Path, err)
	}
	defer strFile.Close()
	strReader := byteio.New(strFile)

	for i := uint32(0); i < symtab.SymCount; i++ {
		n, err := ReadNList(symReader)
		if err != nil {
			return err
		}
		if n.Strx == 0 || n.Type() != NListTypeSection {
			continue
		}
		if err := strReader.Seek(int64(strOff)+int64(n.Strx), byteio.SeekStart); err != nil {
			return err
		}
		name, err := strReader.ReadCStr()
		if err != nil {
			return err
		}
		if name == "" || name == "<redacted>" {
			continue
		}
		// First wins: a name already present from an earlier pass is
		// never overwritten (spec §4.E step 4).
		if _, exists := out[name]; !exists {
			out[name] = n.Value
		}
	}
	return nil
}

// collectLocalSymbols is Pass B of spec §4.E step 4: the dedicated
// symbols cache if present, else the main cache's own local-symbol table.
func (a *Analyser) collectLocalSymbols(imageBase uint64, out map[string]uint64) error {
	symbolsEntry := a.SymbolsEntry
	if symbolsEntry == nil {
		symbolsEntry = a.MainCache()
	}
	local := symbolsEntry.Header.LocalSymbols
	if local == nil {
		return nil
	}
	entry, ok := local.Entries[imageBase]
	if !ok {
		return nil
	}

	f, err := os.Open(symbolsEntry.Path)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", symbolsEntry.Path, err)
	}
	defer f.Close()
	r := byteio.New(f)

	symbolsOff := int64(symbolsEntry.Header.LocalSymbolsOff)
	start := symbolsOff + int64(local.NListOff) + int64(entry.NListStartIndex)*16
	if err := r.Seek(start, byteio.SeekStart); err != nil {
		return err
	}

	for i := uint32(0); i < entry.NListCount; i++ {
		n, err := ReadNList(r)
		if err != nil {
			return err
		}
		if n.Strx == 0 || n.Type() != NListTypeSection {
			continue
		}

		prevPos, err := r.Tell()
		if err != nil {
			return err
		}
		if err := r.Seek(symbolsOff+int64(local.StringsOff)+int64(n.Strx), byteio.SeekStart); err != nil {
			return err
		}
		name, err := r.ReadCStr()
		if err != nil {
			return err
		}
		if err := r.Seek(prevPos, byteio.SeekStart); err != nil {
			return err
		}

		if name == "" || name == "<redacted>" {
			continue
		}
		if _, exists := out[name]; !exists {
			out[name] = n.Value
		}
	}
	return nil
}

// collectObjCClasses implements spec §4.E step 5: walk __DATA_CONST,
// __objc_classlist resolving each "brute force" fixup pointer chain
// class -> class_ro (+0x20) -> class name cstring (+0x18).
func (a *Analyser) collectObjCClasses(h *mach.Header, imageBase uint64, out map[string]uint64) error {
	classList, err := h.FindSection("__DATA_CONST", "__objc_classlist")
	if err != nil {
		return err
	}
	classListOff, classListEntry, err := a.FindEntryFromVMAddr(classList.VMAddr)
	if err != nil {
		return err
	}

	f, err := os.Open(classListEntry.Path)
	if err != nil {
		return errors.Wrapf(ierrors.Io, "open %s: %v", classListEntry.Path, err)
	}
	defer f.Close()
	r := byteio.New(f)

	mainCacheBase := a.MainCache().Header.CacheBase

	endOff := int64(classListOff) + int64(classList.VMSize)
	for cur := int64(classListOff); cur < endOff; cur += 8 {
		if err := r.Seek(cur, byteio.SeekStart); err != nil {
			return err
		}
		classAddr, err := readFixupPointer(r, imageBase, mainCacheBase)
		if err != nil {
			return err
		}

		roOff, err := classListEntry.Header.VMToFileOff(classAddr + 0x20)
		if err != nil {
			return err
		}
		if err := r.Seek(int64(roOff), byteio.SeekStart); err != nil {
			return err
		}
		classROAddr, err := readFixupPointer(r, imageBase, mainCacheBase)
		if err != nil {
			return err
		}

		nameOff, err := classListEntry.Header.VMToFileOff(classROAddr + 0x18)
		if err != nil {
			return err
		}
		if err := r.Seek(int64(nameOff), byteio.SeekStart); err != nil {
			return err
		}
		classNameAddr, err := readFixupPointer(r, imageBase, mainCacheBase)
		if err != nil {
			return err
		}

		className, err := a.readCStrAtVMAddr(classNameAddr)
		if err != nil {
			return err
		}

		out[className] = classAddr
	}
	return nil
}

func (a *Analyser) readCStrAtVMAddr(addr uint64) (string, error) {
	off, entry, err := a.FindEntryFromVMAddr(addr)
	if err != nil {
		return "", err
	}
	f, err := os.Open(entry.Path)
	if err != nil {
		return "", errors.Wrapf(ierrors.Io, "open %s: %v", entry.Path, err)
	}
	defer f.Close()
	r := byteio.New(f)
	if err := r.Seek(int64(off), byteio.SeekStart); err != nil {
		return "", err
	}
	return r.ReadCStr()
}

// readFixupPointer decodes a dyld chained-fixup pointer word at r's
// current position (spec §4.E step 5). This is the documented "brute
// force" decode: it resolves rebase and authenticated-rebase pointers
// only; an auth_bind or bind pointer anywhere in __objc_classlist is a
// fatal error (spec §9 Open Question — no silent masking).
func readFixupPointer(r *byteio.Reader, imageBase, mainCacheBase uint64) (uint64, error) {
	fixup, err := r.ReadU64LE()
	if err != nil {
		return 0, err
	}

	var val uint64
	if bitutil.Test(fixup, 63) {
		if bitutil.Test(fixup, 62) {
			return 0, errors.Wrapf(ierrors.InvalidInput, "auth_bind pointer unsupported (%#x)", fixup)
		}
		if bitutil.Extract(fixup, 32, 19) == 0 {
			return 0, errors.Wrapf(ierrors.InvalidInput, "bind pointer unsupported (%#x)", fixup)
		}
		val = bitutil.Extract(fixup, 0, 32)
	} else {
		val = bitutil.Extract(fixup, 0, 36)
	}

	if val > imageBase {
		return val, nil
	}
	return val + mainCacheBase, nil
}
