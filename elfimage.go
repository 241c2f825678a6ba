package main

import (
	"debug/dwarf"
	"debug/elf"
	"os"
	"sort"
)

// ProgramHeaderRange is the slice of a PT_LOAD (or any) program header's
// file-offset range that this decoder needs to translate a mapping's file
// offset into a static virtual address (spec §4.1 step 3).
type ProgramHeaderRange struct {
	FileOffset uint64
	FileSize   uint64
	VAddr      uint64
}

// ImageSymbol is one entry of a BinaryImage's merged, sorted symbol table
// (spec §3, "Symbol").
type ImageSymbol struct {
	StaticAddress uint64
	Size          uint64
	Name          string
}

// BinaryImage is the per-path cache entry holding everything the resolver
// needs from one ELF file: its program headers (for the offset cache), its
// merged dynamic+static symbol table sorted by address, and a DWARF
// line-number context (spec §2, "Binary-image index").
//
// Populated lazily on first reference and never invalidated by a PROCMAPS
// chunk — the static contents of a binary on disk don't change just
// because the tracee's memory map changed (spec §3 ownership note).
type BinaryImage struct {
	Path           string
	ProgramHeaders []ProgramHeaderRange
	Symbols        []ImageSymbol // sorted by StaticAddress
	Dwarf          *dwarf.Data
}

// LoadBinaryImage opens, parses, and indexes an ELF file at path. It never
// panics: malformed ELF/DWARF degrades to a partially-populated BinaryImage
// (e.g. no DWARF context) rather than a fatal error (spec §7: "the resolver
// MUST NEVER panic on malformed DWARF/ELF; it degrades to unknown").
func LoadBinaryImage(path string) (*BinaryImage, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img := &BinaryImage{Path: path}

	for _, phdr := range f.Progs {
		img.ProgramHeaders = append(img.ProgramHeaders, ProgramHeaderRange{
			FileOffset: phdr.Off,
			FileSize:   phdr.Filesz,
			VAddr:      phdr.Vaddr,
		})
	}

	img.Symbols = mergeSymbolTables(f)

	// A DWARF-less binary (stripped, or built without -g) is common and
	// not an error: the resolver simply falls back to "??"/0 for file:line.
	if dwarfData, derr := f.DWARF(); derr == nil {
		img.Dwarf = dwarfData
	}

	return img, nil
}

// mergeSymbolTables reads both the static (.symtab) and dynamic (.dynsym)
// ELF symbol tables and merges them into one list sorted by static address,
// per spec §3: "static vs dynamic symbol tables are merged" and "address+
// size ranges may overlap". Every named symbol is kept regardless of its
// ELF type (not just STT_FUNC/STT_GNU_IFUNC): hand-written assembly,
// _start, PLT stubs, and some libc entry points are STT_NOTYPE, and
// dropping them would change which symbol has the greatest static address
// <= addr for addresses in their range.
func mergeSymbolTables(f *elf.File) []ImageSymbol {
	var syms []ImageSymbol

	appendFrom := func(elfSyms []elf.Symbol) {
		for _, s := range elfSyms {
			if s.Name == "" {
				continue
			}
			syms = append(syms, ImageSymbol{
				StaticAddress: s.Value,
				Size:          s.Size,
				Name:          s.Name,
			})
		}
	}

	if dynsyms, err := f.DynamicSymbols(); err == nil {
		appendFrom(dynsyms)
	}
	if statsyms, err := f.Symbols(); err == nil {
		appendFrom(statsyms)
	}

	sort.Slice(syms, func(i, j int) bool { return syms[i].StaticAddress < syms[j].StaticAddress })
	return syms
}

// FindSymbol returns the symbol with the greatest StaticAddress <= addr
// whose [StaticAddress, StaticAddress+Size) range contains addr (spec §4.1
// step 5, §8 property 2). A zero-size symbol never matches by containment
// (spec §3: "zero-size symbols are kept but yield no containing-range
// match") but is still kept in the table since some tools rely on its mere
// presence.
func (img *BinaryImage) FindSymbol(addr uint64) (ImageSymbol, bool) {
	syms := img.Symbols
	i := sort.Search(len(syms), func(i int) bool { return syms[i].StaticAddress > addr })
	if i == 0 {
		return ImageSymbol{}, false
	}
	candidate := syms[i-1]
	if candidate.Size == 0 {
		return ImageSymbol{}, false
	}
	if addr >= candidate.StaticAddress && addr < candidate.StaticAddress+candidate.Size {
		return candidate, true
	}
	return ImageSymbol{}, false
}

// LineForAddress asks the DWARF line-number program for the source
// file/line covering a static address, defaulting to ("??", 0) if no DWARF
// context or no matching line entry exists (spec §4.1 step 6).
func (img *BinaryImage) LineForAddress(addr uint64) (file string, line int) {
	if img.Dwarf == nil {
		return "??", 0
	}

	reader := img.Dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			reader.SkipChildren()
			continue
		}
		lr, err := img.Dwarf.LineReader(entry)
		if err != nil || lr == nil {
			reader.SkipChildren()
			continue
		}
		var lineEntry dwarf.LineEntry
		if err := lr.SeekPC(addr, &lineEntry); err == nil && lineEntry.File != nil {
			return lineEntry.File.Name, lineEntry.Line
		}
		reader.SkipChildren()
	}
	return "??", 0
}

// FunctionNameAt asks DWARF for the name of the subprogram containing
// addr, used as a fallback when no ELF symbol covers the address (spec
// §4.1 step 7: "this recovers symbols present in DWARF but absent from
// ELF").
func (img *BinaryImage) FunctionNameAt(addr uint64) (string, bool) {
	if img.Dwarf == nil {
		return "", false
	}

	reader := img.Dwarf.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		low, lowOK := entry.Val(dwarf.AttrLowpc).(uint64)
		if !lowOK {
			continue
		}
		high, highOK := highPC(entry, low)
		if !highOK {
			continue
		}
		if addr >= low && addr < high {
			if name, ok := entry.Val(dwarf.AttrName).(string); ok {
				return name, true
			}
		}
	}
	return "", false
}

// highPC resolves DW_AT_high_pc, which per DWARF4+ may be either an
// absolute address or an offset from low_pc depending on its class.
func highPC(entry *dwarf.Entry, low uint64) (uint64, bool) {
	switch v := entry.Val(dwarf.AttrHighpc).(type) {
	case uint64:
		// Heuristic matching the common compiler output: a "high_pc"
		// strictly less than "low_pc" cannot be an absolute address.
		if v < low {
			return low + v, true
		}
		return v, true
	case int64:
		return low + uint64(v), true
	default:
		return 0, false
	}
}

// statBinary returns the modification time of path, used for the
// newer-than-the-capture staleness warning (spec §4.1 step 2, §7).
func statBinary(path string) (modTimeUnix int64, ok bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().Unix(), true
}
