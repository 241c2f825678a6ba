package main

import "strings"

// SymInfo is the public result of resolving one dynamic address (spec §3,
// "SymInfo"). Equality and hashing are on the full tuple so it can key a
// per-sample set of distinct functions (spec §4.5, "file_info.functions").
type SymInfo struct {
	Mangled       string
	Demangled     string
	File          string
	Line          int
	BinaryPath    string
	StaticAddress uint64
	Size          uint64
}

// UnknownSymbol returns the canonical placeholder for an address that
// could not be resolved at any step (spec §4.1 step 1).
func UnknownSymbol() SymInfo {
	return SymInfo{Mangled: "??", Demangled: "??", File: "??", Line: 0, BinaryPath: "??"}
}

// Resolver implements the public resolve(address) -> SymInfo operation
// (spec §4.1), gluing the memory map, the per-path BinaryImage cache, the
// program-header offset cache, demangling, and clone-stripping.
type Resolver struct {
	mmap         *MemoryMap
	images       map[string]*BinaryImage // keyed by substituted path; never cleared
	missing      map[string]bool         // substituted paths that failed to open; never cleared
	offsets      *OffsetCache
	substitutor  *PathSubstitutor
	captureMTime int64 // unix seconds; 0 if unknown (disables staleness warnings)
}

// NewResolver constructs a Resolver with no memory map yet loaded.
func NewResolver(substitutor *PathSubstitutor, captureMTime int64) *Resolver {
	return &Resolver{
		images:       map[string]*BinaryImage{},
		missing:      map[string]bool{},
		offsets:      NewOffsetCache(),
		substitutor:  substitutor,
		captureMTime: captureMTime,
	}
}

// SetMemoryMap installs a fresh memory map parsed from a PROCMAPS chunk.
// Per spec §3: this clears the offset cache (a shared object may reload at
// a different dynamic offset) but the BinaryImage cache survives (the
// static contents of the binary on disk have not changed). The resolver
// caller is responsible for clearing any dynamic-address->SymInfo cache it
// keeps on top of this (spec §8 property 10); this type has no such cache
// itself.
func (r *Resolver) SetMemoryMap(mm *MemoryMap) {
	r.mmap = mm
	r.offsets.Clear()
}

// virtualOverrideThunkMarker is the demangled-name substring whose events
// the reconstructor skips (spec §4.3 step 1): "virtual override thunk" generates unbalanced
// return events on some toolchains. Kept centralised per spec §9.
const virtualOverrideThunkMarker = "virtual override thunk"

// IsIgnoredThunk reports whether sym is a compiler-generated thunk whose
// return events should be permanently ignored by the reconstructor.
func IsIgnoredThunk(sym SymInfo) bool {
	return strings.Contains(sym.Demangled, virtualOverrideThunkMarker)
}

// Resolve implements spec §4.1's eight-step procedure for one dynamic
// address.
func (r *Resolver) Resolve(dynAddr uint64) SymInfo {
	unknown := UnknownSymbol()
	if r.mmap == nil {
		return unknown
	}

	// Step 1: map lookup.
	mapping, ok := r.mmap.Find(dynAddr)
	if !ok || !mapping.IsRegularFile() {
		return unknown
	}

	path := r.substitutor.Apply(mapping.Path)
	if r.missing[path] {
		return unknown
	}

	// Step 2: binary load (cached).
	img, ok := r.images[path]
	if !ok {
		var err error
		img, err = LoadBinaryImage(path)
		if err != nil {
			warnOncef(path, "couldn't open executable file %s - you can remap paths using a substitute-path.json file in your working directory", path)
			r.missing[path] = true
			return unknown
		}
		r.images[path] = img

		if r.captureMTime != 0 {
			if mtime, ok := statBinary(path); ok && mtime > r.captureMTime {
				warnOncef("stale:"+path, "executable file %s last modified later than the input capture", path)
			}
		}
	}

	// Step 3: offset resolution (cached by map start).
	delta, ok := r.offsets.Resolve(mapping.Start, mapping.FileOffset, img.ProgramHeaders)
	if !ok {
		return unknown
	}

	// Step 4: static address.
	staticAddr := dynAddr - mapping.Start + delta

	// Step 5: symbol lookup.
	mangled := "??"
	demangled := "??"
	size := uint64(0)
	nameFound := false
	if sym, ok := img.FindSymbol(staticAddr); ok {
		nameFound = true
		mangled = sym.Name
		staticAddr = sym.StaticAddress
		size = sym.Size
		demangled = Demangle(mangled)
	}

	// Step 6: source line.
	file, line := img.LineForAddress(staticAddr)
	file = r.substitutor.Apply(file)
	if r.captureMTime != 0 && file != "??" {
		if mtime, ok := statBinary(file); ok && mtime > r.captureMTime {
			warnOncef("stale-src:"+file, "source file %s last modified later than the input capture", file)
		}
	}

	// Step 7: fallback to DWARF-only function name.
	if !nameFound {
		if name, ok := img.FunctionNameAt(staticAddr); ok {
			mangled = name
			demangled = Demangle(name)
		}
	}

	// Step 8: clone stripping.
	mangled = StripClone(mangled)
	demangled = StripClone(demangled)

	return SymInfo{
		Mangled:       mangled,
		Demangled:     demangled,
		File:          file,
		Line:          line,
		BinaryPath:    path,
		StaticAddress: staticAddr,
		Size:          size,
	}
}
