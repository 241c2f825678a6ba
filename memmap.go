package main

import (
	"bufio"
	"sort"
	"strconv"
	"strings"
)

// MapEntry is one parsed line of a /proc/<pid>/maps snapshot (spec §3,
// "MemoryMap entry").
type MapEntry struct {
	Start      uint64
	End        uint64 // exclusive
	FileOffset uint64
	Path       string // empty, or one of "[stack]", "[heap]", "[vdso]", etc. for anonymous/special mappings
}

// IsRegularFile reports whether this mapping's path names an on-disk
// executable or shared object, as opposed to an anonymous or special
// mapping ("", "[stack]", "[heap]", "[vdso]", "[vsyscall]", ...).
func (m MapEntry) IsRegularFile() bool {
	return m.Path != "" && !strings.HasPrefix(m.Path, "[") && !strings.HasPrefix(m.Path, "anon")
}

// MemoryMap is the ordered, non-overlapping table of a process's mappings,
// searchable by binary search on address ranges (spec §3, §4.1 step 1).
type MemoryMap struct {
	entries []MapEntry
}

// ParseMemoryMap parses the text of a /proc/<pid>/maps file. Malformed
// lines are skipped with a warning; this never fails outright since a
// partially-corrupt PROCMAPS chunk should still degrade to "fewer resolved
// symbols", not abort the whole decode (spec §7).
func ParseMemoryMap(text string) *MemoryMap {
	mm := &MemoryMap{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		entry, ok := parseMapsLine(line)
		if !ok {
			if strings.TrimSpace(line) != "" {
				warnf("couldn't parse /proc/pid/maps line: %q", line)
			}
			continue
		}
		mm.entries = append(mm.entries, entry)
	}
	sort.Slice(mm.entries, func(i, j int) bool { return mm.entries[i].Start < mm.entries[j].Start })
	return mm
}

// parseMapsLine parses one line of the form:
//
//	<start>-<end> <perms> <offset> <dev> <inode>  [<path>]
func parseMapsLine(line string) (MapEntry, bool) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return MapEntry{}, false
	}

	addrRange := strings.SplitN(fields[0], "-", 2)
	if len(addrRange) != 2 {
		return MapEntry{}, false
	}
	start, err := strconv.ParseUint(addrRange[0], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}
	end, err := strconv.ParseUint(addrRange[1], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}
	offset, err := strconv.ParseUint(fields[2], 16, 64)
	if err != nil {
		return MapEntry{}, false
	}

	path := ""
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}

	return MapEntry{Start: start, End: end, FileOffset: offset, Path: path}, true
}

// Find returns the entry containing addr (start <= addr < end), or false
// if no such entry exists. Implemented as a binary search over the sorted,
// disjoint ranges (spec §8 property 1).
func (mm *MemoryMap) Find(addr uint64) (MapEntry, bool) {
	entries := mm.entries
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Start > addr })
	if i == 0 {
		return MapEntry{}, false
	}
	candidate := entries[i-1]
	if addr >= candidate.Start && addr < candidate.End {
		return candidate, true
	}
	return MapEntry{}, false
}
