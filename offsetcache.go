package main

// OffsetCache maps a mapping's start address to the static-virtual-address
// delta derived from the program header whose file-offset range contains
// that mapping's file offset (spec §2 "Program-header offset cache", §4.1
// step 3). Cleared wholesale on every PROCMAPS chunk, since the same binary
// may reload at a different dynamic offset (spec §3).
type OffsetCache struct {
	deltas map[uint64]uint64
}

// NewOffsetCache returns an empty cache.
func NewOffsetCache() *OffsetCache {
	return &OffsetCache{deltas: map[uint64]uint64{}}
}

// Clear empties the cache; called whenever a new PROCMAPS chunk is ingested.
func (c *OffsetCache) Clear() {
	c.deltas = map[uint64]uint64{}
}

// Delta returns the cached vaddr delta for a mapping starting at mapStart,
// if present.
func (c *OffsetCache) Delta(mapStart uint64) (uint64, bool) {
	d, ok := c.deltas[mapStart]
	return d, ok
}

// Resolve computes and caches the vaddr delta for a mapping, given the
// owning BinaryImage's program headers. Returns false if no program header
// covers the mapping's file offset (spec §4.1 step 3).
func (c *OffsetCache) Resolve(mapStart, mapFileOffset uint64, headers []ProgramHeaderRange) (uint64, bool) {
	if d, ok := c.deltas[mapStart]; ok {
		return d, true
	}
	for _, h := range headers {
		if mapFileOffset >= h.FileOffset && mapFileOffset < h.FileOffset+h.FileSize {
			delta := (mapFileOffset - h.FileOffset) + h.VAddr
			c.deltas[mapStart] = delta
			return delta, true
		}
	}
	return 0, false
}
