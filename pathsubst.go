package main

import (
	"encoding/json"
	"os"
	"strings"
)

// PathSubstitution is one (src, dst) string-replacement pair, applied to
// binary and source paths to relocate a capture taken on one machine onto
// the filesystem layout of another (spec §2, §4.1 step 2).
type PathSubstitution struct {
	Src string
	Dst string
}

// PathSubstitutor applies an ordered list of substring replacements.
type PathSubstitutor struct {
	subs []PathSubstitution
}

// LoadPathSubstitutor reads substitute-path.json, shaped [[src, dst], …].
// A missing or unparsable file yields an empty (no-op) substitutor rather
// than an error, matching the original implementation's tolerant behavior:
// path substitution is an optional convenience, never required for a
// capture taken and decoded on the same machine.
func LoadPathSubstitutor(path string) *PathSubstitutor {
	data, err := os.ReadFile(path)
	if err != nil {
		return &PathSubstitutor{}
	}

	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		warnf("failed to parse JSON in file '%s': %v", path, err)
		return &PathSubstitutor{}
	}

	subs := make([]PathSubstitution, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) != 2 {
			warnf("array does not contain exactly 2 elements in file '%s'", path)
			continue
		}
		subs = append(subs, PathSubstitution{Src: pair[0], Dst: pair[1]})
	}
	return &PathSubstitutor{subs: subs}
}

// Apply rewrites every configured src substring to dst, left to right.
func (p *PathSubstitutor) Apply(path string) string {
	if p == nil {
		return path
	}
	for _, s := range p.subs {
		path = strings.ReplaceAll(path, s.Src, s.Dst)
	}
	return path
}
