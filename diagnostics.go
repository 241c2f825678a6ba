package main

import (
	"fmt"
	"os"
)

// warnOnceLedger tracks which keys have already warned. The decoder is
// strictly single-threaded (spec §5), so this needs no locking.
var warnOnceLedger = map[string]bool{}

// warnf prints an unconditional warning to stderr, in the teacher's style
// of writing diagnostics directly to os.Stderr rather than through a
// logging framework.
func warnf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "WARNING: "+format+"\n", args...)
}

// warnOncef prints a warning to stderr the first time it is called for a
// given key, and silently does nothing on subsequent calls with the same
// key. Used for missing-binary, stale-binary, and stale-source-file
// warnings (spec §5: "at most once per (binary or source-file) path").
func warnOncef(key, format string, args ...any) {
	if warnOnceLedger[key] {
		return
	}
	warnOnceLedger[key] = true
	warnf(format, args...)
}

// resetWarnOnceLedger clears the ledger; used by tests that need to observe
// a warning fire more than once across independent scenarios.
func resetWarnOnceLedger() {
	warnOnceLedger = map[string]bool{}
}
