package main

import (
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// Demangle applies the Itanium C++ ABI demangler to a mangled symbol name.
// On failure, the demangled name equals the mangled one (spec §4.1.1).
func Demangle(mangled string) string {
	demangled, err := demangle.ToString(mangled)
	if err != nil {
		return mangled
	}
	return demangled
}

// cloneSuffixMarker is the compiler-generated marker appended to distinguish
// specialised copies of a function, e.g. "f(int) [clone .constprop.1]" or
// "f(int) [clone .cold]" (spec §4.1 step 8, GLOSSARY "Clone suffix").
const cloneSuffixMarker = " [clone "

// StripClone removes a trailing " [clone …]" suffix, if present. This is
// idempotent (spec §8 property 3) and is required before any name-equality
// comparison during call/return reconstruction, since a throw or a clone
// can land in "f() [clone .cold]" when the stack holds "f()" (spec §4.1
// step 8, §4.3).
func StripClone(name string) string {
	if idx := strings.Index(name, cloneSuffixMarker); idx >= 0 {
		return name[:idx]
	}
	return name
}
