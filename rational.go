package main

import (
	"math/big"
)

// Cycle-count arithmetic on a multi-GHz clock overflows a double's 52-bit
// mantissa after roughly a month of continuous uptime (see spec §9). Every
// cycle->microsecond or cycle->second conversion in this package therefore
// goes through an exact big.Rat rather than float64.

// CyclesToRat converts a (possibly negative, as a signed cycle delta) cycle
// count to an exact ratio of microseconds, given the capture's CPU
// frequency in cycles/sec.
func CyclesToRat(cycles int64, cpuFreqHz uint64) *big.Rat {
	num := big.NewInt(cycles)
	num.Mul(num, big.NewInt(1_000_000))
	return new(big.Rat).SetFrac(num, new(big.Int).SetUint64(cpuFreqHz))
}

// CyclesToSeconds converts a cycle count to an exact ratio of seconds.
func CyclesToSeconds(cycles int64, cpuFreqHz uint64) *big.Rat {
	num := big.NewInt(cycles)
	return new(big.Rat).SetFrac(num, new(big.Int).SetUint64(cpuFreqHz))
}

// FormatFixed renders r rounded to the given number of fractional digits,
// e.g. FormatFixed(r, 4) -> "123.4560".
func FormatFixed(r *big.Rat, digits int) string {
	return r.FloatString(digits)
}

// CyclesToSecondsBig is CyclesToSeconds for a cycle delta too wide for an
// int64, as arises when rewriting raw ftrace timestamp fields (spec §4.5
// "systemTraceEvents").
func CyclesToSecondsBig(cycles *big.Int, cpuFreqHz uint64) *big.Rat {
	return new(big.Rat).SetFrac(cycles, new(big.Int).SetUint64(cpuFreqHz))
}

// NanosecondStagger returns ceil(cpuFreqHz / 1e9), the number of cycles
// that corresponds to one nanosecond at this capture's clock rate, rounded
// up so the viewer's nanosecond-resolution clock always sees distinct
// timestamps for staggered events (spec §4.3).
func NanosecondStagger(cpuFreqHz uint64) uint64 {
	const nsPerSec = 1_000_000_000
	if cpuFreqHz == 0 {
		return 1
	}
	return (cpuFreqHz + nsPerSec - 1) / nsPerSec
}
