package main

// Interval is one reconstructed (function, call-cycle, return-cycle) span
// for one thread (spec §3 "Interval").
type Interval struct {
	ThreadID  ThreadID
	Func      SymInfo
	CallCycle uint64
	RetCycle  uint64
}

// stackEntry is one frame on the reconstructor's open-call stack.
type stackEntry struct {
	cycle       uint64
	sym         SymInfo
	isTailMark  bool // synthetic tail-call marker, pushed by the tail-call handler
	returnsUponThrow bool
}

// addressResolver is the narrow interface the reconstructor needs from a
// *Resolver. Accepting the interface rather than the concrete type keeps
// the state machine testable against a stub symbol table, per spec §4.3's
// scenarios (§8 "TESTABLE PROPERTIES"), without dragging in a real ELF file.
type addressResolver interface {
	Resolve(addr uint64) SymInfo
}

// Reconstructor is the per-thread state machine that turns a sorted
// entry/exit event stream into well-nested intervals under truncation,
// tail-call, and exception conditions (spec §4.3). It is the hardest
// component in the decoder (≈35% of the implementation budget).
type Reconstructor struct {
	resolver  addressResolver
	tagFormat AddrTagFormat
	cpuFreqHz uint64

	stack            []stackEntry
	expectedReturnee SymInfo // "last seen caller" from a ReturnWithCallerAddress event
	haveExpected     bool

	orphanCount  int
	tailPopCount int

	intervals []Interval
}

// NewReconstructor prepares a reconstructor for one thread's events.
func NewReconstructor(resolver addressResolver, tagFormat AddrTagFormat, cpuFreqHz uint64) *Reconstructor {
	return &Reconstructor{resolver: resolver, tagFormat: tagFormat, cpuFreqHz: cpuFreqHz}
}

// stagger returns the cycle count equivalent to n nanoseconds at this
// thread's capture clock rate (spec §4.3: "the unit of staggering is
// ceil(cpu_freq / 1e9) cycles").
func (rc *Reconstructor) stagger(n int) uint64 {
	return uint64(n) * NanosecondStagger(rc.cpuFreqHz)
}

// Run processes a sorted RawEvent list for one thread to completion and
// returns the well-nested Intervals (spec §4.3, §8 property 5).
func (rc *Reconstructor) Run(id ThreadID, events []RawEvent, earliestRetainedCycle uint64) []Interval {
	rc.stack = nil
	rc.haveExpected = false
	rc.orphanCount = 0
	rc.tailPopCount = 0
	rc.intervals = nil

	latestCycle := earliestRetainedCycle
	for _, e := range events {
		if e.Cycle > latestCycle {
			latestCycle = e.Cycle
		}
	}

	for _, raw := range events {
		tagged := DecodeTag(raw.TaggedAddress, raw.Cycle, rc.tagFormat)
		sym := rc.resolver.Resolve(tagged.Address)
		if IsIgnoredThunk(sym) {
			continue
		}

		switch tagged.Kind {
		case EventCatch:
			rc.handleCatch(id, sym, tagged.Cycle)
		case EventCall:
			rc.stack = append(rc.stack, stackEntry{cycle: tagged.Cycle, sym: sym, returnsUponThrow: tagged.ReturnsUponThrow})
		case EventTailCall:
			rc.handleTailCall(sym, tagged.Cycle)
		case EventReturnWithCallerAddress:
			rc.expectedReturnee = sym
			rc.haveExpected = true
		case EventReturn:
			rc.handleReturn(id, sym, tagged.Cycle, earliestRetainedCycle)
		}
	}

	rc.flushLiveAtEnd(id, latestCycle)
	return rc.intervals
}

// handleCatch unwinds the stack for an exception landing at the catcher's
// frame (spec §4.3 step 2). Pops until the top entry's resolved demangled
// name equals the catcher's, or the stack empties; each popped entry
// becomes an interval ending at the catch cycle, staggered by +1ns per
// additional unwound frame (spec §8 property 7). A frame with bit 61 set
// (the caller was instrumented to emit its own return on throw) is a stop
// condition exactly like the name match: it is left on the stack, not
// popped, so its own forthcoming return event is what emits its interval.
func (rc *Reconstructor) handleCatch(id ThreadID, catcher SymInfo, catchCycle uint64) {
	popped := 0
	for len(rc.stack) > 0 {
		top := rc.stack[len(rc.stack)-1]
		if StripClone(top.sym.Demangled) == StripClone(catcher.Demangled) {
			break
		}
		if top.returnsUponThrow {
			break
		}
		rc.stack = rc.stack[:len(rc.stack)-1]
		end := catchCycle + rc.stagger(popped)
		rc.emit(id, top.sym, top.cycle, end)
		popped++
	}
	if popped == 0 {
		warnf("catch event for %s found nothing to unwind", catcher.Demangled)
	}
}

// handleTailCall pops the preceding call (warning if it was itself a tail
// call) and pushes a synthetic tail-call marker carrying the popped
// cycle/address, so the eventual return event pops through it too (spec
// §4.3 step 4, §8 property 8).
func (rc *Reconstructor) handleTailCall(callee SymInfo, cycle uint64) {
	if len(rc.stack) > 0 {
		top := rc.stack[len(rc.stack)-1]
		if top.isTailMark {
			warnf("tail-call popped where a plain call was expected")
		}
		rc.stack = rc.stack[:len(rc.stack)-1]
		// The caller's own frame never returns on its own behalf; mark
		// it so the return handler keeps popping through it once the
		// callee (pushed below) eventually returns.
		rc.stack = append(rc.stack, stackEntry{cycle: top.cycle, sym: top.sym, isTailMark: true, returnsUponThrow: top.returnsUponThrow})
	}
	// The tail-called function itself gets its own ordinary call frame,
	// timed from this event's cycle.
	rc.stack = append(rc.stack, stackEntry{cycle: cycle, sym: callee})
}

// handleReturn implements spec §4.3 step 6: orphan-return handling,
// name-mismatch recovery, and popping through trailing tail-call markers.
func (rc *Reconstructor) handleReturn(id ThreadID, retSym SymInfo, retCycle, earliestRetainedCycle uint64) {
	if len(rc.stack) == 0 {
		// Orphan return: the matching call was overwritten by the
		// cyclic buffer (spec §4.3 step 6, §8 property 9).
		attributed := retSym
		if rc.haveExpected {
			attributed = rc.expectedReturnee
			rc.haveExpected = false
		}
		staggerCycles := rc.stagger(rc.orphanCount + 1)
		start := earliestRetainedCycle
		if staggerCycles <= start {
			start -= staggerCycles
		} else {
			start = 0
		}
		rc.orphanCount++
		rc.emit(id, attributed, start, retCycle)
		return
	}

	// Pop, and if the popped entry's name doesn't match, keep popping
	// and emitting (recovery from longjmp / instrumentation gaps) until
	// a match is found or the stack empties.
	for len(rc.stack) > 0 {
		top := rc.stack[len(rc.stack)-1]
		rc.stack = rc.stack[:len(rc.stack)-1]

		rc.emit(id, top.sym, top.cycle, retCycle)
		if StripClone(top.sym.Demangled) == StripClone(retSym.Demangled) {
			break
		}
	}

	// Pop any trailing tail-call markers left immediately under the
	// frame that just returned (spec §4.3 step 6, final bullet).
	extra := 0
	for len(rc.stack) > 0 && rc.stack[len(rc.stack)-1].isTailMark {
		top := rc.stack[len(rc.stack)-1]
		rc.stack = rc.stack[:len(rc.stack)-1]
		extra++
		end := retCycle + rc.stagger(extra)
		rc.emit(id, top.sym, top.cycle, end)
		rc.tailPopCount++
	}
}

// flushLiveAtEnd emits an interval for every frame still on the stack when
// the thread's event stream runs out, attributing it as "live at capture
// end" (spec §4.3 step 7).
func (rc *Reconstructor) flushLiveAtEnd(id ThreadID, latestCycle uint64) {
	// Stack index 0 is the outermost (first-called, least-nested) frame
	// still open; the last index is the innermost. Perfect nesting
	// requires the outer frame's end to be >= every inner frame's end,
	// so subtraction grows with depth: the outermost frame ends exactly
	// at latestCycle and each more-nested frame is staggered one
	// nanosecond earlier than the frame enclosing it.
	for i, entry := range rc.stack {
		subtraction := rc.stagger(i)
		end := latestCycle
		if subtraction <= end {
			end -= subtraction
		} else {
			end = 0
		}
		if end < entry.cycle {
			end = entry.cycle
		}
		rc.emit(id, entry.sym, entry.cycle, end)
	}
	rc.stack = nil
}

func (rc *Reconstructor) emit(id ThreadID, sym SymInfo, callCycle, retCycle uint64) {
	if retCycle < callCycle {
		retCycle = callCycle
	}
	rc.intervals = append(rc.intervals, Interval{ThreadID: id, Func: sym, CallCycle: callCycle, RetCycle: retCycle})
}
