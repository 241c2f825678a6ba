package main

// Tests for the call/return reconstructor, one per worked scenario in the
// "TESTABLE PROPERTIES" section of the decoder's specification.

import "testing"

// stubResolver maps tiny integer addresses to fixed symbol names, so these
// tests can drive the reconstructor without a real ELF/DWARF binary.
type stubResolver map[uint64]string

func (s stubResolver) Resolve(addr uint64) SymInfo {
	name, ok := s[addr]
	if !ok {
		return UnknownSymbol()
	}
	return SymInfo{Mangled: name, Demangled: name}
}

const (
	addrF = 1
	addrG = 2
	addrH = 3
)

func taggedCall(addr, cycle uint64) RawEvent { return RawEvent{TaggedAddress: addr, Cycle: cycle} }

func taggedReturn(addr, cycle uint64) RawEvent {
	return RawEvent{TaggedAddress: addr | (1 << 63), Cycle: cycle}
}

func taggedTailCall(addr, cycle uint64) RawEvent {
	return RawEvent{TaggedAddress: addr | (1 << 62), Cycle: cycle}
}

func taggedCatch(addr, cycle uint64) RawEvent {
	return RawEvent{TaggedAddress: addr | (1 << 63) | (1 << 62), Cycle: cycle}
}

func findInterval(t *testing.T, intervals []Interval, name string) Interval {
	t.Helper()
	for _, iv := range intervals {
		if iv.Func.Demangled == name {
			return iv
		}
	}
	t.Fatalf("no interval for %q among %+v", name, intervals)
	return Interval{}
}

func TestReconstructorPlainCallReturn(t *testing.T) {
	resolver := stubResolver{addrF: "f"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{taggedCall(addrF, 10), taggedReturn(addrF, 30)}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 1 {
		t.Fatalf("len(intervals) = %d, want 1", len(intervals))
	}
	f := intervals[0]
	if f.CallCycle != 10 || f.RetCycle != 30 {
		t.Errorf("f = %+v, want [10,30]", f)
	}
}

// Property 7: call f; call g; call h; catch f unwinds g and h, ending at
// the catch cycle (staggered), and emits f only once f itself later returns.
func TestReconstructorCatchUnwind(t *testing.T) {
	resolver := stubResolver{addrF: "f", addrG: "g", addrH: "h"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{
		taggedCall(addrF, 10),
		taggedCall(addrG, 20),
		taggedCall(addrH, 30),
		taggedCatch(addrF, 40),
		taggedReturn(addrF, 50),
	}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 3 {
		t.Fatalf("len(intervals) = %d, want 3 (g, h, f)", len(intervals))
	}

	g := findInterval(t, intervals, "g")
	h := findInterval(t, intervals, "h")
	f := findInterval(t, intervals, "f")

	// h (innermost) ends at the catch cycle 40; g, one frame further out,
	// ends one nanosecond (1 cycle at 1 GHz) later.
	if h.RetCycle != 40 || g.RetCycle != 41 {
		t.Errorf("h should end at the catch cycle 40 and g at 41: g=%+v h=%+v", g, h)
	}
	if g.RetCycle == h.RetCycle && g.CallCycle == h.CallCycle {
		t.Errorf("g and h must be staggered apart to preserve nesting: g=%+v h=%+v", g, h)
	}
	if f.CallCycle != 10 || f.RetCycle != 50 {
		t.Errorf("f should be emitted only on its own later return: f=%+v", f)
	}
	assertPerfectNesting(t, intervals)
}

// Property 8: call f; tail-call g; return at cycles 10, 20, 30 must emit
// both f and g, with g nested inside f (perfect nesting, property 5), f's
// and g's call cycles preserved exactly, and f ending no earlier than the
// return's cycle.
func TestReconstructorTailCall(t *testing.T) {
	resolver := stubResolver{addrF: "f", addrG: "g"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{
		taggedCall(addrF, 10),
		taggedTailCall(addrG, 20),
		taggedReturn(addrG, 30),
	}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 2 {
		t.Fatalf("len(intervals) = %d, want 2 (f, g)", len(intervals))
	}

	f := findInterval(t, intervals, "f")
	g := findInterval(t, intervals, "g")

	if f.CallCycle != 10 {
		t.Errorf("f.CallCycle = %d, want 10", f.CallCycle)
	}
	if g.CallCycle != 20 {
		t.Errorf("g.CallCycle = %d, want 20", g.CallCycle)
	}
	if g.RetCycle > f.RetCycle {
		t.Errorf("g must end no later than f (nesting): f=%+v g=%+v", f, g)
	}
	if f.RetCycle < 30 {
		t.Errorf("f.RetCycle = %d, want >= 30", f.RetCycle)
	}
	assertPerfectNesting(t, intervals)
}

// Property 9: an isolated return with an empty stack, in a sample whose
// earliest retained cycle is 50, emits exactly one interval ending at the
// return cycle and starting at (approximately) the earliest retained cycle.
func TestReconstructorOrphanReturn(t *testing.T) {
	resolver := stubResolver{addrF: "f"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{taggedReturn(addrF, 100)}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 50)
	if len(intervals) != 1 {
		t.Fatalf("len(intervals) = %d, want 1", len(intervals))
	}
	iv := intervals[0]
	if iv.RetCycle != 100 {
		t.Errorf("orphan return RetCycle = %d, want 100", iv.RetCycle)
	}
	if iv.CallCycle > 50 {
		t.Errorf("orphan return CallCycle = %d, want <= 50 (earliest retained cycle)", iv.CallCycle)
	}
}

// Two independent orphan returns must be staggered apart from each other
// (property 6: no two same-thread intervals share an endpoint).
func TestReconstructorOrphanReturnsStaggerApart(t *testing.T) {
	resolver := stubResolver{addrF: "f", addrG: "g"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{taggedReturn(addrF, 100), taggedReturn(addrG, 200)}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 50)
	if len(intervals) != 2 {
		t.Fatalf("len(intervals) = %d, want 2", len(intervals))
	}
	if intervals[0].CallCycle == intervals[1].CallCycle {
		t.Errorf("two orphan returns must have distinct staggered start cycles: %+v", intervals)
	}
}

// Spec §4.3 step 2: a frame instrumented to return-upon-throw (bit 61) is a
// stop condition during catch unwinding, just like a name match — it is
// left on the stack rather than emitted at the catch cycle, so its own
// later return is what produces its interval (and only once).
func TestReconstructorCatchStopsAtReturnsUponThrowFrame(t *testing.T) {
	resolver := stubResolver{addrF: "f", addrG: "g"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{
		taggedCall(addrF, 10),
		RawEvent{TaggedAddress: addrG | (1 << 61), Cycle: 20}, // call g, returns-upon-throw
		taggedCatch(addrF, 30),
		taggedReturn(addrG, 40),
		taggedReturn(addrF, 50),
	}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 2 {
		t.Fatalf("len(intervals) = %d, want 2 (g, f), got %+v", len(intervals), intervals)
	}
	g := findInterval(t, intervals, "g")
	f := findInterval(t, intervals, "f")
	if g.CallCycle != 20 || g.RetCycle != 40 {
		t.Errorf("g should be emitted once by its own return, not by the catch: g=%+v", g)
	}
	if f.CallCycle != 10 || f.RetCycle != 50 {
		t.Errorf("f = %+v, want [10,50]", f)
	}
}

// Property 7 continued: a catch with nothing to unwind (stack already
// empty) must not panic and should produce no interval for the catcher.
func TestReconstructorCatchEmptyStack(t *testing.T) {
	resolver := stubResolver{addrF: "f"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{taggedCatch(addrF, 10)}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 0 {
		t.Errorf("catch on an empty stack should emit nothing, got %+v", intervals)
	}
}

// Frames still open when the event stream ends are flushed as "live at
// capture end" intervals, nested per property 5.
func TestReconstructorFlushLiveAtEnd(t *testing.T) {
	resolver := stubResolver{addrF: "f", addrG: "g"}
	rc := NewReconstructor(resolver, TagFormatModern, 1_000_000_000)
	events := []RawEvent{taggedCall(addrF, 10), taggedCall(addrG, 20)}

	intervals := rc.Run(ThreadID{PID: 1, TID: 1}, events, 0)
	if len(intervals) != 2 {
		t.Fatalf("len(intervals) = %d, want 2", len(intervals))
	}
	f := findInterval(t, intervals, "f")
	g := findInterval(t, intervals, "g")
	if f.RetCycle < g.RetCycle {
		t.Errorf("outer frame f must end no earlier than inner frame g: f=%+v g=%+v", f, g)
	}
	assertPerfectNesting(t, intervals)
}

// assertPerfectNesting checks property 5 pairwise over every interval on
// the same thread.
func assertPerfectNesting(t *testing.T, intervals []Interval) {
	t.Helper()
	for i := range intervals {
		for j := range intervals {
			if i == j || intervals[i].ThreadID != intervals[j].ThreadID {
				continue
			}
			a, b := intervals[i], intervals[j]
			disjoint := a.RetCycle <= b.CallCycle || b.RetCycle <= a.CallCycle
			aInB := b.CallCycle <= a.CallCycle && a.RetCycle <= b.RetCycle
			bInA := a.CallCycle <= b.CallCycle && b.RetCycle <= a.RetCycle
			if !disjoint && !aInB && !bInA {
				t.Errorf("intervals violate perfect nesting: %+v vs %+v", a, b)
			}
		}
	}
}
