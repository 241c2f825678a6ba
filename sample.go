package main

import "sort"

// RawEvent is one decoded (but not yet tag-classified) entry from a
// TRACEBUF chunk (spec §3 "RawEvent").
type RawEvent struct {
	TaggedAddress uint64
	Cycle         uint64
}

// ThreadID identifies the thread a TRACEBUF chunk belongs to, carried by
// the THREADID chunk that precedes it (spec §3 "ThreadTrace", §4.2).
type ThreadID struct {
	PID  uint64
	TID  uint64
	Name string
}

// ThreadTrace accumulates the RawEvents belonging to one thread across
// possibly several TRACEBUF chunks within a single sample (spec §3).
type ThreadTrace struct {
	ID     ThreadID
	Events []RawEvent
}

// sortByCycle sorts events by cycle ascending, the precondition for
// reconstruction (spec §3 invariant, §4.3 "Events are sorted by cycle
// ascending before reconstruction").
func (t *ThreadTrace) sortByCycle() {
	sort.Slice(t.Events, func(i, j int) bool { return t.Events[i].Cycle < t.Events[j].Cycle })
}

// Sample is one FUNTRACE...ENDTRACE region: a single timeline's worth of
// per-thread events plus the metadata needed to convert cycles to
// microseconds and to render its JSON (spec §3 "Sample").
type Sample struct {
	Index       int
	CPUFreqHz   uint64
	CmdLine     string
	Threads     []*ThreadTrace
	FtraceText  string
}

// threadByID returns (creating if necessary) the ThreadTrace for id.
func (s *Sample) threadByID(id ThreadID) *ThreadTrace {
	for _, t := range s.Threads {
		if t.ID.PID == id.PID && t.ID.TID == id.TID {
			return t
		}
	}
	t := &ThreadTrace{ID: id}
	s.Threads = append(s.Threads, t)
	return t
}

// SampleAssembler accumulates chunks between FUNTRACE/ENDTRACE delimiters,
// sorts each thread's events by cycle and applies the sample allow-list
// (spec §2 "Sample assembler", §4.4). The thread allow-list, the age window
// and the hand-off to the reconstructor are done by the caller with
// threadAllowed, OldestRetainedCycle and FilterEvents.
type SampleAssembler struct {
	cfg *Config

	inSample    bool
	sampleIndex int
	current     *Sample
	currentTID  ThreadID
}

// NewSampleAssembler constructs an assembler that will honor cfg's
// filtering options.
func NewSampleAssembler(cfg *Config) *SampleAssembler {
	return &SampleAssembler{cfg: cfg}
}

// OnFunTrace opens a new sample boundary (spec §4.2, magic FUNTRACE).
func (sa *SampleAssembler) OnFunTrace(cpuFreqHz uint64) {
	if sa.inSample {
		warnf("FUNTRACE block not closed")
	}
	sa.current = &Sample{Index: sa.sampleIndex, CPUFreqHz: cpuFreqHz}
	sa.currentTID = ThreadID{PID: 1, TID: 1}
	sa.inSample = true
}

// OnCmdLine records the traced process's command line for the current
// sample (spec §4.2, magic "CMD LINE").
func (sa *SampleAssembler) OnCmdLine(cmdLine string) {
	if sa.current != nil {
		sa.current.CmdLine = cmdLine
	}
}

// OnThreadID records which thread the next TRACEBUF belongs to (spec §4.2,
// magic THREADID).
func (sa *SampleAssembler) OnThreadID(id ThreadID) {
	sa.currentTID = id
}

// OnTraceBuf appends a decoded batch of events to the current sample's
// thread trace (spec §4.2, magic TRACEBUF); OnEndTrace sorts them by cycle.
func (sa *SampleAssembler) OnTraceBuf(events []RawEvent) {
	if sa.current == nil {
		warnf("ignoring a TRACEBUF chunk since it's outside a FUNTRACE ... ENDTRACE area")
		return
	}
	t := sa.current.threadByID(sa.currentTID)
	t.Events = append(t.Events, events...)
}

// OnFtrace appends kernel-tracer text to the current sample (spec §4.2,
// magic FTRACETX).
func (sa *SampleAssembler) OnFtrace(text string) {
	if sa.current != nil {
		sa.current.FtraceText += text
	}
}

// OnEndTrace closes the current sample boundary and returns it, or nil if
// this sample is filtered out by the sample allow-list (spec §4.2, magic
// ENDTRACE; spec §4.4 filtering).
func (sa *SampleAssembler) OnEndTrace() *Sample {
	if sa.current == nil {
		warnf("ENDTRACE without a preceding FUNTRACE")
		return nil
	}
	sample := sa.current
	for _, t := range sample.Threads {
		t.sortByCycle()
	}

	sa.current = nil
	sa.inSample = false
	index := sample.Index
	sa.sampleIndex++

	if sa.cfg != nil && !sa.cfg.sampleAllowed(index) {
		return nil
	}
	return sample
}

// OldestRetainedCycle computes the sample's "oldest" boundary per spec
// §4.4: max-event-age, then oldest-event-time, then the minimum first-cycle
// across all retained threads.
func OldestRetainedCycle(sample *Sample, cfg *Config) uint64 {
	if cfg != nil && cfg.MaxEventAge != nil {
		youngest := youngestCycle(sample)
		if youngest < *cfg.MaxEventAge {
			return 0
		}
		return youngest - *cfg.MaxEventAge
	}
	if cfg != nil && cfg.OldestEventTime != nil {
		return *cfg.OldestEventTime
	}

	oldest := ^uint64(0)
	any := false
	for _, t := range sample.Threads {
		if !threadAllowed(cfg, t.ID) {
			continue
		}
		if len(t.Events) == 0 {
			continue
		}
		if t.Events[0].Cycle < oldest {
			oldest = t.Events[0].Cycle
			any = true
		}
	}
	if !any {
		return 0
	}
	return oldest
}

func youngestCycle(sample *Sample) uint64 {
	youngest := uint64(0)
	for _, t := range sample.Threads {
		if len(t.Events) == 0 {
			continue
		}
		last := t.Events[len(t.Events)-1].Cycle
		if last > youngest {
			youngest = last
		}
	}
	return youngest
}

// FilterEvents drops events with cycle < oldest, per spec §4.4.
func FilterEvents(events []RawEvent, oldest uint64) []RawEvent {
	filtered := events[:0:0]
	for _, e := range events {
		if e.Cycle >= oldest {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func threadAllowed(cfg *Config, id ThreadID) bool {
	if cfg == nil || cfg.ThreadAllowList == nil {
		return true
	}
	return cfg.ThreadAllowList[id.TID]
}
