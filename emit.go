package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"regexp"
	"strings"
)

// FormatSymbol renders a SymInfo the way every trace-event name and
// file_info.functions key is rendered (spec §4.5): "demangled (file:line)",
// or with the static address and owning binary appended in binary-info mode.
func FormatSymbol(sym SymInfo, binaryInfo bool) string {
	if binaryInfo {
		return fmt.Sprintf("%s (%s:%d %#x@%s)", sym.Demangled, sym.File, sym.Line, sym.StaticAddress, sym.BinaryPath)
	}
	return fmt.Sprintf("%s (%s:%d)", sym.Demangled, sym.File, sym.Line)
}

// traceEvent is one "traceEvents" array element: either a complete ("X")
// interval or a metadata ("M") thread/process-name event (spec §4.5).
type traceEvent struct {
	PID  uint64            `json:"pid,omitempty"`
	TID  uint64            `json:"tid"`
	TS   json.RawMessage   `json:"ts,omitempty"`
	Dur  json.RawMessage   `json:"dur,omitempty"`
	Name string            `json:"name,omitempty"`
	Ph   string            `json:"ph"`
	Args map[string]string `json:"args,omitempty"`
}

// fileInfoEntry marshals as the 2-element array file_info.files expects:
// [source_text, line_count] (spec §4.5).
type fileInfoEntry struct {
	Text  string
	Lines int
}

func (e fileInfoEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.Text, e.Lines})
}

// funcInfoEntry marshals as file_info.functions' [file, display_line] pair.
type funcInfoEntry struct {
	File string
	Line int
}

func (e funcInfoEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]interface{}{e.File, e.Line})
}

type vizTracerMetadata struct {
	Version  string `json:"version"`
	Overflow bool   `json:"overflow"`
	Producer string `json:"producer"`
}

type fileInfo struct {
	Files     map[string]fileInfoEntry `json:"files"`
	Functions map[string]funcInfoEntry `json:"functions"`
}

type sampleJSON struct {
	TraceEvents       []traceEvent      `json:"traceEvents"`
	SystemTraceEvents string            `json:"systemTraceEvents,omitempty"`
	VizTracerMetadata vizTracerMetadata `json:"viztracer_metadata"`
	FileInfo          fileInfo          `json:"file_info"`
}

// funtraceJSONVersion and funtraceProducer populate viztracer_metadata (spec
// §4.5); the version string matches the viztracer release this format was
// last validated against.
const (
	funtraceJSONVersion = "0.16.3"
	funtraceProducer    = "funtrace2json"
)

// OutputFilename implements spec §4.5's "basename.json for sample 0, else
// basename.N.json" rule.
func OutputFilename(basename string, sampleIndex int) string {
	if sampleIndex == 0 {
		return basename + ".json"
	}
	return fmt.Sprintf("%s.%d.json", basename, sampleIndex)
}

// displayLine implements the file_info.functions "line-3, unless line<=3"
// rule (spec §4.5), which lets the viewer show a function's prototype line
// rather than the first statement of its body.
func displayLine(line int) int {
	if line > 3 {
		return line - 3
	}
	return line
}

// EmitSample renders one sample's reconstructed intervals plus its
// metadata into the Chromium Trace Event JSON document described by spec
// §4.5. timeBase is the cycle time-zero already chosen by the caller (spec
// §4.4): 0 under raw-timestamps mode, otherwise the sample's "oldest"
// retained cycle.
func EmitSample(sample *Sample, intervals []Interval, cfg *Config, timeBase uint64) ([]byte, error) {
	binaryInfo := cfg != nil && cfg.BinaryInfo

	out := sampleJSON{
		FileInfo: fileInfo{
			Files:     map[string]fileInfoEntry{},
			Functions: map[string]funcInfoEntry{},
		},
	}

	sourceCache := map[string]fileInfoEntry{}

	for _, iv := range intervals {
		ts := rawDigits(FormatFixed(CyclesToRat(signedDelta(iv.CallCycle, timeBase), sample.CPUFreqHz), 4))
		dur := rawDigits(FormatFixed(CyclesToRat(int64(iv.RetCycle-iv.CallCycle), sample.CPUFreqHz), 4))
		name := FormatSymbol(iv.Func, binaryInfo)
		// file_info.functions is always keyed on the plain "demangled
		// (file:line)" form, independent of -b/--binary-info, matching the
		// original implementation.
		plainName := FormatSymbol(iv.Func, false)

		out.TraceEvents = append(out.TraceEvents, traceEvent{
			PID:  iv.ThreadID.PID,
			TID:  iv.ThreadID.TID,
			TS:   ts,
			Dur:  dur,
			Name: name,
			Ph:   "X",
		})

		if _, ok := out.FileInfo.Functions[plainName]; !ok {
			out.FileInfo.Functions[plainName] = funcInfoEntry{File: iv.Func.File, Line: displayLine(iv.Func.Line)}
		}
		if _, ok := sourceCache[iv.Func.File]; !ok {
			sourceCache[iv.Func.File] = readSourceFile(iv.Func.File)
		}
	}
	for file, entry := range sourceCache {
		out.FileInfo.Files[file] = entry
	}

	for _, t := range sample.Threads {
		threadName := t.ID.Name
		if threadName == "" {
			threadName = fmt.Sprintf("thread %d", t.ID.TID)
		}
		out.TraceEvents = append(out.TraceEvents, traceEvent{
			PID:  t.ID.PID,
			TID:  t.ID.TID,
			Ph:   "M",
			Name: "thread_name",
			Args: map[string]string{"name": threadName},
		})
		if t.ID.PID == t.ID.TID {
			procName := threadName
			if sample.CmdLine != "" {
				procName = sample.CmdLine
			}
			out.TraceEvents = append(out.TraceEvents, traceEvent{
				PID:  t.ID.PID,
				TID:  t.ID.TID,
				Ph:   "M",
				Name: "process_name",
				Args: map[string]string{"name": procName},
			})
		}
	}

	out.VizTracerMetadata = vizTracerMetadata{Version: funtraceJSONVersion, Overflow: false, Producer: funtraceProducer}

	if sample.FtraceText != "" {
		out.SystemTraceEvents = "# tracer: nop\n" + RewriteFtraceTimestamps(sample.FtraceText, sample.CPUFreqHz, timeBase)
	}

	return json.Marshal(out)
}

// readSourceFile loads a function's source text for file_info.files. An
// unreadable file (moved, deleted, or path-substitution still wrong)
// degrades to an empty entry rather than a fatal error (spec §7); the
// warning, if any, was already issued by the resolver.
func readSourceFile(path string) fileInfoEntry {
	if path == "" || path == "??" {
		return fileInfoEntry{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileInfoEntry{}
	}
	text := string(data)
	return fileInfoEntry{Text: text, Lines: strings.Count(text, "\n")}
}

// signedDelta computes cycle-timeBase as a signed value; a cycle older than
// timeBase (possible for an orphan-return's staggered start, spec §4.3 step
// 6) yields a negative duration rather than wrapping.
func signedDelta(cycle, timeBase uint64) int64 {
	if cycle >= timeBase {
		return int64(cycle - timeBase)
	}
	return -int64(timeBase - cycle)
}

// rawDigits wraps a decimal string as a json.RawMessage so it is emitted as
// a bare JSON number with exactly the digits FormatFixed produced, rather
// than being re-rendered (and potentially re-rounded) by encoding/json's own
// float formatting.
func rawDigits(s string) json.RawMessage {
	return json.RawMessage(s)
}

// ftraceTimestampField matches a raw ftrace line's "<int>.<frac>:" timestamp
// field, the one piece of the line this decoder rewrites (spec §4.5); the
// rest of the line is passed through verbatim per spec §1's
// ftrace-line-pass-through non-goal.
var ftraceTimestampField = regexp.MustCompile(`(\d+)\.(\d+):`)

// RewriteFtraceTimestamps rewrites every raw timestamp field in an FTRACETX
// chunk's text from its native cycle encoding to seconds relative to
// timeBase, using exact rational arithmetic (spec §4.5). A field's integer
// part is the raw cycle count the producer stamped the line with; the
// fractional part is a fixed-width zero-padding artifact of mimicking the
// kernel ftrace text format and carries no information of its own, so it is
// discarded and replaced with freshly computed sub-second digits.
func RewriteFtraceTimestamps(text string, cpuFreqHz, timeBase uint64) string {
	base := new(big.Int).SetUint64(timeBase)
	return ftraceTimestampField.ReplaceAllStringFunc(text, func(match string) string {
		groups := ftraceTimestampField.FindStringSubmatch(match)
		cycles, ok := new(big.Int).SetString(groups[1], 10)
		if !ok {
			return match
		}
		delta := new(big.Int).Sub(cycles, base)
		seconds := CyclesToSecondsBig(delta, cpuFreqHz)
		return FormatFixed(seconds, 6) + ":"
	})
}
