package main

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestFormatSymbol(t *testing.T) {
	sym := SymInfo{Demangled: "foo(int)", File: "foo.cc", Line: 42, StaticAddress: 0x1000, BinaryPath: "/bin/foo"}

	if got, want := FormatSymbol(sym, false), "foo(int) (foo.cc:42)"; got != want {
		t.Errorf("FormatSymbol(binary-info=false) = %q, want %q", got, want)
	}
	if got := FormatSymbol(sym, true); !strings.Contains(got, "0x1000@/bin/foo") {
		t.Errorf("FormatSymbol(binary-info=true) = %q, missing static address/binary", got)
	}
}

func TestOutputFilename(t *testing.T) {
	if got, want := OutputFilename("trace", 0), "trace.json"; got != want {
		t.Errorf("OutputFilename(0) = %q, want %q", got, want)
	}
	if got, want := OutputFilename("trace", 2), "trace.2.json"; got != want {
		t.Errorf("OutputFilename(2) = %q, want %q", got, want)
	}
}

func TestDisplayLine(t *testing.T) {
	cases := []struct{ line, want int }{
		{1, 1}, {3, 3}, {4, 1}, {100, 97},
	}
	for _, c := range cases {
		if got := displayLine(c.line); got != c.want {
			t.Errorf("displayLine(%d) = %d, want %d", c.line, got, c.want)
		}
	}
}

func TestEmitSampleBasicShape(t *testing.T) {
	sample := &Sample{
		Index:     0,
		CPUFreqHz: 1_000_000_000, // 1 GHz: 1 cycle == 1ns
		CmdLine:   "traced-proc --flag",
		Threads: []*ThreadTrace{
			{ID: ThreadID{PID: 1, TID: 1, Name: "main"}},
			{ID: ThreadID{PID: 1, TID: 2, Name: "worker"}},
		},
	}
	intervals := []Interval{
		{ThreadID: ThreadID{PID: 1, TID: 1}, Func: SymInfo{Demangled: "main()", File: "main.cc", Line: 10}, CallCycle: 1000, RetCycle: 5000},
		{ThreadID: ThreadID{PID: 1, TID: 2}, Func: SymInfo{Demangled: "work()", File: "work.cc", Line: 20}, CallCycle: 2000, RetCycle: 3000},
	}

	data, err := EmitSample(sample, intervals, &Config{}, 1000)
	if err != nil {
		t.Fatalf("EmitSample: %v", err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("EmitSample produced invalid JSON: %v\n%s", err, data)
	}

	events, ok := doc["traceEvents"].([]interface{})
	if !ok {
		t.Fatal("traceEvents missing or not an array")
	}
	// 2 intervals + 2 thread_name + 1 process_name (pid==tid on thread 1 only)
	if len(events) != 5 {
		t.Errorf("len(traceEvents) = %d, want 5", len(events))
	}

	fi, ok := doc["file_info"].(map[string]interface{})
	if !ok {
		t.Fatal("file_info missing")
	}
	functions, ok := fi["functions"].(map[string]interface{})
	if !ok || len(functions) != 2 {
		t.Errorf("file_info.functions = %#v, want 2 entries", functions)
	}

	meta, ok := doc["viztracer_metadata"].(map[string]interface{})
	if !ok || meta["producer"] != funtraceProducer {
		t.Errorf("viztracer_metadata = %#v", meta)
	}
}

func TestRewriteFtraceTimestamps(t *testing.T) {
	// At 1GHz, 1 cycle == 1ns, so a field "2000000000" cycles (littered
	// with a kernel-style fake decimal point) becomes "1.000000" seconds
	// relative to a 1000000000-cycle time base.
	in := "   <idle>-0  [000] d..2  2000000000.000000: sched_switch: prev_comm=swapper\n"
	out := RewriteFtraceTimestamps(in, 1_000_000_000, 1_000_000_000)
	if !strings.Contains(out, "1.000000:") {
		t.Errorf("RewriteFtraceTimestamps() = %q, want a rewritten 1.000000: field", out)
	}
}
