package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
)

// funtrace2json decodes a funtrace capture file into one Chromium Trace
// Event JSON document per FUNTRACE...ENDTRACE sample, resolving every
// recorded dynamic address back to a demangled symbol, source file and
// line via the traced process's own ELF/DWARF debug info.

// VerboseMode mirrors the teacher's own global verbosity switch and is set
// from -v/--verbose at startup; no code reads it, since verbose output
// checks cfg.Verbose.
var VerboseMode bool

func main() {
	result, err := parseCLI(os.Args[1:])
	if err != nil {
		log.Fatalf("funtrace2json: %v", err)
	}
	cfg := result.Cfg
	VerboseMode = cfg.Verbose

	f, err := os.Open(result.CaptureFile)
	if err != nil {
		log.Fatalf("funtrace2json: couldn't open capture file: %v", err)
	}
	defer f.Close()

	substitutor := LoadPathSubstitutor(cfg.SubstitutePathFile)

	var captureMTime int64
	if info, err := f.Stat(); err == nil {
		captureMTime = info.ModTime().Unix()
	}

	resolver := NewResolver(substitutor, captureMTime)
	assembler := NewSampleAssembler(cfg)
	reader := NewChunkReader(f)

	for {
		chunk, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("funtrace2json: %v", err)
		}
		if err := processChunk(chunk, resolver, assembler, cfg, result.OutBasename); err != nil {
			log.Fatalf("funtrace2json: %v", err)
		}
	}
}

// processChunk dispatches one decoded chunk to the sample assembler or
// resolver, and writes out a completed sample's JSON (spec §4.2, §4.5).
func processChunk(chunk Chunk, resolver *Resolver, assembler *SampleAssembler, cfg *Config, outBasename string) error {
	switch chunk.Magic {
	case magicFunTrace:
		freq, ok := ParseFunTracePayload(chunk.Payload, binary.LittleEndian)
		if !ok {
			warnf("malformed FUNTRACE payload (want 8 bytes, got %d)", len(chunk.Payload))
			return nil
		}
		assembler.OnFunTrace(freq)

	case magicCmdLine:
		assembler.OnCmdLine(trimNulName(chunk.Payload))

	case magicProcMaps:
		resolver.SetMemoryMap(ParseMemoryMap(string(chunk.Payload)))

	case magicThreadID:
		id, ok := ParseThreadIDPayload(chunk.Payload, binary.LittleEndian)
		if !ok {
			warnf("malformed THREADID payload (want %d bytes, got %d)", threadIDPayloadLen, len(chunk.Payload))
			return nil
		}
		assembler.OnThreadID(id)

	case magicTraceBuf:
		events, ok := ParseTraceBufPayload(chunk.Payload, binary.LittleEndian)
		if !ok {
			warnf("TRACEBUF payload length %d is not a multiple of 16, skipping chunk", len(chunk.Payload))
			return nil
		}
		assembler.OnTraceBuf(events)

	case magicFtrace:
		assembler.OnFtrace(string(chunk.Payload))

	case magicEndTrace:
		sample := assembler.OnEndTrace()
		if sample == nil {
			return nil
		}
		return emitAndWriteSample(sample, resolver, cfg, outBasename)

	default:
		warnf("unknown chunk magic %q, skipping %d bytes", chunk.Magic, len(chunk.Payload))
	}
	return nil
}

// emitAndWriteSample reconstructs every thread's call/return intervals,
// renders the sample's JSON, and writes it to disk unless dry-run mode is
// set (spec §4.3, §4.4, §4.5, §6).
func emitAndWriteSample(sample *Sample, resolver *Resolver, cfg *Config, outBasename string) error {
	oldest := OldestRetainedCycle(sample, cfg)

	var allIntervals []Interval
	for _, t := range sample.Threads {
		if !threadAllowed(cfg, t.ID) {
			continue
		}
		events := FilterEvents(t.Events, oldest)
		rc := NewReconstructor(resolver, cfg.TagFormat, sample.CPUFreqHz)
		allIntervals = append(allIntervals, rc.Run(t.ID, events, oldest)...)
	}

	timeBase := oldest
	if cfg.RawTimestamps {
		timeBase = 0
	}

	data, err := EmitSample(sample, allIntervals, cfg, timeBase)
	if err != nil {
		return fmt.Errorf("rendering sample %d: %w", sample.Index, err)
	}

	if cfg.DryRun {
		return nil
	}

	filename := OutputFilename(outBasename, sample.Index)
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filename, err)
	}
	if cfg.Verbose {
		fmt.Fprintf(os.Stderr, "wrote %s\n", filename)
	}
	return nil
}
