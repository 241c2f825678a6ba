package main

import (
	"flag"
	"fmt"
	"os"
)

// cli.go parses the funtrace2json command line: a capture file and an
// output basename, plus the option set described in spec §6. The boolean
// options have a short and a long form, in the style of the teacher's own
// -v/--verbose pairing; --max-event-age, --oldest-event-time, --samples,
// --threads and --substitute-path have only a long form.

// cliResult holds the parsed command line: the positional arguments plus
// the Config built from the flags that were actually given.
type cliResult struct {
	CaptureFile string
	OutBasename string
	Cfg         *Config
}

// parseCLI parses args (normally os.Args[1:]) and returns the positional
// arguments and the resulting Config, or a non-nil error for any usage mistake (spec §7: "usage errors
// ... fatal, one-line message, non-zero exit").
func parseCLI(args []string) (*cliResult, error) {
	fs := flag.NewFlagSet("funtrace2json", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] capture-file out-basename\n", fs.Name())
		fs.PrintDefaults()
	}

	var (
		binaryInfo     = fs.Bool("b", false, "include the static address and binary path in every symbol name")
		binaryInfoLong = fs.Bool("binary-info", false, "same as -b")

		rawTimestamps     = fs.Bool("r", false, "emit raw cycle-derived timestamps instead of normalising to the sample's oldest event")
		rawTimestampsLong = fs.Bool("raw-timestamps", false, "same as -r")

		maxEventAge = fs.Uint64("max-event-age", 0, "drop events older than this many cycles before the youngest retained event (unset unless given; an explicit 0 counts as set)")

		oldestEventTime = fs.Uint64("oldest-event-time", 0, "drop events with cycle less than this absolute cycle count (unset unless given; an explicit 0 counts as set)")

		dryRun     = fs.Bool("n", false, "parse and reconstruct but do not write any JSON file")
		dryRunLong = fs.Bool("dry-run", false, "same as -n")

		samples = fs.String("samples", "", "comma-separated list of sample indices to emit (default: all)")

		threads = fs.String("threads", "", "comma-separated list of thread IDs to emit (default: all)")

		verbose     = fs.Bool("v", false, "verbose diagnostics")
		verboseLong = fs.Bool("verbose", false, "same as -v")

		substitutePath = fs.String("substitute-path", "substitute-path.json", "path substitution JSON file")
	)

	maxEventAgeSet := false
	oldestEventTimeSet := false

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// flag doesn't expose "was this set" directly; Visit reports only flags
	// actually passed on the command line.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "max-event-age":
			maxEventAgeSet = true
		case "oldest-event-time":
			oldestEventTimeSet = true
		}
	})

	positional := fs.Args()
	if len(positional) != 2 {
		fs.Usage()
		return nil, fmt.Errorf("expected exactly 2 positional arguments (capture-file, out-basename), got %d", len(positional))
	}

	cfg := &Config{
		BinaryInfo:         *binaryInfo || *binaryInfoLong,
		RawTimestamps:      *rawTimestamps || *rawTimestampsLong,
		DryRun:             *dryRun || *dryRunLong,
		Verbose:            *verbose || *verboseLong,
		SubstitutePathFile: *substitutePath,
		TagFormat:          TagFormatModern,
	}
	if maxEventAgeSet {
		v := *maxEventAge
		cfg.MaxEventAge = &v
	}
	if oldestEventTimeSet {
		v := *oldestEventTime
		cfg.OldestEventTime = &v
	}
	if *samples != "" {
		cfg.SampleAllowList = parseIntSet(*samples)
	}
	if *threads != "" {
		cfg.ThreadAllowList = parseUint64Set(*threads)
	}

	if err := ValidateCLIExclusivity(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides(func(name string) bool {
		set := false
		fs.Visit(func(f *flag.Flag) {
			if f.Name == name {
				set = true
			}
		})
		return set
	})

	return &cliResult{CaptureFile: positional[0], OutBasename: positional[1], Cfg: cfg}, nil
}

func parseIntSet(csv string) map[int]bool {
	out := map[int]bool{}
	for _, field := range splitCSV(csv) {
		var n int
		if _, err := fmt.Sscanf(field, "%d", &n); err == nil {
			out[n] = true
		}
	}
	return out
}

func parseUint64Set(csv string) map[uint64]bool {
	out := map[uint64]bool{}
	for _, field := range splitCSV(csv) {
		var n uint64
		if _, err := fmt.Sscanf(field, "%d", &n); err == nil {
			out[n] = true
		}
	}
	return out
}

func splitCSV(s string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			fields = append(fields, s[start:i])
			start = i + 1
		}
	}
	fields = append(fields, s[start:])
	return fields
}
