package main

import "testing"

func TestSampleAllowed(t *testing.T) {
	var c *Config
	if !c.sampleAllowed(5) {
		t.Error("nil Config should allow every sample")
	}

	c = &Config{}
	if !c.sampleAllowed(5) {
		t.Error("Config with a nil allow-list should allow every sample")
	}

	c = &Config{SampleAllowList: map[int]bool{0: true, 2: true}}
	if !c.sampleAllowed(0) || !c.sampleAllowed(2) {
		t.Error("listed samples should be allowed")
	}
	if c.sampleAllowed(1) {
		t.Error("unlisted sample should not be allowed")
	}
}

func TestValidateCLIExclusivity(t *testing.T) {
	age := uint64(100)
	oldest := uint64(200)

	if err := ValidateCLIExclusivity(&Config{}); err != nil {
		t.Errorf("neither flag set: %v", err)
	}
	if err := ValidateCLIExclusivity(&Config{MaxEventAge: &age}); err != nil {
		t.Errorf("only MaxEventAge set: %v", err)
	}
	if err := ValidateCLIExclusivity(&Config{OldestEventTime: &oldest}); err != nil {
		t.Errorf("only OldestEventTime set: %v", err)
	}
	if err := ValidateCLIExclusivity(&Config{MaxEventAge: &age, OldestEventTime: &oldest}); err == nil {
		t.Error("both flags set should be a usage error")
	}
}

func TestApplyEnvOverridesRespectsExplicitFlags(t *testing.T) {
	c := &Config{}
	// Simulate every flag having been explicitly set on the command line;
	// env overrides must not touch any of them even if the env vars are
	// set (they aren't here, but flagWasSet alone must gate the writes).
	c.ApplyEnvOverrides(func(name string) bool { return true })
	if c.BinaryInfo || c.Verbose || c.SubstitutePathFile != "" {
		t.Errorf("explicitly-set flags must not be overridden: %+v", c)
	}
}

func TestApplyEnvOverridesNoopWhenEnvUnset(t *testing.T) {
	c := &Config{}
	c.ApplyEnvOverrides(func(name string) bool { return false })
	if c.BinaryInfo || c.Verbose || c.SubstitutePathFile != "" {
		t.Errorf("unset env vars should leave the config untouched: %+v", c)
	}
}
