// Package config parses and validates the immutable configuration shared
// by every component of the fuzzing engine.
package config

import (
	"fmt"
)

// DynFileMethod is one of the feedback counter sources that can drive the
// dynamic-feedback input preparation strategy.
type DynFileMethod string

const (
	InstrCount  DynFileMethod = "INSTR_COUNT"
	BranchCount DynFileMethod = "BRANCH_COUNT"
	UniqueBlock DynFileMethod = "UNIQUE_BLOCK"
	UniqueEdge  DynFileMethod = "UNIQUE_EDGE"
	Custom      DynFileMethod = "CUSTOM"
)

// Config is immutable after Load/Validate succeeds. Every component holds
// a *Config by reference and never mutates it.
type Config struct {
	Cmdline []string // argv template; at most one token equals Placeholder

	InputPath string // seed file or directory; optional
	WorkDir   string
	FileExtn  string
	MaxFileSz int64
	FlipRate  float64

	ThreadsMax   int
	MutationsMax uint64
	TimeoutS     int

	FuzzStdin  bool
	NullStdio  bool
	SaveUnique bool

	DynFileMethod map[DynFileMethod]bool
	SancovMode    bool

	ExternalCommand string

	Dictionary [][]byte

	StackhashBlacklist []uint64 // must stay sorted
	SymbolBlacklist    map[string]bool
	SymbolWhitelist    map[string]bool

	Verifier bool
	Simplify bool

	DisableRandomization bool

	EnvPassthrough []string // "-E KEY=VALUE" repeatable

	// Ambient additions: session resume, streaming reports, corpus watch.
	SchemaVersion string // semver constraint checked against SESSION.lock
	ReportAddr    string // optional host:port for the HTTP/3 reporter
	TLSCertFile   string
	TLSKeyFile    string
	WatchCorpus   bool
}

// Placeholder is the literal argv token substituted with the prepared
// input file's path for each run.
const Placeholder = "___FILE___"

// ConfigError marks a fatal, startup-only configuration problem.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config: " + e.Msg }

func cfgErrf(format string, args ...any) error {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Validate re-checks every invariant requires of a Config,
// whether it came from Load or was built directly (e.g. in tests).
func (c *Config) Validate() error {
	if c.ThreadsMax < 1 {
		return cfgErrf("threads_max must be >= 1, got %d", c.ThreadsMax)
	}

	if c.FlipRate < 0 || c.FlipRate > 1 {
		return cfgErrf("flip_rate must be in [0,1], got %v", c.FlipRate)
	}

	if c.MaxFileSz <= 0 {
		return cfgErrf("max_file_sz must be > 0, got %d", c.MaxFileSz)
	}

	dynamicOn := len(c.DynFileMethod) > 0
	externalOn := c.ExternalCommand != ""

	if dynamicOn && externalOn {
		return cfgErrf("dynamic feedback and external command preparation are mutually exclusive")
	}

	if c.InputPath == "" && !dynamicOn && !externalOn {
		return cfgErrf("input_path is required unless dynamic feedback or an external command is configured")
	}

	if dynamicOn && c.SancovMode {
		return cfgErrf("dynamic feedback (perf counters) and sancov mode are mutually exclusive")
	}

	placeholders := 0

	for _, tok := range c.Cmdline {
		if tok == Placeholder {
			placeholders++
		}
	}

	if placeholders > 1 {
		return cfgErrf("cmdline must contain at most one %s token, found %d", Placeholder, placeholders)
	}

	if len(c.Cmdline) == 0 {
		return cfgErrf("cmdline must not be empty")
	}

	if !isSorted(c.StackhashBlacklist) {
		return cfgErrf("stackhash_blacklist must be sorted")
	}

	if c.SchemaVersion == "" {
		c.SchemaVersion = "1.x"
	}

	return nil
}

func isSorted(xs []uint64) bool {
	for i := 1; i < len(xs); i++ {
		if xs[i-1] > xs[i] {
			return false
		}
	}

	return true
}

// HasPlaceholder reports whether cmdline contains the substitution token.
func (c *Config) HasPlaceholder() bool {
	for _, tok := range c.Cmdline {
		if tok == Placeholder {
			return true
		}
	}

	return false
}
