package config

import (
	"flag"
	"os"
	"sort"
	"strings"
)

// envFlags collects a repeatable "-E KEY=VALUE" flag into a slice.
type envFlags []string

func (e *envFlags) String() string { return strings.Join(*e, ",") }

func (e *envFlags) Set(v string) error {
	*e = append(*e, v)
	return nil
}

// dynMethodSet collects the repeatable --linux_perf_* selectors.
type dynMethodSet map[DynFileMethod]bool

// Load parses argv (bit-compatible flag names per ) into a
// validated Config. It does not call flag.Parse() on the global
// CommandLine set, so it is safe to call more than once (e.g. in tests).
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("hfuzz", flag.ContinueOnError)

	var (
		input        string
		nullifyStdio bool
		stdinInput   bool
		saveAll      bool
		extension    string
		workspace    string
		flipRate     float64
		wordlist     string
		symbolsBl    string
		symbolsWl    string
		stackhashBl  string
		mutateCmd    string
		timeout      int
		threads      int
		iterations   uint64
		maxFileSize  int64
		verifier     bool
		sancov       bool
		simplifier   bool
		schemaVer    string
		reportAddr   string
		watchCorpus  bool
		tlsCert      string
		tlsKey       string
		disableASLR  bool

		perfInstr  bool
		perfBranch bool
		perfIP     bool
		perfIPAddr bool
		perfCustom bool
	)

	var envs envFlags

	fs.StringVar(&input, "f", "", "input corpus file or directory")
	fs.BoolVar(&nullifyStdio, "q", false, "nullify target stdio")
	fs.BoolVar(&stdinInput, "s", false, "feed input via target stdin")
	fs.BoolVar(&saveAll, "u", false, "save every crash (disables unique-only dedup)")
	fs.BoolVar(&verifier, "V", false, "set the verifier option (crashes are not re-run)")
	fs.StringVar(&extension, "e", "fuzz", "input file extension")
	fs.StringVar(&workspace, "W", ".", "workspace / work_dir")
	fs.Float64Var(&flipRate, "r", 0.001, "byte flip rate")
	fs.StringVar(&wordlist, "w", "", "dictionary file (one entry per line)")
	fs.StringVar(&symbolsBl, "b", "", "blacklisted symbol names, comma separated")
	fs.StringVar(&symbolsWl, "A", "", "whitelisted symbol names, comma separated")
	fs.StringVar(&stackhashBl, "B", "", "blacklisted stack hashes, comma separated hex")
	fs.StringVar(&mutateCmd, "c", "", "external mutator command")
	fs.IntVar(&timeout, "t", 3, "per-run timeout in seconds")
	fs.IntVar(&threads, "n", 1, "worker thread count")
	fs.Uint64Var(&iterations, "N", 0, "stop after this many mutations (0=unbounded)")
	fs.Int64Var(&maxFileSize, "F", 1<<20, "max input size in bytes")
	fs.BoolVar(&sancov, "C", false, "enable sanitizer-coverage mode")
	fs.BoolVar(&simplifier, "S", false, "set the simplifier option (no simplification is run)")
	fs.Var(&envs, "E", "environment variable KEY=VALUE to forward to the target (repeatable)")
	fs.StringVar(&schemaVer, "schema-version", "1.x", "semver constraint checked against an existing SESSION.lock")
	fs.StringVar(&reportAddr, "report-addr", "", "optional host:port for the HTTP/3 streaming reporter")
	fs.BoolVar(&watchCorpus, "watch-corpus", false, "watch input_path for newly dropped seed files")
	fs.StringVar(&tlsCert, "tls-cert", "", "TLS certificate file for the HTTP/3 reporter (self-signed if empty)")
	fs.StringVar(&tlsKey, "tls-key", "", "TLS key file for the HTTP/3 reporter")
	fs.BoolVar(&disableASLR, "disable_randomization", false, "target disables ASLR (fingerprints are ASLR-stable)")
	fs.BoolVar(&perfInstr, "linux_perf_instr", false, "enable the INSTR_COUNT feedback counter")
	fs.BoolVar(&perfBranch, "linux_perf_branch", false, "enable the BRANCH_COUNT feedback counter")
	fs.BoolVar(&perfIP, "linux_perf_ip", false, "enable the UNIQUE_BLOCK feedback counter")
	fs.BoolVar(&perfIPAddr, "linux_perf_ip_addr", false, "enable the UNIQUE_EDGE feedback counter")
	fs.BoolVar(&perfCustom, "linux_perf_custom", false, "enable the CUSTOM feedback counter")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cmdline := fs.Args()

	cfg := &Config{
		Cmdline:              cmdline,
		InputPath:            input,
		WorkDir:              workspace,
		FileExtn:             extension,
		MaxFileSz:            maxFileSize,
		FlipRate:             flipRate,
		ThreadsMax:           threads,
		MutationsMax:         iterations,
		TimeoutS:             timeout,
		FuzzStdin:            stdinInput,
		NullStdio:            nullifyStdio,
		SaveUnique:           !saveAll,
		ExternalCommand:      mutateCmd,
		SymbolBlacklist:      splitSet(symbolsBl),
		SymbolWhitelist:      splitSet(symbolsWl),
		Verifier:             verifier,
		Simplify:             simplifier,
		SancovMode:           sancov,
		DisableRandomization: disableASLR,
		EnvPassthrough:       []string(envs),
		SchemaVersion:        schemaVer,
		ReportAddr:           reportAddr,
		WatchCorpus:          watchCorpus,
		TLSCertFile:          tlsCert,
		TLSKeyFile:           tlsKey,
	}

	dynMethods := map[DynFileMethod]bool{}
	if perfInstr {
		dynMethods[InstrCount] = true
	}

	if perfBranch {
		dynMethods[BranchCount] = true
	}

	if perfIP {
		dynMethods[UniqueBlock] = true
	}

	if perfIPAddr {
		dynMethods[UniqueEdge] = true
	}

	if perfCustom {
		dynMethods[Custom] = true
	}

	if len(dynMethods) > 0 {
		cfg.DynFileMethod = dynMethods
	}

	if wordlist != "" {
		dict, err := loadDictionary(wordlist)
		if err != nil {
			return nil, cfgErrf("failed to read dictionary %s: %v", wordlist, err)
		}

		cfg.Dictionary = dict
	}

	bl, err := parseHashList(stackhashBl)
	if err != nil {
		return nil, cfgErrf("failed to parse stackhash blacklist: %v", err)
	}

	sort.Slice(bl, func(i, j int) bool { return bl[i] < bl[j] })
	cfg.StackhashBlacklist = bl

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func splitSet(csv string) map[string]bool {
	if csv == "" {
		return nil
	}

	out := make(map[string]bool)

	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out[s] = true
		}
	}

	return out
}

func loadDictionary(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var entries [][]byte

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		entries = append(entries, []byte(line))
	}

	return entries, nil
}

func parseHashList(csv string) ([]uint64, error) {
	if csv == "" {
		return nil, nil
	}

	var out []uint64

	for _, s := range strings.Split(csv, ",") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "0x"))
		if s == "" {
			continue
		}

		var v uint64

		for _, r := range s {
			v <<= 4

			switch {
			case r >= '0' && r <= '9':
				v |= uint64(r - '0')
			case r >= 'a' && r <= 'f':
				v |= uint64(r-'a') + 10
			case r >= 'A' && r <= 'F':
				v |= uint64(r-'A') + 10
			default:
				return nil, cfgErrf("invalid hex digit %q in stackhash_blacklist entry %q", r, s)
			}
		}

		out = append(out, v)
	}

	return out, nil
}
