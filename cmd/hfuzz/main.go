// Command hfuzz is the CLI entry point wiring every engine component
// together: config -> corpus -> mutator -> feedback store -> target ->
// classifier -> worker pool -> supervisor -> reporters.
//
// Flag parsing and the fatal() exit helper follow the same style as
// cmd/orizon-fuzz/main.go.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hfuzz/hfuzz/internal/classify"
	"github.com/hfuzz/hfuzz/internal/config"
	"github.com/hfuzz/hfuzz/internal/corpus"
	"github.com/hfuzz/hfuzz/internal/feedback"
	"github.com/hfuzz/hfuzz/internal/mutate"
	"github.com/hfuzz/hfuzz/internal/prepare"
	"github.com/hfuzz/hfuzz/internal/reporter"
	"github.com/hfuzz/hfuzz/internal/seclog"
	"github.com/hfuzz/hfuzz/internal/session"
	"github.com/hfuzz/hfuzz/internal/supervisor"
	"github.com/hfuzz/hfuzz/internal/target"
	"github.com/hfuzz/hfuzz/internal/watch"
	"github.com/hfuzz/hfuzz/internal/workerpool"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fatal("configuration error: ", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		fatal("failed to create work_dir: ", err)
	}

	slog := seclog.New(log.New(os.Stderr, "hfuzz: ", log.LstdFlags))
	slog.Printf("starting with cmdline=%v env=%v", cfg.Cmdline, seclog.RedactEnvAll(cfg.EnvPassthrough))

	if err := checkSession(cfg); err != nil {
		fatal("session check failed: ", err)
	}

	dynamicOrExternal := len(cfg.DynFileMethod) > 0 || cfg.ExternalCommand != ""

	c, err := corpus.Init(cfg.InputPath, cfg.MaxFileSz, dynamicOrExternal)
	if err != nil {
		fatal("failed to load corpus: ", err)
	}

	if cfg.WatchCorpus && cfg.InputPath != "" {
		cw, err := watch.NewCorpusWatcher(cfg.InputPath, cfg.MaxFileSz)
		if err != nil {
			fatal("failed to start corpus watcher: ", err)
		}

		defer cw.Close()

		go drainWatcherPeriodically(cw, c)
	}

	tgt := target.NewExecTarget(cfg)
	rep := buildReporter(cfg)

	tallies, err := runEngine(context.Background(), cfg, c, tgt, rep)
	if err != nil {
		fatal("fatal preparation error: ", err)
	}

	fmt.Printf("mutations=%d crashes=%d unique=%d\n", tallies.MutationsDone, tallies.CrashesFound, tallies.UniqueCrashes)
}

// preparerMode picks the Input Preparer strategy from the mutually
// exclusive config knobs Validate already enforces.
func preparerMode(cfg *config.Config) prepare.Mode {
	switch {
	case cfg.ExternalCommand != "":
		return prepare.ModeExternalCommand
	case len(cfg.DynFileMethod) > 0:
		return prepare.ModeDynamicFeedback
	default:
		return prepare.ModeStatic
	}
}

// runEngine wires a Corpus, Target and Reporter through a feedback
// store, classifier, worker pool and supervisor for one complete run,
// blocking until the pool finishes. Factored out of main so integration
// tests can substitute an in-process fake Target without spawning real OS processes.
func runEngine(parent context.Context, cfg *config.Config, c *corpus.Corpus, tgt target.Target, rep reporter.Reporter) (workerpool.Tallies, error) {
	store := feedback.NewStore(cfg.WorkDir)
	classifier := classify.NewClassifier(cfg, classify.ClassifyOptions{})
	prep := prepare.New(preparerMode(cfg), store, cfg.ExternalCommand, cfg.InputPath != "")

	pool := workerpool.New(c, store, tgt, classifier, prep, cfg.WorkDir, cfg.Cmdline[0], cfg.FileExtn, int(cfg.MaxFileSz), cfg.MutationsMax)

	start := time.Now()

	sup := supervisor.New(pool.Stop, func() {
		t := pool.Snapshot()
		rep.ReportStatus(reporter.Status{
			MutationsDone:   t.MutationsDone,
			CrashesFound:    t.CrashesFound,
			UniqueCrashes:   t.UniqueCrashes,
			ThreadsFinished: t.ThreadsFinished,
			Elapsed:         time.Since(start),
		})
	}, time.Second)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	go sup.Run(ctx)

	tallies := pool.Run(ctx, cfg.ThreadsMax, func(idx int) mutate.Mutator {
		return mutate.NewDefaultMutator(time.Now().UnixNano()+int64(idx), cfg.FlipRate, cfg.Dictionary)
	})

	cancel()

	return tallies, pool.Err()
}

// checkSession loads any existing SESSION.lock in work_dir, verifies
// schema-version compatibility, then publishes a fresh manifest for this
// run.
func checkSession(cfg *config.Config) error {
	existing, err := session.Load(cfg.WorkDir)
	if err == nil {
		if err := session.CheckCompatible(existing, cfg.SchemaVersion); err != nil {
			return err
		}
	}

	corpusFp, err := session.FingerprintCorpus(cfg.InputPath)
	if err != nil {
		return err
	}

	return session.Write(cfg.WorkDir, session.Manifest{
		SchemaVersion: normalizeSchemaVersion(cfg.SchemaVersion),
		Cmdline:       cfg.Cmdline,
		FileExtn:      cfg.FileExtn,
		ThreadsMax:    cfg.ThreadsMax,
		CorpusSHA256:  corpusFp,
	})
}

// normalizeSchemaVersion turns a loose constraint like "1.x" into the
// concrete version this run actually implements, for storage in the
// manifest (the constraint itself is only ever compared against, never
// persisted as a fact about a prior run).
func normalizeSchemaVersion(constraint string) string {
	if constraint == "1.x" || constraint == "" {
		return "1.0.0"
	}

	return constraint
}

func drainWatcherPeriodically(cw *watch.CorpusWatcher, c *corpus.Corpus) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		if paths := cw.Drain(); len(paths) > 0 {
			c.Append(paths...)
		}
	}
}

func buildReporter(cfg *config.Config) reporter.Reporter {
	text := reporter.NewTextReporter(os.Stdout)

	if cfg.ReportAddr == "" {
		return text
	}

	h3, err := reporter.NewHTTP3Reporter(cfg.ReportAddr, cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		fatal("failed to start HTTP/3 reporter: ", err)
	}

	addr, err := h3.Start()
	if err != nil {
		fatal("failed to bind HTTP/3 reporter: ", err)
	}

	fmt.Fprintf(os.Stderr, "hfuzz: streaming reporter listening on %s\n", addr)

	return reporter.NewMultiReporter(text, h3)
}

func fatal(a ...any) {
	fmt.Fprintln(os.Stderr, a...)
	os.Exit(1)
}
