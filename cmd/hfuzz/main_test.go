package main

import (
	"context"
	"sync/atomic"
	"syscall"
	"testing"

	"github.com/hfuzz/hfuzz/internal/assert"
	"github.com/hfuzz/hfuzz/internal/classify"
	"github.com/hfuzz/hfuzz/internal/config"
	"github.com/hfuzz/hfuzz/internal/corpus"
	"github.com/hfuzz/hfuzz/internal/reporter"
	"github.com/hfuzz/hfuzz/internal/target"
)

// fakeTarget is the in-process stand-in for a real OS process, used by
// every scenario below so the engine's orchestration can be exercised
// without forking.
type fakeTarget struct {
	calls      int32
	crashEvery int32
}

func (f *fakeTarget) Run(ctx context.Context, inputPath string) (target.Observation, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if f.crashEvery > 0 && n%f.crashEvery == 0 {
		return target.Observation{
			Verdict:    target.VerdictSignaled,
			Signal:     syscall.SIGSEGV,
			ReportBlob: []byte("fake-target: SIGSEGV in do_fuzz at crash_site.c:1"),
		}, nil
	}

	return target.Observation{Verdict: target.VerdictOK}, nil
}

func baseEngineConfig(t *testing.T, threads int, mutationsMax uint64) *config.Config {
	t.Helper()

	dir := t.TempDir()

	return &config.Config{
		Cmdline:      []string{"fake-target", config.Placeholder},
		WorkDir:      dir,
		FileExtn:     "fuzz",
		MaxFileSz:    256,
		FlipRate:     0.05,
		ThreadsMax:   threads,
		MutationsMax: mutationsMax,
		TimeoutS:     3,
		SaveUnique:   true,
	}
}

// S1: a clean target with no crashes runs to its mutation budget and
// reports zero crashes.
func TestScenario_CleanRunReachesMutationBudget(t *testing.T) {
	cfg := baseEngineConfig(t, 2, 40)

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{}
	rep := reporter.NewMultiReporter()

	tallies, engErr := runEngine(context.Background(), cfg, c, tgt, rep)
	assert.Nil(t, engErr)

	assert.Equal(t, tallies.CrashesFound, uint64(0))
	assert.True(t, tallies.MutationsDone >= 40)
}

// S2: a target that always crashes produces exactly one unique crash
// (every run prints the same diagnostic text, so every run folds to the
// same stack fingerprint).
func TestScenario_AlwaysCrashingTargetDedupesToOneUniqueCrash(t *testing.T) {
	cfg := baseEngineConfig(t, 1, 15)

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{crashEvery: 1}
	rep := reporter.NewMultiReporter()

	tallies, engErr := runEngine(context.Background(), cfg, c, tgt, rep)
	assert.Nil(t, engErr)

	assert.True(t, tallies.CrashesFound > 0)
	assert.Equal(t, tallies.UniqueCrashes, uint64(1))
}

// S3: multiple worker threads all contribute to the shared mutation
// tally, never exceeding the configured budget by more than one
// increment per worker in flight.
func TestScenario_MultipleWorkersShareMutationBudget(t *testing.T) {
	cfg := baseEngineConfig(t, 4, 60)

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{}
	rep := reporter.NewMultiReporter()

	tallies, engErr := runEngine(context.Background(), cfg, c, tgt, rep)
	assert.Nil(t, engErr)

	assert.Equal(t, tallies.ThreadsFinished, uint64(4))
	assert.True(t, tallies.MutationsDone >= 60)
}

// S4: an unbounded run (mutations_max=0) can still be torn down via
// context cancellation, matching the supervisor's ctx.Done() teardown
// path.
func TestScenario_UnboundedRunStopsOnContextCancel(t *testing.T) {
	cfg := baseEngineConfig(t, 2, 0)

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{}
	rep := reporter.NewMultiReporter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tallies, engErr := runEngine(ctx, cfg, c, tgt, rep)
	assert.Nil(t, engErr)
	assert.Equal(t, tallies.ThreadsFinished, uint64(2))
}

// S5: a blacklisted crash fingerprint is suppressed end to end - the
// classifier never persists it and it does not count toward
// unique_crashes.
func TestScenario_BlacklistedCrashNeverCountsAsUnique(t *testing.T) {
	cfg := baseEngineConfig(t, 1, 10)
	cfg.StackhashBlacklist = []uint64{mustFingerprint(t)}

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{crashEvery: 1}
	rep := reporter.NewMultiReporter()

	tallies, engErr := runEngine(context.Background(), cfg, c, tgt, rep)
	assert.Nil(t, engErr)

	assert.True(t, tallies.CrashesFound > 0)
	assert.Equal(t, tallies.UniqueCrashes, uint64(0))
}

// S6: the reporter's observed status snapshots are monotonically
// non-decreasing in mutations done, matching the pool's atomic tally
// counters, which only ever increase.
func TestScenario_ReportedStatusNeverGoesBackwards(t *testing.T) {
	cfg := baseEngineConfig(t, 2, 30)

	c, err := corpus.Init("", cfg.MaxFileSz, true)
	assert.Nil(t, err)

	tgt := &fakeTarget{}
	recorder := &statusRecorder{}
	rep := reporter.NewMultiReporter(recorder)

	_, engErr := runEngine(context.Background(), cfg, c, tgt, rep)
	assert.Nil(t, engErr)

	last := uint64(0)
	for _, s := range recorder.statuses {
		assert.True(t, s.MutationsDone >= last)
		last = s.MutationsDone
	}
}

type statusRecorder struct {
	statuses []reporter.Status
}

func (s *statusRecorder) ReportStatus(st reporter.Status) { s.statuses = append(s.statuses, st) }
func (s *statusRecorder) ReportCrash(reporter.CrashEvent) {}

// mustFingerprint matches the fingerprint workerpool.Pool derives for
// every crash fakeTarget reports: the same diagnostic text hashed
// through classify.FramesFromReport and folded by FingerprintStack.
func mustFingerprint(t *testing.T) uint64 {
	t.Helper()

	frames := classify.FramesFromReport([]byte("fake-target: SIGSEGV in do_fuzz at crash_site.c:1"))

	return uint64(classify.FingerprintStack(frames, 8))
}

func TestNormalizeSchemaVersion_DefaultsLooseConstraint(t *testing.T) {
	assert.Equal(t, normalizeSchemaVersion("1.x"), "1.0.0")
	assert.Equal(t, normalizeSchemaVersion(""), "1.0.0")
	assert.Equal(t, normalizeSchemaVersion("2.3.4"), "2.3.4")
}

func TestBuildReporter_DefaultsToText(t *testing.T) {
	cfg := &config.Config{}
	rep := buildReporter(cfg)

	_, ok := rep.(*reporter.TextReporter)
	assert.True(t, ok)
}
