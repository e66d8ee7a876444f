// Package workerpool runs the fixed-size pool of fuzzing worker threads,
// each looping pick -> prepare -> run -> classify -> feedback until the
// configured mutation budget is exhausted or the pool is stopped.
package workerpool

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hfuzz/hfuzz/internal/classify"
	"github.com/hfuzz/hfuzz/internal/corpus"
	"github.com/hfuzz/hfuzz/internal/feedback"
	"github.com/hfuzz/hfuzz/internal/mutate"
	"github.com/hfuzz/hfuzz/internal/prepare"
	"github.com/hfuzz/hfuzz/internal/randid"
	"github.com/hfuzz/hfuzz/internal/target"
)

// Tallies holds the run-wide counters every worker updates atomically,
// the same WaitGroup+atomic bookkeeping idiom as scheduler.go.
type Tallies struct {
	MutationsDone   uint64
	CrashesFound    uint64
	UniqueCrashes   uint64
	ThreadsFinished uint64
}

// Pool runs cfg.ThreadsMax workers against a shared Corpus, Store, and
// Target until MutationsMax is reached (0 = unbounded) or Stop is
// called.
type Pool struct {
	corpus     *corpus.Corpus
	store      *feedback.Store
	tgt        target.Target
	classifier *classify.Classifier
	prep       *prepare.Preparer

	workDir      string
	prog         string
	extn         string
	maxFileSz    int
	mutationsMax uint64

	mutationsCnt     uint64
	crashesCnt       uint64
	uniqueCrashesCnt uint64
	threadsFinished  uint64

	stop chan struct{}
	once sync.Once

	errMu    sync.Mutex
	fatalErr error
}

// New builds a worker pool. prep supplies the configured Input Preparer
// strategy (static, dynamic-feedback, or external-command).
func New(
	c *corpus.Corpus,
	store *feedback.Store,
	tgt target.Target,
	classifier *classify.Classifier,
	prep *prepare.Preparer,
	workDir, prog, extn string,
	maxFileSz int,
	mutationsMax uint64,
) *Pool {
	return &Pool{
		corpus:       c,
		store:        store,
		tgt:          tgt,
		classifier:   classifier,
		prep:         prep,
		workDir:      workDir,
		prog:         prog,
		extn:         extn,
		maxFileSz:    maxFileSz,
		mutationsMax: mutationsMax,
		stop:         make(chan struct{}),
	}
}

// Run launches nWorkers goroutines and blocks until every worker exits
// (either the mutation budget was reached, Stop was called, or a worker
// hit a fatal preparation error), returning the final Tallies.
// newMutator is called once per worker so each gets an independently
// seeded Mutator.
func (p *Pool) Run(ctx context.Context, nWorkers int, newMutator func(workerIdx int) mutate.Mutator) Tallies {
	var wg sync.WaitGroup

	for i := 0; i < nWorkers; i++ {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()
			defer atomic.AddUint64(&p.threadsFinished, 1)

			p.workerLoop(ctx, idx, newMutator(idx))
		}(i)
	}

	wg.Wait()

	return p.Snapshot()
}

// Stop signals every worker to exit after its current iteration. Safe to
// call more than once and from any goroutine.
func (p *Pool) Stop() {
	p.once.Do(func() { close(p.stop) })
}

// Err returns the first fatal preparation error reported by any worker,
// or nil if none occurred. A fatal error (e.g. an external-command
// mutator exiting abnormally) already stopped the pool by the time Run
// returns; callers check Err afterward to decide whether to exit
// non-zero.
func (p *Pool) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()

	return p.fatalErr
}

// Snapshot reads the current tallies without synchronizing with Run.
func (p *Pool) Snapshot() Tallies {
	return Tallies{
		MutationsDone:   atomic.LoadUint64(&p.mutationsCnt),
		CrashesFound:    atomic.LoadUint64(&p.crashesCnt),
		UniqueCrashes:   atomic.LoadUint64(&p.uniqueCrashesCnt),
		ThreadsFinished: atomic.LoadUint64(&p.threadsFinished),
	}
}

func (p *Pool) workerLoop(ctx context.Context, idx int, m mutate.Mutator) {
	src := randid.NewSource(int64(idx)+1, idx)

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		n := atomic.LoadUint64(&p.mutationsCnt)
		if p.mutationsMax != 0 && n >= p.mutationsMax {
			return
		}

		if !atomic.CompareAndSwapUint64(&p.mutationsCnt, n, n+1) {
			continue
		}

		if !p.iterate(ctx, idx, src, m) {
			return
		}
	}
}

// iterate runs one pick -> prepare -> run -> classify -> feedback cycle
// and reports whether the worker should keep looping. A per-iteration
// preparation failure (prepare.ErrIterationFailed) is swallowed: the
// iteration already counted against the mutation budget, so the worker
// simply moves on. A fatal preparation failure (prepare.ErrFatal) stops
// the whole pool.
func (p *Pool) iterate(ctx context.Context, idx int, src *randid.Source, m mutate.Mutator) bool {
	seedIdx := p.corpus.Pick(src.Rand())
	entry := p.corpus.At(seedIdx)

	path := randid.TempFilename(p.workDir, p.prog, os.Getpid()+idx, p.extn, src)

	data, err := p.prep.Prepare(ctx, path, entry, p.maxFileSz, m)
	if err != nil {
		if errors.Is(err, prepare.ErrFatal) {
			p.fail(err)
			return false
		}

		return true
	}

	obs, err := p.tgt.Run(ctx, path)
	if err != nil {
		return true
	}

	if obs.Verdict == target.VerdictSignaled {
		atomic.AddUint64(&p.crashesCnt, 1)

		stack := classify.FramesFromReport(obs.ReportBlob)

		v, err := p.classifier.Classify(obs, stack, data)
		if err == nil && v.Unique {
			atomic.AddUint64(&p.uniqueCrashesCnt, 1)
		}

		return true
	}

	p.store.Offer(feedback.Candidate{Data: data, Counters: obs.Counters})

	return true
}

// fail records err as the pool's fatal error (first one wins) and stops
// every worker.
func (p *Pool) fail(err error) {
	p.errMu.Lock()

	if p.fatalErr == nil {
		p.fatalErr = err
	}

	p.errMu.Unlock()

	p.Stop()
}
