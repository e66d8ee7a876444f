// Package reporter publishes run status and unique-crash events to
// whichever sinks the operator configured.
package reporter

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Status is one periodic snapshot of the run's tallies, reported once
// per supervisor tick.
type Status struct {
	MutationsDone   uint64
	CrashesFound    uint64
	UniqueCrashes   uint64
	ThreadsFinished uint64
	Elapsed         time.Duration
}

// CrashEvent describes one unique crash passed to ReportCrash. The
// worker pool and classifier do not call ReportCrash.
type CrashEvent struct {
	Kind      string
	SavedPath string
	At        time.Time
}

// Reporter is the capability interface the supervisor depends on, kept
// deliberately narrow so a fake sink is trivial to substitute in tests.
type Reporter interface {
	ReportStatus(Status)
	ReportCrash(CrashEvent)
}

// TextReporter writes human-readable lines to an io.Writer, matching the
// plain-text CLI status output style of cmd/orizon-fuzz.
type TextReporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewTextReporter wraps w. Writes are serialized so concurrent
// ReportStatus/ReportCrash calls never interleave mid-line.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (t *TextReporter) ReportStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, "[%s] mutations=%d crashes=%d unique=%d threads_finished=%d\n",
		s.Elapsed.Round(time.Second), s.MutationsDone, s.CrashesFound, s.UniqueCrashes, s.ThreadsFinished)
}

func (t *TextReporter) ReportCrash(c CrashEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fmt.Fprintf(t.w, "[%s] new unique crash kind=%s saved=%s\n", c.At.Format(time.RFC3339), c.Kind, c.SavedPath)
}

// MultiReporter fans each event out to every wrapped Reporter. A sink
// that panics or blocks is the caller's problem: MultiReporter itself
// adds no isolation, keeping the fan-out helper thin and leaving
// resilience to the sink.
type MultiReporter struct {
	reporters []Reporter
}

// NewMultiReporter builds a MultiReporter over the given sinks, skipping
// nil interface entries. A typed nil pointer such as a nil
// *HTTP3Reporter is a non-nil Reporter and is not skipped.
func NewMultiReporter(reporters ...Reporter) *MultiReporter {
	var out []Reporter

	for _, r := range reporters {
		if r != nil {
			out = append(out, r)
		}
	}

	return &MultiReporter{reporters: out}
}

func (m *MultiReporter) ReportStatus(s Status) {
	for _, r := range m.reporters {
		r.ReportStatus(s)
	}
}

func (m *MultiReporter) ReportCrash(c CrashEvent) {
	for _, r := range m.reporters {
		r.ReportCrash(c)
	}
}
