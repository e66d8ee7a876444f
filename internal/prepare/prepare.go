// Package prepare implements the Input Preparer: the strategy that
// turns one corpus seed into one on-disk mutated input per worker
// iteration, via exactly one of three modes chosen at configuration
// time (static, dynamic-feedback, external-command).
package prepare

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"github.com/hfuzz/hfuzz/internal/corpus"
	"github.com/hfuzz/hfuzz/internal/feedback"
	"github.com/hfuzz/hfuzz/internal/mutate"
)

// Mode selects which of the three strategies Prepare runs.
type Mode int

const (
	ModeStatic Mode = iota
	ModeDynamicFeedback
	ModeExternalCommand
)

// ErrIterationFailed wraps a failure local to one iteration: the caller
// should skip this iteration (it already counted toward the mutation
// budget) and keep looping.
var ErrIterationFailed = errors.New("prepare: iteration failed")

// ErrFatal wraps a failure that breaks the input-preparation contract
// itself (an external mutator exiting abnormally). The worker pool
// stops on this rather than retrying.
var ErrFatal = errors.New("prepare: fatal")

// Preparer holds everything one of the three strategies needs beyond
// the per-call corpus entry and Mutator.
type Preparer struct {
	mode            Mode
	store           *feedback.Store
	externalCommand string
	hasSeed         bool
}

// New builds a Preparer for mode. store is only consulted in
// ModeDynamicFeedback; externalCommand only in ModeExternalCommand.
// hasSeed reports whether Config.InputPath was configured, gating the
// dynamic-mode warm-up seed and the external-mode optional seed write.
func New(mode Mode, store *feedback.Store, externalCommand string, hasSeed bool) *Preparer {
	return &Preparer{mode: mode, store: store, externalCommand: externalCommand, hasSeed: hasSeed}
}

// Prepare writes one mutated input to path and returns the bytes
// written, ready for Target.Run, the Classifier, and feedback.Offer.
func (p *Preparer) Prepare(ctx context.Context, path string, entry corpus.Entry, maxFileSz int, m mutate.Mutator) ([]byte, error) {
	switch p.mode {
	case ModeDynamicFeedback:
		return p.prepareDynamic(path, entry, maxFileSz, m)
	case ModeExternalCommand:
		return p.prepareExternal(ctx, path, entry, m)
	default:
		return p.prepareStatic(path, entry, maxFileSz, m)
	}
}

// prepareStatic reads the seed, runs it through Resize -> Mangle ->
// PostMangle, and writes the result with create-exclusive semantics.
func (p *Preparer) prepareStatic(path string, entry corpus.Entry, maxFileSz int, m mutate.Mutator) ([]byte, error) {
	data, err := entry.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read seed: %v", ErrIterationFailed, err)
	}

	data = m.Resize(data, maxFileSz)
	data = m.Mangle(data)
	data = m.PostMangle(data)

	if err := writeExclusive(path, data); err != nil {
		return nil, fmt.Errorf("%w: write prepared input: %v", ErrIterationFailed, err)
	}

	return data, nil
}

// prepareDynamic seeds the shared best buffer on the first iteration
// (when input_path is configured), then copies it out under the
// store's lock and mutates it only once the run is past warm-up.
// PostMangle is deliberately not applied here: this mode's mutation
// pass operates on whatever the feedback loop has evolved so far, not
// on a dictionary-aware structural pass meant for a fresh static seed.
func (p *Preparer) prepareDynamic(path string, entry corpus.Entry, maxFileSz int, m mutate.Mutator) ([]byte, error) {
	data, pastWarmup, err := p.store.BeginDynamic(p.hasSeed, entry.Read)
	if err != nil {
		return nil, fmt.Errorf("%w: seed dynamic buffer: %v", ErrIterationFailed, err)
	}

	if pastWarmup {
		data = m.Resize(data, maxFileSz)
		data = m.Mangle(data)
	}

	if err := writeExclusive(path, data); err != nil {
		return nil, fmt.Errorf("%w: write prepared input: %v", ErrIterationFailed, err)
	}

	return data, nil
}

// prepareExternal creates an empty temp file (optionally seeding and
// PostMangle-ing it first), spawns externalCommand against it, and
// requires a normal exit: a signal-exit fails only this iteration, any
// other nonzero exit means the external mutator contract is broken and
// the process must abort.
func (p *Preparer) prepareExternal(ctx context.Context, path string, entry corpus.Entry, m mutate.Mutator) ([]byte, error) {
	var data []byte

	if p.hasSeed {
		seed, err := entry.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: read seed: %v", ErrIterationFailed, err)
		}

		data = m.PostMangle(seed)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write external-command input: %v", ErrIterationFailed, err)
	}

	cmd := exec.CommandContext(ctx, p.externalCommand, path)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
				return nil, fmt.Errorf("%w: external command %s terminated by signal %s", ErrIterationFailed, p.externalCommand, ws.Signal())
			}

			return nil, fmt.Errorf("%w: external command %s exited abnormally (code %d): the external mutator contract is broken", ErrFatal, p.externalCommand, exitErr.ExitCode())
		}

		return nil, fmt.Errorf("%w: spawn external command %s: %v", ErrFatal, p.externalCommand, err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read external-command output: %v", ErrIterationFailed, err)
	}

	return out, nil
}

// writeExclusive matches classify.Classifier.persist's O_EXCL idiom: two
// workers racing to use the same temp filename (a randid collision)
// must never silently clobber one another's input.
func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}

	defer f.Close()

	_, err = f.Write(data)

	return err
}
