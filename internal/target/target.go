// Package target launches the fuzzed program once per iteration and
// reports how it exited.
package target

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/hfuzz/hfuzz/internal/config"
	"github.com/hfuzz/hfuzz/internal/feedback"
)

// Verdict classifies how a run ended.
type Verdict int

const (
	VerdictOK Verdict = iota
	VerdictTimeout
	VerdictSignaled
	VerdictNonZeroExit
)

// Observation is everything the classifier needs about one run. Counters
// and ReportBlob carry whatever coverage/diagnostic data this Target
// implementation could obtain; the mechanism for obtaining a true
// program-counter trace (ptrace, inline instrumentation) is an external
// collaborator's concern, not this package's, so ExecTarget only ever
// populates these from what the target process itself printed and how
// long it ran.
type Observation struct {
	Verdict    Verdict
	Signal     syscall.Signal
	ExitCode   int
	Duration   time.Duration
	Counters   feedback.Counters
	ReportBlob []byte
}

// Target is the capability interface the worker pool depends on so
// tests can substitute an in-process fake.
type Target interface {
	Run(ctx context.Context, inputPath string) (Observation, error)
}

// ExecTarget runs the configured command against a real OS process,
// pairing os/exec with golang.org/x/sys/unix for process-group signal
// delivery and low-level wait status decoding.
type ExecTarget struct {
	cfg *config.Config
}

// NewExecTarget builds a Target bound to cfg's cmdline template.
func NewExecTarget(cfg *config.Config) *ExecTarget {
	return &ExecTarget{cfg: cfg}
}

// Run substitutes inputPath for the config's placeholder token (or
// feeds it on stdin when FuzzStdin is set), executes the target under
// the configured timeout, and classifies how it exited. The prepared
// input file at inputPath is always removed before Run returns,
// regardless of outcome.
func (t *ExecTarget) Run(ctx context.Context, inputPath string) (Observation, error) {
	defer os.Remove(inputPath)

	argv := make([]string, len(t.cfg.Cmdline))
	copy(argv, t.cfg.Cmdline)

	if !t.cfg.FuzzStdin {
		for i, tok := range argv {
			if tok == config.Placeholder {
				argv[i] = inputPath
			}
		}
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(t.cfg.TimeoutS)*time.Second)
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Env = passthroughEnv(t.cfg.EnvPassthrough)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if t.cfg.NullStdio {
		cmd.Stdout = nil

		devnull, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err == nil {
			defer devnull.Close()
			cmd.Stdout = devnull
		}
	}

	if t.cfg.FuzzStdin {
		f, err := os.Open(inputPath)
		if err != nil {
			return Observation{}, fmt.Errorf("target: open prepared input: %w", err)
		}

		defer f.Close()

		cmd.Stdin = f
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	obs := Observation{
		Duration:   dur,
		ReportBlob: stderr.Bytes(),
		Counters:   feedback.Counters{InstrCount: uint64(dur.Microseconds()), Custom: uint64(stderr.Len())},
	}

	if runCtx.Err() == context.DeadlineExceeded {
		killProcessGroup(cmd)

		obs.Verdict = VerdictTimeout

		return obs, nil
	}

	if err == nil {
		obs.Verdict = VerdictOK

		return obs, nil
	}

	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		ws, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && ws.Signaled() {
			obs.Verdict = VerdictSignaled
			obs.Signal = ws.Signal()

			return obs, nil
		}

		obs.Verdict = VerdictNonZeroExit
		obs.ExitCode = exitErr.ExitCode()

		return obs, nil
	}

	return obs, fmt.Errorf("target: run: %w", err)
}

func asExitError(err error, out **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*out = ee
	}

	return ok
}

// killProcessGroup sends SIGKILL to the whole process group so a
// timed-out target cannot leave orphaned children behind.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()

		return
	}

	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// passthroughEnv builds the child's environment from the configured
// "-E KEY=VALUE" entries only. The target never inherits the
// supervisor's full environment implicitly.
func passthroughEnv(entries []string) []string {
	if len(entries) == 0 {
		return []string{}
	}

	out := make([]string, 0, len(entries))

	for _, e := range entries {
		if strings.Contains(e, "=") {
			out = append(out, e)
		}
	}

	return out
}
