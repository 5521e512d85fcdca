// Package runner executes action plans: remediations first, strictly in
// order, then the single launch. A failed remediation aborts the run
// before the launch is attempted.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/logs"
	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/reconcile"
	"github.com/mcpup/mcpup/internal/report"
	"github.com/mcpup/mcpup/internal/store/sqlite"
	"github.com/mcpup/mcpup/internal/target"
)

// DefaultGracePeriod bounds how long a signalled child may linger
// before it is killed outright.
const DefaultGracePeriod = 10 * time.Second

// RemediationError marks a remediation that ran and failed. The launch
// is never attempted after one.
type RemediationError struct {
	Target      string
	Requirement string
	Err         error
}

func (e *RemediationError) Error() string {
	return fmt.Sprintf("remediation %s failed for %s: %v", e.Requirement, e.Target, e.Err)
}

func (e *RemediationError) Unwrap() error { return e.Err }

// LaunchError marks a launch that could not start. A child that starts
// and later exits nonzero is not a LaunchError; its code is reported in
// the Outcome instead.
type LaunchError struct {
	Target string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed for %s: %v", e.Target, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Outcome is the result of a completed run.
type Outcome struct {
	RunID string
	// ExitCode is the child's exit code, or 0 when the stop was
	// operator-initiated (forwarded signal or cancelled context).
	ExitCode int
}

// Runner drives a plan against a starter-kit checkout.
type Runner struct {
	Root     string
	StateDir string
	Prober   *probe.Prober
	Reporter *report.Reporter
	Store    *sqlite.Store // optional
	Stdout   io.Writer
	Stderr   io.Writer
	// GracePeriod between forwarding a signal and killing the child;
	// zero means DefaultGracePeriod.
	GracePeriod time.Duration
	// Signals overrides the process signal source in tests. When nil
	// the runner subscribes to SIGINT and SIGTERM itself.
	Signals <-chan os.Signal
}

// Execute applies every remediation in plan order and then launches the
// target, blocking until the child exits. inputs carries the collected
// configuration values for input-kind remediations, keyed by config key.
func (r *Runner) Execute(ctx context.Context, plan *reconcile.Plan, inputs map[string]string) (Outcome, error) {
	runID := uuid.NewString()
	out := Outcome{RunID: runID}
	tgt := plan.Target

	for _, act := range plan.Remediations() {
		req := act.Requirement
		r.Reporter.RemediationStarted(req)
		r.logEvent(runID, logs.Event{Phase: "remediate", Target: tgt.Name, Action: req.ID, Message: "started"})
		err := r.applyRemediation(ctx, tgt, req, inputs)
		r.Reporter.RemediationFinished(req, err)
		if err != nil {
			r.logEvent(runID, logs.Event{Phase: "remediate", Target: tgt.Name, Action: req.ID, Message: "failed", Error: err.Error()})
			return out, &RemediationError{Target: tgt.Name, Requirement: req.ID, Err: err}
		}
		r.logEvent(runID, logs.Event{Phase: "remediate", Target: tgt.Name, Action: req.ID, Message: "done"})
	}

	code, err := r.launch(ctx, tgt, runID)
	out.ExitCode = code
	return out, err
}

func (r *Runner) applyRemediation(ctx context.Context, tgt *target.Target, req *target.Requirement, inputs map[string]string) error {
	if req.Kind == target.KindInput {
		return r.writeConfig(tgt, req, inputs)
	}
	if req.Remedy == nil || len(req.Remedy.Argv) == 0 {
		return fmt.Errorf("requirement %s has no remedy", req.ID)
	}
	if err := r.runArgv(ctx, tgt, req.Remedy.Argv); err != nil {
		return err
	}
	if req.Check.Type == target.CheckStamp {
		if err := r.Prober.WriteStamp(tgt, req); err != nil {
			return fmt.Errorf("record dependency stamp: %w", err)
		}
	}
	return nil
}

// writeConfig merges the collected values over whatever the config file
// already holds, so repeated setup passes never lose keys the user
// answered earlier.
func (r *Runner) writeConfig(tgt *target.Target, req *target.Requirement, inputs map[string]string) error {
	path := r.Prober.ConfigPath(tgt)
	existing, err := envfile.Parse(path)
	if err != nil {
		return err
	}
	for _, in := range req.Inputs {
		v, ok := inputs[in.Key]
		if !ok || v == "" {
			if _, have := existing[in.Key]; have {
				continue
			}
			return fmt.Errorf("no value collected for %s", in.Key)
		}
		existing[in.Key] = v
	}
	if err := envfile.Write(path, existing); err != nil {
		return err
	}
	keys := make([]string, 0, len(req.Inputs))
	for _, in := range req.Inputs {
		keys = append(keys, in.Key)
	}
	return envfile.WriteExample(path+".example", keys)
}

func (r *Runner) runArgv(ctx context.Context, tgt *target.Target, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = filepath.Join(r.Root, tgt.Dir)
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	cmd.Env = os.Environ()
	return cmd.Run()
}

func (r *Runner) launch(ctx context.Context, tgt *target.Target, runID string) (int, error) {
	argv, err := r.expandArgv(tgt)
	if err != nil {
		return 0, &LaunchError{Target: tgt.Name, Err: err}
	}

	grace := r.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = filepath.Join(r.Root, tgt.Dir)
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	cmd.Stdin = os.Stdin
	cmd.Env = os.Environ()
	// Orphaned grandchildren can keep the stdio pipes open after the
	// child dies; do not let Wait hang on them forever.
	cmd.WaitDelay = grace

	if err := cmd.Start(); err != nil {
		r.logEvent(runID, logs.Event{Phase: "launch", Target: tgt.Name, Message: "start failed", Error: err.Error()})
		return 0, &LaunchError{Target: tgt.Name, Err: err}
	}
	pid := cmd.Process.Pid
	r.recordStart(runID, tgt, pid)
	r.logEvent(runID, logs.Event{Phase: "launch", Target: tgt.Name, Message: fmt.Sprintf("started pid %d", pid)})
	r.Reporter.LaunchStarted(tgt, runID, pid)

	sigc := r.Signals
	if sigc == nil {
		c := make(chan os.Signal, 2)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)
		sigc = c
	}

	done := make(chan struct{})
	stopRequested := make(chan struct{})
	go func() {
		var sig os.Signal
		select {
		case sig = <-sigc:
		case <-ctx.Done():
			sig = syscall.SIGTERM
		case <-done:
			return
		}
		close(stopRequested)
		_ = cmd.Process.Signal(sig)
		select {
		case <-done:
		case <-time.After(grace):
			_ = cmd.Process.Kill()
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	r.Reporter.CancelPending()

	requested := false
	select {
	case <-stopRequested:
		requested = true
	default:
	}

	code := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	if requested {
		// The operator asked for the stop; the child's signal death is
		// not a failure.
		code = 0
	}

	status := sqlite.StatusStopped
	lastErr := ""
	if code != 0 {
		status = sqlite.StatusFailed
		lastErr = fmt.Sprintf("exited with code %d", code)
	}
	r.recordStop(runID, status, code, lastErr)
	r.logEvent(runID, logs.Event{Phase: "exit", Target: tgt.Name, Message: fmt.Sprintf("exit code %d", code), Error: lastErr})
	r.Reporter.Stopped(tgt, code)
	return code, nil
}

// expandArgv substitutes the launch placeholders: {self} becomes the
// running binary, {config} the target's config file path.
func (r *Runner) expandArgv(tgt *target.Target) ([]string, error) {
	if len(tgt.Launch.Argv) == 0 {
		return nil, fmt.Errorf("target %s has no launch command", tgt.Name)
	}
	out := make([]string, len(tgt.Launch.Argv))
	for i, a := range tgt.Launch.Argv {
		switch a {
		case "{self}":
			self, err := os.Executable()
			if err != nil {
				return nil, fmt.Errorf("resolve own binary: %w", err)
			}
			out[i] = self
		case "{config}":
			out[i] = r.Prober.ConfigPath(tgt)
		default:
			out[i] = a
		}
	}
	return out, nil
}

func (r *Runner) recordStart(runID string, tgt *target.Target, pid int) {
	if r.Store == nil {
		return
	}
	err := r.Store.InsertLaunch(sqlite.LaunchRecord{
		RunID:     runID,
		Target:    tgt.Name,
		Status:    sqlite.StatusRunning,
		PID:       pid,
		StartedAt: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		fmt.Fprintf(r.stderr(), "warning: record launch: %v\n", err)
	}
}

func (r *Runner) recordStop(runID, status string, code int, lastErr string) {
	if r.Store == nil {
		return
	}
	if err := r.Store.UpdateLaunchCompletion(runID, status, &code, lastErr); err != nil {
		fmt.Fprintf(r.stderr(), "warning: record exit: %v\n", err)
	}
}

func (r *Runner) logEvent(runID string, e logs.Event) {
	if err := logs.AppendEvent(r.StateDir, runID, e); err != nil {
		fmt.Fprintf(r.stderr(), "warning: append event: %v\n", err)
	}
}

func (r *Runner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *Runner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}
