// Package report renders probe results, plans, and launch progress for
// the terminal. All output goes through a single Reporter so the CLI
// and the runner print consistently.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/reconcile"
	"github.com/mcpup/mcpup/internal/target"
)

// Reporter writes human-readable progress to Out and failures to Err.
// The zero value is not usable; call New.
type Reporter struct {
	Out io.Writer
	Err io.Writer

	mu     sync.Mutex
	timers []*time.Timer
}

func New(out, errw io.Writer) *Reporter {
	return &Reporter{Out: out, Err: errw}
}

// CheckReport prints one line per requirement in table order, doctor
// style, and a trailing summary line.
func (r *Reporter) CheckReport(tgt *target.Target, results map[string]probe.Result) {
	fmt.Fprintf(r.Out, "%s:\n", tgt.Name)
	unsatisfied := 0
	for _, req := range tgt.Requirements {
		res, ok := results[req.ID]
		prefix := "OK"
		detail := res.Detail
		if !ok {
			prefix = "FAIL"
			detail = "not probed"
		} else if !res.Satisfied {
			prefix = "FAIL"
		}
		if prefix == "FAIL" {
			unsatisfied++
		}
		fmt.Fprintf(r.Out, "  [%s] %s: %s\n", prefix, req.ID, detail)
	}
	if unsatisfied == 0 {
		fmt.Fprintf(r.Out, "all %d requirements satisfied\n", len(tgt.Requirements))
	} else {
		fmt.Fprintf(r.Out, "%d of %d requirements unsatisfied\n", unsatisfied, len(tgt.Requirements))
	}
}

type checkJSON struct {
	Target  string         `json:"target"`
	Results []probe.Result `json:"results"`
	Ready   bool           `json:"ready"`
}

// CheckJSON prints the same report as a single JSON document, results
// in table order.
func (r *Reporter) CheckJSON(tgt *target.Target, results map[string]probe.Result) error {
	doc := checkJSON{Target: tgt.Name, Ready: true}
	for _, req := range tgt.Requirements {
		res, ok := results[req.ID]
		if !ok {
			res = probe.Result{ID: req.ID, Detail: "not probed"}
		}
		if !res.Satisfied {
			doc.Ready = false
		}
		doc.Results = append(doc.Results, res)
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(r.Out, string(b))
	return nil
}

// Blocked prints every manual gap with its hint. Nothing is elided:
// the operator should see the full remaining work in one pass.
func (r *Reporter) Blocked(berr *reconcile.BlockedError) {
	fmt.Fprintf(r.Err, "%s is blocked on %d manual step(s):\n", berr.Target, len(berr.Missing))
	for _, gap := range berr.Missing {
		fmt.Fprintf(r.Err, "  [FAIL] %s: %s\n", gap.ID, gap.Detail)
		if gap.Hint != "" {
			fmt.Fprintf(r.Err, "         fix: %s\n", gap.Hint)
		}
	}
	fmt.Fprintln(r.Err, "resolve the steps above and re-run setup.")
}

// Plan prints the remediations about to run, in order.
func (r *Reporter) Plan(plan *reconcile.Plan) {
	rems := plan.Remediations()
	if len(rems) == 0 {
		fmt.Fprintf(r.Out, "%s is ready, launching\n", plan.Target.Name)
		return
	}
	fmt.Fprintf(r.Out, "%s needs %d fix(es) before launch:\n", plan.Target.Name, len(rems))
	for _, act := range rems {
		fmt.Fprintf(r.Out, "  - %s: %s\n", act.Requirement.ID, act.Requirement.Label)
	}
}

func (r *Reporter) RemediationStarted(req *target.Requirement) {
	fmt.Fprintf(r.Out, "fixing %s...\n", req.ID)
}

func (r *Reporter) RemediationFinished(req *target.Requirement, err error) {
	if err != nil {
		fmt.Fprintf(r.Err, "  [FAIL] %s: %v\n", req.ID, err)
		return
	}
	fmt.Fprintf(r.Out, "  [OK] %s\n", req.ID)
}

// LaunchStarted announces the child process and, once the target's
// ready delay has elapsed, prints the post-launch instructions. The
// delayed print is cancelled by CancelPending if the child dies first.
func (r *Reporter) LaunchStarted(tgt *target.Target, runID string, pid int) {
	fmt.Fprintf(r.Out, "launched %s (run %s, pid %d)\n", tgt.Name, runID, pid)
	if tgt.Launch.Instructions == "" {
		return
	}
	delay := time.Duration(tgt.Launch.ReadyDelaySeconds) * time.Second
	if delay <= 0 {
		fmt.Fprintln(r.Out, tgt.Launch.Instructions)
		return
	}
	t := time.AfterFunc(delay, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		fmt.Fprintln(r.Out, tgt.Launch.Instructions)
	})
	r.mu.Lock()
	r.timers = append(r.timers, t)
	r.mu.Unlock()
}

// CancelPending stops any instruction prints still scheduled.
func (r *Reporter) CancelPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
}

func (r *Reporter) Stopped(tgt *target.Target, exitCode int) {
	if exitCode == 0 {
		fmt.Fprintf(r.Out, "%s stopped\n", tgt.Name)
		return
	}
	fmt.Fprintf(r.Err, "%s exited with code %d\n", tgt.Name, exitCode)
}
