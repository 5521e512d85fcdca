package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/prompt"
	"github.com/mcpup/mcpup/internal/reconcile"
	"github.com/mcpup/mcpup/internal/report"
	"github.com/mcpup/mcpup/internal/runner"
	"github.com/mcpup/mcpup/internal/store/sqlite"
	"github.com/mcpup/mcpup/internal/target"
)

const defaultStateDir = ".mcpup"

func addCommonFlags(fs *flag.FlagSet) (dir, stateDir *string) {
	dir = fs.String("dir", ".", "starter kit root directory")
	stateDir = fs.String("state-dir", defaultStateDir, "state directory")
	return dir, stateDir
}

var commonValueFlags = map[string]bool{
	"--dir": true, "-dir": true,
	"--state-dir": true, "-state-dir": true,
}

func runCheck(ctx context.Context, args []string) int {
	args = reorderFlags(args, commonValueFlags)
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	dir, stateDir := addCommonFlags(fs)
	asJSON := fs.Bool("json", false, "json output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var targets []*target.Target
	switch remaining := fs.Args(); len(remaining) {
	case 0:
		all, err := target.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load targets: %v\n", err)
			return exitError
		}
		for i := range all {
			targets = append(targets, &all[i])
		}
	case 1:
		tgt, err := target.Lookup(remaining[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitUsage
		}
		targets = append(targets, tgt)
	default:
		fmt.Fprintln(os.Stderr, "usage: mcpup check [target] [--dir=.] [--state-dir=.mcpup] [--json]")
		return exitUsage
	}

	rep := report.New(os.Stdout, os.Stderr)
	prober := &probe.Prober{Root: *dir, StateDir: *stateDir}
	allReady := true
	for _, tgt := range targets {
		results, err := prober.Check(ctx, tgt)
		if err != nil {
			fmt.Fprintf(os.Stderr, "check %s: %v\n", tgt.Name, err)
			return exitError
		}
		for _, req := range tgt.Requirements {
			if !results[req.ID].Satisfied {
				allReady = false
			}
		}
		if *asJSON {
			if err := rep.CheckJSON(tgt, results); err != nil {
				fmt.Fprintf(os.Stderr, "render report: %v\n", err)
				return exitError
			}
		} else {
			rep.CheckReport(tgt, results)
		}
	}
	if !allReady {
		return exitError
	}
	return exitOK
}

// runSetup collects configuration values and writes the config file.
// It never remediates or launches; it ends with a fresh check report so
// the user can see what still stands between them and a start.
func runSetup(ctx context.Context, args []string) int {
	args = reorderFlags(args, commonValueFlags)
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	dir, stateDir := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	remaining := fs.Args()
	var name string
	switch len(remaining) {
	case 0:
		picked, err := pickTarget()
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitUsage
		}
		name = picked
	case 1:
		name = remaining[0]
	default:
		fmt.Fprintln(os.Stderr, "usage: mcpup setup [target] [--dir=.] [--state-dir=.mcpup]")
		return exitUsage
	}

	tgt, err := target.Lookup(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}

	prober := &probe.Prober{Root: *dir, StateDir: *stateDir}
	inputReqs := tgt.InputRequirements()
	if len(inputReqs) == 0 {
		fmt.Printf("%s has no configuration to collect\n", tgt.Name)
	} else {
		path := prober.ConfigPath(tgt)
		existing, err := envfile.Parse(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			return exitError
		}
		collected, err := prompt.New(os.Stdin, os.Stdout).Collect(inputReqs, existing)
		if err != nil {
			fmt.Fprintf(os.Stderr, "collect configuration: %v\n", err)
			return exitError
		}
		for k, v := range collected {
			existing[k] = v
		}
		if err := envfile.Write(path, existing); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			return exitError
		}
		if err := envfile.WriteExample(path+".example", tgt.ConfigKeys()); err != nil {
			fmt.Fprintf(os.Stderr, "write example: %v\n", err)
			return exitError
		}
		fmt.Printf("wrote %s\n", path)
	}

	results, err := prober.Check(ctx, tgt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check %s: %v\n", tgt.Name, err)
		return exitError
	}
	report.New(os.Stdout, os.Stderr).CheckReport(tgt, results)
	return exitOK
}

func runStart(ctx context.Context, args []string) int {
	args = reorderFlags(args, commonValueFlags)
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	dir, stateDir := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	remaining := fs.Args()
	if len(remaining) != 1 {
		fmt.Fprintln(os.Stderr, "usage: mcpup start <target> [--dir=.] [--state-dir=.mcpup]")
		return exitUsage
	}
	return startTarget(ctx, remaining[0], *dir, *stateDir)
}

// runInteractive is the bare invocation: pick a target, then run the
// full pipeline for it.
func runInteractive(ctx context.Context) int {
	if !isInteractiveTerminal() {
		printUsage()
		return exitUsage
	}
	name, err := pickTarget()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitError
	}
	return startTarget(ctx, name, ".", defaultStateDir)
}

// startTarget runs the full pipeline: probe, plan, prompt for missing
// configuration, replan, then remediate and launch.
func startTarget(ctx context.Context, name, dir, stateDir string) int {
	tgt, err := target.Lookup(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitUsage
	}

	rep := report.New(os.Stdout, os.Stderr)
	prober := &probe.Prober{Root: dir, StateDir: stateDir}

	results, err := prober.Check(ctx, tgt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "check %s: %v\n", tgt.Name, err)
		return exitError
	}
	plan, err := reconcile.Compute(tgt, results)
	if err != nil {
		var blocked *reconcile.BlockedError
		if errors.As(err, &blocked) {
			rep.Blocked(blocked)
			return exitBlocked
		}
		fmt.Fprintf(os.Stderr, "plan %s: %v\n", tgt.Name, err)
		return exitError
	}

	collected, err := collectForPlan(tgt, plan, prober)
	if err != nil {
		fmt.Fprintf(os.Stderr, "collect configuration: %v\n", err)
		return exitError
	}
	rep.Plan(plan)

	store, err := sqlite.Open(stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: launch history unavailable: %v\n", err)
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	run := &runner.Runner{
		Root:     dir,
		StateDir: stateDir,
		Prober:   prober,
		Reporter: rep,
		Store:    store,
	}
	out, err := run.Execute(ctx, plan, collected)
	if err != nil {
		var rerr *runner.RemediationError
		var lerr *runner.LaunchError
		switch {
		case errors.As(err, &rerr):
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitRemediation
		case errors.As(err, &lerr):
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitLaunch
		default:
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return exitError
		}
	}
	return out.ExitCode
}

// collectForPlan prompts for the input values behind the plan's
// config-write remediations. Already-satisfied input requirements are
// left alone.
func collectForPlan(tgt *target.Target, plan *reconcile.Plan, prober *probe.Prober) (map[string]string, error) {
	var inputReqs []target.Requirement
	for _, act := range plan.Remediations() {
		if act.Requirement.Kind == target.KindInput {
			inputReqs = append(inputReqs, *act.Requirement)
		}
	}
	if len(inputReqs) == 0 {
		return nil, nil
	}
	existing, err := envfile.Parse(prober.ConfigPath(tgt))
	if err != nil {
		return nil, err
	}
	return prompt.New(os.Stdin, os.Stdout).Collect(inputReqs, existing)
}
