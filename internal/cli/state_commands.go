package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mcpup/mcpup/internal/logs"
	"github.com/mcpup/mcpup/internal/store/sqlite"
	"github.com/mcpup/mcpup/internal/target"
)

func runTargets(args []string) int {
	fs := flag.NewFlagSet("targets", flag.ContinueOnError)
	asJSON := fs.Bool("json", false, "json output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	targets, err := target.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load targets: %v\n", err)
		return exitError
	}
	if *asJSON {
		type entry struct {
			Name    string `json:"name"`
			Display string `json:"display"`
			Dir     string `json:"dir"`
		}
		var out []entry
		for _, t := range targets {
			out = append(out, entry{Name: t.Name, Display: t.Display, Dir: t.Dir})
		}
		b, _ := json.MarshalIndent(out, "", "  ")
		fmt.Println(string(b))
		return exitOK
	}
	for _, t := range targets {
		fmt.Printf("%-14s %s\n", t.Name, t.Display)
	}
	return exitOK
}

func runPS(args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--state-dir": true, "-state-dir": true,
		"--limit": true, "-limit": true,
	})
	fs := flag.NewFlagSet("ps", flag.ContinueOnError)
	stateDir := fs.String("state-dir", defaultStateDir, "state directory")
	limit := fs.Int("limit", 50, "max rows")
	asJSON := fs.Bool("json", false, "json output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	store, err := sqlite.Open(*stateDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open launch history: %v\n", err)
		return exitError
	}
	defer store.Close()

	launches, err := store.ListLaunches(*limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ps failed: %v\n", err)
		return exitError
	}
	if *asJSON {
		b, _ := json.MarshalIndent(launches, "", "  ")
		fmt.Println(string(b))
		return exitOK
	}
	for _, l := range launches {
		code := "-"
		if l.ExitCode != nil {
			code = fmt.Sprintf("%d", *l.ExitCode)
		}
		fmt.Printf("%s\t%s\t%s\t%s\t%s\n", l.RunID, l.Target, l.Status, code, l.StartedAt)
	}
	return exitOK
}

func runLogs(args []string) int {
	args = reorderFlags(args, map[string]bool{"--state-dir": true, "-state-dir": true})
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	stateDir := fs.String("state-dir", defaultStateDir, "state directory")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	remaining := fs.Args()
	if len(remaining) != 1 {
		fmt.Fprintln(os.Stderr, "usage: mcpup logs <run-id> [--state-dir=.mcpup]")
		return exitUsage
	}
	lines, err := logs.ReadEvents(*stateDir, remaining[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "run not found: %v\n", err)
		return exitError
	}
	for _, line := range lines {
		fmt.Println(line)
	}
	return exitOK
}
