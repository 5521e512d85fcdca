// Package cli is the command surface. Each subcommand parses its own
// flag set; Execute returns the process exit code.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Exit codes. A launched child that exits nonzero propagates its own
// code instead.
const (
	exitOK          = 0
	exitError       = 1
	exitUsage       = 2
	exitBlocked     = 3
	exitRemediation = 4
	exitLaunch      = 5
)

func Execute(args []string) int {
	ctx := context.Background()
	if len(args) == 0 {
		return runInteractive(ctx)
	}
	cmd := args[0]
	switch cmd {
	case "check":
		return runCheck(ctx, args[1:])
	case "setup":
		return runSetup(ctx, args[1:])
	case "start":
		return runStart(ctx, args[1:])
	case "serve":
		return runServe(ctx, args[1:])
	case "targets":
		return runTargets(args[1:])
	case "ps":
		return runPS(args[1:])
	case "logs":
		return runLogs(args[1:])
	case "help", "-h", "--help":
		printUsage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		return exitUsage
	}
}

func reorderFlags(args []string, valueFlags map[string]bool) []string {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if strings.HasPrefix(a, "-") {
			flags = append(flags, a)
			if takesValue(a, valueFlags) && !strings.Contains(a, "=") && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positionals = append(positionals, a)
	}
	return append(flags, positionals...)
}

func takesValue(flagToken string, valueFlags map[string]bool) bool {
	if valueFlags[flagToken] {
		return true
	}
	if eq := strings.Index(flagToken, "="); eq > 0 {
		return valueFlags[flagToken[:eq]]
	}
	return false
}

func printUsage() {
	fmt.Print(`mcpup - guided setup and launcher for MCP starter kit variants

commands:
  check [target] [--dir=.] [--state-dir=.mcpup] [--json]
  setup [target] [--dir=.] [--state-dir=.mcpup]
  start <target> [--dir=.] [--state-dir=.mcpup]
  serve [--env-file=.env] [--addr=:8086]
  targets [--json]
  ps [--state-dir=.mcpup] [--limit=50] [--json]
  logs <run-id> [--state-dir=.mcpup]

running mcpup with no arguments on a terminal opens the target picker.

exit codes: 0 graceful stop, 3 blocked on manual setup, 4 remediation
failed, 5 launch failed; a launched server's own nonzero exit code is
passed through.
`)
}
