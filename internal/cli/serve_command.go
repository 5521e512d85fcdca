package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/taskmcp"
)

// runServe is the native-task payload: the bearer-token task server the
// launcher starts as its own child.
func runServe(ctx context.Context, args []string) int {
	args = reorderFlags(args, map[string]bool{
		"--env-file": true, "-env-file": true,
		"--addr": true, "-addr": true,
	})
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "config file with AUTH_TOKEN and MY_NUMBER")
	addr := fs.String("addr", ":8086", "listen address")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	values, err := envfile.Parse(*envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *envFile, err)
		return exitError
	}
	lookup := func(key string) string {
		if v, ok := values[key]; ok && v != "" {
			return v
		}
		return os.Getenv(key)
	}
	cfg := taskmcp.Config{
		AuthToken: lookup("AUTH_TOKEN"),
		MyNumber:  lookup("MY_NUMBER"),
		Addr:      *addr,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("task server listening on %s\n", *addr)
	if err := taskmcp.Serve(ctx, cfg); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		return exitError
	}
	return exitOK
}
