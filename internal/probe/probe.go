// Package probe inspects the local environment for a target's requirements.
// Checks are read-only: filesystem stats, PATH lookups, config reads, and
// short version-style subprocess calls. Every subprocess check runs under a
// bounded timeout; a timeout is reported as an unsatisfied fact, never as an
// error, so one stuck binary cannot wedge the whole pass.
package probe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/target"
)

// DefaultTimeout bounds each individual check.
const DefaultTimeout = 5 * time.Second

// Result is one requirement's observed state. Results are recomputed on every
// pass; nothing is cached between runs.
type Result struct {
	ID        string `json:"id"`
	Satisfied bool   `json:"satisfied"`
	Detail    string `json:"detail"`
}

// Prober evaluates requirement checks against a starter-kit checkout.
type Prober struct {
	// Root is the starter kit root; target dirs are resolved under it.
	Root string
	// StateDir holds dependency stamps (and run state elsewhere).
	StateDir string
	// Timeout bounds each check; zero means DefaultTimeout.
	Timeout time.Duration
	// Env and LookPath are injectable for tests; nil means the real ones.
	Env      func(string) string
	LookPath func(string) (string, error)
}

// Check evaluates every requirement of the target concurrently and returns a
// result per requirement id. The only error returned is the parent context's.
func (p *Prober) Check(ctx context.Context, tgt *target.Target) (map[string]Result, error) {
	results := make([]Result, len(tgt.Requirements))
	g, ctx := errgroup.WithContext(ctx)
	for i := range tgt.Requirements {
		req := &tgt.Requirements[i]
		idx := i
		g.Go(func() error {
			results[idx] = p.checkOne(ctx, tgt, req)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(results))
	for _, r := range results {
		out[r.ID] = r
	}
	return out, nil
}

func (p *Prober) checkOne(parent context.Context, tgt *target.Target, req *target.Requirement) Result {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	res := Result{ID: req.ID}
	var err error
	switch req.Check.Type {
	case target.CheckCommand:
		res.Satisfied, res.Detail, err = p.checkCommand(ctx, req.Check)
	case target.CheckPath:
		res.Satisfied, res.Detail, err = p.checkPath(tgt, req.Check)
	case target.CheckConfig:
		res.Satisfied, res.Detail, err = p.checkConfig(tgt, req.Check)
	case target.CheckExec:
		res.Satisfied, res.Detail, err = p.checkExec(ctx, tgt, req.Check)
	case target.CheckNotContains:
		res.Satisfied, res.Detail, err = p.checkNotContains(tgt, req.Check)
	case target.CheckStamp:
		res.Satisfied, res.Detail, err = p.checkStamp(tgt, req)
	default:
		err = fmt.Errorf("unknown check type %q", req.Check.Type)
	}
	if err != nil {
		res.Satisfied = false
		if errors.Is(err, context.DeadlineExceeded) {
			res.Detail = fmt.Sprintf("timed out after %s", timeout)
		} else {
			res.Detail = err.Error()
		}
	}
	return res
}

func (p *Prober) checkCommand(ctx context.Context, c target.CheckSpec) (bool, string, error) {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	bin, err := lookPath(c.Name)
	if err != nil {
		return false, fmt.Sprintf("%s not found on PATH", c.Name), nil
	}
	if len(c.Probe) == 0 {
		return true, bin, nil
	}
	out, err := runQuiet(ctx, bin, c.Probe...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return false, "", context.DeadlineExceeded
		}
		return false, fmt.Sprintf("%s is on PATH but %s failed: %v", c.Name, strings.Join(c.Probe, " "), err), nil
	}
	detail := firstLine(out)
	if detail == "" {
		detail = bin
	}
	return true, detail, nil
}

func (p *Prober) checkPath(tgt *target.Target, c target.CheckSpec) (bool, string, error) {
	path := filepath.Join(p.Root, tgt.Dir, c.Path)
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, c.Path + " is missing", nil
		}
		return false, "", err
	}
	if c.Dir && !st.IsDir() {
		return false, c.Path + " exists but is not a directory", nil
	}
	return true, c.Path + " present", nil
}

func (p *Prober) checkConfig(tgt *target.Target, c target.CheckSpec) (bool, string, error) {
	env := p.Env
	if env == nil {
		env = os.Getenv
	}
	values, err := envfile.Parse(p.configPath(tgt))
	if err != nil {
		return false, "", err
	}
	var missing []string
	for _, key := range c.Keys {
		if strings.TrimSpace(values[key]) != "" {
			continue
		}
		if strings.TrimSpace(env(key)) != "" {
			continue
		}
		missing = append(missing, key)
	}
	if len(missing) > 0 {
		return false, "missing " + strings.Join(missing, ", "), nil
	}
	return true, "all keys set", nil
}

func (p *Prober) checkExec(ctx context.Context, tgt *target.Target, c target.CheckSpec) (bool, string, error) {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if _, err := lookPath(c.Argv[0]); err != nil {
		return false, fmt.Sprintf("%s not found on PATH", c.Argv[0]), nil
	}
	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Dir = filepath.Join(p.Root, tgt.Dir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return false, "", context.DeadlineExceeded
		}
		return false, fmt.Sprintf("%s exited with an error", strings.Join(c.Argv, " ")), nil
	}
	detail := firstLine(out.String())
	if detail == "" {
		detail = strings.Join(c.Argv, " ") + " ok"
	}
	return true, detail, nil
}

func (p *Prober) checkNotContains(tgt *target.Target, c target.CheckSpec) (bool, string, error) {
	path := filepath.Join(p.Root, tgt.Dir, c.Path)
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, c.Path + " is missing", nil
		}
		return false, "", err
	}
	if bytes.Contains(b, []byte(c.Pattern)) {
		return false, fmt.Sprintf("%s still contains the %s placeholder", c.Path, c.Pattern), nil
	}
	return true, c.Path + " configured", nil
}

func (p *Prober) checkStamp(tgt *target.Target, req *target.Requirement) (bool, string, error) {
	installDir := filepath.Join(p.Root, tgt.Dir, req.Check.Path)
	if st, err := os.Stat(installDir); err != nil || !st.IsDir() {
		return false, req.Check.Path + " is missing", nil
	}
	want, err := ManifestHash(filepath.Join(p.Root, tgt.Dir, req.Check.Manifest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, req.Check.Manifest + " is missing", nil
		}
		return false, "", err
	}
	got, err := os.ReadFile(p.stampPath(tgt, req))
	if err != nil {
		return false, req.Check.Path + " present but not installed by mcpup (run will refresh it)", nil
	}
	if strings.TrimSpace(string(got)) != want {
		return false, req.Check.Manifest + " changed since last install", nil
	}
	return true, "up to date", nil
}

// WriteStamp records the manifest hash after a successful dependency install
// so later probes can tell a stale tree from a current one.
func (p *Prober) WriteStamp(tgt *target.Target, req *target.Requirement) error {
	h, err := ManifestHash(filepath.Join(p.Root, tgt.Dir, req.Check.Manifest))
	if err != nil {
		return err
	}
	path := p.stampPath(tgt, req)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(h+"\n"), 0o644)
}

// ManifestHash returns the sha256 of a dependency manifest file.
func ManifestHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Prober) configPath(tgt *target.Target) string {
	return filepath.Join(p.Root, tgt.Dir, tgt.ConfigFile)
}

// ConfigPath exposes the target's config file location for callers that
// collect and persist configuration.
func (p *Prober) ConfigPath(tgt *target.Target) string {
	return p.configPath(tgt)
}

func (p *Prober) stampPath(tgt *target.Target, req *target.Requirement) string {
	return filepath.Join(p.StateDir, "stamps", tgt.Name+"-"+req.ID+".sha256")
}

func runQuiet(ctx context.Context, bin string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
