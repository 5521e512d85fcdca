package probe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/mcpup/mcpup/internal/envfile"
	"github.com/mcpup/mcpup/internal/target"
)

func testTarget(reqs ...target.Requirement) *target.Target {
	return &target.Target{
		Name:         "fixture",
		Dir:          "variant",
		ConfigFile:   ".env",
		Requirements: reqs,
		Launch:       target.LaunchSpec{Argv: []string{"true"}},
	}
}

func newProber(t *testing.T) *Prober {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "variant"), 0o755); err != nil {
		t.Fatalf("mkdir variant: %v", err)
	}
	return &Prober{
		Root:     root,
		StateDir: filepath.Join(root, ".mcpup"),
		Env:      func(string) string { return "" },
	}
}

func TestCheckConfigMissingAndPresent(t *testing.T) {
	p := newProber(t)
	tgt := testTarget(target.Requirement{
		ID:    "env",
		Kind:  target.KindInput,
		Check: target.CheckSpec{Type: target.CheckConfig, Keys: []string{"AUTH_TOKEN", "MY_NUMBER"}},
		Inputs: []target.InputSpec{
			{Key: "AUTH_TOKEN", Secret: true},
			{Key: "MY_NUMBER"},
		},
	})

	results, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	r := results["env"]
	if r.Satisfied {
		t.Fatal("expected unsatisfied config requirement")
	}
	if !strings.Contains(r.Detail, "AUTH_TOKEN") || !strings.Contains(r.Detail, "MY_NUMBER") {
		t.Fatalf("detail should name missing keys: %s", r.Detail)
	}

	err = envfile.Write(p.ConfigPath(tgt), map[string]string{
		"AUTH_TOKEN": "abcdefghijklmnop",
		"MY_NUMBER":  "919876543210",
	})
	if err != nil {
		t.Fatalf("write config: %v", err)
	}
	results, err = p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if !results["env"].Satisfied {
		t.Fatalf("expected satisfied after write: %+v", results["env"])
	}
}

func TestCheckConfigFallsBackToProcessEnv(t *testing.T) {
	p := newProber(t)
	p.Env = func(key string) string {
		if key == "AUTH_TOKEN" {
			return "from-environment"
		}
		return ""
	}
	tgt := testTarget(target.Requirement{
		ID:     "env",
		Kind:   target.KindInput,
		Check:  target.CheckSpec{Type: target.CheckConfig, Keys: []string{"AUTH_TOKEN"}},
		Inputs: []target.InputSpec{{Key: "AUTH_TOKEN", Secret: true}},
	})
	results, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !results["env"].Satisfied {
		t.Fatalf("process env should satisfy the key: %+v", results["env"])
	}
}

func TestCheckCommandUsesInjectedLookPath(t *testing.T) {
	p := newProber(t)
	p.LookPath = func(name string) (string, error) {
		if name == "uv" {
			return "/fake/bin/uv", nil
		}
		return "", errors.New("not found")
	}
	tgt := testTarget(
		target.Requirement{
			ID: "uv", Kind: target.KindManual, Hint: "install uv",
			Check: target.CheckSpec{Type: target.CheckCommand, Name: "uv"},
		},
		target.Requirement{
			ID: "node", Kind: target.KindManual, Hint: "install node",
			Check: target.CheckSpec{Type: target.CheckCommand, Name: "node"},
		},
	)
	results, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !results["uv"].Satisfied || results["uv"].Detail != "/fake/bin/uv" {
		t.Fatalf("uv result: %+v", results["uv"])
	}
	if results["node"].Satisfied {
		t.Fatalf("node result: %+v", results["node"])
	}
	if !strings.Contains(results["node"].Detail, "not found on PATH") {
		t.Fatalf("node detail: %s", results["node"].Detail)
	}
}

func TestExecCheckTimeoutBecomesUnsatisfiedFact(t *testing.T) {
	p := newProber(t)
	p.Timeout = 50 * time.Millisecond
	tgt := testTarget(target.Requirement{
		ID: "slow", Kind: target.KindManual, Hint: "unstick it",
		Check: target.CheckSpec{Type: target.CheckExec, Argv: []string{"sleep", "5"}},
	})
	start := time.Now()
	results, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("check must not fail on timeout: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout was not enforced")
	}
	r := results["slow"]
	if r.Satisfied {
		t.Fatal("timed-out check must be unsatisfied")
	}
	if !strings.Contains(r.Detail, "timed out") {
		t.Fatalf("detail should mention the timeout: %s", r.Detail)
	}
}

func TestNotContainsPlaceholder(t *testing.T) {
	p := newProber(t)
	tgt := testTarget(target.Requirement{
		ID: "kv", Kind: target.KindManual, Hint: "create the namespace",
		Check: target.CheckSpec{Type: target.CheckNotContains, Path: "wrangler.toml", Pattern: "<KV_NAMESPACE_ID>"},
	})
	path := filepath.Join(p.Root, "variant", "wrangler.toml")
	if err := os.WriteFile(path, []byte("kv_namespaces = [{ binding = \"OAUTH_KV\", id = \"<KV_NAMESPACE_ID>\" }]\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	results, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if results["kv"].Satisfied {
		t.Fatal("placeholder should leave the requirement unsatisfied")
	}

	if err := os.WriteFile(path, []byte("kv_namespaces = [{ binding = \"OAUTH_KV\", id = \"0123abcd\" }]\n"), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}
	results, err = p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("recheck: %v", err)
	}
	if !results["kv"].Satisfied {
		t.Fatalf("expected satisfied after real id: %+v", results["kv"])
	}
}

func TestStampLifecycle(t *testing.T) {
	p := newProber(t)
	req := target.Requirement{
		ID: "deps", Kind: target.KindAuto,
		Check:  target.CheckSpec{Type: target.CheckStamp, Path: "node_modules", Manifest: "package.json"},
		Remedy: &target.RemedySpec{Argv: []string{"npm", "install"}},
	}
	tgt := testTarget(req)
	variant := filepath.Join(p.Root, "variant")
	if err := os.WriteFile(filepath.Join(variant, "package.json"), []byte(`{"name":"starter"}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	results, _ := p.Check(context.Background(), tgt)
	if results["deps"].Satisfied {
		t.Fatal("missing install dir must be unsatisfied")
	}

	if err := os.MkdirAll(filepath.Join(variant, "node_modules"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	results, _ = p.Check(context.Background(), tgt)
	if results["deps"].Satisfied {
		t.Fatal("install dir without stamp must be unsatisfied")
	}

	if err := p.WriteStamp(tgt, &tgt.Requirements[0]); err != nil {
		t.Fatalf("write stamp: %v", err)
	}
	results, _ = p.Check(context.Background(), tgt)
	if !results["deps"].Satisfied {
		t.Fatalf("stamped install should be satisfied: %+v", results["deps"])
	}

	if err := os.WriteFile(filepath.Join(variant, "package.json"), []byte(`{"name":"starter","version":"2"}`), 0o644); err != nil {
		t.Fatalf("rewrite manifest: %v", err)
	}
	results, _ = p.Check(context.Background(), tgt)
	if results["deps"].Satisfied {
		t.Fatal("manifest change must invalidate the stamp")
	}
	if !strings.Contains(results["deps"].Detail, "changed") {
		t.Fatalf("detail should mention the change: %s", results["deps"].Detail)
	}
}

func TestProbeIsIdempotent(t *testing.T) {
	p := newProber(t)
	tgt := testTarget(
		target.Requirement{
			ID: "venv", Kind: target.KindAuto,
			Check:  target.CheckSpec{Type: target.CheckPath, Path: ".venv", Dir: true},
			Remedy: &target.RemedySpec{Argv: []string{"uv", "venv"}},
		},
		target.Requirement{
			ID:     "env",
			Kind:   target.KindInput,
			Check:  target.CheckSpec{Type: target.CheckConfig, Keys: []string{"AUTH_TOKEN"}},
			Inputs: []target.InputSpec{{Key: "AUTH_TOKEN", Secret: true}},
		},
	)
	first, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("first pass: %v", err)
	}
	second, err := p.Check(context.Background(), tgt)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("probe not idempotent:\n%+v\n%+v", first, second)
	}
}
