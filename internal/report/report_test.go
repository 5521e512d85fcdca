package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/reconcile"
	"github.com/mcpup/mcpup/internal/target"
)

func loadTarget(t *testing.T, name string) *target.Target {
	t.Helper()
	tgt, err := target.Lookup(name)
	if err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return tgt
}

func TestCheckReportOrderAndSummary(t *testing.T) {
	tgt := loadTarget(t, "native-task")
	var out bytes.Buffer
	r := New(&out, &out)

	results := map[string]probe.Result{}
	for _, req := range tgt.Requirements {
		results[req.ID] = probe.Result{ID: req.ID, Satisfied: true, Detail: "ok"}
	}
	r.CheckReport(tgt, results)

	text := out.String()
	if !strings.Contains(text, "[OK] env:") {
		t.Fatalf("expected env line, got:\n%s", text)
	}
	if !strings.Contains(text, "all 1 requirements satisfied") {
		t.Fatalf("expected summary line, got:\n%s", text)
	}
}

func TestCheckReportMissingResultIsFailure(t *testing.T) {
	tgt := loadTarget(t, "native-task")
	var out bytes.Buffer
	r := New(&out, &out)

	r.CheckReport(tgt, map[string]probe.Result{})

	text := out.String()
	if !strings.Contains(text, "[FAIL] env: not probed") {
		t.Fatalf("missing result should render as FAIL, got:\n%s", text)
	}
	if !strings.Contains(text, "1 of 1 requirements unsatisfied") {
		t.Fatalf("expected unsatisfied summary, got:\n%s", text)
	}
}

func TestCheckJSONReadyFlag(t *testing.T) {
	tgt := loadTarget(t, "native-task")
	var out bytes.Buffer
	r := New(&out, &out)

	results := map[string]probe.Result{
		"env": {ID: "env", Satisfied: false, Detail: "missing AUTH_TOKEN"},
	}
	if err := r.CheckJSON(tgt, results); err != nil {
		t.Fatalf("CheckJSON: %v", err)
	}

	var doc struct {
		Target  string         `json:"target"`
		Results []probe.Result `json:"results"`
		Ready   bool           `json:"ready"`
	}
	if err := json.Unmarshal(out.Bytes(), &doc); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out.String())
	}
	if doc.Target != "native-task" || doc.Ready {
		t.Fatalf("unexpected doc: %+v", doc)
	}
	if len(doc.Results) != 1 || doc.Results[0].ID != "env" {
		t.Fatalf("unexpected results: %+v", doc.Results)
	}
}

func TestBlockedListsEveryGapWithHint(t *testing.T) {
	var out, errw bytes.Buffer
	r := New(&out, &errw)

	r.Blocked(&reconcile.BlockedError{
		Target: "oauth-github",
		Missing: []reconcile.Gap{
			{ID: "wrangler-auth", Detail: "not logged in", Hint: "run: wrangler login"},
			{ID: "kv", Detail: "placeholder still present", Hint: "create the KV namespace"},
		},
	})

	text := errw.String()
	for _, want := range []string{
		"blocked on 2 manual step(s)",
		"[FAIL] wrangler-auth: not logged in",
		"fix: run: wrangler login",
		"[FAIL] kv: placeholder still present",
		"fix: create the KV namespace",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if out.Len() != 0 {
		t.Fatalf("blocked report must go to stderr, got stdout:\n%s", out.String())
	}
}

func TestLaunchStartedImmediateInstructions(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, &out)

	tgt := &target.Target{
		Name: "demo",
		Launch: target.LaunchSpec{
			Instructions: "connect your client to http://localhost:8086/mcp",
		},
	}
	r.LaunchStarted(tgt, "run-x", 99)

	text := out.String()
	if !strings.Contains(text, "launched demo (run run-x, pid 99)") {
		t.Fatalf("missing launch line:\n%s", text)
	}
	if !strings.Contains(text, "connect your client") {
		t.Fatalf("zero delay should print instructions right away:\n%s", text)
	}
}

func TestCancelPendingSuppressesDelayedInstructions(t *testing.T) {
	var out bytes.Buffer
	r := New(&out, &out)

	tgt := &target.Target{
		Name: "demo",
		Launch: target.LaunchSpec{
			ReadyDelaySeconds: 60,
			Instructions:      "should never print",
		},
	}
	r.LaunchStarted(tgt, "run-y", 100)
	r.CancelPending()

	if strings.Contains(out.String(), "should never print") {
		t.Fatalf("cancelled instructions printed:\n%s", out.String())
	}
}
