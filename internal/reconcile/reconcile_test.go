package reconcile

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/target"
)

func fixtureTarget() *target.Target {
	return &target.Target{
		Name:       "fixture",
		Dir:        "variant",
		ConfigFile: ".env",
		Requirements: []target.Requirement{
			{
				ID: "runtime", Label: "runtime", Kind: target.KindManual, Hint: "install it",
				Check: target.CheckSpec{Type: target.CheckCommand, Name: "python3"},
			},
			{
				ID: "pkg", Label: "package manager", Kind: target.KindManual, Hint: "install it too",
				Check: target.CheckSpec{Type: target.CheckCommand, Name: "uv"},
			},
			{
				ID: "env", Label: "config", Kind: target.KindInput,
				Check:  target.CheckSpec{Type: target.CheckConfig, Keys: []string{"AUTH_TOKEN"}},
				Inputs: []target.InputSpec{{Key: "AUTH_TOKEN", Secret: true, Generate: 32}},
			},
			{
				ID: "venv", Label: "virtualenv", Kind: target.KindAuto,
				Check:  target.CheckSpec{Type: target.CheckPath, Path: ".venv", Dir: true},
				Remedy: &target.RemedySpec{Argv: []string{"uv", "venv"}},
			},
			{
				ID: "deps", Label: "dependencies", Kind: target.KindAuto,
				Check:  target.CheckSpec{Type: target.CheckStamp, Path: ".venv", Manifest: "pyproject.toml"},
				Remedy: &target.RemedySpec{Argv: []string{"uv", "sync"}},
			},
		},
		Launch: target.LaunchSpec{Argv: []string{"uv", "run", "server.py"}},
	}
}

func allSatisfied(tgt *target.Target) map[string]probe.Result {
	out := map[string]probe.Result{}
	for _, r := range tgt.Requirements {
		out[r.ID] = probe.Result{ID: r.ID, Satisfied: true}
	}
	return out
}

func TestAllSatisfiedPlansLaunchOnly(t *testing.T) {
	tgt := fixtureTarget()
	plan, err := Compute(tgt, allSatisfied(tgt))
	require.NoError(t, err)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionLaunch, plan.Actions[0].Kind)
	assert.Empty(t, plan.Remediations())
}

func TestBlockedListsEveryManualGap(t *testing.T) {
	tgt := fixtureTarget()
	results := allSatisfied(tgt)
	results["runtime"] = probe.Result{ID: "runtime", Satisfied: false, Detail: "python3 not found on PATH"}
	results["pkg"] = probe.Result{ID: "pkg", Satisfied: false, Detail: "uv not found on PATH"}
	results["venv"] = probe.Result{ID: "venv", Satisfied: false, Detail: ".venv is missing"}

	_, err := Compute(tgt, results)
	var blocked *BlockedError
	require.ErrorAs(t, err, &blocked)
	require.Len(t, blocked.Missing, 2, "both manual gaps must be reported at once")
	assert.Equal(t, "runtime", blocked.Missing[0].ID)
	assert.Equal(t, "pkg", blocked.Missing[1].ID)
	assert.NotEmpty(t, blocked.Missing[0].Hint)
}

func TestRemediationsFollowTableOrder(t *testing.T) {
	tgt := fixtureTarget()
	results := allSatisfied(tgt)
	results["deps"] = probe.Result{ID: "deps", Satisfied: false}
	results["env"] = probe.Result{ID: "env", Satisfied: false}
	results["venv"] = probe.Result{ID: "venv", Satisfied: false}

	plan, err := Compute(tgt, results)
	require.NoError(t, err)
	require.Len(t, plan.Actions, 4)
	assert.Equal(t, "env", plan.Actions[0].Requirement.ID)
	assert.Equal(t, "venv", plan.Actions[1].Requirement.ID)
	assert.Equal(t, "deps", plan.Actions[2].Requirement.ID)
	assert.Equal(t, ActionLaunch, plan.Actions[3].Kind)
}

func TestMissingResultCountsAsUnsatisfied(t *testing.T) {
	tgt := fixtureTarget()
	results := allSatisfied(tgt)
	delete(results, "venv")

	plan, err := Compute(tgt, results)
	require.NoError(t, err)
	rems := plan.Remediations()
	require.Len(t, rems, 1)
	assert.Equal(t, "venv", rems[0].Requirement.ID)
}

func TestComputeIsReadOnly(t *testing.T) {
	tgt := fixtureTarget()
	results := allSatisfied(tgt)
	results["env"] = probe.Result{ID: "env", Satisfied: false}

	first, err := Compute(tgt, results)
	require.NoError(t, err)
	second, err := Compute(tgt, results)
	require.NoError(t, err)
	assert.Equal(t, len(first.Actions), len(second.Actions))
	assert.Len(t, tgt.Requirements, 5, "planning must not mutate the table")
}

func TestBlockedErrorMessageNamesTargetAndGaps(t *testing.T) {
	err := &BlockedError{Target: "oauth-github", Missing: []Gap{{ID: "kv"}}}
	assert.Contains(t, err.Error(), "oauth-github")
	assert.Contains(t, err.Error(), "kv")
	var as *BlockedError
	assert.True(t, errors.As(err, &as))
}
