// Package reconcile turns probe facts into an ordered action plan: one
// remediation per unmet fixable requirement, in table order, then exactly one
// launch. Unmet manual requirements block planning up front, all at once, so
// the user never discovers gaps one failed run at a time.
package reconcile

import (
	"fmt"
	"strings"

	"github.com/mcpup/mcpup/internal/probe"
	"github.com/mcpup/mcpup/internal/target"
)

type ActionKind string

const (
	ActionRemediate ActionKind = "remediate"
	ActionLaunch    ActionKind = "launch"
)

type Action struct {
	Kind ActionKind
	// Requirement is set for remediate actions only.
	Requirement *target.Requirement
}

type Plan struct {
	Target  *target.Target
	Actions []Action
}

// Remediations returns the plan's remediate actions in execution order.
func (p *Plan) Remediations() []Action {
	var out []Action
	for _, a := range p.Actions {
		if a.Kind == ActionRemediate {
			out = append(out, a)
		}
	}
	return out
}

// Gap describes one unmet manual requirement.
type Gap struct {
	ID     string
	Label  string
	Detail string
	Hint   string
}

// BlockedError reports every unmet manual requirement for a target.
type BlockedError struct {
	Target  string
	Missing []Gap
}

func (e *BlockedError) Error() string {
	ids := make([]string, 0, len(e.Missing))
	for _, g := range e.Missing {
		ids = append(ids, g.ID)
	}
	return fmt.Sprintf("target %s is blocked on manual setup: %s", e.Target, strings.Join(ids, ", "))
}

// Compute builds the action plan for a target from fresh probe results.
// Requirements with no result are treated as unsatisfied; a stale or partial
// probe must never skip a gap.
func Compute(tgt *target.Target, results map[string]probe.Result) (*Plan, error) {
	var blocked []Gap
	var fixable []*target.Requirement

	for i := range tgt.Requirements {
		req := &tgt.Requirements[i]
		res, ok := results[req.ID]
		if ok && res.Satisfied {
			continue
		}
		detail := res.Detail
		if !ok {
			detail = "not probed"
		}
		if req.Kind == target.KindManual {
			blocked = append(blocked, Gap{ID: req.ID, Label: req.Label, Detail: detail, Hint: req.Hint})
			continue
		}
		fixable = append(fixable, req)
	}

	if len(blocked) > 0 {
		return nil, &BlockedError{Target: tgt.Name, Missing: blocked}
	}

	plan := &Plan{Target: tgt}
	for _, req := range fixable {
		plan.Actions = append(plan.Actions, Action{Kind: ActionRemediate, Requirement: req})
	}
	plan.Actions = append(plan.Actions, Action{Kind: ActionLaunch})
	return plan, nil
}
