// Package target declares the server variants mcpup can set up and launch.
// The table is static data compiled into the binary: each target names its
// preconditions in dependency order, how each one is checked, and how the
// variant is launched once everything is satisfied.
package target

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed targets.yaml
var tableYAML []byte

type Kind string

const (
	// KindAuto requirements carry a remedy command the runner executes.
	KindAuto Kind = "auto"
	// KindInput requirements are satisfied by writing collected configuration.
	KindInput Kind = "input"
	// KindManual requirements block planning; Hint tells the user what to do.
	KindManual Kind = "manual"
)

type CheckType string

const (
	CheckCommand     CheckType = "command"
	CheckPath        CheckType = "path"
	CheckConfig      CheckType = "config"
	CheckExec        CheckType = "exec"
	CheckNotContains CheckType = "notContains"
	CheckStamp       CheckType = "stamp"
)

type CheckSpec struct {
	Type CheckType `yaml:"type"`

	// command
	Name  string   `yaml:"name,omitempty"`
	Probe []string `yaml:"probe,omitempty"`

	// path / notContains / stamp
	Path string `yaml:"path,omitempty"`
	Dir  bool   `yaml:"dir,omitempty"`

	// config
	Keys []string `yaml:"keys,omitempty"`

	// exec
	Argv []string `yaml:"argv,omitempty"`

	// notContains
	Pattern string `yaml:"pattern,omitempty"`

	// stamp: install tree at Path is current for the manifest file
	Manifest string `yaml:"manifest,omitempty"`
}

type RemedySpec struct {
	Argv []string `yaml:"argv"`
}

type InputSpec struct {
	Key      string `yaml:"key"`
	Label    string `yaml:"label"`
	Secret   bool   `yaml:"secret,omitempty"`
	Validate string `yaml:"validate,omitempty"`
	// Generate, when nonzero, is the length of the random value produced
	// when the user leaves a secret blank and no prior value exists.
	Generate int `yaml:"generate,omitempty"`
}

type LaunchSpec struct {
	Argv              []string `yaml:"argv"`
	ReadyDelaySeconds int      `yaml:"readyDelaySeconds"`
	Instructions      string   `yaml:"instructions"`
}

type Requirement struct {
	ID     string      `yaml:"id"`
	Label  string      `yaml:"label"`
	Kind   Kind        `yaml:"kind"`
	Check  CheckSpec   `yaml:"check"`
	Remedy *RemedySpec `yaml:"remedy,omitempty"`
	Hint   string      `yaml:"hint,omitempty"`
	Inputs []InputSpec `yaml:"inputs,omitempty"`
}

type Target struct {
	Name         string        `yaml:"name"`
	Display      string        `yaml:"display"`
	Dir          string        `yaml:"dir"`
	ConfigFile   string        `yaml:"configFile"`
	Requirements []Requirement `yaml:"requirements"`
	Launch       LaunchSpec    `yaml:"launch"`
}

type table struct {
	APIVersion string   `yaml:"apiVersion"`
	Targets    []Target `yaml:"targets"`
}

// Load parses and validates the embedded table. The returned slice preserves
// declaration order, which the CLI uses for menus and listings.
func Load() ([]Target, error) {
	var t table
	if err := yaml.Unmarshal(tableYAML, &t); err != nil {
		return nil, fmt.Errorf("parse target table: %w", err)
	}
	if t.APIVersion != "mcpup/v1" {
		return nil, fmt.Errorf("unsupported target table version %q", t.APIVersion)
	}
	if len(t.Targets) == 0 {
		return nil, fmt.Errorf("target table is empty")
	}
	seen := map[string]struct{}{}
	for i := range t.Targets {
		tg := &t.Targets[i]
		if _, dup := seen[tg.Name]; dup {
			return nil, fmt.Errorf("duplicate target %q", tg.Name)
		}
		seen[tg.Name] = struct{}{}
		if err := validateTarget(tg); err != nil {
			return nil, fmt.Errorf("target %s: %w", tg.Name, err)
		}
	}
	return t.Targets, nil
}

// Lookup returns the named target from the embedded table.
func Lookup(name string) (*Target, error) {
	targets, err := Load()
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	for i := range targets {
		if targets[i].Name == name {
			return &targets[i], nil
		}
	}
	return nil, fmt.Errorf("unknown target %q (valid: %s)", name, strings.Join(Names(targets), ", "))
}

// Names returns target names in declaration order.
func Names(targets []Target) []string {
	out := make([]string, 0, len(targets))
	for i := range targets {
		out = append(out, targets[i].Name)
	}
	return out
}

// ConfigKeys returns every configuration key the target's input requirements
// declare, in table order.
func (t *Target) ConfigKeys() []string {
	var keys []string
	for i := range t.Requirements {
		for _, in := range t.Requirements[i].Inputs {
			keys = append(keys, in.Key)
		}
	}
	return keys
}

// InputRequirements returns the target's input-kind requirements in table order.
func (t *Target) InputRequirements() []Requirement {
	var out []Requirement
	for _, r := range t.Requirements {
		if r.Kind == KindInput {
			out = append(out, r)
		}
	}
	return out
}

// Requirement returns the requirement with the given id, if declared.
func (t *Target) Requirement(id string) (*Requirement, bool) {
	for i := range t.Requirements {
		if t.Requirements[i].ID == id {
			return &t.Requirements[i], true
		}
	}
	return nil, false
}

func validateTarget(t *Target) error {
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if t.Dir == "" {
		return fmt.Errorf("dir is required")
	}
	if t.ConfigFile == "" {
		return fmt.Errorf("configFile is required")
	}
	if len(t.Launch.Argv) == 0 {
		return fmt.Errorf("launch.argv is required")
	}
	if len(t.Requirements) == 0 {
		return fmt.Errorf("at least one requirement is required")
	}
	ids := map[string]struct{}{}
	for i := range t.Requirements {
		r := &t.Requirements[i]
		if r.ID == "" {
			return fmt.Errorf("requirement %d: id is required", i)
		}
		if _, dup := ids[r.ID]; dup {
			return fmt.Errorf("duplicate requirement id %q", r.ID)
		}
		ids[r.ID] = struct{}{}
		if err := validateRequirement(r); err != nil {
			return fmt.Errorf("requirement %s: %w", r.ID, err)
		}
	}
	return nil
}

func validateRequirement(r *Requirement) error {
	switch r.Kind {
	case KindAuto:
		if r.Remedy == nil || len(r.Remedy.Argv) == 0 {
			return fmt.Errorf("auto requirement needs a remedy command")
		}
	case KindInput:
		if len(r.Inputs) == 0 {
			return fmt.Errorf("input requirement needs declared inputs")
		}
		if r.Check.Type != CheckConfig {
			return fmt.Errorf("input requirement must use a config check")
		}
	case KindManual:
		if strings.TrimSpace(r.Hint) == "" {
			return fmt.Errorf("manual requirement needs a hint")
		}
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	switch r.Check.Type {
	case CheckCommand:
		if r.Check.Name == "" {
			return fmt.Errorf("command check needs a name")
		}
	case CheckPath:
		if r.Check.Path == "" {
			return fmt.Errorf("path check needs a path")
		}
	case CheckConfig:
		if len(r.Check.Keys) == 0 {
			return fmt.Errorf("config check needs keys")
		}
	case CheckExec:
		if len(r.Check.Argv) == 0 {
			return fmt.Errorf("exec check needs argv")
		}
	case CheckNotContains:
		if r.Check.Path == "" || r.Check.Pattern == "" {
			return fmt.Errorf("notContains check needs path and pattern")
		}
	case CheckStamp:
		if r.Check.Path == "" || r.Check.Manifest == "" {
			return fmt.Errorf("stamp check needs path and manifest")
		}
	default:
		return fmt.Errorf("unknown check type %q", r.Check.Type)
	}
	return nil
}
