// Package schedule is the declarative task-scheduling core: desired-state
// registration and reconciliation, minute-granular due evaluation with
// catch-up, and dispatch to an execution subsystem.
package schedule

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTenant is used by single-tenant deployments.
const DefaultTenant = "default"

// Key identifies a task within a store.
type Key struct {
	Name   string `json:"name"`
	Tenant string `json:"tenant"`
}

func (k Key) String() string { return k.Tenant + "/" + k.Name }

// Step is one command of a work specification. Steps run in order.
type Step struct {
	Name    string   `json:"name,omitempty" yaml:"name"`
	Command string   `json:"command" yaml:"command"`
	Args    []string `json:"args,omitempty" yaml:"args"`
}

// WorkSpec describes what a task runs. The core never interprets it; it is
// serialized for storage and handed to the Runner as-is.
type WorkSpec struct {
	Steps   []Step
	Timeout time.Duration
}

// EncodeSteps returns the canonical serialization used for storage and
// change detection.
func (w WorkSpec) EncodeSteps() (string, error) {
	steps := w.Steps
	if steps == nil {
		steps = []Step{}
	}
	b, err := json.Marshal(steps)
	if err != nil {
		return "", fmt.Errorf("schedule: encode steps: %w", err)
	}
	return string(b), nil
}

// TimeoutSeconds is the stored form of Timeout.
func (w WorkSpec) TimeoutSeconds() int64 {
	return int64(w.Timeout / time.Second)
}

// DecodeWorkSpec rebuilds a WorkSpec from its stored columns.
func DecodeWorkSpec(steps string, timeoutSeconds int64) (WorkSpec, error) {
	w := WorkSpec{Timeout: time.Duration(timeoutSeconds) * time.Second}
	if steps == "" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(steps), &w.Steps); err != nil {
		return WorkSpec{}, fmt.Errorf("schedule: decode steps: %w", err)
	}
	return w, nil
}

// Declaration is the desired state of one task as declared by code or config.
type Declaration struct {
	Name     string
	Interval string
	Work     WorkSpec
}

// Definition is a persisted task.
type Definition struct {
	Key
	Interval       string
	ManualInterval string
	Work           WorkSpec
	Enabled        bool
}

// EffectiveInterval is the cadence the evaluator uses.
func (d Definition) EffectiveInterval() string {
	return EffectiveInterval(d.Interval, d.ManualInterval)
}

// Overridden reports whether an operator override is in effect.
func (d Definition) Overridden() bool {
	return d.ManualInterval != "" && !IsClearOverride(d.ManualInterval)
}

// HistoryEntry links a dispatch to the run the execution subsystem created.
type HistoryEntry struct {
	Key
	RunID string
	Time  time.Time
}

// WorkUnit is what a Runner receives.
type WorkUnit struct {
	Key
	Steps   []Step
	Timeout time.Duration
	// Args are backend-supplied extra arguments appended to every step.
	Args []string
}

// BuildWorkUnit merges a definition's work with backend dispatch args.
func BuildWorkUnit(def Definition, extraArgs []string) WorkUnit {
	steps := make([]Step, len(def.Work.Steps))
	copy(steps, def.Work.Steps)
	return WorkUnit{
		Key:     def.Key,
		Steps:   steps,
		Timeout: def.Work.Timeout,
		Args:    append([]string(nil), extraArgs...),
	}
}
