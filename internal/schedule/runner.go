package schedule

import (
	"context"
	"time"
)

// RunState is the status of a run as reported by the execution subsystem,
// plus two values the operator surface adds on the read side.
type RunState string

const (
	RunRunning   RunState = "running"
	RunSucceeded RunState = "succeeded"
	RunFailed    RunState = "failed"
	RunTimeout   RunState = "timeout"

	// RunNever means no history row exists.
	RunNever RunState = "never"
	// RunNoStatus means a history row exists but the runner cannot resolve it.
	RunNoStatus RunState = "no-status"
)

// RunInfo describes a run owned by the execution subsystem.
type RunInfo struct {
	ID         string
	State      RunState
	ExitCode   int
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Runner is the execution subsystem. Start must return once the run has
// been accepted; it does not wait for completion.
type Runner interface {
	Start(ctx context.Context, unit WorkUnit) (runID string, err error)

	// RunInfo returns ErrRunUnknown when the run record no longer exists.
	RunInfo(ctx context.Context, runID string) (RunInfo, error)
}
