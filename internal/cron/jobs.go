package cron

import (
	"context"
	"fmt"
)

// FuncJob adapts a plain function to the Job interface.
type FuncJob struct {
	JobName      string
	ScheduleExpr string // empty = every minute
	Fn           func(ctx context.Context) error
}

// Compile-time interface check.
var _ Job = (*FuncJob)(nil)

// Name implements Job.
func (j *FuncJob) Name() string { return j.JobName }

// Schedule implements Job.
func (j *FuncJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "* * * * *"
}

// Run implements Job.
func (j *FuncJob) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("cron: %s cancelled: %w", j.JobName, ctx.Err())
	}
	if j.Fn == nil {
		return nil
	}
	return j.Fn(ctx)
}
