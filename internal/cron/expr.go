package cron

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrUnsupportedExpr is returned for expressions that parse but have no
// minute-granular meaning, such as "@every 90s".
var ErrUnsupportedExpr = errors.New("cron: unsupported expression")

// parser accepts standard 5-field expressions and the @hourly/@daily style
// descriptors. Seconds are never accepted.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Expr is a parsed cadence expression.
type Expr struct {
	raw   string
	sched cron.Schedule
}

// Parse compiles a 5-field cron expression.
func Parse(expr string) (Expr, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return Expr{}, fmt.Errorf("cron: empty expression")
	}
	if strings.HasPrefix(trimmed, "@every") {
		return Expr{}, fmt.Errorf("%w: %q", ErrUnsupportedExpr, expr)
	}
	sched, err := parser.Parse(trimmed)
	if err != nil {
		return Expr{}, fmt.Errorf("cron: parse %q: %w", expr, err)
	}
	return Expr{raw: trimmed, sched: sched}, nil
}

// Validate reports whether expr is a usable cadence.
func Validate(expr string) error {
	_, err := Parse(expr)
	return err
}

// String returns the expression as given to Parse.
func (e Expr) String() string { return e.raw }

// Matches reports whether the minute containing t is a fire time. The
// expression is evaluated in t's location.
func (e Expr) Matches(t time.Time) bool {
	if e.sched == nil {
		return false
	}
	minute := t.Truncate(time.Minute)
	return e.sched.Next(minute.Add(-time.Second)).Equal(minute)
}

// Next returns the first fire time strictly after t.
func (e Expr) Next(t time.Time) time.Time {
	if e.sched == nil {
		return time.Time{}
	}
	return e.sched.Next(t)
}
