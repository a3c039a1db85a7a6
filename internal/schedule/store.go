package schedule

import (
	"context"
	"time"
)

// DefaultHistoryLimit caps History reads on the operator surface.
const DefaultHistoryLimit = 20

// ChangeResult is the outcome of comparing a declaration with the stored row.
type ChangeResult int

const (
	// ChangeNotFound means no row exists; the caller should insert.
	ChangeNotFound ChangeResult = iota
	// ChangeUnchanged means interval, steps and timeout all match.
	ChangeUnchanged
	// ChangeChanged means at least one code-owned field differs.
	ChangeChanged
)

func (c ChangeResult) String() string {
	switch c {
	case ChangeNotFound:
		return "not-found"
	case ChangeUnchanged:
		return "unchanged"
	case ChangeChanged:
		return "changed"
	default:
		return "unknown"
	}
}

// PossibleIntervals maps task name to tenant to effective interval.
type PossibleIntervals map[string]map[string]string

// Len returns the number of (name, tenant) pairs.
func (p PossibleIntervals) Len() int {
	n := 0
	for _, tenants := range p {
		n += len(tenants)
	}
	return n
}

// Store persists task definitions, operator overrides and run history.
//
// Code-owned fields (interval, steps, timeout) are written only by
// InsertTask and UpdateTask. Operator-owned fields (manual interval,
// enabled) are written only by SetInterval, ClearInterval and SetEnabled.
type Store interface {
	// Ready reports whether the schema exists.
	Ready(ctx context.Context) (bool, error)

	HasTask(ctx context.Context, key Key) (bool, error)

	// GetTask returns ErrNotFound for an unknown key.
	GetTask(ctx context.Context, key Key) (*Definition, error)

	// ListTasks returns every task of a tenant ordered by name.
	ListTasks(ctx context.Context, tenant string) ([]Definition, error)

	// InsertTask creates an enabled task. It returns ErrAlreadyExists when
	// the row already exists.
	InsertTask(ctx context.Context, tenant string, decl Declaration) error

	// UpdateTask overwrites interval, steps and timeout only.
	UpdateTask(ctx context.Context, tenant string, decl Declaration) error

	// HasChanges compares interval, serialized steps and timeout seconds.
	HasChanges(ctx context.Context, tenant string, decl Declaration) (ChangeResult, error)

	// SetInterval stores a manual override. ErrNotFound for an unknown key.
	SetInterval(ctx context.Context, key Key, expr string) error

	// ClearInterval removes the manual override. ErrNotFound for an unknown key.
	ClearInterval(ctx context.Context, key Key) error

	// SetEnabled toggles the enabled flag. ErrNotFound for an unknown key.
	SetEnabled(ctx context.Context, key Key, enabled bool) error

	// PossibleIntervals returns the effective interval of every enabled
	// task across tenants, omitting names listed in exclude.
	PossibleIntervals(ctx context.Context, exclude []string) (PossibleIntervals, error)

	// StoreHistory appends a history row timestamped now.
	StoreHistory(ctx context.Context, key Key, runID string) error

	// History returns up to limit rows, newest first.
	History(ctx context.Context, key Key, limit int) ([]HistoryEntry, error)

	// LastRun returns the newest history row, or nil if the task never ran.
	LastRun(ctx context.Context, key Key) (*HistoryEntry, error)

	// DispatchArgs returns backend-specific arguments appended at dispatch.
	DispatchArgs(ctx context.Context, key Key) ([]string, error)
}

// Purger is implemented by stores that can drop every task of a tenant.
type Purger interface {
	Purge(ctx context.Context, tenant string) (int, error)
}

// WatermarkStore persists the time of the last evaluation so catch-up
// survives restarts.
type WatermarkStore interface {
	// LoadWatermark returns nil when no evaluation was ever recorded.
	LoadWatermark(ctx context.Context) (*time.Time, error)
	SaveWatermark(ctx context.Context, t time.Time) error
}
