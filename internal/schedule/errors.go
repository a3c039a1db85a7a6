package schedule

import "errors"

var (
	// ErrNotFound is returned for operations on an unknown (name, tenant).
	ErrNotFound = errors.New("schedule: task not found")

	// ErrAlreadyExists is returned by Store.InsertTask when the row was
	// created concurrently. Callers treat it as a benign race.
	ErrAlreadyExists = errors.New("schedule: task already exists")

	// ErrInvalidInterval is returned for a cadence expression that does not parse.
	ErrInvalidInterval = errors.New("schedule: invalid interval")

	// ErrNotReady is returned by operator calls made before the store is provisioned.
	ErrNotReady = errors.New("schedule: store not ready")

	// ErrUnsupported is returned when the configured backend lacks an optional capability.
	ErrUnsupported = errors.New("schedule: operation not supported by store")

	// ErrRunUnknown is returned by Runner.RunInfo when the run record is gone.
	ErrRunUnknown = errors.New("schedule: run unknown")
)
