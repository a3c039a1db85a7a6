package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/flemzord/cronsync/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	// Skipped is true when the store was not ready and nothing was attempted.
	Skipped   bool
	Inserted  []string
	Updated   []string
	Unchanged []string
	// Raced lists inserts that lost to a concurrent writer.
	Raced  []string
	Failed map[string]error
}

// Writes is the number of rows written.
func (r ReconcileResult) Writes() int {
	return len(r.Inserted) + len(r.Updated)
}

// Registry buffers task declarations for one unit of work and reconciles
// them into the store when the unit of work ends.
//
// Code owns interval, steps and timeout. The store owns the manual
// interval and the enabled flag, which reconciliation never writes.
type Registry struct {
	store  Store
	tenant string
	logger *slog.Logger

	mu      sync.Mutex
	order   []string
	pending map[string]Declaration
	cache   *passCache
}

// NewRegistry creates a registry that reconciles into store under tenant.
func NewRegistry(store Store, tenant string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if tenant == "" {
		tenant = DefaultTenant
	}
	return &Registry{
		store:   store,
		tenant:  tenant,
		logger:  logger.With("component", "registry", "tenant", tenant),
		pending: make(map[string]Declaration),
	}
}

// Tenant returns the tenant this registry writes to.
func (r *Registry) Tenant() string { return r.tenant }

// Register buffers the desired state of a task. Registering the same name
// again in the same unit of work replaces the earlier declaration.
func (r *Registry) Register(name, interval string, work WorkSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, seen := r.pending[name]; !seen {
		r.order = append(r.order, name)
	}
	r.pending[name] = Declaration{Name: name, Interval: interval, Work: work}
}

// Pending returns the buffered declarations in registration order.
func (r *Registry) Pending() []Declaration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pending[name])
	}
	return out
}

// Defined reports whether name exists in the store. Answers are cached for
// the unit of work; a Reconcile starts a new one seeded with the tasks it
// wrote or confirmed.
func (r *Registry) Defined(ctx context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cache == nil {
		r.cache = newPassCache(r.store)
	}
	return r.cache.HasTask(ctx, Key{Name: name, Tenant: r.tenant})
}

// Reconcile writes the buffered declarations to the store and clears the
// buffer. A failure on one task is logged and reported in the result; the
// remaining tasks are still processed. The returned error joins every
// per-task failure, or wraps ErrNotReady when the ready check itself failed
// and no task was attempted.
func (r *Registry) Reconcile(ctx context.Context) (ReconcileResult, error) {
	decls := r.drain()
	result := ReconcileResult{Failed: make(map[string]error)}

	ctx, span := telemetry.Tracer().Start(ctx, "schedule.reconcile")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant", r.tenant),
		attribute.Int("declarations", len(decls)),
	)

	if len(decls) == 0 {
		return result, nil
	}

	ready, err := r.store.Ready(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ready check failed")
		return result, fmt.Errorf("schedule: reconcile: %w: %w", ErrNotReady, err)
	}
	if !ready {
		r.logger.Info("registry: store not ready, skipping reconcile", "declarations", len(decls))
		result.Skipped = true
		return result, nil
	}

	var errs []error
	for _, decl := range decls {
		if err := r.reconcileOne(ctx, decl, &result); err != nil {
			telemetry.ReconcileFailures.Inc()
			result.Failed[decl.Name] = err
			errs = append(errs, err)
			r.logger.Error("registry: reconcile failed", "task", decl.Name, "error", err)
			continue
		}
		r.mu.Lock()
		r.cache.remember(Key{Name: decl.Name, Tenant: r.tenant})
		r.mu.Unlock()
	}

	telemetry.ReconcileWrites.WithLabelValues("insert").Add(float64(len(result.Inserted)))
	telemetry.ReconcileWrites.WithLabelValues("update").Add(float64(len(result.Updated)))
	span.SetAttributes(attribute.Int("writes", result.Writes()))

	if len(errs) > 0 {
		span.SetStatus(codes.Error, "some declarations failed")
	}
	r.logger.Debug("registry: reconciled",
		"inserted", len(result.Inserted),
		"updated", len(result.Updated),
		"unchanged", len(result.Unchanged),
		"failed", len(result.Failed),
	)
	return result, errors.Join(errs...)
}

func (r *Registry) reconcileOne(ctx context.Context, decl Declaration, result *ReconcileResult) error {
	if err := ValidateInterval(decl.Interval); err != nil {
		return fmt.Errorf("schedule: task %q: %w", decl.Name, err)
	}

	change, err := r.store.HasChanges(ctx, r.tenant, decl)
	if err != nil {
		return fmt.Errorf("schedule: task %q: compare: %w", decl.Name, err)
	}

	switch change {
	case ChangeNotFound:
		err := r.store.InsertTask(ctx, r.tenant, decl)
		if errors.Is(err, ErrAlreadyExists) {
			r.logger.Warn("registry: concurrent insert, ignoring", "task", decl.Name)
			result.Raced = append(result.Raced, decl.Name)
			return nil
		}
		if err != nil {
			return fmt.Errorf("schedule: task %q: insert: %w", decl.Name, err)
		}
		result.Inserted = append(result.Inserted, decl.Name)
		r.logger.Info("registry: task inserted", "task", decl.Name, "interval", decl.Interval)
	case ChangeChanged:
		if err := r.store.UpdateTask(ctx, r.tenant, decl); err != nil {
			return fmt.Errorf("schedule: task %q: update: %w", decl.Name, err)
		}
		result.Updated = append(result.Updated, decl.Name)
		r.logger.Info("registry: task updated", "task", decl.Name, "interval", decl.Interval)
	case ChangeUnchanged:
		result.Unchanged = append(result.Unchanged, decl.Name)
	default:
		return fmt.Errorf("schedule: task %q: unexpected change result %v", decl.Name, change)
	}
	return nil
}

// drain empties the buffer and starts a fresh unit-of-work cache.
func (r *Registry) drain() []Declaration {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pending[name])
	}
	r.order = nil
	r.pending = make(map[string]Declaration)
	r.cache = newPassCache(r.store)
	return out
}
