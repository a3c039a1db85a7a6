package schedule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/flemzord/cronsync/internal/cron"
	"github.com/flemzord/cronsync/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DueTask is a task found due, resolved and ready to dispatch.
type DueTask struct {
	Key
	// MatchedAt is the most recent walked minute the cadence matched.
	MatchedAt  time.Time
	Definition Definition
	Unit       WorkUnit
}

// DueSet is the result of one evaluation.
type DueSet struct {
	// Now is the evaluated minute. Persist it as the next lastChecked.
	Now   time.Time
	Tasks []DueTask
}

// ByName groups due tenants by task name.
func (s DueSet) ByName() map[string][]string {
	out := make(map[string][]string, len(s.Tasks))
	for _, t := range s.Tasks {
		out[t.Name] = append(out[t.Name], t.Tenant)
	}
	return out
}

// EvaluatorConfig configures an Evaluator.
type EvaluatorConfig struct {
	Store Store

	// Clock defaults to time.Now.
	Clock func() time.Time

	// Location is the zone cadence expressions are evaluated in. Defaults
	// to time.Local.
	Location *time.Location

	Logger *slog.Logger
}

// Evaluator computes which tasks are due since the last evaluation.
// It assumes a single evaluator per store.
type Evaluator struct {
	store    Store
	clock    func() time.Time
	location *time.Location
	logger   *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(cfg EvaluatorConfig) *Evaluator {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Evaluator{
		store:    cfg.Store,
		clock:    cfg.Clock,
		location: cfg.Location,
		logger:   cfg.Logger.With("component", "evaluator"),
	}
}

// Now returns the current minute in the evaluator's location.
func (e *Evaluator) Now() time.Time {
	return e.clock().In(e.location).Truncate(time.Minute)
}

type candidate struct {
	key  Key
	expr cron.Expr
}

// ComputeDue walks minutes from now back to, but excluding, lastChecked and
// returns every enabled task whose effective interval matched at least once.
// A task is returned once per tenant, attributed to the most recent matching
// minute. A nil lastChecked evaluates the current minute only.
//
// A store that is not ready yields an empty set and no error.
func (e *Evaluator) ComputeDue(ctx context.Context, lastChecked *time.Time) (DueSet, error) {
	started := time.Now()
	now := e.Now()
	set := DueSet{Now: now}

	ctx, span := telemetry.Tracer().Start(ctx, "schedule.compute_due")
	defer span.End()
	span.SetAttributes(attribute.String("now", now.Format(time.RFC3339)))

	ready, err := e.store.Ready(ctx)
	if err != nil {
		telemetry.Evaluations.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "ready check failed")
		return set, fmt.Errorf("schedule: compute due: %w", err)
	}
	if !ready {
		telemetry.Evaluations.WithLabelValues("not_ready").Inc()
		e.logger.Debug("evaluator: store not ready")
		return set, nil
	}

	from := now.Add(-time.Minute)
	if lastChecked != nil {
		from = *lastChecked
		if !now.After(from) {
			telemetry.Evaluations.WithLabelValues("ok").Inc()
			return set, nil
		}
	}

	matched, minutes, err := e.walk(ctx, now, from)
	telemetry.CatchUpMinutes.Observe(float64(minutes))
	span.SetAttributes(attribute.Int("minutes", minutes))
	if err != nil {
		telemetry.Evaluations.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "walk failed")
		return set, fmt.Errorf("schedule: compute due: %w", err)
	}

	set.Tasks = e.resolve(ctx, matched)

	telemetry.Evaluations.WithLabelValues("ok").Inc()
	telemetry.DueTasks.Add(float64(len(set.Tasks)))
	telemetry.EvaluationDuration.Observe(time.Since(started).Seconds())
	span.SetAttributes(attribute.Int("due", len(set.Tasks)))

	if len(set.Tasks) > 0 {
		e.logger.Info("evaluator: tasks due", "count", len(set.Tasks), "minutes", minutes)
	}
	return set, nil
}

// walk returns the most recent matching minute per key and the number of
// minutes visited.
//
// Once every tenant of a name has matched, the name joins the exclusion
// list sent to the store and candidates are re-read. Between such changes
// the last read is reused, which gives the same result as re-reading every
// minute.
func (e *Evaluator) walk(ctx context.Context, now, from time.Time) (map[Key]time.Time, int, error) {
	excluded := make(map[string]struct{})
	matched := make(map[Key]time.Time)
	compiled := make(map[string]*cron.Expr)

	candidates, err := e.fetch(ctx, excluded, matched, compiled)
	if err != nil {
		return nil, 0, err
	}

	minutes := 0
	for t := now; t.After(from) && len(candidates) > 0; t = t.Add(-time.Minute) {
		if err := ctx.Err(); err != nil {
			return nil, minutes, err
		}
		minutes++

		hit := false
		for _, c := range candidates {
			if _, done := matched[c.key]; done {
				continue
			}
			if c.expr.Matches(t) {
				matched[c.key] = t
				hit = true
			}
		}
		if !hit {
			continue
		}

		if excludeCompleted(candidates, matched, excluded) {
			candidates, err = e.fetch(ctx, excluded, matched, compiled)
			if err != nil {
				return nil, minutes, err
			}
			continue
		}
		candidates = slices.DeleteFunc(candidates, func(c candidate) bool {
			_, done := matched[c.key]
			return done
		})
	}
	return matched, minutes, nil
}

// excludeCompleted adds to excluded every name whose candidates have all
// matched, and reports whether it added any.
func excludeCompleted(candidates []candidate, matched map[Key]time.Time, excluded map[string]struct{}) bool {
	pending := make(map[string]bool)
	for _, c := range candidates {
		_, done := matched[c.key]
		pending[c.key.Name] = pending[c.key.Name] || !done
	}
	grew := false
	for name, open := range pending {
		if open {
			continue
		}
		if _, ok := excluded[name]; !ok {
			excluded[name] = struct{}{}
			grew = true
		}
	}
	return grew
}

func (e *Evaluator) fetch(
	ctx context.Context,
	excluded map[string]struct{},
	matched map[Key]time.Time,
	compiled map[string]*cron.Expr,
) ([]candidate, error) {
	names := make([]string, 0, len(excluded))
	for name := range excluded {
		names = append(names, name)
	}
	slices.Sort(names)

	intervals, err := e.store.PossibleIntervals(ctx, names)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, intervals.Len())
	for name, tenants := range intervals {
		if _, skip := excluded[name]; skip {
			continue
		}
		for tenant, raw := range tenants {
			key := Key{Name: name, Tenant: tenant}
			if _, done := matched[key]; done {
				continue
			}
			expr, ok := compiled[raw]
			if !ok {
				parsed, err := cron.Parse(raw)
				if err != nil {
					e.logger.Debug("evaluator: invalid stored interval", "task", key.String(), "interval", raw, "error", err)
				} else {
					expr = &parsed
				}
				compiled[raw] = expr
			}
			if expr == nil {
				continue
			}
			out = append(out, candidate{key: key, expr: *expr})
		}
	}
	slices.SortFunc(out, func(a, b candidate) int { return compareKeys(a.key, b.key) })
	return out, nil
}

// resolve loads definitions for matched keys. Keys that cannot be resolved
// are dropped.
func (e *Evaluator) resolve(ctx context.Context, matched map[Key]time.Time) []DueTask {
	keys := make([]Key, 0, len(matched))
	for k := range matched {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeys)

	cache := newPassCache(e.store)
	out := make([]DueTask, 0, len(keys))
	for _, key := range keys {
		def, err := cache.GetTask(ctx, key)
		if errors.Is(err, ErrNotFound) {
			e.logger.Debug("evaluator: due task vanished", "task", key.String())
			continue
		}
		if err != nil {
			e.logger.Warn("evaluator: resolve failed", "task", key.String(), "error", err)
			continue
		}
		if !def.Enabled {
			continue
		}
		args, err := cache.DispatchArgs(ctx, key)
		if err != nil {
			e.logger.Warn("evaluator: dispatch args failed", "task", key.String(), "error", err)
			continue
		}
		out = append(out, DueTask{
			Key:        key,
			MatchedAt:  matched[key],
			Definition: *def,
			Unit:       BuildWorkUnit(*def, args),
		})
	}
	return out
}

func compareKeys(a, b Key) int {
	if c := cmp.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return cmp.Compare(a.Tenant, b.Tenant)
}
