package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is a schedule.Store backed by PostgreSQL through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	args []string
	now  func() time.Time
}

// NewStore wraps a pgxpool. args are the dispatch arguments template.
func NewStore(pool *pgxpool.Pool, args []string) *Store {
	return &Store{pool: pool, args: args, now: time.Now}
}

// NewPool creates a pgxpool and verifies connectivity.
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// Migrate creates the schema if it is missing.
func (s *Store) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

// Ready implements schedule.Store.
func (s *Store) Ready(ctx context.Context) (bool, error) {
	v, err := currentVersion(ctx, s.pool)
	if err != nil {
		return false, err
	}
	return v >= schemaVersion, nil
}

// HasTask implements schedule.Store.
func (s *Store) HasTask(ctx context.Context, key schedule.Key) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM cronsync_tasks WHERE tenant = $1 AND name = $2)",
		key.Tenant, key.Name,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: has task %s: %w", key, err)
	}
	return ok, nil
}

// GetTask implements schedule.Store.
func (s *Store) GetTask(ctx context.Context, key schedule.Key) (*schedule.Definition, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant, name, code_interval, manual_interval, steps, timeout, enabled
		FROM cronsync_tasks
		WHERE tenant = $1 AND name = $2
	`, key.Tenant, key.Name)

	def, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListTasks implements schedule.Store.
func (s *Store) ListTasks(ctx context.Context, tenant string) ([]schedule.Definition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant, name, code_interval, manual_interval, steps, timeout, enabled
		FROM cronsync_tasks
		WHERE tenant = $1
		ORDER BY name
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks for %s: %w", tenant, err)
	}
	defer rows.Close()

	var defs []schedule.Definition
	for rows.Next() {
		def, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// InsertTask implements schedule.Store.
func (s *Store) InsertTask(ctx context.Context, tenant string, decl schedule.Declaration) error {
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO cronsync_tasks (tenant, name, code_interval, steps, timeout, enabled)
		VALUES ($1, $2, $3, $4::jsonb, $5, TRUE)
		ON CONFLICT (tenant, name) DO NOTHING
	`, tenant, decl.Name, decl.Interval, steps, decl.Work.TimeoutSeconds())
	if err != nil {
		return fmt.Errorf("postgres: insert task %s/%s: %w", tenant, decl.Name, err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrAlreadyExists
	}
	return nil
}

// UpdateTask implements schedule.Store.
func (s *Store) UpdateTask(ctx context.Context, tenant string, decl schedule.Declaration) error {
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return err
	}
	return s.exec(ctx, "update task", `
		UPDATE cronsync_tasks
		SET code_interval = $1, steps = $2::jsonb, timeout = $3, updated_at = $4
		WHERE tenant = $5 AND name = $6
	`, decl.Interval, steps, decl.Work.TimeoutSeconds(), s.now().UTC(), tenant, decl.Name)
}

// HasChanges implements schedule.Store. Steps are compared as JSON values
// so formatting differences in storage do not count as changes.
func (s *Store) HasChanges(ctx context.Context, tenant string, decl schedule.Declaration) (schedule.ChangeResult, error) {
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return 0, err
	}
	var same bool
	err = s.pool.QueryRow(ctx, `
		SELECT code_interval = $3 AND steps = $4::jsonb AND timeout = $5
		FROM cronsync_tasks
		WHERE tenant = $1 AND name = $2
	`, tenant, decl.Name, decl.Interval, steps, decl.Work.TimeoutSeconds()).Scan(&same)
	if errors.Is(err, pgx.ErrNoRows) {
		return schedule.ChangeNotFound, nil
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: compare task %s/%s: %w", tenant, decl.Name, err)
	}
	if same {
		return schedule.ChangeUnchanged, nil
	}
	return schedule.ChangeChanged, nil
}

// SetInterval implements schedule.Store.
func (s *Store) SetInterval(ctx context.Context, key schedule.Key, expr string) error {
	return s.exec(ctx, "set interval",
		"UPDATE cronsync_tasks SET manual_interval = $1, updated_at = $2 WHERE tenant = $3 AND name = $4",
		expr, s.now().UTC(), key.Tenant, key.Name)
}

// ClearInterval implements schedule.Store.
func (s *Store) ClearInterval(ctx context.Context, key schedule.Key) error {
	return s.exec(ctx, "clear interval",
		"UPDATE cronsync_tasks SET manual_interval = '', updated_at = $1 WHERE tenant = $2 AND name = $3",
		s.now().UTC(), key.Tenant, key.Name)
}

// SetEnabled implements schedule.Store.
func (s *Store) SetEnabled(ctx context.Context, key schedule.Key, enabled bool) error {
	return s.exec(ctx, "set enabled",
		"UPDATE cronsync_tasks SET enabled = $1, updated_at = $2 WHERE tenant = $3 AND name = $4",
		enabled, s.now().UTC(), key.Tenant, key.Name)
}

// PossibleIntervals implements schedule.Store.
func (s *Store) PossibleIntervals(ctx context.Context, exclude []string) (schedule.PossibleIntervals, error) {
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tenant, name, code_interval, manual_interval
		FROM cronsync_tasks
		WHERE enabled AND NOT (name = ANY($1))
	`, exclude)
	if err != nil {
		return nil, fmt.Errorf("postgres: possible intervals: %w", err)
	}
	defer rows.Close()

	out := make(schedule.PossibleIntervals)
	for rows.Next() {
		var tenant, name, code, manual string
		if err := rows.Scan(&tenant, &name, &code, &manual); err != nil {
			return nil, fmt.Errorf("postgres: scan interval: %w", err)
		}
		if out[name] == nil {
			out[name] = make(map[string]string)
		}
		out[name][tenant] = schedule.EffectiveInterval(code, manual)
	}
	return out, rows.Err()
}

// DispatchArgs implements schedule.Store.
func (s *Store) DispatchArgs(_ context.Context, key schedule.Key) ([]string, error) {
	if len(s.args) == 0 {
		return nil, nil
	}
	r := strings.NewReplacer("{task}", key.Name, "{tenant}", key.Tenant)
	out := make([]string, len(s.args))
	for i, a := range s.args {
		out[i] = r.Replace(a)
	}
	return out, nil
}

// Purge implements schedule.Purger.
func (s *Store) Purge(ctx context.Context, tenant string) (int, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, "DELETE FROM cronsync_tasks WHERE tenant = $1", tenant)
		if err != nil {
			return fmt.Errorf("postgres: purge tasks: %w", err)
		}
		n = tag.RowsAffected()
		if _, err := tx.Exec(ctx, "DELETE FROM cronsync_task_history WHERE tenant = $1", tenant); err != nil {
			return fmt.Errorf("postgres: purge history: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// StoreHistory implements schedule.Store.
func (s *Store) StoreHistory(ctx context.Context, key schedule.Key, runID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cronsync_task_history (tenant, name, run_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, key.Tenant, key.Name, runID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("postgres: store history for %s: %w", key, err)
	}
	return nil
}

// History implements schedule.Store.
func (s *Store) History(ctx context.Context, key schedule.Key, limit int) ([]schedule.HistoryEntry, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT tenant, name, run_id, created_at
		FROM cronsync_task_history
		WHERE tenant = $1 AND name = $2
		ORDER BY id DESC
		LIMIT $3
	`, key.Tenant, key.Name, lim)
	if err != nil {
		return nil, fmt.Errorf("postgres: history for %s: %w", key, err)
	}
	defer rows.Close()

	var entries []schedule.HistoryEntry
	for rows.Next() {
		var e schedule.HistoryEntry
		if err := rows.Scan(&e.Tenant, &e.Name, &e.RunID, &e.Time); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// LastRun implements schedule.Store.
func (s *Store) LastRun(ctx context.Context, key schedule.Key) (*schedule.HistoryEntry, error) {
	entries, err := s.History(ctx, key, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// LoadWatermark implements schedule.WatermarkStore.
func (s *Store) LoadWatermark(ctx context.Context) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, "SELECT last_checked FROM cronsync_watermark WHERE id = 1").Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load watermark: %w", err)
	}
	return &t, nil
}

// SaveWatermark implements schedule.WatermarkStore.
func (s *Store) SaveWatermark(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cronsync_watermark (id, last_checked) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_checked = EXCLUDED.last_checked
	`, t.UTC())
	if err != nil {
		return fmt.Errorf("postgres: save watermark: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

// scanTask reads a task row from any pgx row type.
func scanTask(row interface {
	Scan(...any) error
}) (schedule.Definition, error) {
	var (
		def     schedule.Definition
		steps   string
		timeout int64
	)
	err := row.Scan(&def.Tenant, &def.Name, &def.Interval, &def.ManualInterval, &steps, &timeout, &def.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return def, schedule.ErrNotFound
		}
		return def, fmt.Errorf("postgres: scan task: %w", err)
	}
	work, err := schedule.DecodeWorkSpec(steps, timeout)
	if err != nil {
		return def, err
	}
	def.Work = work
	return def, nil
}
