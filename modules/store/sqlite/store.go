package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

// Store is a schedule.Store backed by SQLite. It also implements
// schedule.Purger and schedule.WatermarkStore.
type Store struct {
	db   *sql.DB
	args []string
	now  func() time.Time
}

func newStore(db *sql.DB, args []string) *Store {
	return &Store{db: db, args: args, now: time.Now}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ready implements schedule.Store.
func (s *Store) Ready(ctx context.Context) (bool, error) {
	v, err := currentVersion(ctx, s.db)
	if err != nil {
		return false, err
	}
	return v >= schemaVersion, nil
}

// HasTask implements schedule.Store.
func (s *Store) HasTask(ctx context.Context, key schedule.Key) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE tenant = ? AND name = ?", key.Tenant, key.Name,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: has task: %w", err)
	}
	return n > 0, nil
}

// GetTask implements schedule.Store.
func (s *Store) GetTask(ctx context.Context, key schedule.Key) (*schedule.Definition, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, name, code_interval, manual_interval, steps, timeout, enabled
		FROM tasks
		WHERE tenant = ? AND name = ?`,
		key.Tenant, key.Name,
	)
	def, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schedule.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &def, nil
}

// ListTasks implements schedule.Store.
func (s *Store) ListTasks(ctx context.Context, tenant string) ([]schedule.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, name, code_interval, manual_interval, steps, timeout, enabled
		FROM tasks
		WHERE tenant = ?
		ORDER BY name ASC`,
		tenant,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var defs []schedule.Definition
	for rows.Next() {
		def, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: list tasks rows: %w", err)
	}
	return defs, nil
}

// InsertTask implements schedule.Store.
func (s *Store) InsertTask(ctx context.Context, tenant string, decl schedule.Declaration) error {
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (tenant, name, code_interval, steps, timeout, enabled)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT (tenant, name) DO NOTHING`,
		tenant, decl.Name, decl.Interval, steps, decl.Work.TimeoutSeconds(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
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
		UPDATE tasks
		SET code_interval = ?, steps = ?, timeout = ?, updated_at = ?
		WHERE tenant = ? AND name = ?`,
		decl.Interval, steps, decl.Work.TimeoutSeconds(), s.stamp(),
		tenant, decl.Name,
	)
}

// HasChanges implements schedule.Store.
func (s *Store) HasChanges(ctx context.Context, tenant string, decl schedule.Declaration) (schedule.ChangeResult, error) {
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return 0, err
	}

	var (
		interval, stored string
		timeout          int64
	)
	err = s.db.QueryRowContext(ctx,
		"SELECT code_interval, steps, timeout FROM tasks WHERE tenant = ? AND name = ?",
		tenant, decl.Name,
	).Scan(&interval, &stored, &timeout)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.ChangeNotFound, nil
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: compare task: %w", err)
	}

	if interval != decl.Interval || stored != steps || timeout != decl.Work.TimeoutSeconds() {
		return schedule.ChangeChanged, nil
	}
	return schedule.ChangeUnchanged, nil
}

// SetInterval implements schedule.Store.
func (s *Store) SetInterval(ctx context.Context, key schedule.Key, expr string) error {
	return s.exec(ctx, "set interval",
		"UPDATE tasks SET manual_interval = ?, updated_at = ? WHERE tenant = ? AND name = ?",
		expr, s.stamp(), key.Tenant, key.Name,
	)
}

// ClearInterval implements schedule.Store.
func (s *Store) ClearInterval(ctx context.Context, key schedule.Key) error {
	return s.exec(ctx, "clear interval",
		"UPDATE tasks SET manual_interval = '', updated_at = ? WHERE tenant = ? AND name = ?",
		s.stamp(), key.Tenant, key.Name,
	)
}

// SetEnabled implements schedule.Store.
func (s *Store) SetEnabled(ctx context.Context, key schedule.Key, enabled bool) error {
	return s.exec(ctx, "set enabled",
		"UPDATE tasks SET enabled = ?, updated_at = ? WHERE tenant = ? AND name = ?",
		boolInt(enabled), s.stamp(), key.Tenant, key.Name,
	)
}

// PossibleIntervals implements schedule.Store.
func (s *Store) PossibleIntervals(ctx context.Context, exclude []string) (schedule.PossibleIntervals, error) {
	query := "SELECT tenant, name, code_interval, manual_interval FROM tasks WHERE enabled = 1"
	args := make([]any, 0, len(exclude))
	if len(exclude) > 0 {
		query += " AND name NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(exclude)), ",") + ")"
		for _, name := range exclude {
			args = append(args, name)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: possible intervals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(schedule.PossibleIntervals)
	for rows.Next() {
		var tenant, name, code, manual string
		if err := rows.Scan(&tenant, &name, &code, &manual); err != nil {
			return nil, fmt.Errorf("sqlite: scan interval: %w", err)
		}
		if out[name] == nil {
			out[name] = make(map[string]string)
		}
		out[name][tenant] = schedule.EffectiveInterval(code, manual)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: possible intervals rows: %w", err)
	}
	return out, nil
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin purge tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE tenant = ?", tenant)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge tasks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM task_history WHERE tenant = ?", tenant); err != nil {
		return 0, fmt.Errorf("sqlite: purge history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: commit purge: %w", err)
	}
	return int(n), nil
}

// exec runs a single-row UPDATE and maps zero affected rows to ErrNotFound.
func (s *Store) exec(ctx context.Context, op, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// scanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (schedule.Definition, error) {
	var (
		def     schedule.Definition
		steps   string
		timeout int64
		enabled int
	)
	if err := sc.Scan(&def.Tenant, &def.Name, &def.Interval, &def.ManualInterval, &steps, &timeout, &enabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return def, err
		}
		return def, fmt.Errorf("sqlite: scan task: %w", err)
	}

	work, err := schedule.DecodeWorkSpec(steps, timeout)
	if err != nil {
		return def, err
	}
	def.Work = work
	def.Enabled = enabled != 0
	return def, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
