package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

// StoreHistory implements schedule.Store.
func (s *Store) StoreHistory(ctx context.Context, key schedule.Key, runID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_history (tenant, name, run_id, created_at)
		VALUES (?, ?, ?, ?)`,
		key.Tenant, key.Name, runID, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("sqlite: store history: %w", err)
	}
	return nil
}

// History implements schedule.Store. Rows are newest first.
func (s *Store) History(ctx context.Context, key schedule.Key, limit int) ([]schedule.HistoryEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant, name, run_id, created_at
		FROM task_history
		WHERE tenant = ? AND name = ?
		ORDER BY id DESC
		LIMIT ?`,
		key.Tenant, key.Name, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []schedule.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: history rows: %w", err)
	}
	return entries, nil
}

// LastRun implements schedule.Store.
func (s *Store) LastRun(ctx context.Context, key schedule.Key) (*schedule.HistoryEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant, name, run_id, created_at
		FROM task_history
		WHERE tenant = ? AND name = ?
		ORDER BY id DESC
		LIMIT 1`,
		key.Tenant, key.Name,
	)
	e, err := scanHistory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// LoadWatermark implements schedule.WatermarkStore.
func (s *Store) LoadWatermark(ctx context.Context) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT last_checked FROM watermark WHERE id = 1").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load watermark: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("sqlite: parse watermark %q: %w", raw, err)
	}
	return &t, nil
}

// SaveWatermark implements schedule.WatermarkStore.
func (s *Store) SaveWatermark(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watermark (id, last_checked) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET last_checked = excluded.last_checked`,
		t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save watermark: %w", err)
	}
	return nil
}

func scanHistory(sc scanner) (schedule.HistoryEntry, error) {
	var (
		e       schedule.HistoryEntry
		created string
	)
	if err := sc.Scan(&e.Tenant, &e.Name, &e.RunID, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("sqlite: scan history: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return e, fmt.Errorf("sqlite: parse created_at %q: %w", created, err)
	}
	e.Time = t
	return e, nil
}
