// Package scheduletest provides test doubles for the schedule package.
package scheduletest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
)

// Compile-time interface checks.
var (
	_ schedule.Store          = (*MemoryStore)(nil)
	_ schedule.Purger         = (*MemoryStore)(nil)
	_ schedule.WatermarkStore = (*MemoryStore)(nil)
	_ schedule.Runner         = (*MockRunner)(nil)
)

type row struct {
	def   schedule.Definition
	steps string
}

// MemoryStore is an in-memory schedule.Store. Fields ending in Err force
// the matching method to fail.
type MemoryStore struct {
	mu        sync.Mutex
	rows      map[schedule.Key]*row
	history   []schedule.HistoryEntry
	watermark *time.Time

	// NotReady makes Ready report false.
	NotReady bool
	// Clock stamps history rows. Defaults to time.Now.
	Clock func() time.Time
	// Args is returned by DispatchArgs for every key.
	Args []string

	ReadyErr     error
	IntervalsErr error
	InsertErr    error
	HistoryErr   error

	writes         int
	lookups        int
	intervalsCalls [][]string
}

// NewMemoryStore creates an empty, ready store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[schedule.Key]*row)}
}

// Put inserts or replaces a full definition, bypassing reconciliation.
func (s *MemoryStore) Put(def schedule.Definition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	steps, _ := def.Work.EncodeSteps()
	s.rows[def.Key] = &row{def: def, steps: steps}
}

// Delete removes a definition.
func (s *MemoryStore) Delete(key schedule.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, key)
}

// Writes counts InsertTask and UpdateTask calls that changed a row.
func (s *MemoryStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

// Lookups counts HasTask and GetTask calls.
func (s *MemoryStore) Lookups() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

// IntervalQueries returns the exclude lists passed to PossibleIntervals.
func (s *MemoryStore) IntervalQueries() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.intervalsCalls)
}

// HistoryEntries returns every history row in insertion order.
func (s *MemoryStore) HistoryEntries() []schedule.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

func (s *MemoryStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Ready implements schedule.Store.
func (s *MemoryStore) Ready(context.Context) (bool, error) {
	if s.ReadyErr != nil {
		return false, s.ReadyErr
	}
	return !s.NotReady, nil
}

// HasTask implements schedule.Store.
func (s *MemoryStore) HasTask(_ context.Context, key schedule.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	_, ok := s.rows[key]
	return ok, nil
}

// GetTask implements schedule.Store.
func (s *MemoryStore) GetTask(_ context.Context, key schedule.Key) (*schedule.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	r, ok := s.rows[key]
	if !ok {
		return nil, schedule.ErrNotFound
	}
	def := r.def
	return &def, nil
}

// ListTasks implements schedule.Store.
func (s *MemoryStore) ListTasks(_ context.Context, tenant string) ([]schedule.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.Definition
	for k, r := range s.rows {
		if k.Tenant == tenant {
			out = append(out, r.def)
		}
	}
	slices.SortFunc(out, func(a, b schedule.Definition) int { return cmp.Compare(a.Name, b.Name) })
	return out, nil
}

// InsertTask implements schedule.Store.
func (s *MemoryStore) InsertTask(_ context.Context, tenant string, decl schedule.Declaration) error {
	if s.InsertErr != nil {
		return s.InsertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := schedule.Key{Name: decl.Name, Tenant: tenant}
	if _, ok := s.rows[key]; ok {
		return schedule.ErrAlreadyExists
	}
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return err
	}
	s.rows[key] = &row{
		def: schedule.Definition{
			Key:      key,
			Interval: decl.Interval,
			Work:     decl.Work,
			Enabled:  true,
		},
		steps: steps,
	}
	s.writes++
	return nil
}

// UpdateTask implements schedule.Store.
func (s *MemoryStore) UpdateTask(_ context.Context, tenant string, decl schedule.Declaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[schedule.Key{Name: decl.Name, Tenant: tenant}]
	if !ok {
		return schedule.ErrNotFound
	}
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return err
	}
	r.def.Interval = decl.Interval
	r.def.Work = decl.Work
	r.steps = steps
	s.writes++
	return nil
}

// HasChanges implements schedule.Store.
func (s *MemoryStore) HasChanges(_ context.Context, tenant string, decl schedule.Declaration) (schedule.ChangeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[schedule.Key{Name: decl.Name, Tenant: tenant}]
	if !ok {
		return schedule.ChangeNotFound, nil
	}
	steps, err := decl.Work.EncodeSteps()
	if err != nil {
		return 0, err
	}
	if r.def.Interval != decl.Interval ||
		r.steps != steps ||
		r.def.Work.TimeoutSeconds() != decl.Work.TimeoutSeconds() {
		return schedule.ChangeChanged, nil
	}
	return schedule.ChangeUnchanged, nil
}

// SetInterval implements schedule.Store.
func (s *MemoryStore) SetInterval(_ context.Context, key schedule.Key, expr string) error {
	return s.mutate(key, func(d *schedule.Definition) { d.ManualInterval = expr })
}

// ClearInterval implements schedule.Store.
func (s *MemoryStore) ClearInterval(_ context.Context, key schedule.Key) error {
	return s.mutate(key, func(d *schedule.Definition) { d.ManualInterval = "" })
}

// SetEnabled implements schedule.Store.
func (s *MemoryStore) SetEnabled(_ context.Context, key schedule.Key, enabled bool) error {
	return s.mutate(key, func(d *schedule.Definition) { d.Enabled = enabled })
}

func (s *MemoryStore) mutate(key schedule.Key, fn func(*schedule.Definition)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[key]
	if !ok {
		return schedule.ErrNotFound
	}
	fn(&r.def)
	return nil
}

// PossibleIntervals implements schedule.Store.
func (s *MemoryStore) PossibleIntervals(_ context.Context, exclude []string) (schedule.PossibleIntervals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalsCalls = append(s.intervalsCalls, slices.Clone(exclude))
	if s.IntervalsErr != nil {
		return nil, s.IntervalsErr
	}
	out := make(schedule.PossibleIntervals)
	for k, r := range s.rows {
		if !r.def.Enabled || slices.Contains(exclude, k.Name) {
			continue
		}
		if out[k.Name] == nil {
			out[k.Name] = make(map[string]string)
		}
		out[k.Name][k.Tenant] = r.def.EffectiveInterval()
	}
	return out, nil
}

// StoreHistory implements schedule.Store.
func (s *MemoryStore) StoreHistory(_ context.Context, key schedule.Key, runID string) error {
	if s.HistoryErr != nil {
		return s.HistoryErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, schedule.HistoryEntry{Key: key, RunID: runID, Time: s.now()})
	return nil
}

// History implements schedule.Store.
func (s *MemoryStore) History(_ context.Context, key schedule.Key, limit int) ([]schedule.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schedule.HistoryEntry
	for i := len(s.history) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.history[i].Key == key {
			out = append(out, s.history[i])
		}
	}
	return out, nil
}

// LastRun implements schedule.Store.
func (s *MemoryStore) LastRun(ctx context.Context, key schedule.Key) (*schedule.HistoryEntry, error) {
	entries, err := s.History(ctx, key, 1)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// DispatchArgs implements schedule.Store.
func (s *MemoryStore) DispatchArgs(context.Context, schedule.Key) ([]string, error) {
	return s.Args, nil
}

// Purge implements schedule.Purger.
func (s *MemoryStore) Purge(_ context.Context, tenant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.rows {
		if k.Tenant == tenant {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// LoadWatermark implements schedule.WatermarkStore.
func (s *MemoryStore) LoadWatermark(context.Context) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watermark == nil {
		return nil, nil
	}
	t := *s.watermark
	return &t, nil
}

// SaveWatermark implements schedule.WatermarkStore.
func (s *MemoryStore) SaveWatermark(_ context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermark = &t
	return nil
}

// MockRunner records started work units and serves canned RunInfo.
type MockRunner struct {
	mu      sync.Mutex
	started []schedule.WorkUnit
	infos   map[string]schedule.RunInfo
	seq     int

	// StartFunc overrides Start when set.
	StartFunc func(ctx context.Context, unit schedule.WorkUnit) (string, error)
}

// NewMockRunner creates a MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{infos: make(map[string]schedule.RunInfo)}
}

// Start implements schedule.Runner. Run IDs are "run-1", "run-2", ...
func (r *MockRunner) Start(ctx context.Context, unit schedule.WorkUnit) (string, error) {
	if r.StartFunc != nil {
		id, err := r.StartFunc(ctx, unit)
		if err == nil {
			r.mu.Lock()
			r.started = append(r.started, unit)
			r.mu.Unlock()
		}
		return id, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	id := fmt.Sprintf("run-%d", r.seq)
	r.started = append(r.started, unit)
	r.infos[id] = schedule.RunInfo{ID: id, State: schedule.RunRunning}
	return id, nil
}

// RunInfo implements schedule.Runner.
func (r *MockRunner) RunInfo(_ context.Context, runID string) (schedule.RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.infos[runID]
	if !ok {
		return schedule.RunInfo{}, schedule.ErrRunUnknown
	}
	return info, nil
}

// SetInfo replaces the RunInfo served for id.
func (r *MockRunner) SetInfo(info schedule.RunInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos[info.ID] = info
}

// Forget drops the RunInfo for id, as if the run record expired.
func (r *MockRunner) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.infos, id)
}

// Started returns the units passed to Start, in order.
func (r *MockRunner) Started() []schedule.WorkUnit {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.started)
}
