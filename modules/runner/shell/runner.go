package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/internal/telemetry"
	"github.com/google/uuid"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Options configures a Runner.
type Options struct {
	// Dir is the working directory of every step.
	Dir string
	// Env is added to the process environment.
	Env map[string]string
	// MaxRuns caps how many finished runs are remembered. Older ones are
	// forgotten and reported as unknown.
	MaxRuns int
	// MaxOutput caps the captured output per run, in bytes. The tail is kept.
	MaxOutput int
	// DefaultTimeout applies to units without a timeout. Zero means none.
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Runner executes work units in-process with a POSIX shell interpreter.
// Steps run in order; the first failing step ends the run.
type Runner struct {
	opts Options

	mu       sync.Mutex
	runs     map[string]*schedule.RunInfo
	finished []string
	// stopped is set by Stop under mu; no wg.Add happens after it.
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(opts Options) *Runner {
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = defaultMaxRuns
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = defaultMaxOutput
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		opts:   opts,
		runs:   make(map[string]*schedule.RunInfo),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start implements schedule.Runner. The script is parsed before a run ID is
// issued so a malformed step fails the dispatch instead of the run.
func (r *Runner) Start(_ context.Context, unit schedule.WorkUnit) (string, error) {
	if len(unit.Steps) == 0 {
		return "", fmt.Errorf("shell: %s has no steps", unit.Key)
	}
	files, err := parseSteps(unit)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	info := &schedule.RunInfo{ID: id, State: schedule.RunRunning, StartedAt: time.Now()}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return "", fmt.Errorf("shell: runner stopped: %w", context.Canceled)
	}
	r.runs[id] = info
	r.wg.Add(1)
	r.mu.Unlock()

	telemetry.RunsInFlight.Inc()
	go r.execute(id, unit, files)
	return id, nil
}

// RunInfo implements schedule.Runner.
func (r *Runner) RunInfo(_ context.Context, runID string) (schedule.RunInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.runs[runID]
	if !ok {
		return schedule.RunInfo{}, schedule.ErrRunUnknown
	}
	return *info, nil
}

// Wait blocks until every started run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels running steps and waits for them, or until ctx is done.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) execute(id string, unit schedule.WorkUnit, files []*syntax.File) {
	defer r.wg.Done()
	defer telemetry.RunsInFlight.Dec()

	logger := r.opts.Logger.With("run_id", id, "task", unit.Name, "tenant", unit.Tenant)

	timeout := unit.Timeout
	if timeout <= 0 {
		timeout = r.opts.DefaultTimeout
	}
	ctx := r.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out := &tailBuffer{max: r.opts.MaxOutput}
	state, code := schedule.RunSucceeded, 0

	for i, file := range files {
		runner, err := interp.New(
			interp.Dir(r.opts.Dir),
			interp.Env(expand.ListEnviron(r.environ(unit)...)),
			interp.StdIO(nil, out, out),
		)
		if err != nil {
			fmt.Fprintf(out, "shell: %v\n", err)
			state, code = schedule.RunFailed, 1
			break
		}

		err = runner.Run(ctx, file)
		if err == nil {
			continue
		}
		state, code = classify(ctx, err)
		logger.Warn("shell: step failed", "step", stepName(unit.Steps[i], i), "exit_code", code, "error", err)
		break
	}

	started := r.finish(id, state, code, out.String())
	telemetry.RunDuration.WithLabelValues(string(state)).Observe(time.Since(started).Seconds())
	logger.Info("shell: run finished", "state", state, "exit_code", code)
}

func (r *Runner) finish(id string, state schedule.RunState, code int, output string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.runs[id]
	info.State = state
	info.ExitCode = code
	info.Output = output
	info.FinishedAt = time.Now()

	r.finished = append(r.finished, id)
	for len(r.finished) > r.opts.MaxRuns {
		delete(r.runs, r.finished[0])
		r.finished = r.finished[1:]
	}
	return info.StartedAt
}

func (r *Runner) environ(unit schedule.WorkUnit) []string {
	env := os.Environ()
	for k, v := range r.opts.Env {
		env = append(env, k+"="+v)
	}
	return append(env,
		"CRONSYNC_TASK="+unit.Name,
		"CRONSYNC_TENANT="+unit.Tenant,
	)
}

// classify maps an interpreter error to a run outcome.
func classify(ctx context.Context, err error) (schedule.RunState, int) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return schedule.RunTimeout, 124
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		return schedule.RunFailed, int(status)
	}
	return schedule.RunFailed, 1
}

// parseSteps builds one shell program per step: the command followed by the
// step's arguments and then the unit's dispatch arguments, each quoted.
func parseSteps(unit schedule.WorkUnit) ([]*syntax.File, error) {
	parser := syntax.NewParser()
	files := make([]*syntax.File, 0, len(unit.Steps))
	for i, step := range unit.Steps {
		if strings.TrimSpace(step.Command) == "" {
			return nil, fmt.Errorf("shell: %s step %s: empty command", unit.Key, stepName(step, i))
		}

		var sb strings.Builder
		sb.WriteString(step.Command)
		for _, arg := range append(append([]string(nil), step.Args...), unit.Args...) {
			q, err := syntax.Quote(arg, syntax.LangBash)
			if err != nil {
				return nil, fmt.Errorf("shell: %s step %s: quote %q: %w", unit.Key, stepName(step, i), arg, err)
			}
			sb.WriteByte(' ')
			sb.WriteString(q)
		}

		file, err := parser.Parse(strings.NewReader(sb.String()), stepName(step, i))
		if err != nil {
			return nil, fmt.Errorf("shell: %s step %s: %w", unit.Key, stepName(step, i), err)
		}
		files = append(files, file)
	}
	return files, nil
}

func stepName(step schedule.Step, i int) string {
	if step.Name != "" {
		return step.Name
	}
	return fmt.Sprintf("#%d", i+1)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	b.buf.Write(p)
	if over := b.buf.Len() - b.max; over > 0 {
		b.buf.Next(over)
		b.truncated = true
	}
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return "[truncated]\n" + b.buf.String()
	}
	return b.buf.String()
}
