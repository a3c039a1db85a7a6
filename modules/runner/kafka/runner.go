package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/google/uuid"
	segkafka "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// JobMessage is published for every started work unit. Workers consume it
// and execute the steps.
type JobMessage struct {
	RunID          string          `json:"run_id"`
	Task           string          `json:"task"`
	Tenant         string          `json:"tenant"`
	Steps          []schedule.Step `json:"steps"`
	Args           []string        `json:"args,omitempty"`
	TimeoutSeconds int64           `json:"timeout_seconds,omitempty"`
	DispatchedAt   time.Time       `json:"dispatched_at"`
}

// StatusMessage is what workers publish on the status topic as a run
// progresses.
type StatusMessage struct {
	RunID    string            `json:"run_id"`
	State    schedule.RunState `json:"state"`
	ExitCode int               `json:"exit_code"`
	Output   string            `json:"output,omitempty"`
	Time     time.Time         `json:"time"`
}

// Writer is the subset of *kafka.Writer the runner uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...segkafka.Message) error
	Close() error
}

// Runner hands work units to remote workers over Kafka. A run is reported
// as running from publication until a status message says otherwise.
type Runner struct {
	writer  Writer
	topic   string
	maxRuns int
	logger  *slog.Logger

	mu    sync.Mutex
	runs  map[string]*schedule.RunInfo
	order []string
}

// NewRunner creates a Runner publishing to topic.
func NewRunner(w Writer, topic string, maxRuns int, logger *slog.Logger) *Runner {
	if maxRuns <= 0 {
		maxRuns = defaultMaxRuns
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		writer:  w,
		topic:   topic,
		maxRuns: maxRuns,
		logger:  logger,
		runs:    make(map[string]*schedule.RunInfo),
	}
}

// NewWriter creates a Kafka writer keyed by task so a task's jobs stay in
// one partition.
func NewWriter(brokers []string) *segkafka.Writer {
	return &segkafka.Writer{
		Addr:                   segkafka.TCP(brokers...),
		Balancer:               &segkafka.Hash{},
		RequiredAcks:           segkafka.RequireOne,
		MaxAttempts:            3,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}
}

// Start implements schedule.Runner.
func (r *Runner) Start(ctx context.Context, unit schedule.WorkUnit) (string, error) {
	id := uuid.NewString()
	now := time.Now()

	value, err := json.Marshal(JobMessage{
		RunID:          id,
		Task:           unit.Name,
		Tenant:         unit.Tenant,
		Steps:          unit.Steps,
		Args:           unit.Args,
		TimeoutSeconds: int64(unit.Timeout / time.Second),
		DispatchedAt:   now.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("kafka: marshal job: %w", err)
	}

	headers := make(HeaderCarrier, 0, 3)
	otel.GetTextMapPropagator().Inject(ctx, &headers)
	headers.Set("cronsync-run-id", id)

	err = r.writer.WriteMessages(ctx, segkafka.Message{
		Topic:   r.topic,
		Key:     []byte(unit.Key.String()),
		Value:   value,
		Headers: []segkafka.Header(headers),
		Time:    now,
	})
	if err != nil {
		return "", fmt.Errorf("kafka publish to %s: %w", r.topic, err)
	}

	r.mu.Lock()
	r.runs[id] = &schedule.RunInfo{ID: id, State: schedule.RunRunning, StartedAt: now}
	r.order = append(r.order, id)
	for len(r.order) > r.maxRuns {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
	r.mu.Unlock()

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

// HandleStatus applies a status message. Statuses for runs this process
// did not start, or has forgotten, are ignored.
func (r *Runner) HandleStatus(_ context.Context, value []byte) error {
	var msg StatusMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return fmt.Errorf("kafka: decode status: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.runs[msg.RunID]
	if !ok {
		return nil
	}
	info.State = msg.State
	info.ExitCode = msg.ExitCode
	info.Output = msg.Output
	if msg.State != schedule.RunRunning {
		info.FinishedAt = msg.Time
	}
	return nil
}

// Close closes the writer.
func (r *Runner) Close() error {
	return r.writer.Close()
}
