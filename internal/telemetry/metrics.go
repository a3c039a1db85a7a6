package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Reconciliation ─────────────────────────────────────────────────────────

	ReconcileWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsync",
		Subsystem: "reconcile",
		Name:      "writes_total",
		Help:      "Task rows written by reconciliation, labelled by operation (insert|update).",
	}, []string{"op"})

	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cronsync",
		Subsystem: "reconcile",
		Name:      "failures_total",
		Help:      "Declarations that could not be reconciled.",
	})

	// ─── Evaluation ─────────────────────────────────────────────────────────────

	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsync",
		Subsystem: "evaluator",
		Name:      "runs_total",
		Help:      "Due evaluations, labelled by outcome (ok|error|not_ready).",
	}, []string{"outcome"})

	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronsync",
		Subsystem: "evaluator",
		Name:      "duration_seconds",
		Help:      "Time spent computing the due set.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	CatchUpMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cronsync",
		Subsystem: "evaluator",
		Name:      "catchup_minutes",
		Help:      "Minutes walked per evaluation.",
		Buckets:   []float64{1, 2, 5, 15, 60, 240, 1440},
	})

	DueTasks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "cronsync",
		Subsystem: "evaluator",
		Name:      "due_total",
		Help:      "Tasks found due.",
	})

	// ─── Dispatch ───────────────────────────────────────────────────────────────

	Dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cronsync",
		Subsystem: "dispatcher",
		Name:      "dispatches_total",
		Help:      "Dispatch attempts, labelled by result (ok|start_error|history_error).",
	}, []string{"result"})

	RunsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cronsync",
		Subsystem: "runner",
		Name:      "runs_inflight",
		Help:      "Runs currently executing in the shell runner.",
	})

	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cronsync",
		Subsystem: "runner",
		Name:      "run_duration_seconds",
		Help:      "Run wall time, labelled by terminal state.",
		Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 1800},
	}, []string{"state"})
)
