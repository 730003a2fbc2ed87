// Package metrics records rows reclaimed and time spent per repair step.
// Each run owns a private registry; nothing is registered globally.
package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mender"

// Task results used as the result label.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"
	ResultError  = "error"
)

// StepRecord is one completed repair step.
type StepRecord struct {
	Task    string        `json:"task"`
	Step    string        `json:"step"`
	Rows    int64         `json:"rows"`
	Elapsed time.Duration `json:"elapsed_ns"`
}

// Recorder collects the metrics of one run.
type Recorder struct {
	registry *prometheus.Registry

	// RowsReclaimed counts rows deleted or cleared.
	// Labels: task, step
	RowsReclaimed *prometheus.CounterVec

	// StepDuration measures each step.
	// Labels: task, step
	StepDuration *prometheus.HistogramVec

	// TaskRuns counts task executions.
	// Labels: task, result (ok, failed, error)
	TaskRuns *prometheus.CounterVec

	// TaskDuration measures whole tasks.
	// Labels: task
	TaskDuration *prometheus.HistogramVec

	mu    sync.Mutex
	steps []StepRecord
}

// New returns a recorder over a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		RowsReclaimed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_reclaimed_total",
			Help:      "Rows deleted or tombstoned by repair steps",
		}, []string{"task", "step"}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of repair steps in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"task", "step"}),
		TaskRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Task executions by result",
		}, []string{"task", "result"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of tasks in seconds",
			Buckets:   []float64{0.1, 1, 10, 60, 300, 900, 3600},
		}, []string{"task"}),
	}
}

// Registry exposes the private registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStep records a completed step. A nil recorder is a no-op.
func (r *Recorder) ObserveStep(task, step string, rows int64, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.RowsReclaimed.WithLabelValues(task, step).Add(float64(rows))
	r.StepDuration.WithLabelValues(task, step).Observe(elapsed.Seconds())

	r.mu.Lock()
	r.steps = append(r.steps, StepRecord{Task: task, Step: step, Rows: rows, Elapsed: elapsed})
	r.mu.Unlock()
}

// ObserveTask records a finished task. A nil recorder is a no-op.
func (r *Recorder) ObserveTask(task, result string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.TaskRuns.WithLabelValues(task, result).Inc()
	r.TaskDuration.WithLabelValues(task).Observe(elapsed.Seconds())
}

// Steps returns the steps recorded so far in completion order.
func (r *Recorder) Steps() []StepRecord {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StepRecord(nil), r.steps...)
}

// WriteTextfile writes the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
