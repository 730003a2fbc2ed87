// Package driver resolves requested task names against the registry and runs
// the resolved tasks, recording one outcome per task.
package driver

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/internal/tasks"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Driver runs checks and upgrades. A Driver may run several batches; Outcomes
// accumulates across them.
type Driver struct {
	registry    *tasks.Registry
	logger      *slog.Logger
	metrics     *metrics.Recorder
	parallelism int

	mu       sync.Mutex
	outcomes []types.TaskOutcome
}

// New returns a driver over reg. Parallelism below one runs tasks one at a
// time.
func New(reg *tasks.Registry, logger *slog.Logger, rec *metrics.Recorder, parallelism int) *Driver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if parallelism < 1 {
		parallelism = 1
	}
	return &Driver{registry: reg, logger: logger, metrics: rec, parallelism: parallelism}
}

// RunChecks runs the named checks, or every check when all is set. The
// result maps each resolved name to whether it completed cleanly. An error
// is returned only when resolution fails, in which case nothing ran.
func (d *Driver) RunChecks(ctx context.Context, names []string, all bool) (map[string]bool, error) {
	return d.run(ctx, types.KindCheck, names, all)
}

// RunUpgrades runs the named upgrades with the same contract as RunChecks.
func (d *Driver) RunUpgrades(ctx context.Context, names []string) (map[string]bool, error) {
	return d.run(ctx, types.KindUpgrade, names, false)
}

// Outcomes returns the outcomes recorded so far, ordered by kind and name.
func (d *Driver) Outcomes() []types.TaskOutcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.TaskOutcome, len(d.outcomes))
	copy(out, d.outcomes)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func (d *Driver) run(ctx context.Context, kind types.Kind, names []string, all bool) (map[string]bool, error) {
	resolved, err := d.registry.Resolve(kind, names, all)
	if err != nil {
		return nil, err
	}

	results := make(map[string]bool, len(resolved))
	var mu sync.Mutex

	// Task errors are recorded, not returned, so one failure never cancels
	// its siblings.
	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for _, task := range resolved {
		g.Go(func() error {
			ok := d.runOne(ctx, kind, task)
			mu.Lock()
			results[task.Name()] = ok
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (d *Driver) runOne(ctx context.Context, kind types.Kind, task types.Task) bool {
	name := task.Name()
	log := d.logger.With("kind", string(kind), "task", name)
	log.Info("task started")

	start := time.Now()
	ok, err := d.invoke(ctx, task)
	elapsed := time.Since(start)

	outcome := types.TaskOutcome{Name: name, Kind: kind, OK: ok && err == nil, Duration: elapsed}
	result := metrics.ResultOK
	switch {
	case err != nil:
		outcome.OK = false
		outcome.Error = err.Error()
		result = metrics.ResultError
		if toolbox.IsCancelled(err) {
			log.Warn("task cancelled", "elapsed", elapsed, "error", err)
		} else {
			log.Error("task failed", "elapsed", elapsed, "error", err)
		}
	case !ok:
		result = metrics.ResultFailed
		log.Warn("task incomplete", "elapsed", elapsed)
	default:
		log.Info("task complete", "elapsed", elapsed)
	}
	d.metrics.ObserveTask(name, result, elapsed)

	d.mu.Lock()
	d.outcomes = append(d.outcomes, outcome)
	d.mu.Unlock()
	return outcome.OK
}

// invoke skips tasks whose context is already done.
func (d *Driver) invoke(ctx context.Context, task types.Task) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return task.Run(ctx)
}
