package cli

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/mender/internal/driver"
	"github.com/mesh-intelligence/mender/internal/executor"
	"github.com/mesh-intelligence/mender/internal/integrity"
	"github.com/mesh-intelligence/mender/internal/metadata"
	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/internal/report"
	"github.com/mesh-intelligence/mender/internal/store"
	"github.com/mesh-intelligence/mender/internal/tasks"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/internal/upgrades"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// app is the wired object graph of one run.
type app struct {
	cfg     types.Config
	logger  *slog.Logger
	db      *sql.DB
	exec    *executor.Executor
	metrics *metrics.Recorder
	driver  *driver.Driver
}

// newRegistry registers every check and upgrade bound to tb. A nil tb is
// enough for listing names.
func newRegistry(tb *toolbox.Toolbox) (*tasks.Registry, error) {
	reg := tasks.NewRegistry()
	if err := reg.Register(types.KindCheck, integrity.Checks(tb)...); err != nil {
		return nil, err
	}
	if err := reg.Register(types.KindUpgrade, upgrades.All(tb)...); err != nil {
		return nil, err
	}
	return reg, nil
}

// openApp connects to the store, loads the metadata snapshot and wires the
// task harness. With bootstrap set the fixed tables are created first, so
// upgrades can run against an empty database.
func openApp(ctx context.Context, cfg types.Config, logger *slog.Logger, bootstrap bool) (*app, error) {
	db, d, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if bootstrap {
		if err := store.Migrate(ctx, db, d); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	snap, err := metadata.Load(ctx,
		metadata.NewEntitySetStore(db, d),
		metadata.NewEntityTypeStore(db, d),
		metadata.NewPropertyTypeStore(db, d),
	)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	logger.Info("metadata loaded",
		"dialect", d.Name(),
		"entity_sets", len(snap.EntitySetIDs()),
		"property_types", len(snap.PropertyTypeIDs()))

	exec := executor.New(cfg.Workers)
	rec := metrics.New()
	tb := toolbox.New(db, d, exec, snap, logger, rec, cfg.BatchSize)
	reg, err := newRegistry(tb)
	if err != nil {
		exec.Close()
		_ = db.Close()
		return nil, err
	}
	return &app{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		exec:    exec,
		metrics: rec,
		driver:  driver.New(reg, logger, rec, cfg.TaskParallelism),
	}, nil
}

// finish writes the run report and metrics textfile. Failures are logged;
// they never change the task results.
func (a *app) finish(ctx context.Context, kind types.Kind, started time.Time) report.Report {
	r := report.Report{
		Kind:       kind,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Tasks:      a.driver.Outcomes(),
		Steps:      a.metrics.Steps(),
	}
	sinks, err := report.FromConfig(ctx, a.cfg.Report, a.logger)
	if err != nil {
		a.logger.Warn("report sinks unavailable", "error", err)
	} else {
		_ = sinks.Write(ctx, r)
	}
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
			a.logger.Warn("metrics textfile not written", "error", err)
		}
	}
	return r
}

func (a *app) Close() error {
	a.exec.Close()
	return a.db.Close()
}
