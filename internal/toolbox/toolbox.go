// Package toolbox bundles what every task needs to reach the store: the
// pooled connection, the dialect, the shared executor, the metadata snapshot,
// the logger and the metrics recorder.
package toolbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/mender/internal/executor"
	"github.com/mesh-intelligence/mender/internal/metadata"
	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Toolbox is shared by all tasks of a run. Its fields are set once by the
// composition root and never reassigned.
type Toolbox struct {
	DB        *sql.DB
	Dialect   schema.Dialect
	Executor  *executor.Executor
	Snapshot  *metadata.Snapshot
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
	BatchSize int
}

// New fills defaults for the optional fields.
func New(db *sql.DB, d schema.Dialect, exec *executor.Executor, snap *metadata.Snapshot, logger *slog.Logger, rec *metrics.Recorder, batchSize int) *Toolbox {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if batchSize <= 0 {
		batchSize = types.DefaultBatchSize
	}
	return &Toolbox{
		DB:        db,
		Dialect:   d,
		Executor:  exec,
		Snapshot:  snap,
		Logger:    logger,
		Metrics:   rec,
		BatchSize: batchSize,
	}
}

// WithConn runs fn on a dedicated connection and returns it to the pool
// afterwards, whatever fn returns.
func (tb *Toolbox) WithConn(ctx context.Context, fn func(conn *sql.Conn) error) (err error) {
	conn, err := tb.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("release connection: %w", cerr)
		}
	}()
	return fn(conn)
}

// WithTx runs fn in a transaction. The transaction commits when fn returns
// nil and rolls back otherwise.
func (tb *Toolbox) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := tb.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}

// Step times fn, logs the rows it reports and records them under task and
// step. The error of fn is returned unchanged.
func (tb *Toolbox) Step(task, step string, fn func() (int64, error)) (int64, error) {
	start := time.Now()
	rows, err := fn()
	elapsed := time.Since(start)
	if err != nil {
		tb.Logger.Error("step failed", "task", task, "step", step, "elapsed", elapsed, "error", err)
		return rows, err
	}
	tb.Record(task, step, rows, elapsed)
	return rows, nil
}

// TxSteps buffers the steps of one transaction. Rows deleted by a
// transaction that rolls back were never reclaimed, so nothing is recorded
// until Flush, which callers invoke after the commit.
type TxSteps struct {
	tb      *Toolbox
	task    string
	pending []pendingStep
}

type pendingStep struct {
	step    string
	rows    int64
	elapsed time.Duration
}

func (tb *Toolbox) TxSteps(task string) *TxSteps {
	return &TxSteps{tb: tb, task: task}
}

// Step times fn like Toolbox.Step but holds the record back. Failures are
// logged at once.
func (s *TxSteps) Step(step string, fn func() (int64, error)) (int64, error) {
	start := time.Now()
	rows, err := fn()
	elapsed := time.Since(start)
	if err != nil {
		s.tb.Logger.Error("step failed", "task", s.task, "step", step, "elapsed", elapsed, "error", err)
		return rows, err
	}
	s.pending = append(s.pending, pendingStep{step: step, rows: rows, elapsed: elapsed})
	return rows, nil
}

// Flush records every buffered step in the order it ran.
func (s *TxSteps) Flush() {
	for _, p := range s.pending {
		s.tb.Record(s.task, p.step, p.rows, p.elapsed)
	}
	s.pending = nil
}

// Record logs and records a step whose rows were counted elsewhere, such as
// the sum over a fan-out.
func (tb *Toolbox) Record(task, step string, rows int64, elapsed time.Duration) {
	tb.Logger.Info("step complete", "task", task, "step", step, "rows", rows, "elapsed", elapsed)
	tb.Metrics.ObserveStep(task, step, rows, elapsed)
}

// CreateTable applies a table definition if the table does not exist.
func (tb *Toolbox) CreateTable(ctx context.Context, def schema.TableDefinition) error {
	if _, err := tb.DB.ExecContext(ctx, def.CreateSQL(tb.Dialect)); err != nil {
		return fmt.Errorf("create table %s: %w", def.Name, err)
	}
	return nil
}

// CreateIndex applies an index definition if the index does not exist.
func (tb *Toolbox) CreateIndex(ctx context.Context, def schema.IndexDefinition) error {
	if _, err := tb.DB.ExecContext(ctx, def.CreateSQL()); err != nil {
		return fmt.Errorf("create index %s: %w", def.Name, err)
	}
	return nil
}

// TableExists reports whether the unquoted table name exists.
func (tb *Toolbox) TableExists(ctx context.Context, q Querier, table string) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, tb.Dialect.TableExistsQuery(), table).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return exists, nil
}

// ColumnNames lists the columns of an existing table.
func (tb *Toolbox) ColumnNames(ctx context.Context, q Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, tb.Dialect.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("list columns of %s: %w", table, err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return cols, nil
}

// IsCancelled reports whether err stems from context cancellation or a
// deadline.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
