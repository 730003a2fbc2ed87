// Package executor runs repair units on a bounded set of goroutines shared by
// every task of a run.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned when work is submitted after Close.
var ErrClosed = errors.New("executor closed")

// Executor bounds the number of units running at once. Units must not
// submit to the executor that runs them; a full executor would deadlock.
type Executor struct {
	sem     *semaphore.Weighted
	workers int
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New returns an executor running at most workers units at a time. Values
// below one are raised to one.
func New(workers int) *Executor {
	if workers <= 0 {
		workers = 1
	}
	return &Executor{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
	}
}

// Workers reports the concurrency bound.
func (e *Executor) Workers() int { return e.workers }

// Execute runs fn on the executor without waiting for it. It blocks only
// until a slot is free and fails if ctx ends first.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context)) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.sem.Release(1)
		fn(ctx)
	}()
	return nil
}

// Close rejects further submissions and waits for running units.
func (e *Executor) Close() {
	e.closed.Store(true)
	e.wg.Wait()
}

// Group collects units submitted for one fan-out so the submitter can join
// on all of them.
type Group struct {
	e    *Executor
	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
	done atomic.Int64
}

// NewGroup starts a fan-out on the executor.
func (e *Executor) NewGroup() *Group {
	return &Group{e: e}
}

// Go submits fn as a unit named name. A unit that cannot be scheduled
// because ctx ended is recorded as failed.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	err := g.e.Execute(ctx, func(ctx context.Context) {
		defer g.wg.Done()
		defer g.done.Add(1)
		if err := fn(ctx); err != nil {
			g.record(fmt.Errorf("%s: %w", name, err))
		}
	})
	if err != nil {
		g.record(fmt.Errorf("%s: schedule: %w", name, err))
		g.wg.Done()
	}
}

func (g *Group) record(err error) {
	g.mu.Lock()
	g.errs = append(g.errs, err)
	g.mu.Unlock()
}

// Wait blocks until every submitted unit has returned. It returns every unit
// error joined, or nil.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	return errors.Join(g.errs...)
}

// Completed reports how many submitted units have run to completion.
func (g *Group) Completed() int {
	return int(g.done.Load())
}
