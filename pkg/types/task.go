package types

import (
	"context"
	"errors"
	"time"
)

// Kind separates diagnostic checks from one-time upgrades. Both run through
// the same harness; the registry keeps them in separate collections.
type Kind string

const (
	KindCheck   Kind = "check"
	KindUpgrade Kind = "upgrade"
)

// Task is a named, idempotent unit of work.
//
// Run returns true when the task completed without violating its own
// invariants and false when it ran but found a problem it could not fully
// resolve. A non-nil error is reserved for unrecoverable conditions: a lost
// connection, cancellation, or a consistency violation it refuses to guess
// a fix for.
type Task interface {
	Name() string
	Run(ctx context.Context) (bool, error)
}

// TaskOutcome is the driver's record of one task execution.
type TaskOutcome struct {
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Task harness errors.
var (
	ErrUnknownTask   = errors.New("unknown task")
	ErrDuplicateTask = errors.New("task already registered")
	ErrNoTasks       = errors.New("no tasks requested")
)

// ErrConsistency marks a violation found mid-repair that the task will not
// auto-correct.
var ErrConsistency = errors.New("consistency violation")
