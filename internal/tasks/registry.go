// Package tasks keeps the named checks and upgrades a run can execute and
// resolves requested names against them.
package tasks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mesh-intelligence/mender/pkg/types"
)

// UnknownTaskError lists every requested name the registry does not know.
type UnknownTaskError struct {
	Kind  types.Kind
	Names []string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("unknown %s task(s): %s", e.Kind, strings.Join(e.Names, ", "))
}

func (e *UnknownTaskError) Unwrap() error { return types.ErrUnknownTask }

// Registry holds one collection of tasks per kind. It is filled by the
// composition root before any run and only read afterwards.
type Registry struct {
	tasks map[types.Kind]map[string]types.Task
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[types.Kind]map[string]types.Task)}
}

// Register adds tasks under kind. Names must be unique within a kind.
func (r *Registry) Register(kind types.Kind, tasks ...types.Task) error {
	byName, ok := r.tasks[kind]
	if !ok {
		byName = make(map[string]types.Task)
		r.tasks[kind] = byName
	}
	for _, t := range tasks {
		if _, dup := byName[t.Name()]; dup {
			return fmt.Errorf("%w: %s %q", types.ErrDuplicateTask, kind, t.Name())
		}
		byName[t.Name()] = t
	}
	return nil
}

// Names lists the registered names of kind in sorted order.
func (r *Registry) Names(kind types.Kind) []string {
	names := make([]string, 0, len(r.tasks[kind]))
	for name := range r.tasks[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps requested names to tasks of kind. With all set, every task of
// the kind is returned in name order. Resolution is fail-closed: if any name
// is unknown nothing is returned and the error lists every unknown name.
// Repeated names resolve once, in first-request order.
func (r *Registry) Resolve(kind types.Kind, names []string, all bool) ([]types.Task, error) {
	if all {
		names = append(r.Names(kind), names...)
	}
	if len(names) == 0 {
		return nil, types.ErrNoTasks
	}

	var (
		resolved []types.Task
		unknown  []string
		seen     = make(map[string]bool, len(names))
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		t, ok := r.tasks[kind][name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		resolved = append(resolved, t)
	}
	if len(unknown) > 0 {
		return nil, &UnknownTaskError{Kind: kind, Names: unknown}
	}
	return resolved, nil
}
