package metadata

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/mender/pkg/types"
)

// Snapshot is the metadata of one run. It is never refreshed or mutated
// after Load returns, so tasks may read it from any goroutine.
type Snapshot struct {
	entitySets    map[uuid.UUID]types.EntitySet
	entityTypes   map[uuid.UUID]types.EntityType
	propertyTypes map[uuid.UUID]types.PropertyType

	entitySetIDs    []uuid.UUID
	propertyTypeIDs []uuid.UUID
}

// Load reads all three registries concurrently. Any failure aborts the load
// and no snapshot is returned.
func Load(
	ctx context.Context,
	entitySets MapStore[types.EntitySet],
	entityTypes MapStore[types.EntityType],
	propertyTypes MapStore[types.PropertyType],
) (*Snapshot, error) {
	var (
		es  map[uuid.UUID]types.EntitySet
		et  map[uuid.UUID]types.EntityType
		pts map[uuid.UUID]types.PropertyType
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		es, err = loadAll(gctx, "entity sets", entitySets)
		return err
	})
	g.Go(func() (err error) {
		et, err = loadAll(gctx, "entity types", entityTypes)
		return err
	})
	g.Go(func() (err error) {
		pts, err = loadAll(gctx, "property types", propertyTypes)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return newSnapshot(es, et, pts), nil
}

func loadAll[V any](ctx context.Context, what string, ms MapStore[V]) (map[uuid.UUID]V, error) {
	keys, err := ms.LoadAllKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	m, err := ms.LoadAll(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", what, err)
	}
	return m, nil
}

// New builds a snapshot from in-memory values.
func New(entitySets []types.EntitySet, entityTypes []types.EntityType, propertyTypes []types.PropertyType) *Snapshot {
	es := make(map[uuid.UUID]types.EntitySet, len(entitySets))
	for _, v := range entitySets {
		es[v.ID] = v
	}
	et := make(map[uuid.UUID]types.EntityType, len(entityTypes))
	for _, v := range entityTypes {
		et[v.ID] = v
	}
	pts := make(map[uuid.UUID]types.PropertyType, len(propertyTypes))
	for _, v := range propertyTypes {
		pts[v.ID] = v
	}
	return newSnapshot(es, et, pts)
}

func newSnapshot(
	es map[uuid.UUID]types.EntitySet,
	et map[uuid.UUID]types.EntityType,
	pts map[uuid.UUID]types.PropertyType,
) *Snapshot {
	return &Snapshot{
		entitySets:      es,
		entityTypes:     et,
		propertyTypes:   pts,
		entitySetIDs:    sortedKeys(es),
		propertyTypeIDs: sortedKeys(pts),
	}
}

func sortedKeys[V any](m map[uuid.UUID]V) []uuid.UUID {
	keys := make([]uuid.UUID, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// EntitySetIDs returns the registered entity set ids in a stable order.
func (s *Snapshot) EntitySetIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), s.entitySetIDs...)
}

// EntitySets returns the registered entity sets ordered by id.
func (s *Snapshot) EntitySets() []types.EntitySet {
	out := make([]types.EntitySet, len(s.entitySetIDs))
	for i, id := range s.entitySetIDs {
		out[i] = s.entitySets[id]
	}
	return out
}

func (s *Snapshot) EntitySet(id uuid.UUID) (types.EntitySet, bool) {
	v, ok := s.entitySets[id]
	return v, ok
}

func (s *Snapshot) EntityType(id uuid.UUID) (types.EntityType, bool) {
	v, ok := s.entityTypes[id]
	return v, ok
}

func (s *Snapshot) PropertyType(id uuid.UUID) (types.PropertyType, bool) {
	v, ok := s.propertyTypes[id]
	return v, ok
}

// PropertyTypeIDs returns the registered property type ids in a stable order.
func (s *Snapshot) PropertyTypeIDs() []uuid.UUID {
	return append([]uuid.UUID(nil), s.propertyTypeIDs...)
}

// PropertyTypes returns the registered property types ordered by id.
func (s *Snapshot) PropertyTypes() []types.PropertyType {
	out := make([]types.PropertyType, len(s.propertyTypeIDs))
	for i, id := range s.propertyTypeIDs {
		out[i] = s.propertyTypes[id]
	}
	return out
}
