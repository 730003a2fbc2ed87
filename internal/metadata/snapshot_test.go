package metadata_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/internal/metadata"
	"github.com/mesh-intelligence/mender/internal/storetest"
	"github.com/mesh-intelligence/mender/pkg/types"
)

func TestLoadFromSQL(t *testing.T) {
	s := storetest.Open(t)

	name := types.PropertyType{ID: uuid.New(), Type: types.ParseFQN("general.fullname"), Datatype: "String"}
	dob := types.PropertyType{ID: uuid.New(), Type: types.ParseFQN("nc.dob"), Datatype: "Date"}
	person := types.EntityType{ID: uuid.New(), Type: types.ParseFQN("general.person"), Properties: []uuid.UUID{name.ID, dob.ID}}
	people := types.EntitySet{ID: uuid.New(), Name: "people", EntityTypeID: person.ID}
	staff := types.EntitySet{ID: uuid.New(), Name: "staff", EntityTypeID: person.ID}

	s.AddPropertyType(name)
	s.AddPropertyType(dob)
	s.AddEntityType(person)
	s.AddEntitySet(people)
	s.AddEntitySet(staff)

	snap, err := metadata.Load(context.Background(),
		metadata.NewEntitySetStore(s.DB, s.D),
		metadata.NewEntityTypeStore(s.DB, s.D),
		metadata.NewPropertyTypeStore(s.DB, s.D),
	)
	require.NoError(t, err)

	assert.ElementsMatch(t, []uuid.UUID{people.ID, staff.ID}, snap.EntitySetIDs())
	got, ok := snap.EntitySet(people.ID)
	require.True(t, ok)
	assert.Equal(t, people, got)

	et, ok := snap.EntityType(person.ID)
	require.True(t, ok)
	assert.Equal(t, person, et)

	pt, ok := snap.PropertyType(dob.ID)
	require.True(t, ok)
	assert.Equal(t, dob, pt)

	assert.ElementsMatch(t, []types.PropertyType{name, dob}, snap.PropertyTypes())
	assert.Len(t, snap.PropertyTypeIDs(), 2)
}

func TestLoadEmptyRegistry(t *testing.T) {
	s := storetest.Open(t)
	snap, err := metadata.Load(context.Background(),
		metadata.NewEntitySetStore(s.DB, s.D),
		metadata.NewEntityTypeStore(s.DB, s.D),
		metadata.NewPropertyTypeStore(s.DB, s.D),
	)
	require.NoError(t, err)
	assert.Empty(t, snap.EntitySetIDs())
	assert.Empty(t, snap.PropertyTypes())
}

type fakeStore[V any] struct {
	values  map[uuid.UUID]V
	keysErr error
}

func (f fakeStore[V]) LoadAllKeys(context.Context) ([]uuid.UUID, error) {
	if f.keysErr != nil {
		return nil, f.keysErr
	}
	keys := make([]uuid.UUID, 0, len(f.values))
	for k := range f.values {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f fakeStore[V]) LoadAll(_ context.Context, keys []uuid.UUID) (map[uuid.UUID]V, error) {
	out := make(map[uuid.UUID]V, len(keys))
	for _, k := range keys {
		out[k] = f.values[k]
	}
	return out, nil
}

func TestLoadFailureReturnsNoSnapshot(t *testing.T) {
	boom := errors.New("connection reset")
	snap, err := metadata.Load(context.Background(),
		fakeStore[types.EntitySet]{},
		fakeStore[types.EntityType]{keysErr: boom},
		fakeStore[types.PropertyType]{},
	)
	assert.Nil(t, snap)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "entity types")
}

func TestSnapshotAccessorsAreCopies(t *testing.T) {
	a := types.EntitySet{ID: uuid.New(), Name: "a"}
	b := types.EntitySet{ID: uuid.New(), Name: "b"}
	snap := metadata.New([]types.EntitySet{a, b}, nil, nil)

	ids := snap.EntitySetIDs()
	require.Len(t, ids, 2)
	ids[0] = uuid.Nil
	assert.NotContains(t, snap.EntitySetIDs(), uuid.Nil)

	sets := snap.EntitySets()
	assert.Equal(t, snap.EntitySetIDs()[0], sets[0].ID)

	_, ok := snap.EntityType(uuid.New())
	assert.False(t, ok)
	assert.Empty(t, snap.PropertyTypes())
}
