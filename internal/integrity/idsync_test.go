package integrity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/pkg/types"
)

func TestIDSyncRemovesUnsynchronizedIDs(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	a := r.entitySet("A")
	kept1, kept2, orphan := uuid.New(), uuid.New(), uuid.New()

	s.AddEntityKeys(a.ID, kept1, kept2)
	s.AddID(a.ID, kept1, 1, 1)
	s.AddID(a.ID, kept2, 1, 1)
	s.AddID(a.ID, orphan, 1, 1)
	s.AddPropertyValue(r.pt, a.ID, kept1, "Ada")
	s.AddPropertyValue(r.pt, a.ID, orphan, "Ghost")
	s.AddIDMigration(a.ID, kept1)
	s.AddIDMigration(a.ID, orphan)

	tb := s.Toolbox(2, 100)
	check := NewIDSync(tb)

	assertState := func(t *testing.T) {
		t.Helper()
		ptTable := schema.PropertyTypeTable(r.pt.ID)
		assert.Equal(t, 2, s.Count(schema.IDs, "entity_set_id = ?1", a.ID))
		assert.Equal(t, 0, s.Count(schema.IDs, "id = ?1", orphan))
		assert.Equal(t, 1, s.Count(ptTable, "id = ?1", kept1))
		assert.Equal(t, 0, s.Count(ptTable, "id = ?1", orphan))
		assert.Equal(t, 1, s.Count(schema.IDMigration, "id = ?1", kept1))
		assert.Equal(t, 0, s.Count(schema.IDMigration, "id = ?1", orphan))
	}

	ok, err := check.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assertState(t)

	ok, err = check.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assertState(t)
}

func TestIDSyncSkipsEntitySetsWithoutTable(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	a := r.entitySet("A")
	broken := r.entitySet("broken")
	s.Exec("DROP TABLE " + schema.Quote(schema.EntitySetTable(broken.ID)))

	orphan, untouched := uuid.New(), uuid.New()
	s.AddID(a.ID, orphan, 1, 1)
	s.AddID(broken.ID, untouched, 1, 1)

	ok, err := NewIDSync(s.Toolbox(2, 100)).Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "an unchecked entity set is reported")
	assert.Equal(t, 0, s.Count(schema.IDs, "id = ?1", orphan), "other entity sets are still repaired")
	assert.Equal(t, 1, s.Count(schema.IDs, "id = ?1", untouched), "ids are never deleted against a missing table")
}

func TestIDSyncWaitsForEveryEntitySet(t *testing.T) {
	r := newRegistry(t)
	s := r.s

	const sets = 12
	for i := 0; i < sets; i++ {
		es := r.entitySet("es")
		// Uneven sizes: later entity sets carry more orphans.
		for j := 0; j <= i; j++ {
			s.AddID(es.ID, uuid.New(), 1, 1)
		}
	}

	tb := s.Toolbox(4, 100)
	ok, err := NewIDSync(tb).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, s.Count(schema.IDs, ""), "every unit finished before Run returned")

	var total int64
	for _, st := range tb.Metrics.Steps() {
		if st.Step == stepIDsUnsynchronized {
			total += st.Rows
		}
	}
	assert.Equal(t, int64(sets*(sets+1)/2), total)
}

func TestIDSyncPurgesValuesOutsideEntityType(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	a := r.entitySet("A")

	// Registered, but no longer on A's entity type.
	nickname := types.PropertyType{ID: uuid.New(), Type: types.ParseFQN("general.nickname"), Datatype: "String"}
	s.AddPropertyType(nickname)

	kept, orphan := uuid.New(), uuid.New()
	s.AddEntityKeys(a.ID, kept)
	s.AddID(a.ID, kept, 1, 1)
	s.AddID(a.ID, orphan, 1, 1)
	s.AddPropertyValue(nickname, a.ID, kept, "Ada")
	s.AddPropertyValue(nickname, a.ID, orphan, "Ghost")

	tb := s.Toolbox(2, 100)
	ok, err := NewIDSync(tb).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	nicknames := schema.PropertyTypeTable(nickname.ID)
	assert.Equal(t, 0, s.Count(schema.IDs, "id = ?1", orphan))
	assert.Equal(t, 0, s.Count(nicknames, "id = ?1", orphan), "values go with their id")
	assert.Equal(t, 1, s.Count(nicknames, "id = ?1", kept))

	var values int64
	for _, st := range tb.Metrics.Steps() {
		if st.Step == stepIDsPropertyValues {
			values += st.Rows
		}
	}
	assert.Equal(t, int64(1), values)
}

func TestIDSyncCancelled(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	orphans := make([]uuid.UUID, 0, 4)
	for _, name := range []string{"A", "B", "C", "D"} {
		es := r.entitySet(name)
		id := uuid.New()
		s.AddID(es.ID, id, 1, 1)
		orphans = append(orphans, id)
	}

	tb := s.Toolbox(2, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ok, err := NewIDSync(tb).Run(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, len(orphans), s.Count(schema.IDs, ""), "no unit committed")
	for _, st := range tb.Metrics.Steps() {
		assert.Zero(t, st.Rows, st.Step)
	}
}
