package integrity

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/storetest"
	"github.com/mesh-intelligence/mender/pkg/types"
)

func TestLinkingRepair(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	es := r.entitySet("people")
	p1 := r.pt.ID

	sentinel := func(origin uuid.UUID, hash string, version int64, versions ...int64) {
		s.AddData(storetest.DataRow{EntitySetID: es.ID, ID: origin, OriginID: types.EmptyOriginID,
			PropertyTypeID: p1, Hash: hash, Version: version, Versions: versions})
	}
	mirror := func(id, origin uuid.UUID, version int64, versions ...int64) {
		s.AddData(storetest.DataRow{EntitySetID: es.ID, ID: id, OriginID: origin,
			PropertyTypeID: p1, Version: version, Versions: versions})
	}

	o1, o2, o3, o4, o5 := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()
	e1, e2, e3, e4, e5 := uuid.New(), uuid.New(), uuid.New(), uuid.New(), uuid.New()

	// o1: the sentinel copy was tombstoned; the live mirror follows it.
	sentinel(o1, "h", -7, 7, -7)
	mirror(e1, o1, 2, 1, 2)
	// o2: both copies live.
	sentinel(o2, "h", 5, 5)
	mirror(e2, o2, 5, 5)
	// o3: no sentinel copy left, the mirror is orphaned.
	mirror(e3, o3, 4, 4)
	// o4: two tombstones for the same pair, the most recent wins.
	sentinel(o4, "h1", -3, 3, -3)
	sentinel(o4, "h2", -9, 9, -9)
	mirror(e4, o4, 6, 6)
	// o5: the mirror is already tombstoned and must not be touched.
	sentinel(o5, "h", -4, 4, -4)
	mirror(e5, o5, -2, 1, 2, -2)

	tb := s.Toolbox(2, 1)
	check := NewLinking(tb)

	assertState := func(t *testing.T) {
		t.Helper()
		v, vs, ok := s.DataVersion(e1, o1, p1)
		require.True(t, ok, "tombstoned mirror survives the delete phase")
		assert.Equal(t, int64(-7), v)
		assert.Equal(t, []int64{1, 2, -7}, vs)

		v, vs, ok = s.DataVersion(e2, o2, p1)
		require.True(t, ok)
		assert.Equal(t, int64(5), v)
		assert.Equal(t, []int64{5}, vs)

		_, _, ok = s.DataVersion(e3, o3, p1)
		assert.False(t, ok, "unlinked live mirror deleted")

		v, vs, ok = s.DataVersion(e4, o4, p1)
		require.True(t, ok)
		assert.Equal(t, int64(-9), v)
		assert.Equal(t, []int64{6, -9}, vs)

		v, vs, ok = s.DataVersion(e5, o5, p1)
		require.True(t, ok)
		assert.Equal(t, int64(-2), v)
		assert.Equal(t, []int64{1, 2, -2}, vs)

		assert.Equal(t, 5, s.Count(schema.Data, "origin_id = ?1", types.EmptyOriginID), "sentinel rows are never modified")
	}

	ok, err := check.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assertState(t)

	rows := map[string]int64{}
	for _, st := range tb.Metrics.Steps() {
		rows[st.Step] = st.Rows
	}
	assert.Equal(t, int64(2), rows[stepLinkingTombstone], "batch size 1 still drains every tombstone")
	assert.Equal(t, int64(1), rows[stepLinkingDelete])

	t.Run("second run appends nothing", func(t *testing.T) {
		ok, err := check.Run(context.Background())
		require.NoError(t, err)
		assert.True(t, ok)
		assertState(t)
	})
}

func TestLinkingScopesDeleteToLiveRows(t *testing.T) {
	r := newRegistry(t)
	s := r.s
	es := r.entitySet("people")
	o, e := uuid.New(), uuid.New()

	// A tombstoned mirror without any sentinel copy is left for a later pass.
	s.AddData(storetest.DataRow{EntitySetID: es.ID, ID: e, OriginID: o, PropertyTypeID: r.pt.ID, Version: -3, Versions: []int64{3, -3}})

	ok, err := NewLinking(s.Toolbox(1, 10)).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	_, _, found := s.DataVersion(e, o, r.pt.ID)
	assert.True(t, found)
}
