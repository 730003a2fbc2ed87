package upgrades

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

func TestAllNames(t *testing.T) {
	s := storetest.Open(t)
	var names []string
	for _, u := range All(s.Toolbox(1, 10)) {
		names = append(names, u.Name())
	}
	assert.Equal(t, []string{CreateTablesUpgrade, EdgeIndexesUpgrade, DataIndexesUpgrade}, names)
}

func TestCreateTablesFillsMissingTables(t *testing.T) {
	s := storetest.Open(t)
	ctx := context.Background()

	es := types.EntitySet{ID: uuid.New(), Name: "people", EntityTypeID: uuid.New()}
	pt := types.PropertyType{ID: uuid.New(), Type: types.ParseFQN("general.fullname")}
	// Registry rows without their physical tables.
	s.Exec("INSERT INTO entity_sets (id, name, entity_type_id) VALUES (?1, ?2, ?3)", es.ID, es.Name, es.EntityTypeID)
	s.Exec("INSERT INTO property_types (id, namespace, name, datatype) VALUES (?1, 'general', 'fullname', 'String')", pt.ID)

	tb := s.Toolbox(1, 10)
	u := &CreateTables{tb: tb}

	ok, err := u.Run(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	for _, table := range []string{schema.EntitySetTable(es.ID), schema.PropertyTypeTable(pt.ID)} {
		exists, err := tb.TableExists(ctx, tb.DB, table)
		require.NoError(t, err)
		assert.True(t, exists, table)
	}
	cols, err := tb.ColumnNames(ctx, tb.DB, schema.PropertyTypeTable(pt.ID))
	require.NoError(t, err)
	assert.Contains(t, cols, "general.fullname")

	steps := tb.Metrics.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, int64(2), steps[0].Rows, "fixed tables already existed")

	ok, err = u.Run(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(0), tb.Metrics.Steps()[1].Rows)
}

func TestIndexesAreIdempotent(t *testing.T) {
	s := storetest.Open(t)
	tb := s.Toolbox(1, 10)
	ctx := context.Background()

	for _, u := range All(tb)[1:] {
		for run := 0; run < 2; run++ {
			ok, err := u.Run(ctx)
			require.NoError(t, err, u.Name())
			assert.True(t, ok)
		}
	}
	want := len(schema.EdgeIndexes()) + len(schema.DataIndexes())
	assert.Equal(t, want, s.Count("sqlite_master", "type = 'index' AND name LIKE '%_idx'"))
}
