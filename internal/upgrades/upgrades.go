// Package upgrades holds the one-time schema upgrades. They run through the
// same harness as the checks and are idempotent, so rerunning one is safe.
package upgrades

import (
	"context"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Upgrade names as registered with the task registry.
const (
	CreateTablesUpgrade = "create_tables"
	EdgeIndexesUpgrade  = "edge_indexes"
	DataIndexesUpgrade  = "data_indexes"
)

// All returns every upgrade bound to tb.
func All(tb *toolbox.Toolbox) []types.Task {
	return []types.Task{
		&CreateTables{tb: tb},
		&Indexes{tb: tb, name: EdgeIndexesUpgrade, defs: schema.EdgeIndexes()},
		&Indexes{tb: tb, name: DataIndexesUpgrade, defs: schema.DataIndexes()},
	}
}

// CreateTables creates the fixed tables and the per-entity-set and
// per-property-type tables of every registered entity set and property type.
type CreateTables struct {
	tb *toolbox.Toolbox
}

func (u *CreateTables) Name() string { return CreateTablesUpgrade }

func (u *CreateTables) Run(ctx context.Context) (bool, error) {
	tb := u.tb
	var defs []schema.TableDefinition
	defs = append(defs, schema.FixedTables()...)
	for _, es := range tb.Snapshot.EntitySets() {
		defs = append(defs, schema.EntitySetTableDefinition(es))
	}
	for _, pt := range tb.Snapshot.PropertyTypes() {
		defs = append(defs, schema.PropertyTypeTableDefinition(pt))
	}

	_, err := tb.Step(u.Name(), "tables", func() (int64, error) {
		var created int64
		for _, def := range defs {
			exists, err := tb.TableExists(ctx, tb.DB, def.Name)
			if err != nil {
				return created, err
			}
			if exists {
				continue
			}
			if err := tb.CreateTable(ctx, def); err != nil {
				return created, err
			}
			created++
		}
		return created, nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Indexes creates a fixed set of indexes.
type Indexes struct {
	tb   *toolbox.Toolbox
	name string
	defs []schema.IndexDefinition
}

func (u *Indexes) Name() string { return u.name }

func (u *Indexes) Run(ctx context.Context) (bool, error) {
	_, err := u.tb.Step(u.name, "indexes", func() (int64, error) {
		for i, def := range u.defs {
			if err := u.tb.CreateIndex(ctx, def); err != nil {
				return int64(i), err
			}
		}
		return int64(len(u.defs)), nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
