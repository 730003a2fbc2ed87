package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
)

// Step names of the edge check.
const (
	stepEdgesMissingEntitySets = "missing_entity_sets"
	stepEdgesMissingIDs        = "missing_ids"
	stepEdgesTombstonedIDs     = "tombstoned_ids"
)

// Edges removes edges that point at deleted entity sets or entities and
// clears edges whose endpoint was tombstoned.
//
// Phase A filters against the registry in one statement. Phase B then runs
// one unit per registered entity set on the executor; a unit hard-deletes
// edges whose endpoint id is gone from the id table and clears live edges
// whose endpoint id row is tombstoned.
type Edges struct {
	tb *toolbox.Toolbox
}

func NewEdges(tb *toolbox.Toolbox) *Edges { return &Edges{tb: tb} }

func (c *Edges) Name() string { return EdgesCheck }

func (c *Edges) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	if _, err := tb.Step(c.Name(), stepEdgesMissingEntitySets, func() (int64, error) {
		return c.deleteUnregistered(ctx)
	}); err != nil {
		return false, err
	}

	var deleted, cleared atomic.Int64
	start := time.Now()
	g := tb.Executor.NewGroup()
	for _, esID := range tb.Snapshot.EntitySetIDs() {
		g.Go(ctx, "edges of "+esID.String(), func(ctx context.Context) error {
			var n, m int64
			err := tb.WithTx(ctx, func(tx *sql.Tx) error {
				var err error
				if n, err = c.deleteMissingIDs(ctx, tx, esID); err != nil {
					return err
				}
				m, err = c.clearTombstoned(ctx, tx, esID)
				return err
			})
			if err != nil {
				return err
			}
			deleted.Add(n)
			cleared.Add(m)
			tb.Logger.Debug("entity set edges repaired",
				"task", c.Name(), "entity_set_id", esID, "deleted", n, "cleared", m)
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	tb.Record(c.Name(), stepEdgesMissingIDs, deleted.Load(), elapsed)
	tb.Record(c.Name(), stepEdgesTombstonedIDs, cleared.Load(), elapsed)
	if err != nil {
		return false, fmt.Errorf("repair edges per entity set: %w", err)
	}
	return true, nil
}

func (c *Edges) deleteUnregistered(ctx context.Context) (int64, error) {
	q := fmt.Sprintf(`WITH entity_set_ids AS ( SELECT %[1]s FROM %[2]s )
        DELETE FROM %[3]s
        WHERE %[4]s NOT IN ( SELECT %[1]s FROM entity_set_ids )
           OR %[5]s NOT IN ( SELECT %[1]s FROM entity_set_ids )
           OR %[6]s NOT IN ( SELECT %[1]s FROM entity_set_ids )`,
		schema.ColID, schema.Quote(schema.EntitySets), schema.Quote(schema.Edges),
		schema.ColSrcEntitySetID, schema.ColDstEntitySetID, schema.ColEdgeEntitySetID)
	res, err := c.tb.DB.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete edges of unregistered entity sets: %w", err)
	}
	return res.RowsAffected()
}

// endpointPairs lists the (entity set, key) column pairs of an edge.
var endpointPairs = [][2]string{
	{schema.ColSrcEntitySetID, schema.ColSrcEntityKeyID},
	{schema.ColDstEntitySetID, schema.ColDstEntityKeyID},
	{schema.ColEdgeEntitySetID, schema.ColEdgeEntityKeyID},
}

func (c *Edges) deleteMissingIDs(ctx context.Context, tx *sql.Tx, esID uuid.UUID) (int64, error) {
	p := c.tb.Dialect.Param(1)
	where := ""
	for i, pair := range endpointPairs {
		if i > 0 {
			where += " OR "
		}
		where += fmt.Sprintf("( %s = %s AND %s NOT IN ( SELECT %s FROM ids_of_entity_set ) )",
			pair[0], p, pair[1], schema.ColID)
	}
	q := fmt.Sprintf(`WITH ids_of_entity_set AS ( SELECT %s FROM %s WHERE %s = %s )
        DELETE FROM %s WHERE %s`,
		schema.ColID, schema.Quote(schema.IDs), schema.ColEntitySetID, p,
		schema.Quote(schema.Edges), where)
	res, err := tx.ExecContext(ctx, q, esID)
	if err != nil {
		return 0, fmt.Errorf("delete edges with missing ids in %s: %w", esID, err)
	}
	return res.RowsAffected()
}

func (c *Edges) clearTombstoned(ctx context.Context, tx *sql.Tx, esID uuid.UUID) (int64, error) {
	res, err := tx.ExecContext(ctx, edgeClearing(c.tb.Dialect).SQL(c.tb.Dialect), esID)
	if err != nil {
		return 0, fmt.Errorf("clear edges with tombstoned ids in %s: %w", esID, err)
	}
	return res.RowsAffected()
}

// edgeClearing clears live edges touching the entity set bound at 1 that
// have a tombstoned endpoint. The tombstone is looked up in each endpoint's
// own entity set, so an edge spanning two entity sets clears to the same
// version whichever of their units reaches it first.
func edgeClearing(d schema.Dialect) clearing {
	p := d.Param(1)
	match, scope := "", ""
	for i, pair := range endpointPairs {
		if i > 0 {
			match += " OR "
			scope += " OR "
		}
		match += fmt.Sprintf("( i.%[1]s = %[2]s.%[3]s AND i.%[4]s = %[2]s.%[5]s )",
			schema.ColEntitySetID, schema.Edges, pair[0], schema.ColID, pair[1])
		scope += fmt.Sprintf("%s = %s", pair[0], p)
	}
	latest := fmt.Sprintf(`( SELECT MIN(i.%[1]s) FROM %[2]s i
        WHERE i.%[1]s < 0 AND ( %[3]s ) )`,
		schema.ColVersion, schema.Quote(schema.IDs), match)
	return clearing{Target: schema.Edges, Latest: latest, Scope: scope}
}
