package integrity

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

const stepEntitiesValues = "unregistered_values"

// Entities deletes values in every property type table that belong to
// entity sets missing from the registry. One unit per property type runs on
// the executor.
type Entities struct {
	tb *toolbox.Toolbox
}

func NewEntities(tb *toolbox.Toolbox) *Entities { return &Entities{tb: tb} }

func (c *Entities) Name() string { return EntitiesCheck }

func (c *Entities) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	var deleted atomic.Int64
	start := time.Now()
	g := tb.Executor.NewGroup()
	for _, pt := range tb.Snapshot.PropertyTypes() {
		g.Go(ctx, "values of "+pt.Type.String(), func(ctx context.Context) error {
			n, err := c.deleteUnregistered(ctx, pt)
			deleted.Add(n)
			return err
		})
	}
	err := g.Wait()
	tb.Record(c.Name(), stepEntitiesValues, deleted.Load(), time.Since(start))
	if err != nil {
		return false, fmt.Errorf("delete values of unregistered entity sets: %w", err)
	}
	return true, nil
}

func (c *Entities) deleteUnregistered(ctx context.Context, pt types.PropertyType) (int64, error) {
	tb := c.tb
	table := schema.PropertyTypeTable(pt.ID)
	exists, err := tb.TableExists(ctx, tb.DB, table)
	if err != nil || !exists {
		return 0, err
	}
	q := fmt.Sprintf("DELETE FROM %s WHERE %s NOT IN ( SELECT %s FROM %s )",
		schema.Quote(table), schema.ColEntitySetID, schema.ColID, schema.Quote(schema.EntitySets))
	res, err := tb.DB.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete values in %s: %w", table, err)
	}
	return res.RowsAffected()
}
