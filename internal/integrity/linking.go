package integrity

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Step names of the linking check.
const (
	stepLinkingTombstone = "tombstone"
	stepLinkingDelete    = "delete"
)

// Linking repairs property values of linked entities.
//
// Values written against the sentinel empty origin are the canonical copy;
// a row under a real origin mirrors the sentinel row whose id is that
// origin. Phase 1 propagates tombstones from sentinel rows onto their live
// mirrors in batches until a batch clears nothing. Phase 2 then deletes live
// mirrors whose sentinel row is no longer live. The phases must not be
// reordered: phase 2 would otherwise delete rows phase 1 preserves.
type Linking struct {
	tb *toolbox.Toolbox
}

func NewLinking(tb *toolbox.Toolbox) *Linking { return &Linking{tb: tb} }

func (c *Linking) Name() string { return LinkingCheck }

func (c *Linking) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	if _, err := tb.Step(c.Name(), stepLinkingTombstone, func() (int64, error) {
		return c.propagateTombstones(ctx)
	}); err != nil {
		return false, err
	}

	if _, err := tb.Step(c.Name(), stepLinkingDelete, func() (int64, error) {
		var total int64
		for _, ptID := range tb.Snapshot.PropertyTypeIDs() {
			n, err := c.deleteUnlinked(ctx, ptID)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	}); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Linking) propagateTombstones(ctx context.Context) (int64, error) {
	d := c.tb.Dialect
	q := linkingClearing(d).SQL(d)

	var total int64
	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := c.tb.DB.ExecContext(ctx, q, types.EmptyOriginID, c.tb.BatchSize)
		if err != nil {
			return total, fmt.Errorf("propagate linking tombstones: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		c.tb.Logger.Debug("tombstone batch cleared", "task", c.Name(), "batch", batch, "rows", n)
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

// linkingClearing clears live mirrors of sentinel tombstones. The sentinel
// origin is bound at 1 and the batch size at 2. A batch only selects
// tombstones that still have a live mirror, so an empty batch means none
// are left.
func linkingClearing(d schema.Dialect) clearing {
	sentinel, limit := d.Param(1), d.Param(2)
	latest := fmt.Sprintf(`( SELECT MIN(s.%[1]s) FROM %[2]s s
        WHERE s.%[3]s = %[4]s AND s.%[5]s = %[2]s.%[3]s
          AND s.%[6]s = %[2]s.%[6]s AND s.%[1]s < 0 )`,
		schema.ColVersion, schema.Data, schema.ColOriginID, sentinel, schema.ColID, schema.ColPropertyTypeID)
	scope := fmt.Sprintf(`%[3]s <> %[4]s AND ( %[3]s, %[6]s ) IN (
        SELECT s.%[5]s, s.%[6]s FROM %[2]s s
        WHERE s.%[3]s = %[4]s AND s.%[1]s < 0
          AND EXISTS ( SELECT 1 FROM %[2]s m
                       WHERE m.%[3]s = s.%[5]s AND m.%[6]s = s.%[6]s
                         AND m.%[1]s > 0 AND m.%[3]s <> %[4]s )
        LIMIT %[7]s )`,
		schema.ColVersion, schema.Data, schema.ColOriginID, sentinel, schema.ColID, schema.ColPropertyTypeID, limit)
	return clearing{
		Target: schema.Data,
		Latest: latest,
		Scope:  scope,
		Touch:  fmt.Sprintf("%s = %s", schema.ColLastWrite, d.Now()),
	}
}

// deleteUnlinked deletes live mirrors of one property type whose sentinel
// row is missing or not live.
func (c *Linking) deleteUnlinked(ctx context.Context, ptID uuid.UUID) (int64, error) {
	d := c.tb.Dialect
	pt, sentinel := d.Param(1), d.Param(2)
	q := fmt.Sprintf(`DELETE FROM %[2]s
        WHERE %[6]s = %[7]s AND %[3]s <> %[4]s AND %[1]s > 0
          AND NOT EXISTS ( SELECT 1 FROM %[2]s s
                           WHERE s.%[3]s = %[4]s AND s.%[5]s = %[2]s.%[3]s
                             AND s.%[6]s = %[2]s.%[6]s AND s.%[1]s > 0 )`,
		schema.ColVersion, schema.Data, schema.ColOriginID, sentinel, schema.ColID, schema.ColPropertyTypeID, pt)
	res, err := c.tb.DB.ExecContext(ctx, q, ptID, types.EmptyOriginID)
	if err != nil {
		return 0, fmt.Errorf("delete unlinked values of %s: %w", ptID, err)
	}
	return res.RowsAffected()
}
