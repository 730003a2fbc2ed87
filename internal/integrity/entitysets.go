package integrity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// EntitySets removes the access-control and registry rows left behind by
// deleted entity sets.
//
// Securable objects go first: the acl keys they return are the filter for
// permissions, names and acl-key reservations. Those four deletes share one
// transaction because the filter only exists in memory. Materialized views
// and property metadata are filtered against the registry directly and
// commit on their own.
type EntitySets struct {
	tb *toolbox.Toolbox
}

func NewEntitySets(tb *toolbox.Toolbox) *EntitySets { return &EntitySets{tb: tb} }

func (c *EntitySets) Name() string { return EntitySetsCheck }

func (c *EntitySets) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	steps := tb.TxSteps(c.Name())
	err := tb.WithTx(ctx, func(tx *sql.Tx) error {
		var keys []types.AclKey
		_, err := steps.Step(schema.SecurableObjects, func() (int64, error) {
			var err error
			keys, err = c.deleteSecurableObjects(ctx, tx)
			return int64(len(keys)), err
		})
		if err != nil {
			return err
		}

		if _, err := steps.Step(schema.Permissions, func() (int64, error) {
			return c.deletePermissions(ctx, tx, keys)
		}); err != nil {
			return err
		}

		roots := rootsOf(keys)
		for _, table := range []string{schema.Names, schema.AclKeys} {
			if _, err := steps.Step(table, func() (int64, error) {
				return c.deleteBySecurableObjectID(ctx, tx, table, roots)
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	steps.Flush()

	for _, table := range []string{schema.MaterializedEntitySets, schema.EntitySetPropertyMetadata} {
		if _, err := tb.Step(c.Name(), table, func() (int64, error) {
			return c.deleteUnregistered(ctx, table)
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

// deleteSecurableObjects removes entity-set and property-in-entity-set
// securable objects whose entity set is not registered and returns their
// acl keys.
func (c *EntitySets) deleteSecurableObjects(ctx context.Context, tx *sql.Tx) ([]types.AclKey, error) {
	d := c.tb.Dialect
	q := fmt.Sprintf(`DELETE FROM %s
        WHERE %s NOT IN ( SELECT %s FROM %s )
          AND %s IN ( %s, %s )
        RETURNING %s`,
		schema.Quote(schema.SecurableObjects),
		d.AclKeyRoot(schema.ColAclKey), schema.ColID, schema.Quote(schema.EntitySets),
		schema.ColSecurableObjectType, d.Param(1), d.Param(2),
		d.ArrayText(schema.ColAclKey))

	rows, err := tx.QueryContext(ctx, q,
		string(types.SecurableEntitySet), string(types.SecurablePropertyTypeInEntitySet))
	if err != nil {
		return nil, fmt.Errorf("delete orphaned securable objects: %w", err)
	}
	defer rows.Close()

	var keys []types.AclKey
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan deleted acl key: %w", err)
		}
		ids, err := d.DecodeUUIDs(raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, types.AclKey(ids))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("delete orphaned securable objects: %w", err)
	}
	return keys, nil
}

// deletePermissions removes the permissions of each deleted acl key.
func (c *EntitySets) deletePermissions(ctx context.Context, tx *sql.Tx, keys []types.AclKey) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	d := c.tb.Dialect
	q := fmt.Sprintf("DELETE FROM %s WHERE %s",
		schema.Quote(schema.Permissions), d.AclKeyEquals(schema.ColAclKey, 1))
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("prepare permission delete: %w", err)
	}
	defer stmt.Close()

	var total int64
	for _, key := range keys {
		res, err := stmt.ExecContext(ctx, d.UUIDArray(key))
		if err != nil {
			return total, fmt.Errorf("delete permissions of %s: %w", key, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (c *EntitySets) deleteBySecurableObjectID(ctx context.Context, tx *sql.Tx, table string, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	d := c.tb.Dialect
	q := fmt.Sprintf("DELETE FROM %s WHERE %s",
		schema.Quote(table), d.AnyUUID(schema.ColSecurableObjectID, 1))
	res, err := tx.ExecContext(ctx, q, d.UUIDArray(ids))
	if err != nil {
		return 0, fmt.Errorf("delete orphaned %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (c *EntitySets) deleteUnregistered(ctx context.Context, table string) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s NOT IN ( SELECT %s FROM %s )",
		schema.Quote(table), schema.ColEntitySetID, schema.ColID, schema.Quote(schema.EntitySets))
	res, err := c.tb.DB.ExecContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("delete orphaned %s: %w", table, err)
	}
	return res.RowsAffected()
}

// rootsOf returns the distinct leading components of keys.
func rootsOf(keys []types.AclKey) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(keys))
	var roots []uuid.UUID
	for _, k := range keys {
		r := k.Root()
		if r == uuid.Nil || seen[r] {
			continue
		}
		seen[r] = true
		roots = append(roots, r)
	}
	return roots
}
