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
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Step names of the id synchronization check.
const (
	stepIDsUnsynchronized = "unsynchronized_ids"
	stepIDsPropertyValues = "property_values"
	stepIDsMigration      = "id_migration"
)

// IDSync reconciles the shared id table with each entity set's own id
// table. Ids present in the shared table but missing from the entity set's
// table are removed together with their property values and legacy
// id-migration rows.
//
// Each entity set is one unit on the executor, committed in its own
// transaction. Run returns only after every unit has finished.
type IDSync struct {
	tb *toolbox.Toolbox
}

func NewIDSync(tb *toolbox.Toolbox) *IDSync { return &IDSync{tb: tb} }

func (c *IDSync) Name() string { return IntegrityCheck }

func (c *IDSync) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	var (
		ids, values, migrations atomic.Int64
		skipped                 atomic.Int64
	)
	start := time.Now()
	g := tb.Executor.NewGroup()
	for _, es := range tb.Snapshot.EntitySets() {
		g.Go(ctx, "ids of "+es.ID.String(), func(ctx context.Context) error {
			var r syncResult
			err := tb.WithTx(ctx, func(tx *sql.Tx) error {
				var err error
				r, err = c.syncEntitySet(ctx, tx, es)
				return err
			})
			if err != nil {
				return err
			}
			if r.skipped {
				skipped.Add(1)
				return nil
			}
			ids.Add(r.ids)
			values.Add(r.values)
			migrations.Add(r.migrations)
			return nil
		})
	}
	err := g.Wait()
	elapsed := time.Since(start)
	tb.Record(c.Name(), stepIDsUnsynchronized, ids.Load(), elapsed)
	tb.Record(c.Name(), stepIDsPropertyValues, values.Load(), elapsed)
	tb.Record(c.Name(), stepIDsMigration, migrations.Load(), elapsed)
	if err != nil {
		return false, fmt.Errorf("synchronize entity set ids: %w", err)
	}
	if n := skipped.Load(); n > 0 {
		tb.Logger.Warn("entity sets without an id table were not checked", "task", c.Name(), "count", n)
		return false, nil
	}
	return true, nil
}

type syncResult struct {
	skipped    bool
	ids        int64
	values     int64
	migrations int64
}

func (c *IDSync) syncEntitySet(ctx context.Context, tx *sql.Tx, es types.EntitySet) (syncResult, error) {
	tb := c.tb
	d := tb.Dialect
	esTable := schema.EntitySetTable(es.ID)

	// Without the entity set's own table every shared id would look
	// unsynchronized.
	exists, err := tb.TableExists(ctx, tx, esTable)
	if err != nil {
		return syncResult{}, err
	}
	if !exists {
		tb.Logger.Warn("entity set id table missing", "task", c.Name(), "entity_set_id", es.ID, "name", es.Name)
		return syncResult{skipped: true}, nil
	}

	q := fmt.Sprintf(`DELETE FROM %s
        WHERE %s = %s AND %s NOT IN ( SELECT %s FROM %s )
        RETURNING %s`,
		schema.Quote(schema.IDs), schema.ColEntitySetID, d.Param(1),
		schema.ColID, schema.ColID, schema.Quote(esTable), schema.ColID)
	removed, err := queryIDs(ctx, tx, q, es.ID)
	if err != nil {
		return syncResult{}, fmt.Errorf("delete unsynchronized ids of %s: %w", es.ID, err)
	}
	res := syncResult{ids: int64(len(removed))}
	if len(removed) == 0 {
		return res, nil
	}

	// Values can outlive the entity type's property list, so every
	// registered property type is purged, not only the current ones.
	for _, pt := range tb.Snapshot.PropertyTypes() {
		ptTable := schema.PropertyTypeTable(pt.ID)
		exists, err := tb.TableExists(ctx, tx, ptTable)
		if err != nil {
			return res, err
		}
		if !exists {
			continue
		}
		n, err := deleteEntityIDs(ctx, tx, d, ptTable, es.ID, removed)
		if err != nil {
			return res, fmt.Errorf("delete values of %s in %s: %w", pt.Type, es.ID, err)
		}
		res.values += n
	}

	n, err := deleteEntityIDs(ctx, tx, d, schema.IDMigration, es.ID, removed)
	if err != nil {
		return res, fmt.Errorf("delete id migrations of %s: %w", es.ID, err)
	}
	res.migrations = n

	tb.Logger.Debug("entity set ids synchronized", "task", c.Name(), "entity_set_id", es.ID,
		"ids", res.ids, "values", res.values, "migrations", res.migrations)
	return res, nil
}

// deleteEntityIDs deletes the rows of table belonging to esID whose id is
// one of ids.
func deleteEntityIDs(ctx context.Context, q toolbox.Querier, d schema.Dialect, table string, esID uuid.UUID, ids []uuid.UUID) (int64, error) {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s AND %s",
		schema.Quote(table), schema.ColEntitySetID, d.Param(1), d.AnyUUID(schema.ColID, 2))
	res, err := q.ExecContext(ctx, stmt, esID, d.UUIDArray(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// queryIDs runs a statement returning one uuid column.
func queryIDs(ctx context.Context, q toolbox.Querier, stmt string, args ...any) ([]uuid.UUID, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
