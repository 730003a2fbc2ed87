// Package metadata loads the entity set, entity type and property type
// registries into an immutable Snapshot shared by every task of a run.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// MapStore is a keyed metadata registry.
type MapStore[V any] interface {
	LoadAllKeys(ctx context.Context) ([]uuid.UUID, error)
	LoadAll(ctx context.Context, keys []uuid.UUID) (map[uuid.UUID]V, error)
}

// rowScanner is satisfied by *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlMapStore reads one registry table. scan decodes a row selected by cols.
type sqlMapStore[V any] struct {
	db    *sql.DB
	d     schema.Dialect
	table string
	cols  []string
	scan  func(d schema.Dialect, r rowScanner) (uuid.UUID, V, error)
}

func (s *sqlMapStore[V]) LoadAllKeys(ctx context.Context) ([]uuid.UUID, error) {
	q := fmt.Sprintf("SELECT %s FROM %s", schema.ColID, schema.Quote(s.table))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("load %s keys: %w", s.table, err)
	}
	defer rows.Close()

	var keys []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s key: %w", s.table, err)
		}
		keys = append(keys, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s keys: %w", s.table, err)
	}
	return keys, nil
}

func (s *sqlMapStore[V]) LoadAll(ctx context.Context, keys []uuid.UUID) (map[uuid.UUID]V, error) {
	out := make(map[uuid.UUID]V, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(s.cols, ", "), schema.Quote(s.table), s.d.AnyUUID(schema.ColID, 1))
	rows, err := s.db.QueryContext(ctx, q, s.d.UUIDArray(keys))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.table, err)
	}
	defer rows.Close()

	for rows.Next() {
		id, v, err := s.scan(s.d, rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		out[id] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", s.table, err)
	}
	return out, nil
}

// NewEntitySetStore reads the entity_sets registry.
func NewEntitySetStore(db *sql.DB, d schema.Dialect) MapStore[types.EntitySet] {
	return &sqlMapStore[types.EntitySet]{
		db:    db,
		d:     d,
		table: schema.EntitySets,
		cols:  []string{schema.ColID, schema.ColName, schema.ColEntityTypeID},
		scan: func(_ schema.Dialect, r rowScanner) (uuid.UUID, types.EntitySet, error) {
			var es types.EntitySet
			err := r.Scan(&es.ID, &es.Name, &es.EntityTypeID)
			return es.ID, es, err
		},
	}
}

// NewEntityTypeStore reads the entity_types registry.
func NewEntityTypeStore(db *sql.DB, d schema.Dialect) MapStore[types.EntityType] {
	return &sqlMapStore[types.EntityType]{
		db:    db,
		d:     d,
		table: schema.EntityTypes,
		cols:  []string{schema.ColID, schema.ColNamespace, schema.ColName, d.ArrayText(schema.ColProperties)},
		scan: func(d schema.Dialect, r rowScanner) (uuid.UUID, types.EntityType, error) {
			var (
				et    types.EntityType
				props string
			)
			if err := r.Scan(&et.ID, &et.Type.Namespace, &et.Type.Name, &props); err != nil {
				return uuid.Nil, et, err
			}
			ids, err := d.DecodeUUIDs(props)
			if err != nil {
				return uuid.Nil, et, err
			}
			et.Properties = ids
			return et.ID, et, nil
		},
	}
}

// NewPropertyTypeStore reads the property_types registry.
func NewPropertyTypeStore(db *sql.DB, d schema.Dialect) MapStore[types.PropertyType] {
	return &sqlMapStore[types.PropertyType]{
		db:    db,
		d:     d,
		table: schema.PropertyTypes,
		cols:  []string{schema.ColID, schema.ColNamespace, schema.ColName, schema.ColDatatype},
		scan: func(_ schema.Dialect, r rowScanner) (uuid.UUID, types.PropertyType, error) {
			var pt types.PropertyType
			err := r.Scan(&pt.ID, &pt.Type.Namespace, &pt.Type.Name, &pt.Datatype)
			return pt.ID, pt, err
		},
	}
}
