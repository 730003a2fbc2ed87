// Package storetest opens throwaway SQLite stores with the full schema and
// inserts fixture rows for repair tests.
package storetest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/internal/executor"
	"github.com/mesh-intelligence/mender/internal/metadata"
	"github.com/mesh-intelligence/mender/internal/metrics"
	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/store"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Store is a migrated SQLite database scoped to one test.
type Store struct {
	t  testing.TB
	DB *sql.DB
	D  schema.Dialect
}

// Open creates a SQLite database under t.TempDir with the fixed tables.
func Open(t testing.TB) *Store {
	t.Helper()
	ctx := context.Background()
	cfg := types.Config{
		Dialect: types.DialectSQLite,
		DSN:     filepath.Join(t.TempDir(), "mender.db"),
	}
	db, d, err := store.Open(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(ctx, db, d))
	return &Store{t: t, DB: db, D: d}
}

func (s *Store) exec(q string, args ...any) {
	s.t.Helper()
	_, err := s.DB.Exec(q, args...)
	require.NoError(s.t, err, q)
}

// AddEntitySet registers an entity set and creates its id table.
func (s *Store) AddEntitySet(es types.EntitySet) {
	s.t.Helper()
	s.exec("INSERT INTO entity_sets (id, name, entity_type_id) VALUES (?1, ?2, ?3)", es.ID, es.Name, es.EntityTypeID)
	s.exec(schema.EntitySetTableDefinition(es).CreateSQL(s.D))
}

// AddEntityType registers an entity type.
func (s *Store) AddEntityType(et types.EntityType) {
	s.t.Helper()
	s.exec("INSERT INTO entity_types (id, namespace, name, properties) VALUES (?1, ?2, ?3, ?4)",
		et.ID, et.Type.Namespace, et.Type.Name, s.D.UUIDArray(et.Properties))
}

// AddPropertyType registers a property type and creates its value table.
func (s *Store) AddPropertyType(pt types.PropertyType) {
	s.t.Helper()
	datatype := pt.Datatype
	if datatype == "" {
		datatype = "String"
	}
	s.exec("INSERT INTO property_types (id, namespace, name, datatype) VALUES (?1, ?2, ?3, ?4)",
		pt.ID, pt.Type.Namespace, pt.Type.Name, datatype)
	s.exec(schema.PropertyTypeTableDefinition(pt).CreateSQL(s.D))
}

// AddEntityKeys inserts ids into an entity set's id table.
func (s *Store) AddEntityKeys(entitySetID uuid.UUID, ids ...uuid.UUID) {
	s.t.Helper()
	q := fmt.Sprintf("INSERT INTO %s (id) VALUES (?1)", schema.Quote(schema.EntitySetTable(entitySetID)))
	for _, id := range ids {
		s.exec(q, id)
	}
}

// AddSecurableObject inserts an acl key of the given type.
func (s *Store) AddSecurableObject(key types.AclKey, typ types.SecurableObjectType) {
	s.t.Helper()
	s.exec("INSERT INTO securable_objects (acl_key, securable_object_type) VALUES (?1, ?2)",
		s.D.UUIDArray(key), string(typ))
}

// AddPermission grants principal a permission on key.
func (s *Store) AddPermission(key types.AclKey, principalID string) {
	s.t.Helper()
	s.exec("INSERT INTO permissions (acl_key, principal_type, principal_id, permissions) VALUES (?1, 'USER', ?2, 'READ')",
		s.D.UUIDArray(key), principalID)
}

// AddName records the name of a securable object and its acl-key reservation.
func (s *Store) AddName(id uuid.UUID, name string) {
	s.t.Helper()
	s.exec("INSERT INTO names (securable_objectid, name) VALUES (?1, ?2)", id, name)
	s.exec("INSERT INTO acl_keys (name, securable_objectid) VALUES (?1, ?2)", name, id)
}

// AddMaterialized records that organization materialized an entity set.
func (s *Store) AddMaterialized(entitySetID, organizationID uuid.UUID) {
	s.t.Helper()
	s.exec("INSERT INTO materialized_entity_sets (entity_set_id, organization_id) VALUES (?1, ?2)",
		entitySetID, organizationID)
}

// AddPropertyMetadata records per-entity-set metadata for a property type.
func (s *Store) AddPropertyMetadata(entitySetID, propertyTypeID uuid.UUID) {
	s.t.Helper()
	s.exec("INSERT INTO entity_set_property_metadata (entity_set_id, property_type_id, title) VALUES (?1, ?2, 'title')",
		entitySetID, propertyTypeID)
}

// AddID inserts a row into the shared id table.
func (s *Store) AddID(entitySetID, id uuid.UUID, version int64, versions ...int64) {
	s.t.Helper()
	s.exec("INSERT INTO ids (entity_set_id, id, version, versions) VALUES (?1, ?2, ?3, ?4)",
		entitySetID, id, version, s.D.Int64Array(versions))
}

// AddIDMigration inserts a legacy id-migration row.
func (s *Store) AddIDMigration(entitySetID, id uuid.UUID) {
	s.t.Helper()
	s.exec("INSERT INTO id_migration (entity_set_id, id) VALUES (?1, ?2)", entitySetID, id)
}

// Endpoint is one (entity set, entity key) end of an edge.
type Endpoint struct {
	EntitySetID uuid.UUID
	ID          uuid.UUID
}

// Edge is a fixture edge row.
type Edge struct {
	Src, Dst, Edge Endpoint
	Version        int64
	Versions       []int64
}

// AddEdge inserts an edge row.
func (s *Store) AddEdge(e Edge) {
	s.t.Helper()
	s.exec(`INSERT INTO edges (src_entity_set_id, src_entity_key_id, dst_entity_set_id, dst_entity_key_id,
        edge_entity_set_id, edge_entity_key_id, version, versions) VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)`,
		e.Src.EntitySetID, e.Src.ID, e.Dst.EntitySetID, e.Dst.ID, e.Edge.EntitySetID, e.Edge.ID,
		e.Version, s.D.Int64Array(e.Versions))
}

// EdgeVersion returns the version and history of the edge keyed by its edge
// end, and whether the row exists.
func (s *Store) EdgeVersion(edge Endpoint) (int64, []int64, bool) {
	s.t.Helper()
	return s.version("edges", "edge_entity_set_id = ?1 AND edge_entity_key_id = ?2", edge.EntitySetID, edge.ID)
}

// DataRow is a fixture row of the shared property-value table.
type DataRow struct {
	EntitySetID    uuid.UUID
	ID             uuid.UUID
	OriginID       uuid.UUID
	PropertyTypeID uuid.UUID
	Hash           string
	Version        int64
	Versions       []int64
}

// AddData inserts a property-value row. An empty hash defaults to "h".
func (s *Store) AddData(r DataRow) {
	s.t.Helper()
	if r.Hash == "" {
		r.Hash = "h"
	}
	s.exec(`INSERT INTO data (entity_set_id, id, origin_id, property_type_id, hash, version, versions)
        VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7)`,
		r.EntitySetID, r.ID, r.OriginID, r.PropertyTypeID, r.Hash, r.Version, s.D.Int64Array(r.Versions))
}

// DataVersion returns the version and history of the data row keyed by id,
// origin and property type, and whether the row exists.
func (s *Store) DataVersion(id, originID, propertyTypeID uuid.UUID) (int64, []int64, bool) {
	s.t.Helper()
	return s.version("data", "id = ?1 AND origin_id = ?2 AND property_type_id = ?3", id, originID, propertyTypeID)
}

func (s *Store) version(table, where string, args ...any) (int64, []int64, bool) {
	s.t.Helper()
	var (
		version int64
		raw     string
	)
	q := fmt.Sprintf("SELECT version, %s FROM %s WHERE %s", s.D.ArrayText(schema.ColVersions), table, where)
	err := s.DB.QueryRow(q, args...).Scan(&version, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, false
	}
	require.NoError(s.t, err)
	versions, err := s.D.DecodeInt64s(raw)
	require.NoError(s.t, err)
	return version, versions, true
}

// AddPropertyValue inserts a value into a property type's value table.
func (s *Store) AddPropertyValue(pt types.PropertyType, entitySetID, id uuid.UUID, value string) {
	s.t.Helper()
	q := fmt.Sprintf("INSERT INTO %s (entity_set_id, id, %s, version) VALUES (?1, ?2, ?3, 1)",
		schema.Quote(schema.PropertyTypeTable(pt.ID)), schema.Quote(pt.Type.String()))
	s.exec(q, entitySetID, id, value)
}

// Exec runs an arbitrary statement, for fixtures the helpers do not cover.
func (s *Store) Exec(q string, args ...any) {
	s.t.Helper()
	s.exec(q, args...)
}

// Count returns the number of rows in table matching where (which may be
// empty).
func (s *Store) Count(table, where string, args ...any) int {
	s.t.Helper()
	q := "SELECT COUNT(*) FROM " + schema.Quote(table)
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(s.t, s.DB.QueryRow(q, args...).Scan(&n), q)
	return n
}

// Toolbox loads the snapshot from the store and returns a toolbox over it
// with a fresh metrics recorder and an executor of the given size.
func (s *Store) Toolbox(workers, batchSize int) *toolbox.Toolbox {
	s.t.Helper()
	ctx := context.Background()
	snap, err := metadata.Load(ctx,
		metadata.NewEntitySetStore(s.DB, s.D),
		metadata.NewEntityTypeStore(s.DB, s.D),
		metadata.NewPropertyTypeStore(s.DB, s.D),
	)
	require.NoError(s.t, err)
	exec := executor.New(workers)
	s.t.Cleanup(exec.Close)
	return toolbox.New(s.DB, s.D, exec, snap, nil, metrics.New(), batchSize)
}
