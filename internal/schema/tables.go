// Package schema holds the table and column identifiers of the repaired
// store, the DDL that creates it, and the Dialect that renders the few
// constructs Postgres and SQLite spell differently.
//
// Identifiers are constants; every value reaches the database as a bound
// parameter.
package schema

import (
	"github.com/google/uuid"
)

// Fixed table names.
const (
	EntitySets                = "entity_sets"
	EntityTypes               = "entity_types"
	PropertyTypes             = "property_types"
	SecurableObjects          = "securable_objects"
	Permissions               = "permissions"
	Names                     = "names"
	AclKeys                   = "acl_keys"
	MaterializedEntitySets    = "materialized_entity_sets"
	EntitySetPropertyMetadata = "entity_set_property_metadata"
	IDs                       = "ids"
	IDMigration               = "id_migration"
	Edges                     = "edges"
	Data                      = "data"
)

// Column names.
const (
	ColID                  = "id"
	ColName                = "name"
	ColNamespace           = "namespace"
	ColEntityTypeID        = "entity_type_id"
	ColProperties          = "properties"
	ColDatatype            = "datatype"
	ColAclKey              = "acl_key"
	ColSecurableObjectType = "securable_object_type"
	ColSecurableObjectID   = "securable_objectid"
	ColPrincipalType       = "principal_type"
	ColPrincipalID         = "principal_id"
	ColPermissions         = "permissions"
	ColEntitySetID         = "entity_set_id"
	ColOrganizationID      = "organization_id"
	ColPropertyTypeID      = "property_type_id"
	ColTitle               = "title"
	ColVersion             = "version"
	ColVersions            = "versions"
	ColOriginID            = "origin_id"
	ColHash                = "hash"
	ColLastWrite           = "last_write"
	ColSrcEntitySetID      = "src_entity_set_id"
	ColSrcEntityKeyID      = "src_entity_key_id"
	ColDstEntitySetID      = "dst_entity_set_id"
	ColDstEntityKeyID      = "dst_entity_key_id"
	ColEdgeEntitySetID     = "edge_entity_set_id"
	ColEdgeEntityKeyID     = "edge_entity_key_id"
)

// Prefixes of the per-entity-set and per-property-type tables.
const (
	entitySetTablePrefix    = "es_"
	propertyTypeTablePrefix = "pt_"
)

// EdgeKey lists the columns that identify one edge row.
var EdgeKey = []string{
	ColSrcEntitySetID, ColSrcEntityKeyID,
	ColDstEntitySetID, ColDstEntityKeyID,
	ColEdgeEntitySetID, ColEdgeEntityKeyID,
}

// EntitySetTable returns the unquoted name of an entity set's id table.
func EntitySetTable(entitySetID uuid.UUID) string {
	return entitySetTablePrefix + entitySetID.String()
}

// PropertyTypeTable returns the unquoted name of a property type's value table.
func PropertyTypeTable(propertyTypeID uuid.UUID) string {
	return propertyTypeTablePrefix + propertyTypeID.String()
}
