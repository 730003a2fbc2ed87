package schema

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/mender/pkg/types"
)

// Column describes one column of a table definition.
type Column struct {
	Name    string
	Type    ColumnType
	NotNull bool
	// Default is a dialect-independent default: "" for none, "empty" for an
	// empty array, "now" for the current timestamp, anything else verbatim.
	Default string
}

// Defaults understood by Column.
const (
	DefaultEmptyArray = "empty"
	DefaultNow        = "now"
)

// TableDefinition is the DDL of one table.
type TableDefinition struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
}

// IndexDefinition is the DDL of one index.
type IndexDefinition struct {
	Name    string
	Table   string
	Columns []string
}

// CreateSQL renders an idempotent CREATE TABLE statement.
func (t TableDefinition) CreateSQL(d Dialect) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", Quote(t.Name))
	for i, c := range t.Columns {
		if i > 0 {
			b.WriteString(",\n")
		}
		fmt.Fprintf(&b, "    %s %s", Quote(c.Name), d.Type(c.Type))
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		switch c.Default {
		case "":
		case DefaultEmptyArray:
			b.WriteString(" DEFAULT " + d.EmptyArray())
		case DefaultNow:
			b.WriteString(" DEFAULT " + d.Now())
		default:
			b.WriteString(" DEFAULT " + c.Default)
		}
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, ",\n    PRIMARY KEY (%s)", quoteAll(t.PrimaryKey))
	}
	b.WriteString("\n)")
	return b.String()
}

// CreateSQL renders an idempotent CREATE INDEX statement.
func (i IndexDefinition) CreateSQL() string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		Quote(i.Name), Quote(i.Table), quoteAll(i.Columns))
}

func quoteAll(idents []string) string {
	quoted := make([]string, len(idents))
	for i, id := range idents {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}

func versionColumns() []Column {
	return []Column{
		{Name: ColVersion, Type: TypeBigInt, NotNull: true, Default: "0"},
		{Name: ColVersions, Type: TypeBigIntArray, NotNull: true, Default: DefaultEmptyArray},
	}
}

// FixedTables lists the tables that exist independently of the metadata, in
// creation order.
func FixedTables() []TableDefinition {
	return []TableDefinition{
		{
			Name: EntitySets,
			Columns: []Column{
				{Name: ColID, Type: TypeUUID, NotNull: true},
				{Name: ColName, Type: TypeText, NotNull: true},
				{Name: ColEntityTypeID, Type: TypeUUID, NotNull: true},
			},
			PrimaryKey: []string{ColID},
		},
		{
			Name: EntityTypes,
			Columns: []Column{
				{Name: ColID, Type: TypeUUID, NotNull: true},
				{Name: ColNamespace, Type: TypeText, NotNull: true},
				{Name: ColName, Type: TypeText, NotNull: true},
				{Name: ColProperties, Type: TypeUUIDArray, NotNull: true, Default: DefaultEmptyArray},
			},
			PrimaryKey: []string{ColID},
		},
		{
			Name: PropertyTypes,
			Columns: []Column{
				{Name: ColID, Type: TypeUUID, NotNull: true},
				{Name: ColNamespace, Type: TypeText, NotNull: true},
				{Name: ColName, Type: TypeText, NotNull: true},
				{Name: ColDatatype, Type: TypeText, NotNull: true, Default: "'String'"},
			},
			PrimaryKey: []string{ColID},
		},
		{
			Name: SecurableObjects,
			Columns: []Column{
				{Name: ColAclKey, Type: TypeUUIDArray, NotNull: true},
				{Name: ColSecurableObjectType, Type: TypeText, NotNull: true},
			},
			PrimaryKey: []string{ColAclKey},
		},
		{
			Name: Permissions,
			Columns: []Column{
				{Name: ColAclKey, Type: TypeUUIDArray, NotNull: true},
				{Name: ColPrincipalType, Type: TypeText, NotNull: true},
				{Name: ColPrincipalID, Type: TypeText, NotNull: true},
				{Name: ColPermissions, Type: TypeText, NotNull: true, Default: "''"},
			},
			PrimaryKey: []string{ColAclKey, ColPrincipalType, ColPrincipalID},
		},
		{
			Name: Names,
			Columns: []Column{
				{Name: ColSecurableObjectID, Type: TypeUUID, NotNull: true},
				{Name: ColName, Type: TypeText, NotNull: true},
			},
			PrimaryKey: []string{ColSecurableObjectID},
		},
		{
			Name: AclKeys,
			Columns: []Column{
				{Name: ColName, Type: TypeText, NotNull: true},
				{Name: ColSecurableObjectID, Type: TypeUUID, NotNull: true},
			},
			PrimaryKey: []string{ColName},
		},
		{
			Name: MaterializedEntitySets,
			Columns: []Column{
				{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColOrganizationID, Type: TypeUUID, NotNull: true},
			},
			PrimaryKey: []string{ColEntitySetID, ColOrganizationID},
		},
		{
			Name: EntitySetPropertyMetadata,
			Columns: []Column{
				{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColPropertyTypeID, Type: TypeUUID, NotNull: true},
				{Name: ColTitle, Type: TypeText},
			},
			PrimaryKey: []string{ColEntitySetID, ColPropertyTypeID},
		},
		{
			Name: IDs,
			Columns: append([]Column{
				{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColID, Type: TypeUUID, NotNull: true},
			}, versionColumns()...),
			PrimaryKey: []string{ColID},
		},
		{
			Name: IDMigration,
			Columns: []Column{
				{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColID, Type: TypeUUID, NotNull: true},
			},
			PrimaryKey: []string{ColID},
		},
		{
			Name: Edges,
			Columns: append([]Column{
				{Name: ColSrcEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColSrcEntityKeyID, Type: TypeUUID, NotNull: true},
				{Name: ColDstEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColDstEntityKeyID, Type: TypeUUID, NotNull: true},
				{Name: ColEdgeEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColEdgeEntityKeyID, Type: TypeUUID, NotNull: true},
			}, versionColumns()...),
			PrimaryKey: EdgeKey,
		},
		{
			Name: Data,
			Columns: append([]Column{
				{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
				{Name: ColID, Type: TypeUUID, NotNull: true},
				{Name: ColOriginID, Type: TypeUUID, NotNull: true},
				{Name: ColPropertyTypeID, Type: TypeUUID, NotNull: true},
				{Name: ColHash, Type: TypeText, NotNull: true},
			}, append(versionColumns(),
				Column{Name: ColLastWrite, Type: TypeTimestamp, NotNull: true, Default: DefaultNow})...),
			PrimaryKey: []string{ColEntitySetID, ColID, ColOriginID, ColPropertyTypeID, ColHash},
		},
	}
}

// EntitySetTableDefinition is the id table of one entity set.
func EntitySetTableDefinition(es types.EntitySet) TableDefinition {
	return TableDefinition{
		Name:       EntitySetTable(es.ID),
		Columns:    []Column{{Name: ColID, Type: TypeUUID, NotNull: true}},
		PrimaryKey: []string{ColID},
	}
}

// PropertyTypeTableDefinition is the value table of one property type. The
// value column is named by the property type's full qualified name.
func PropertyTypeTableDefinition(pt types.PropertyType) TableDefinition {
	return TableDefinition{
		Name: PropertyTypeTable(pt.ID),
		Columns: []Column{
			{Name: ColEntitySetID, Type: TypeUUID, NotNull: true},
			{Name: ColID, Type: TypeUUID, NotNull: true},
			{Name: pt.Type.String(), Type: TypeText},
			{Name: ColVersion, Type: TypeBigInt, NotNull: true, Default: "0"},
		},
	}
}

// EdgeIndexes are the endpoint indexes the edge check filters on.
func EdgeIndexes() []IndexDefinition {
	return []IndexDefinition{
		{Name: "edges_src_idx", Table: Edges, Columns: []string{ColSrcEntitySetID, ColSrcEntityKeyID}},
		{Name: "edges_dst_idx", Table: Edges, Columns: []string{ColDstEntitySetID, ColDstEntityKeyID}},
		{Name: "edges_edge_idx", Table: Edges, Columns: []string{ColEdgeEntitySetID, ColEdgeEntityKeyID}},
		{Name: "ids_entity_set_version_idx", Table: IDs, Columns: []string{ColEntitySetID, ColVersion}},
	}
}

// DataIndexes are the indexes the linking check filters on.
func DataIndexes() []IndexDefinition {
	return []IndexDefinition{
		{Name: "data_origin_property_idx", Table: Data, Columns: []string{ColOriginID, ColPropertyTypeID}},
		{Name: "data_entity_set_version_idx", Table: Data, Columns: []string{ColEntitySetID, ColVersion}},
	}
}
