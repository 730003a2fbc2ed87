package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/pkg/types"
)

// ColumnType is a logical column type rendered per dialect.
type ColumnType int

const (
	TypeUUID ColumnType = iota
	TypeUUIDArray
	TypeText
	TypeInt
	TypeBigInt
	TypeBigIntArray
	TypeTimestamp
)

// Dialect renders the SQL constructs that differ between stores. Postgres
// keeps arrays as native uuid[]/bigint[] columns; SQLite keeps them as JSON
// text and unnests them with json_each.
type Dialect interface {
	Name() string

	// Param returns the placeholder for the n-th (1-based) bound argument.
	// The same placeholder may appear more than once in a statement.
	Param(n int) string

	// Type maps a logical column type to a DDL type.
	Type(t ColumnType) string

	// EmptyArray is the literal default for an empty array column.
	EmptyArray() string

	// UUIDArray encodes ids for binding as an array parameter.
	UUIDArray(ids []uuid.UUID) any

	// Int64Array encodes versions for binding as an array parameter.
	Int64Array(vs []int64) any

	// AnyUUID renders "col is one of the ids bound at n".
	AnyUUID(col string, n int) string

	// AclKeyRoot renders the leading component of an acl key column.
	AclKeyRoot(col string) string

	// AclKeyEquals renders "col equals the acl key bound at n".
	AclKeyEquals(col string, n int) string

	// ArrayText renders an array column as text that DecodeUUIDs and
	// DecodeInt64s understand.
	ArrayText(col string) string

	DecodeUUIDs(s string) ([]uuid.UUID, error)
	DecodeInt64s(s string) ([]int64, error)

	// AppendVersion renders col with expr appended as its last element.
	AppendVersion(col, expr string) string

	// Now renders the current timestamp.
	Now() string

	// TableExistsQuery takes one parameter, the unquoted table name, and
	// returns a single boolean row.
	TableExistsQuery() string

	// ColumnsQuery takes one parameter, the unquoted table name, and
	// returns one row per column name.
	ColumnsQuery() string
}

// ForName returns the dialect registered under name.
func ForName(name string) (Dialect, error) {
	switch name {
	case types.DialectPostgres:
		return Postgres{}, nil
	case types.DialectSQLite:
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", types.ErrDialectUnknown, name)
	}
}

// Quote quotes an identifier. Both dialects accept ANSI double quotes.
func Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

// Postgres renders SQL for a Postgres store reached through pgx.
type Postgres struct{}

var _ Dialect = Postgres{}

func (Postgres) Name() string { return types.DialectPostgres }

func (Postgres) Param(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) Type(t ColumnType) string {
	switch t {
	case TypeUUID:
		return "uuid"
	case TypeUUIDArray:
		return "uuid[]"
	case TypeInt:
		return "integer"
	case TypeBigInt:
		return "bigint"
	case TypeBigIntArray:
		return "bigint[]"
	case TypeTimestamp:
		return "timestamptz"
	default:
		return "text"
	}
}

func (Postgres) EmptyArray() string { return "'{}'" }

// UUIDArray binds as text[]; AnyUUID and AclKeyEquals cast it to uuid[].
func (Postgres) UUIDArray(ids []uuid.UUID) any { return uuidStrings(ids) }

func (Postgres) Int64Array(vs []int64) any {
	if vs == nil {
		return []int64{}
	}
	return vs
}

func (p Postgres) AnyUUID(col string, n int) string {
	return fmt.Sprintf("%s = ANY( CAST(%s AS uuid[]) )", col, p.Param(n))
}

func (Postgres) AclKeyRoot(col string) string { return col + "[1]" }

func (p Postgres) AclKeyEquals(col string, n int) string {
	return fmt.Sprintf("%s = CAST(%s AS uuid[])", col, p.Param(n))
}

func (Postgres) ArrayText(col string) string {
	return fmt.Sprintf("array_to_string(%s, ',')", col)
}

func (Postgres) DecodeUUIDs(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]uuid.UUID, len(parts))
	for i, p := range parts {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("decode uuid array element %q: %w", p, err)
		}
		out[i] = id
	}
	return out, nil
}

func (Postgres) DecodeInt64s(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode bigint array element %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func (Postgres) AppendVersion(col, expr string) string {
	return fmt.Sprintf("array_append(%s, %s)", col, expr)
}

func (Postgres) Now() string { return "now()" }

func (Postgres) TableExistsQuery() string {
	return "SELECT EXISTS ( SELECT 1 FROM information_schema.tables WHERE table_name = $1 )"
}

func (Postgres) ColumnsQuery() string {
	return "SELECT column_name FROM information_schema.columns WHERE table_name = $1 ORDER BY ordinal_position"
}

// SQLite renders SQL for a SQLite store reached through modernc.org/sqlite.
type SQLite struct{}

var _ Dialect = SQLite{}

func (SQLite) Name() string { return types.DialectSQLite }

func (SQLite) Param(n int) string { return "?" + strconv.Itoa(n) }

func (SQLite) Type(t ColumnType) string {
	switch t {
	case TypeInt, TypeBigInt:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (SQLite) EmptyArray() string { return "'[]'" }

func (SQLite) UUIDArray(ids []uuid.UUID) any {
	b, _ := json.Marshal(uuidStrings(ids))
	return string(b)
}

func (SQLite) Int64Array(vs []int64) any {
	if vs == nil {
		vs = []int64{}
	}
	b, _ := json.Marshal(vs)
	return string(b)
}

func (s SQLite) AnyUUID(col string, n int) string {
	return fmt.Sprintf("%s IN ( SELECT value FROM json_each(%s) )", col, s.Param(n))
}

func (SQLite) AclKeyRoot(col string) string {
	return fmt.Sprintf("json_extract(%s, '$[0]')", col)
}

func (s SQLite) AclKeyEquals(col string, n int) string {
	return fmt.Sprintf("json(%s) = json(%s)", col, s.Param(n))
}

func (SQLite) ArrayText(col string) string { return col }

func (SQLite) DecodeUUIDs(s string) ([]uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	var raw []string
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("decode uuid array: %w", err)
	}
	out := make([]uuid.UUID, len(raw))
	for i, p := range raw {
		id, err := uuid.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("decode uuid array element %q: %w", p, err)
		}
		out[i] = id
	}
	return out, nil
}

func (SQLite) DecodeInt64s(s string) ([]int64, error) {
	if s == "" {
		return nil, nil
	}
	var out []int64
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("decode bigint array: %w", err)
	}
	return out, nil
}

func (SQLite) AppendVersion(col, expr string) string {
	return fmt.Sprintf("json_insert(%s, '$[#]', %s)", col, expr)
}

func (SQLite) Now() string { return "CURRENT_TIMESTAMP" }

func (SQLite) TableExistsQuery() string {
	return "SELECT EXISTS ( SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?1 )"
}

func (SQLite) ColumnsQuery() string {
	return "SELECT name FROM pragma_table_info(?1)"
}
