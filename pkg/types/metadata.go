package types

import (
	"strings"

	"github.com/google/uuid"
)

// EmptyOriginID is the sentinel origin id carried by property values that
// belong to an entity directly rather than to a linked identity.
var EmptyOriginID = uuid.MustParse("00000000-0000-0001-0000-000000000000")

// FullQualifiedName is a namespace.name pair identifying an entity or
// property type.
type FullQualifiedName struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// String returns the dotted form, e.g. "general.fullname".
func (f FullQualifiedName) String() string {
	return f.Namespace + "." + f.Name
}

// ParseFQN splits a dotted name at its first dot. A name without a dot has
// an empty namespace.
func ParseFQN(s string) FullQualifiedName {
	ns, name, ok := strings.Cut(s, ".")
	if !ok {
		return FullQualifiedName{Name: s}
	}
	return FullQualifiedName{Namespace: ns, Name: name}
}

// EntitySet is a named collection of entities of one entity type.
type EntitySet struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	EntityTypeID uuid.UUID `json:"entity_type_id"`
}

// EntityType describes the property types its entities carry.
type EntityType struct {
	ID         uuid.UUID         `json:"id"`
	Type       FullQualifiedName `json:"type"`
	Properties []uuid.UUID       `json:"properties"`
}

// PropertyType describes one typed property. Each property type owns a
// physical value table.
type PropertyType struct {
	ID       uuid.UUID         `json:"id"`
	Type     FullQualifiedName `json:"type"`
	Datatype string            `json:"datatype"`
}
