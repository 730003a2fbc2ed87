package types

import (
	"strings"

	"github.com/google/uuid"
)

// SecurableObjectType tags the kind of object an acl key identifies.
type SecurableObjectType string

// Securable object types the entity-set repair cares about. Other types
// (organizations, roles, ...) are never touched.
const (
	SecurableEntitySet               SecurableObjectType = "EntitySet"
	SecurablePropertyTypeInEntitySet SecurableObjectType = "PropertyTypeInEntitySet"
)

// AclKey is the ordered id path of a securable object: one element for an
// entity set, two (entity set, property type) for a property in an entity set.
type AclKey []uuid.UUID

// Root returns the leading component, or uuid.Nil for an empty key.
func (k AclKey) Root() uuid.UUID {
	if len(k) == 0 {
		return uuid.Nil
	}
	return k[0]
}

func (k AclKey) String() string {
	parts := make([]string, len(k))
	for i, id := range k {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, ",") + "]"
}
