package integrity

import (
	"testing"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/mender/internal/storetest"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// registry is a small entity model shared by the repair tests: one entity
// type carrying one property type, plus helpers to register entity sets
// of that type.
type registry struct {
	s    *storetest.Store
	pt   types.PropertyType
	et   types.EntityType
	sets map[string]types.EntitySet
}

func newRegistry(t *testing.T) *registry {
	t.Helper()
	s := storetest.Open(t)
	pt := types.PropertyType{ID: uuid.New(), Type: types.ParseFQN("general.fullname"), Datatype: "String"}
	et := types.EntityType{ID: uuid.New(), Type: types.ParseFQN("general.person"), Properties: []uuid.UUID{pt.ID}}
	s.AddPropertyType(pt)
	s.AddEntityType(et)
	return &registry{s: s, pt: pt, et: et, sets: make(map[string]types.EntitySet)}
}

// entitySet registers an entity set named name and creates its id table.
func (r *registry) entitySet(name string) types.EntitySet {
	es := types.EntitySet{ID: uuid.New(), Name: name, EntityTypeID: r.et.ID}
	r.s.AddEntitySet(es)
	r.sets[name] = es
	return es
}
