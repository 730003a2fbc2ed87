// Package integrity holds the repair checks: orphan detection with cascading
// deletes across the registry, acl, edge, id and property-value tables, and
// the tombstone clearing shared by the edge and linking repairs.
//
// Every statement is idempotent, so any check can be rerun after a partial
// failure.
package integrity

import (
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

// Check names as registered with the task registry.
const (
	EntitySetsCheck = "entitysets"
	EdgesCheck      = "edges"
	IntegrityCheck  = "integrity"
	LinkingCheck    = "linking"
	EntitiesCheck   = "entities"
	EdmCheck        = "edm"
)

// Checks returns every repair check bound to tb.
func Checks(tb *toolbox.Toolbox) []types.Task {
	return []types.Task{
		NewEntitySets(tb),
		NewEdges(tb),
		NewIDSync(tb),
		NewLinking(tb),
		NewEntities(tb),
		NewEdm(tb),
	}
}
