package integrity

import (
	"fmt"

	"github.com/mesh-intelligence/mender/internal/schema"
)

// clearing renders the UPDATE that clears tombstones onto dependent rows.
//
// A cleared row takes the tombstone's version and gets it appended to its
// history. Only live rows are touched, and the predicate is part of the
// statement itself, so a row another pass already tombstoned is left alone.
// When several tombstones match one row, Latest picks the smallest version:
// tombstones are negated timestamps, so that is the most recent one.
type clearing struct {
	// Target is the table holding the dependent rows.
	Target string
	// Latest is a scalar subquery correlated with Target yielding the
	// version to clear to, or NULL when no tombstone matches.
	Latest string
	// Scope restricts the candidate rows of Target.
	Scope string
	// Touch is an optional extra assignment.
	Touch string
}

func (c clearing) SQL(d schema.Dialect) string {
	set := fmt.Sprintf("%s = %s, %s = %s",
		schema.ColVersion, c.Latest,
		schema.ColVersions, d.AppendVersion(schema.ColVersions, c.Latest))
	if c.Touch != "" {
		set += ", " + c.Touch
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s > 0 AND ( %s ) AND %s IS NOT NULL",
		schema.Quote(c.Target), set, schema.ColVersion, c.Scope, c.Latest)
}
