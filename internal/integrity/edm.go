package integrity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/mesh-intelligence/mender/internal/schema"
	"github.com/mesh-intelligence/mender/internal/toolbox"
	"github.com/mesh-intelligence/mender/pkg/types"
)

const stepEdmRenamed = "renamed_columns"

// Edm verifies that each property type table names its value column after
// the property type. A single stray dotted column is renamed; anything more
// ambiguous is reported as a consistency violation and left untouched.
type Edm struct {
	tb *toolbox.Toolbox
}

func NewEdm(tb *toolbox.Toolbox) *Edm { return &Edm{tb: tb} }

func (c *Edm) Name() string { return EdmCheck }

func (c *Edm) Run(ctx context.Context) (bool, error) {
	tb := c.tb
	_, err := tb.Step(c.Name(), stepEdmRenamed, func() (int64, error) {
		var renamed int64
		err := tb.WithConn(ctx, func(conn *sql.Conn) error {
			for _, pt := range tb.Snapshot.PropertyTypes() {
				ok, err := c.align(ctx, conn, pt)
				if err != nil {
					return err
				}
				if ok {
					renamed++
				}
			}
			return nil
		})
		return renamed, err
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

// align renames a stray value column of pt's table and reports whether it
// did.
func (c *Edm) align(ctx context.Context, conn *sql.Conn, pt types.PropertyType) (bool, error) {
	tb := c.tb
	table := schema.PropertyTypeTable(pt.ID)
	want := pt.Type.String()

	cols, err := tb.ColumnNames(ctx, conn, table)
	if err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, nil
	}
	stray, hasWant := strayColumns(cols, want)
	switch {
	case len(stray) == 0:
		return false, nil
	case len(stray) > 1 || hasWant:
		return false, fmt.Errorf("%w: table %s for %s has dotted columns %v",
			types.ErrConsistency, table, want, stray)
	}

	tb.Logger.Info("renaming value column", "task", c.Name(), "table", table, "from", stray[0], "to", want)
	q := fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
		schema.Quote(table), schema.Quote(stray[0]), schema.Quote(want))
	if _, err := conn.ExecContext(ctx, q); err != nil {
		return false, fmt.Errorf("rename column of %s: %w", table, err)
	}

	cols, err = tb.ColumnNames(ctx, conn, table)
	if err != nil {
		return false, err
	}
	if stray, _ := strayColumns(cols, want); len(stray) > 0 {
		return false, fmt.Errorf("%w: table %s still has dotted columns %v after rename",
			types.ErrConsistency, table, stray)
	}
	return true, nil
}

// strayColumns returns the dotted columns other than want and whether want
// itself is present.
func strayColumns(cols []string, want string) ([]string, bool) {
	var (
		stray   []string
		hasWant bool
	)
	for _, col := range cols {
		switch {
		case col == want:
			hasWant = true
		case strings.Contains(col, "."):
			stray = append(stray, col)
		}
	}
	return stray, hasWant
}
