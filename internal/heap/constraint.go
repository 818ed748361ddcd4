package heap

import (
	"strings"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/record"
)

// Constraint checks a populated, not yet indexed row.
type Constraint interface {
	Validate(qc *expr.QueryContext, row *Cursor) error
	String() string
}

// IndexConstraint checks a unique column through its index.
type IndexConstraint struct {
	column *record.Column
}

func NewIndexConstraint(c *record.Column) *IndexConstraint {
	return &IndexConstraint{column: c}
}

func (ic *IndexConstraint) Validate(_ *expr.QueryContext, row *Cursor) error {
	row.RLock()
	key := ic.column.KeyBytes(row.Buffer(), row.RowOffset())
	row.RUnlock()
	if key == nil {
		return nil
	}

	addr, err := ic.column.LookupIndex(key)
	if err != nil {
		return err
	}
	if addr != 0 && addr != row.Address() {
		return dberr.Uniqueness(row.Table().Name(), ic.column.Name(),
			"duplicate key in unique column (row %#x)", addr)
	}
	return nil
}

func (ic *IndexConstraint) String() string {
	return "IndexConstraint[" + ic.column.Name() + "]"
}

// ScanConstraint checks a unique column set by comparing the row with every
// VALID row of the table.
type ScanConstraint struct {
	columns []*record.Column
}

func NewScanConstraint(cols ...*record.Column) *ScanConstraint {
	return &ScanConstraint{columns: cols}
}

func (sc *ScanConstraint) Validate(qc *expr.QueryContext, row *Cursor) error {
	t := row.Table()

	row.RLock()
	buf, off := row.Buffer(), row.RowOffset()
	for _, c := range sc.columns {
		if c.IsNull(buf, off) {
			row.RUnlock()
			return nil
		}
	}
	// candidate bytes are only written by the inserting goroutine
	cand := t.row.Snapshot(buf, off)
	row.RUnlock()

	it := t.NewCursor()
	defer it.Free()
	for {
		if qc != nil && qc.Ctx != nil {
			if err := qc.Ctx.Err(); err != nil {
				return err
			}
		}
		ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if it.BlockID() == row.BlockID() && it.RowOffset() == off {
			continue
		}

		it.RLock()
		match := true
		for _, c := range sc.columns {
			if !c.EqualsRaw(cand, 0, it.Buffer(), it.RowOffset()) {
				match = false
				break
			}
		}
		it.RUnlock()

		if match {
			return dberr.Uniqueness(t.Name(), sc.columnNames(),
				"duplicate key in unique columns (row %#x)", it.Address())
		}
	}
}

func (sc *ScanConstraint) columnNames() string {
	names := make([]string, len(sc.columns))
	for i, c := range sc.columns {
		names[i] = c.Name()
	}
	return strings.Join(names, ",")
}

func (sc *ScanConstraint) String() string {
	return "ScanConstraint[" + sc.columnNames() + "]"
}

// buildConstraints picks the strategy for every unique column and column
// set: the index when the column has one, a table scan otherwise. Identity
// columns are unique by construction.
func (t *Table) buildConstraints() {
	t.constraints = t.constraints[:0]
	t.scanValidate = false

	for _, c := range t.row.Columns() {
		if !c.IsUnique() || c.Type() == record.TypeIdentity {
			continue
		}
		if c.IsBlobLayout() {
			t.log.Debug("heap: unique blob column is not checked", "column", c.Name())
			continue
		}
		if c.Index() != nil {
			t.constraints = append(t.constraints, NewIndexConstraint(c))
			continue
		}
		t.constraints = append(t.constraints, NewScanConstraint(c))
		t.scanValidate = true
	}
	for _, set := range t.uniqueSets {
		t.constraints = append(t.constraints, NewScanConstraint(set...))
		t.scanValidate = true
	}
}
