package heap

import (
	"context"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

const (
	insertRetries   = 8
	insertRetryBase = 100 * time.Microsecond
)

// Insert stores one row and returns its address. columns[i] takes the value
// of values[i]; every other column takes its DEFAULT, the next
// auto_increment value, or NULL. Dirtied blocks are recorded on qc.Xa.
func (t *Table) Insert(qc *expr.QueryContext, columns []*record.Column, values []expr.Expr) (uint64, error) {
	if err := t.checkOpen(); err != nil {
		return 0, err
	}
	if qc == nil || qc.Xa == nil {
		return 0, dberr.Internal("insert", "no transaction").WithTable(t.name, "")
	}
	if len(columns) != len(values) {
		return 0, dberr.Schema("insert", "%d columns for %d values", len(columns), len(values)).
			WithTable(t.name, "")
	}

	vals, err := t.insertValues(qc, columns, values)
	if err != nil {
		return 0, err
	}

	t.log.Debug("heap: insert row", "xa", qc.Xa.ID())

	ctx := qc.Ctx
	if ctx == nil {
		ctx = context.Background()
	}

	var addr uint64
	b := retry.WithMaxRetries(insertRetries, retry.NewExponential(insertRetryBase))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		a, err := t.insertOnce(ctx, qc, vals)
		if dberr.IsRetryable(err) {
			t.log.Debug("heap: insert retry", "err", err)
			return retry.RetryableError(err)
		}
		addr = a
		return err
	})
	if err != nil {
		return 0, err
	}
	return addr, nil
}

// insertValues evaluates the row image: one value per column of the row.
func (t *Table) insertValues(qc *expr.QueryContext, columns []*record.Column, values []expr.Expr) ([]any, error) {
	cols := t.row.Columns()
	vals := make([]any, len(cols))
	given := make([]bool, len(cols))

	for i, c := range columns {
		pos := t.row.ColumnIndex(c.Name())
		if pos < 0 || cols[pos] != c {
			return nil, dberr.Schema("insert", "column is not part of the table").WithTable(t.name, c.Name())
		}
		if c.Type() == record.TypeIdentity {
			return nil, dberr.Unsupported("insert", "identity value is derived from the row address").
				WithTable(t.name, c.Name())
		}
		v, err := values[i].Eval(qc)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindEncoding, "insert", err).WithTable(t.name, c.Name())
		}
		vals[pos] = v
		given[pos] = true
	}

	for i, c := range cols {
		switch {
		case c == t.autoInc && vals[i] == nil:
			n, err := t.NextAutoIncrement(qc)
			if err != nil {
				return nil, err
			}
			vals[i] = n
		case given[i] || c.Type() == record.TypeIdentity:
		case c.Default() != nil:
			v, err := c.Default().Eval(qc)
			if err != nil {
				return nil, dberr.Wrap(dberr.KindEncoding, "default", err).WithTable(t.name, c.Name())
			}
			vals[i] = v
		}
	}
	return vals, nil
}

// insertOnce finds a block with a free slot and inserts into it.
func (t *Table) insertOnce(ctx context.Context, qc *expr.QueryContext, vals []any) (uint64, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		blockID, err := t.alloc.acquire(ctx)
		if err != nil {
			return 0, err
		}
		b, err := t.store.ReadBlock(blockID)
		if err != nil {
			return 0, err
		}

		addr, ok, err := t.insertIntoBlock(qc, b, vals)
		b.Release()
		if err != nil {
			return 0, err
		}
		if ok {
			t.alloc.push(blockID)
			return addr, nil
		}
	}
}

// insertIntoBlock reserves the first free slot of b and runs the row
// through populate, validate, index and commit. ok is false when b has no
// free slot.
func (t *Table) insertIntoBlock(qc *expr.QueryContext, b *storage.Block, vals []any) (addr uint64, ok bool, err error) {
	x := qc.Xa
	if err := b.Lock(x.Timeout()); err != nil {
		return 0, false, dberr.LockTimeout("insert", b.ID())
	}

	buf := b.Buffer()
	off := t.allocateRow(buf)
	if off < 0 {
		b.Unlock()
		return 0, false, nil
	}
	addr = storage.RowAddress(b.ID(), off)

	err = t.populate(x, buf, off, vals)
	b.SetDirty(off, off+t.rowLength)
	b.Unlock()

	if t.scanValidate {
		t.insertMu.Lock()
		defer t.insertMu.Unlock()
	}

	if err == nil {
		err = t.validate(qc, b, off)
	}
	var indexed []*record.Column
	if err == nil {
		indexed, err = t.insertIndexes(buf, off, addr)
	}

	b.LockWait()
	if err != nil {
		// the row was never visible: its blob chains go now
		t.deleteRow(nil, buf, off, addr, indexed)
		b.SetDirty(off, off+t.rowLength)
		b.Unlock()
		t.log.Debug("heap: insert rolled back", "addr", addr, "err", err)
		return 0, false, err
	}

	record.SetState(buf, off, record.RowValid)
	b.SetDirty(off, off+t.rowLength)
	var autoInc int64
	if t.autoInc != nil {
		autoInc = t.autoInc.GetLong(b.ID(), buf, off)
	}
	b.Unlock()

	x.AddUpdateBlock(b)
	if t.autoInc != nil {
		t.observeAutoIncrement(autoInc)
	}
	t.entries.Add(1)
	return addr, true, nil
}

// allocateRow marks the first free slot ALLOC and returns its offset, or -1.
// The caller holds the block write lock.
func (t *Table) allocateRow(buf []byte) int {
	for off := 0; off < t.rowEnd; off += t.rowLength {
		if buf[off] == 0 {
			buf[off] = record.RowAlloc
			return off
		}
	}
	return -1
}

// populate writes vals into the reserved slot and checks NOT NULL.
func (t *Table) populate(x *xa.Transaction, buf []byte, off int, vals []any) error {
	clear(buf[off+1 : off+t.rowLength])

	for i, c := range t.row.Columns() {
		if vals[i] == nil || c.Type() == record.TypeIdentity {
			continue
		}
		if err := t.row.Set(x, buf, off, i, vals[i]); err != nil {
			return err
		}
	}
	return t.checkNotNull(t.row.Columns(), buf, off)
}

func (t *Table) checkNotNull(cols []*record.Column, buf []byte, off int) error {
	for _, c := range cols {
		if c.IsNotNull() && c.IsNull(buf, off) {
			return dberr.New(dberr.KindConstraint, "insert", "NULL in NOT NULL column").
				WithTable(t.name, c.Name())
		}
	}
	return nil
}

// validate runs every constraint against the row at off of b.
func (t *Table) validate(qc *expr.QueryContext, b *storage.Block, off int) error {
	row := t.borrowCursor(b, off)
	for _, c := range t.constraints {
		if err := c.Validate(qc, row); err != nil {
			return err
		}
	}
	return nil
}

// insertIndexes adds the row to every column index, returning the columns
// indexed so far even on failure.
func (t *Table) insertIndexes(buf []byte, off int, addr uint64) ([]*record.Column, error) {
	var done []*record.Column
	for _, c := range t.row.Columns() {
		if c.Index() == nil {
			continue
		}
		if err := c.InsertIndex(buf, off, addr); err != nil {
			return done, err
		}
		done = append(done, c)
	}
	return done, nil
}

// deleteRow releases the row at off: ALLOC while its blob data and the
// index entries of indexed are removed, then FREE. Blob chains are freed
// when x finishes, or at once when x is nil. The caller holds the block
// write lock.
func (t *Table) deleteRow(x *xa.Transaction, buf []byte, off int, addr uint64, indexed []*record.Column) {
	record.SetState(buf, off, record.RowAlloc)

	var u record.Updater
	if x != nil {
		u = x
	}
	t.row.DeleteData(u, buf, off)
	for _, c := range indexed {
		if err := c.DeleteIndex(buf, off, addr); err != nil {
			t.log.Warn("heap: delete index", "column", c.Name(), "addr", addr, "err", err)
		}
	}
	buf[off] = 0
}

// NextAutoIncrement returns the next auto_increment value. The counter is
// seeded on first use with the largest stored value.
func (t *Table) NextAutoIncrement(qc *expr.QueryContext) (int64, error) {
	if t.autoInc == nil {
		return 0, dberr.Unsupported("auto increment", "table has no auto_increment column").
			WithTable(t.name, "")
	}

	t.mu.Lock()
	if t.autoIncValue >= 0 {
		t.autoIncValue++
		v := t.autoIncValue
		t.mu.Unlock()
		return v, nil
	}
	t.mu.Unlock()

	highest := t.autoInc.AutoIncrement() - 1
	cur := t.NewCursor()
	defer cur.Free()
	for {
		ok, err := cur.Next()
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		highest = max(highest, cur.Long(t.autoInc.Position()))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.autoIncValue < highest {
		t.autoIncValue = highest
	}
	t.autoIncValue++
	return t.autoIncValue, nil
}

func (t *Table) observeAutoIncrement(v int64) {
	t.mu.Lock()
	// an unseeded counter is seeded by the next scan
	if t.autoIncValue >= 0 && t.autoIncValue < v {
		t.autoIncValue = v
	}
	t.mu.Unlock()
}
