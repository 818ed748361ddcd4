package heap

import (
	"fmt"

	"github.com/spf13/cast"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

// Cursor walks the VALID rows of a table block by block. It pins the block
// it is positioned on; Free releases it. Row bytes are read under the block
// read lock.
//
// A cursor set with InitNullRow stands for the null row of an outer join:
// every column reads as NULL and it cannot be deleted.
type Cursor struct {
	t *Table

	block   *storage.Block
	blockID uint64
	rowOff  int
	started bool
	// borrowed cursors do not own the block pin
	borrowed bool
	nullRow  bool
}

// NewCursor returns a cursor positioned before the first row.
func (t *Table) NewCursor() *Cursor {
	return &Cursor{t: t, rowOff: -t.rowLength}
}

// borrowCursor positions a cursor on a row of a block the caller has pinned.
func (t *Table) borrowCursor(b *storage.Block, off int) *Cursor {
	return &Cursor{t: t, block: b, blockID: b.ID(), rowOff: off, started: true, borrowed: true}
}

func (c *Cursor) Table() *Table { return c.t }

// Next advances to the next VALID row of the table.
func (c *Cursor) Next() (bool, error) {
	if c.nullRow {
		return false, nil
	}
	for {
		if c.block != nil && c.NextRow() {
			return true, nil
		}
		ok, err := c.NextBlock()
		if err != nil || !ok {
			return false, err
		}
	}
}

// NextBlock moves to the next row block and before its first row.
func (c *Cursor) NextBlock() (bool, error) {
	after := uint64(0)
	if c.started {
		after = c.blockID + storage.BlockSize
	}
	c.started = true
	c.release()

	id, ok := c.t.store.FirstBlock(after, storage.AllocRow)
	if !ok {
		c.blockID = after
		c.rowOff = c.t.rowEnd
		return false, nil
	}
	b, err := c.t.store.ReadBlock(id)
	if err != nil {
		return false, err
	}
	c.block = b
	c.blockID = id
	c.InitRow()
	return true, nil
}

// InitRow rewinds to before the first row of the current block.
func (c *Cursor) InitRow() { c.rowOff = -c.t.rowLength }

// NextRow advances to the next VALID row of the current block.
func (c *Cursor) NextRow() bool {
	if c.block == nil {
		return false
	}
	c.block.RLock()
	defer c.block.RUnlock()

	buf := c.block.Buffer()
	for off := c.rowOff + c.t.rowLength; off < c.t.rowEnd; off += c.t.rowLength {
		if record.State(buf, off) == record.RowValid {
			c.rowOff = off
			return true
		}
	}
	c.rowOff = c.t.rowEnd
	return false
}

// SetRow positions the cursor on the row at addr, pinning its block. The
// row need not be VALID; see IsValid.
func (c *Cursor) SetRow(addr uint64) error {
	blockID, off, err := c.t.rowAt(addr)
	if err != nil {
		return err
	}
	c.nullRow = false
	if c.block == nil || c.blockID != blockID {
		c.release()
		b, err := c.t.store.ReadBlock(blockID)
		if err != nil {
			return err
		}
		c.block = b
		c.blockID = blockID
	}
	c.started = true
	c.rowOff = off
	return nil
}

// IsValid reports whether the current row is a live row.
func (c *Cursor) IsValid() bool {
	if c.nullRow || c.block == nil || c.rowOff < 0 || c.rowOff >= c.t.rowEnd {
		return false
	}
	c.block.RLock()
	defer c.block.RUnlock()
	return record.State(c.block.Buffer(), c.rowOff) == record.RowValid
}

// InitNullRow turns the cursor into the null row.
func (c *Cursor) InitNullRow() {
	c.release()
	c.nullRow = true
	c.started = true
}

func (c *Cursor) IsNullRow() bool { return c.nullRow }

func (c *Cursor) BlockID() uint64 { return c.blockID }

func (c *Cursor) RowOffset() int { return c.rowOff }

// Address is the row address of the current row, or 0 on the null row.
func (c *Cursor) Address() uint64 {
	if c.nullRow || c.block == nil {
		return 0
	}
	return storage.RowAddress(c.blockID, c.rowOff)
}

// Buffer is the raw buffer of the current block. Hold RLock while reading.
func (c *Cursor) Buffer() []byte {
	if c.block == nil {
		return nil
	}
	return c.block.Buffer()
}

// RLock takes the read lock of the current block.
func (c *Cursor) RLock() {
	if c.block != nil {
		c.block.RLock()
	}
}

func (c *Cursor) RUnlock() {
	if c.block != nil {
		c.block.RUnlock()
	}
}

func (c *Cursor) positioned() error {
	if c.block == nil || c.rowOff < 0 || c.rowOff >= c.t.rowEnd {
		return dberr.Internal("cursor", "cursor is not on a row").WithTable(c.t.name, "")
	}
	return nil
}

// Value decodes column i of the current row.
func (c *Cursor) Value(i int) (any, error) {
	if c.nullRow {
		return nil, nil
	}
	if err := c.positioned(); err != nil {
		return nil, err
	}
	c.block.RLock()
	defer c.block.RUnlock()
	return c.t.row.Value(c.blockID, c.block.Buffer(), c.rowOff, i)
}

// Values decodes every column of the current row.
func (c *Cursor) Values() ([]any, error) {
	if c.nullRow {
		return make([]any, len(c.t.row.Columns())), nil
	}
	if err := c.positioned(); err != nil {
		return nil, err
	}
	c.block.RLock()
	defer c.block.RUnlock()
	return c.t.row.Values(c.blockID, c.block.Buffer(), c.rowOff)
}

// IsNull reports whether column i of the current row is NULL.
func (c *Cursor) IsNull(i int) bool {
	if c.nullRow || c.positioned() != nil {
		return true
	}
	c.block.RLock()
	defer c.block.RUnlock()
	return c.t.row.Columns()[i].IsNull(c.block.Buffer(), c.rowOff)
}

// Long reads an integral column; NULL reads as 0.
func (c *Cursor) Long(i int) int64 {
	if c.nullRow || c.positioned() != nil {
		return 0
	}
	c.block.RLock()
	defer c.block.RUnlock()
	return c.t.row.Columns()[i].GetLong(c.blockID, c.block.Buffer(), c.rowOff)
}

// String reads column i as text; NULL reads as "".
func (c *Cursor) String(i int) (string, error) {
	v, err := c.Value(i)
	if err != nil || v == nil {
		return "", err
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", dberr.Wrap(dberr.KindEncoding, "get string", err).WithTable(c.t.name, c.t.row.Columns()[i].Name())
	}
	return s, nil
}

// Double reads column i as a float; NULL reads as 0.
func (c *Cursor) Double(i int) (float64, error) {
	v, err := c.Value(i)
	if err != nil || v == nil {
		return 0, err
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, dberr.Wrap(dberr.KindEncoding, "get double", err).WithTable(c.t.name, c.t.row.Columns()[i].Name())
	}
	return f, nil
}

// Bytes reads column i as raw bytes; NULL reads as nil.
func (c *Cursor) Bytes(i int) ([]byte, error) {
	v, err := c.Value(i)
	if err != nil || v == nil {
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindEncoding, "get bytes", err).WithTable(c.t.name, c.t.row.Columns()[i].Name())
	}
	return []byte(s), nil
}

// Delete deletes the current row.
func (c *Cursor) Delete(x *xa.Transaction) error {
	if c.nullRow {
		return dberr.Internal("cursor delete", "null row").WithTable(c.t.name, "")
	}
	if err := c.positioned(); err != nil {
		return err
	}
	return c.t.deleteAt(x, c.block, c.rowOff)
}

func (c *Cursor) release() {
	if c.block != nil && !c.borrowed {
		c.block.Release()
	}
	c.block = nil
	c.borrowed = false
}

// Free releases the block pin. The cursor can be reused from the start.
func (c *Cursor) Free() {
	c.release()
	c.started = false
	c.nullRow = false
	c.blockID = 0
	c.rowOff = -c.t.rowLength
}

func (c *Cursor) GoString() string {
	if c.nullRow {
		return fmt.Sprintf("Cursor[%s null]", c.t.name)
	}
	return fmt.Sprintf("Cursor[%s %#x+%d]", c.t.name, c.blockID, c.rowOff)
}
