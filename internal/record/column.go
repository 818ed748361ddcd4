package record

import (
	"bytes"
	"fmt"

	"github.com/tuannm99/rowstore/internal/btree"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

// Updater is the transaction as seen by the codec.
type Updater interface {
	AddUpdateBlock(b *storage.Block)
	AddDeleteInode(d xa.Deleter)
}

var _ Updater = (*xa.Transaction)(nil)

// Column is one typed field of a Row. Its layout (offset, length, null bit)
// is fixed when the column is added and never changes.
type Column struct {
	name  string
	typ   ColumnType
	size  int // declared chars/bytes, NUMERIC precision
	scale int
	pos   int
	table string

	offset     int
	length     int
	nullOffset int
	nullMask   byte
	blobLayout bool

	primaryKey bool
	unique     bool
	notNull    bool
	autoIncMin int64
	def        expr.Expr
	index      btree.Index
}

func (c *Column) Name() string       { return c.name }
func (c *Column) Type() ColumnType   { return c.typ }
func (c *Column) Size() int          { return c.size }
func (c *Column) Scale() int         { return c.scale }
func (c *Column) Position() int      { return c.pos }
func (c *Column) Offset() int        { return c.offset }
func (c *Column) Length() int        { return c.length }
func (c *Column) IsBlobLayout() bool { return c.blobLayout }

func (c *Column) IsPrimaryKey() bool { return c.primaryKey }

// IsUnique is true for UNIQUE and PRIMARY KEY columns.
func (c *Column) IsUnique() bool { return c.unique || c.primaryKey }

func (c *Column) IsNotNull() bool { return c.notNull || c.primaryKey }

func (c *Column) SetPrimaryKey() { c.primaryKey = true }
func (c *Column) SetUnique()     { c.unique = true }
func (c *Column) SetNotNull()    { c.notNull = true }

func (c *Column) Default() expr.Expr      { return c.def }
func (c *Column) SetDefault(e expr.Expr) { c.def = e }

// AutoIncrement returns the auto_increment minimum, or -1.
func (c *Column) AutoIncrement() int64 { return c.autoIncMin }

func (c *Column) SetAutoIncrement(floor int64) {
	if floor < 1 {
		floor = 1
	}
	c.autoIncMin = floor
}

func (c *Column) Index() btree.Index     { return c.index }
func (c *Column) SetIndex(i btree.Index) { c.index = i }

// SQLType renders the column type as it appears in CREATE TABLE.
func (c *Column) SQLType() string {
	switch c.typ {
	case TypeVarchar, TypeBinary, TypeVarbinary:
		return fmt.Sprintf("%s(%d)", c.typ, c.size)
	case TypeNumeric:
		return fmt.Sprintf("NUMERIC(%d,%d)", c.size, c.scale)
	default:
		return c.typ.String()
	}
}

func (c *Column) String() string {
	return fmt.Sprintf("Column[%s %s @%d+%d]", c.name, c.SQLType(), c.offset, c.length)
}

// IsNull reports whether the column of the row at rowOff is NULL.
func (c *Column) IsNull(buf []byte, rowOff int) bool {
	if c.typ == TypeIdentity {
		return false
	}
	return buf[rowOff+c.nullOffset]&c.nullMask == 0
}

// SetNull clears the null bit; payload bytes are left as they are.
func (c *Column) SetNull(buf []byte, rowOff int) {
	buf[rowOff+c.nullOffset] &^= c.nullMask
}

func (c *Column) setNonNull(buf []byte, rowOff int) {
	buf[rowOff+c.nullOffset] |= c.nullMask
}

// raw is the column's byte range inside the row at rowOff.
func (c *Column) raw(buf []byte, rowOff int) []byte {
	start := rowOff + c.offset
	return buf[start : start+c.length]
}

// KeyBytes copies the encoded column bytes used as index key, or nil when
// the value is NULL.
func (c *Column) KeyBytes(buf []byte, rowOff int) []byte {
	if c.IsNull(buf, rowOff) {
		return nil
	}
	return bytes.Clone(c.raw(buf, rowOff))
}

// EqualsRaw compares the encoded column of two rows. NULL equals nothing.
func (c *Column) EqualsRaw(bufA []byte, offA int, bufB []byte, offB int) bool {
	if c.blobLayout || c.typ == TypeIdentity {
		return false
	}
	if c.IsNull(bufA, offA) || c.IsNull(bufB, offB) {
		return false
	}
	return bytes.Equal(c.raw(bufA, offA), c.raw(bufB, offB))
}

// EqualsBytes compares the encoded column against external key bytes.
func (c *Column) EqualsBytes(buf []byte, rowOff int, key []byte) bool {
	if c.blobLayout || c.typ == TypeIdentity || c.IsNull(buf, rowOff) {
		return false
	}
	return bytes.Equal(c.raw(buf, rowOff), key)
}
