package record

import (
	"bytes"
	"cmp"
	"errors"
	"log/slog"

	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/blob"
	"github.com/tuannm99/rowstore/internal/btree"
	"github.com/tuannm99/rowstore/internal/dberr"
)

// IndexKeyCompare orders encoded keys of this column, or is nil when the
// column cannot be indexed.
func (c *Column) IndexKeyCompare() btree.KeyCompare {
	if c.blobLayout {
		return nil
	}
	switch c.typ {
	case TypeBoolean, TypeBinary:
		return bytes.Compare
	case TypeByte:
		return func(a, b []byte) int { return cmp.Compare(int8(a[0]), int8(b[0])) }
	case TypeShort:
		return func(a, b []byte) int { return cmp.Compare(bx.I16(a), bx.I16(b)) }
	case TypeInt:
		return func(a, b []byte) int { return cmp.Compare(bx.I32(a), bx.I32(b)) }
	case TypeLong, TypeDate, TypeNumeric:
		return func(a, b []byte) int { return cmp.Compare(bx.I64(a), bx.I64(b)) }
	case TypeDouble:
		return func(a, b []byte) int { return cmp.Compare(bx.F64(a), bx.F64(b)) }
	case TypeVarchar:
		return compareUTF16
	case TypeVarbinary:
		return func(a, b []byte) int {
			return bytes.Compare(a[1:1+int(a[0])], b[1:1+int(b[0])])
		}
	default:
		return nil
	}
}

func compareUTF16(a, b []byte) int {
	la, lb := int(a[0]), int(b[0])
	for i := 0; i < la && i < lb; i++ {
		if c := cmp.Compare(bx.U16(a[1+2*i:]), bx.U16(b[1+2*i:])); c != 0 {
			return c
		}
	}
	return cmp.Compare(la, lb)
}

// InsertIndex adds the row's key to the column index. NULLs are not indexed.
func (c *Column) InsertIndex(buf []byte, rowOff int, addr uint64) error {
	if c.index == nil {
		return nil
	}
	key := c.KeyBytes(buf, rowOff)
	if key == nil {
		return nil
	}
	if err := c.index.Insert(key, addr); err != nil {
		if errors.Is(err, btree.ErrDuplicateKey) {
			return dberr.Uniqueness(c.table, c.name, "duplicate key in unique column")
		}
		if errors.Is(err, btree.ErrKeyLength) || errors.Is(err, btree.ErrZeroAddress) {
			return dberr.Internal("insert index", "%v", err).WithTable(c.table, c.name)
		}
		return dberr.IO("insert index", err)
	}
	return nil
}

// DeleteIndex removes the row's key if the index maps it to addr.
func (c *Column) DeleteIndex(buf []byte, rowOff int, addr uint64) error {
	if c.index == nil {
		return nil
	}
	key := c.KeyBytes(buf, rowOff)
	if key == nil {
		return nil
	}
	got, err := c.index.Lookup(key)
	if err != nil {
		return dberr.IO("delete index", err)
	}
	if got != addr {
		return nil
	}
	if err := c.index.Remove(key); err != nil {
		return dberr.IO("delete index", err)
	}
	return nil
}

// ValidateIndex checks that the index maps the row's key back to addr.
func (c *Column) ValidateIndex(buf []byte, rowOff int, addr uint64) error {
	if c.index == nil {
		return nil
	}
	key := c.KeyBytes(buf, rowOff)
	if key == nil {
		return nil
	}
	got, err := c.index.Lookup(key)
	if err != nil {
		return dberr.IO("validate index", err)
	}
	if got != addr {
		return dberr.Internal("validate index", "invalid index %#x at %#x", got, addr).
			WithTable(c.table, c.name)
	}
	return nil
}

// LookupIndex returns the address indexed for the row's key, or 0.
func (c *Column) LookupIndex(key []byte) (uint64, error) {
	if c.index == nil || key == nil {
		return 0, nil
	}
	addr, err := c.index.Lookup(key)
	if err != nil {
		return 0, dberr.IO("lookup index", err)
	}
	return addr, nil
}

// DeleteData releases storage owned by the column value, such as a blob
// overflow chain. The chain is freed when x finishes, or at once when x is
// nil.
func (c *Column) DeleteData(store blob.Store, x Updater, buf []byte, rowOff int) {
	if !c.blobLayout || c.IsNull(buf, rowOff) {
		return
	}
	c.deleteBlob(store, x, buf, rowOff)
}

func (c *Column) deleteBlob(store blob.Store, x Updater, buf []byte, rowOff int) {
	src := c.raw(buf, rowOff)
	if blob.IsInline(src) {
		return
	}
	ino := blob.NewInode(store, src)
	if x != nil {
		x.AddDeleteInode(ino)
		return
	}
	if err := ino.Delete(); err != nil {
		slog.Warn("record: delete blob", "table", c.table, "column", c.name, "err", err)
	}
}
