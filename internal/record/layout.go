package record

import (
	"strings"

	"github.com/tuannm99/rowstore/internal/blob"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

// Row slot state, kept in bits 0-1 of the first byte of every row.
const (
	RowFree  byte = 0x0
	RowValid byte = 0x1
	RowAlloc byte = 0x2
	RowMask  byte = 0x3

	// first null bit of the state byte
	firstNullMask byte = 0x4
)

// Row is the fixed-size row format of a table: ordered columns, their byte
// offsets and the null bitmap placement.
type Row struct {
	table   string
	columns []*Column
	store   blob.Store

	length     int
	nullOffset int
	nullMask   byte
}

func NewRow(table string) *Row {
	return &Row{
		table:      table,
		length:     1,
		nullOffset: 0,
		nullMask:   firstNullMask,
	}
}

func (r *Row) Table() string { return r.table }

// Length is the fixed byte length of every row slot.
func (r *Row) Length() int { return r.length }

// RowsPerBlock is the number of whole row slots in one block.
func (r *Row) RowsPerBlock() int { return storage.BlockSize / r.length }

func (r *Row) Columns() []*Column { return r.columns }

func (r *Row) Column(name string) *Column {
	if i := r.ColumnIndex(name); i >= 0 {
		return r.columns[i]
	}
	return nil
}

// ColumnIndex returns the position of name, or -1. Names are case-insensitive.
func (r *Row) ColumnIndex(name string) int {
	for i, c := range r.columns {
		if strings.EqualFold(c.name, name) {
			return i
		}
	}
	return -1
}

// AddColumn appends a column of type t. size is the declared size (chars or
// bytes), or precision and scale for NUMERIC.
func (r *Row) AddColumn(t ColumnType, name string, size ...int) (*Column, error) {
	const op = "add column"

	if name == "" {
		return nil, dberr.Schema(op, "empty column name").WithTable(r.table, "")
	}
	if r.ColumnIndex(name) >= 0 {
		return nil, dberr.Schema(op, "duplicate column").WithTable(r.table, name)
	}

	declared, scale := 0, 0
	if len(size) > 0 {
		declared = size[0]
	}
	if len(size) > 1 {
		scale = size[1]
	}
	if t == TypeNumeric {
		if declared <= 0 {
			declared = DefaultNumericPrecision
		}
		if scale < 0 || scale > declared || scale > 18 {
			return nil, dberr.Schema(op, "bad NUMERIC(%d,%d)", declared, scale).WithTable(r.table, name)
		}
	}

	length, blobLayout, err := physicalLength(t, declared)
	if err != nil {
		return nil, dberr.Schema(op, "%v", err).WithTable(r.table, name)
	}

	newLength := r.length + length
	nullOffset, nullMask := r.nullOffset, r.nullMask
	nextMask := r.nullMask << 1
	if nextMask == 0 {
		// next column starts a fresh null byte
		newLength++
	}
	if newLength >= storage.BlockSize {
		return nil, dberr.Schema(op, "row length %d reaches block size %d", newLength, storage.BlockSize).
			WithTable(r.table, name)
	}

	c := &Column{
		name:       name,
		typ:        t,
		size:       declared,
		scale:      scale,
		pos:        len(r.columns),
		offset:     r.length,
		length:     length,
		nullOffset: nullOffset,
		nullMask:   nullMask,
		blobLayout: blobLayout,
		autoIncMin: -1,
		table:      r.table,
	}
	r.columns = append(r.columns, c)

	r.length += length
	r.nullMask = nextMask
	if r.nullMask == 0 {
		r.nullMask = 1
		r.nullOffset = r.length
		r.length++
	}
	return c, nil
}

// Bind sets the blob store used by blob-layout columns.
func (r *Row) Bind(store blob.Store) { r.store = store }

func (r *Row) Store() blob.Store { return r.store }

// Set encodes v into column i of the row at rowOff.
func (r *Row) Set(x Updater, buf []byte, rowOff, i int, v any) error {
	return r.columns[i].Set(r.store, x, buf, rowOff, v)
}

// Value decodes column i of the row at rowOff.
func (r *Row) Value(blockID uint64, buf []byte, rowOff, i int) (any, error) {
	return r.columns[i].Value(r.store, blockID, buf, rowOff)
}

// Values decodes every column of the row at rowOff.
func (r *Row) Values(blockID uint64, buf []byte, rowOff int) ([]any, error) {
	out := make([]any, len(r.columns))
	for i, c := range r.columns {
		v, err := c.Value(r.store, blockID, buf, rowOff)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// State returns the slot state bits of the row at rowOff.
func State(buf []byte, rowOff int) byte {
	return buf[rowOff] & RowMask
}

// SetState overwrites the slot state bits, keeping the null bits.
func SetState(buf []byte, rowOff int, state byte) {
	buf[rowOff] = buf[rowOff]&^RowMask | state&RowMask
}

// Zero clears a whole row slot.
func (r *Row) Zero(buf []byte, rowOff int) {
	clear(buf[rowOff : rowOff+r.length])
}

// Snapshot copies a row slot.
func (r *Row) Snapshot(buf []byte, rowOff int) []byte {
	out := make([]byte, r.length)
	copy(out, buf[rowOff:rowOff+r.length])
	return out
}

// Restore writes a snapshot back into a row slot.
func (r *Row) Restore(buf []byte, rowOff int, snap []byte) {
	copy(buf[rowOff:rowOff+r.length], snap)
}

// DeleteData releases blob storage of every column of the row at rowOff.
func (r *Row) DeleteData(x Updater, buf []byte, rowOff int) {
	for _, c := range r.columns {
		c.DeleteData(r.store, x, buf, rowOff)
	}
}
