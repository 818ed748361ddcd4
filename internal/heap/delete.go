package heap

import (
	"bytes"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

// Delete frees the row at addr. Its blob chains are released when x commits.
// The slot is found again by the sweep; it is not pushed to the free ring.
func (t *Table) Delete(x *xa.Transaction, addr uint64) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	blockID, off, err := t.rowAt(addr)
	if err != nil {
		return err
	}
	b, err := t.store.ReadBlock(blockID)
	if err != nil {
		return err
	}
	defer b.Release()
	return t.deleteAt(x, b, off)
}

func (t *Table) deleteAt(x *xa.Transaction, b *storage.Block, off int) error {
	if err := b.Lock(x.Timeout()); err != nil {
		return dberr.LockTimeout("delete", b.ID())
	}
	buf := b.Buffer()
	addr := storage.RowAddress(b.ID(), off)
	if record.State(buf, off) != record.RowValid {
		b.Unlock()
		return ErrRowNotFound
	}

	t.deleteRow(x, buf, off, addr, t.row.Columns())
	b.SetDirty(off, off+t.rowLength)
	b.Unlock()

	x.AddUpdateBlock(b)
	t.entries.Add(-1)
	t.log.Debug("heap: delete row", "addr", addr, "xa", x.ID())
	return nil
}

// Update overwrites columns of the row at addr. Index entries of changed
// indexed columns are replaced and constraints are checked again. On
// failure the row, its index entries and the transaction's pending blob
// deletions are put back as they were.
func (t *Table) Update(qc *expr.QueryContext, addr uint64, columns []*record.Column, values []expr.Expr) error {
	if err := t.checkOpen(); err != nil {
		return err
	}
	if qc == nil || qc.Xa == nil {
		return dberr.Internal("update", "no transaction").WithTable(t.name, "")
	}
	if len(columns) != len(values) {
		return dberr.Schema("update", "%d columns for %d values", len(columns), len(values)).
			WithTable(t.name, "")
	}
	x := qc.Xa

	vals := make([]any, len(columns))
	for i, c := range columns {
		if t.row.ColumnIndex(c.Name()) < 0 {
			return dberr.Schema("update", "column is not part of the table").WithTable(t.name, c.Name())
		}
		v, err := values[i].Eval(qc)
		if err != nil {
			return dberr.Wrap(dberr.KindEncoding, "update", err).WithTable(t.name, c.Name())
		}
		vals[i] = v
	}

	blockID, off, err := t.rowAt(addr)
	if err != nil {
		return err
	}
	b, err := t.store.ReadBlock(blockID)
	if err != nil {
		return err
	}
	defer b.Release()

	if err := b.Lock(x.Timeout()); err != nil {
		return dberr.LockTimeout("update", blockID)
	}
	buf := b.Buffer()
	if record.State(buf, off) != record.RowValid {
		b.Unlock()
		return ErrRowNotFound
	}

	snap := t.row.Snapshot(buf, off)
	mark := x.DeleteMark()

	var reindex []*record.Column
	for _, c := range columns {
		if c.Index() != nil {
			reindex = append(reindex, c)
			if err := c.DeleteIndex(buf, off, addr); err != nil {
				t.log.Warn("heap: update delete index", "column", c.Name(), "err", err)
			}
		}
	}

	for i, c := range columns {
		if err = c.Set(t.store, x, buf, off, vals[i]); err != nil {
			break
		}
	}
	if err == nil {
		err = t.checkNotNull(columns, buf, off)
	}
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
		for _, c := range reindex {
			if err = c.InsertIndex(buf, off, addr); err != nil {
				break
			}
			indexed = append(indexed, c)
		}
	}

	b.LockWait()
	if err != nil {
		t.undoUpdate(x, buf, off, addr, snap, mark, columns, reindex, indexed)
		b.SetDirty(off, off+t.rowLength)
		b.Unlock()
		x.AddUpdateBlock(b)
		return err
	}
	var autoInc int64
	if t.autoInc != nil {
		autoInc = t.autoInc.GetLong(blockID, buf, off)
	}
	b.Unlock()

	x.AddUpdateBlock(b)
	if t.autoInc != nil {
		t.observeAutoIncrement(autoInc)
	}
	return nil
}

// undoUpdate restores the row image snap. The caller holds the block write
// lock.
func (t *Table) undoUpdate(x *xa.Transaction, buf []byte, off int, addr uint64, snap []byte, mark int,
	columns, reindex, indexed []*record.Column,
) {
	for _, c := range indexed {
		if err := c.DeleteIndex(buf, off, addr); err != nil {
			t.log.Warn("heap: undo update index", "column", c.Name(), "err", err)
		}
	}

	// The old inodes stay; chains written by this update go.
	x.DiscardDeletesSince(mark)
	for _, c := range columns {
		if c.IsBlobLayout() && !bytes.Equal(c.KeyBytes(buf, off), c.KeyBytes(snap, 0)) {
			c.DeleteData(t.store, nil, buf, off)
		}
	}

	t.row.Restore(buf, off, snap)
	for _, c := range reindex {
		if err := c.InsertIndex(buf, off, addr); err != nil {
			t.log.Warn("heap: undo update reindex", "column", c.Name(), "err", err)
		}
	}
}
