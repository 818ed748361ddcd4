package heap

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/rowstore/internal/btree"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
)

// initIndexes gives every unique, indexable column a fresh B+tree rooted
// in its own index block.
func (t *Table) initIndexes() error {
	for _, c := range t.row.Columns() {
		if !c.IsUnique() {
			continue
		}
		cmp := c.IndexKeyCompare()
		if cmp == nil {
			continue
		}

		idx, err := btree.Create(t.store, c.Length(), cmp)
		if err != nil {
			return fmt.Errorf("index %s: %w", c.Name(), err)
		}
		c.SetIndex(idx)
		t.log.Debug("heap: index", "column", c.Name(), "root", idx.Root())
	}
	return nil
}

// clearIndexes drops the column indexes and frees every index block left
// in the store.
func (t *Table) clearIndexes() error {
	var err error
	for _, c := range t.row.Columns() {
		if idx := c.Index(); idx != nil {
			err = multierr.Append(err, idx.Clear())
			c.SetIndex(nil)
		}
	}

	after := uint64(0)
	for {
		id, ok := t.store.FirstBlock(after, storage.AllocIndex)
		if !ok {
			return err
		}
		err = multierr.Append(err, t.store.FreeBlock(id))
		after = id + storage.BlockSize
	}
}

func (t *Table) indexedColumns() []*record.Column {
	var out []*record.Column
	for _, c := range t.row.Columns() {
		if c.Index() != nil {
			out = append(out, c)
		}
	}
	return out
}

// rebuildIndexes fills the indexes from the stored rows, one scan per
// index, and recounts the rows. A key stored twice in a unique column fails
// the rebuild.
func (t *Table) rebuildIndexes(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, c := range t.indexedColumns() {
		g.Go(func() error {
			return t.scanRows(ctx, func(cur *Cursor) error {
				cur.RLock()
				err := c.InsertIndex(cur.Buffer(), cur.RowOffset(), cur.Address())
				cur.RUnlock()
				if err != nil {
					t.log.Error("heap: rebuild index", "column", c.Name(), "addr", cur.Address(), "err", err)
					return fmt.Errorf("rebuild index at %#x: %w", cur.Address(), err)
				}
				return nil
			})
		})
	}

	var rows int64
	g.Go(func() error {
		return t.scanRows(ctx, func(*Cursor) error {
			rows++
			return nil
		})
	})

	if err := g.Wait(); err != nil {
		return err
	}
	t.entries.Store(rows)
	t.log.Debug("heap: indexes rebuilt", "rows", rows)
	return nil
}

// ValidateIndexes checks that every VALID row is indexed at its address.
func (t *Table) ValidateIndexes(ctx context.Context) error {
	cols := t.indexedColumns()
	var verr error
	err := t.scanRows(ctx, func(cur *Cursor) error {
		cur.RLock()
		defer cur.RUnlock()
		for _, c := range cols {
			if err := c.ValidateIndex(cur.Buffer(), cur.RowOffset(), cur.Address()); err != nil {
				t.log.Warn("heap: validate index", "column", c.Name(), "err", err)
				verr = multierr.Append(verr, err)
			}
		}
		return nil
	})
	return multierr.Append(err, verr)
}

// scanRows calls fn on every VALID row until fn fails.
func (t *Table) scanRows(ctx context.Context, fn func(cur *Cursor) error) error {
	cur := t.NewCursor()
	defer cur.Free()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := cur.Next()
		if err != nil || !ok {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
	}
}
