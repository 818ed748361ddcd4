package heap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

const (
	DefaultRowClockMin = 1024
	DefaultSweepWait   = 20 * time.Millisecond
)

var (
	ErrRowNotFound = errors.New("heap: row not found")
	ErrBadAddress  = errors.New("heap: address is not a row slot")
	ErrClosed      = errors.New("heap: table closed")
)

// Options tunes one Table.
type Options struct {
	// LockTimeout bounds block write-lock acquisition for internal work
	// (sweep, index rebuild). Inserts use the transaction's timeout.
	LockTimeout time.Duration
	// RowClockMin is the minimum count of free rows the sweep tries to keep
	// reachable before the tail is extended again.
	RowClockMin int64
	// SweepWait is how long an insert waits on an empty free ring for the
	// sweep before extending the table.
	SweepWait time.Duration
	// Inline runs the sweep on the inserting goroutine instead of a
	// background one.
	Inline bool
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LockTimeout <= 0 {
		o.LockTimeout = xa.DefaultLockTimeout
	}
	if o.RowClockMin <= 0 {
		o.RowClockMin = DefaultRowClockMin
	}
	if o.SweepWait < 0 {
		o.SweepWait = 0
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Table is the row storage manager of one table: row slots in the blocks of
// a blockstore.Store, a free-block allocator with a clock sweep, the unique
// indexes and the constraints checked on insert.
type Table struct {
	name  string
	row   *record.Row
	store *blockstore.Store
	opts  Options
	log   *slog.Logger

	rowLength    int
	rowsPerBlock int
	rowEnd       int

	uniqueSets  [][]*record.Column
	constraints []Constraint
	// set when a constraint has to scan the table; such validation is
	// serialized with commit
	scanValidate bool
	insertMu     sync.Mutex

	autoInc *record.Column

	alloc   *allocator
	entries atomic.Int64

	mu           sync.Mutex
	autoIncValue int64

	cancel context.CancelFunc
	group  *errgroup.Group
	closed atomic.Bool
}

func newTable(f *Factory, store *blockstore.Store, opts Options) *Table {
	opts = opts.withDefaults()
	row := f.row
	row.Bind(store)

	t := &Table{
		name:         f.name,
		row:          row,
		store:        store,
		opts:         opts,
		log:          opts.Logger.With("table", f.name),
		rowLength:    row.Length(),
		rowsPerBlock: row.RowsPerBlock(),
		uniqueSets:   f.uniqueSets,
		autoIncValue: -1,
	}
	t.rowEnd = t.rowLength * t.rowsPerBlock

	for _, c := range row.Columns() {
		if c.AutoIncrement() >= 0 {
			t.autoInc = c
		}
	}
	t.alloc = newAllocator(t, t.rowLength, t.rowsPerBlock, opts, t.log)
	return t
}

// start launches the background sweeper unless the table sweeps inline.
func (t *Table) start() {
	if t.opts.Inline {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return t.alloc.run(ctx) })
	t.cancel = cancel
	t.group = g
	t.alloc.background.Store(true)
}

func (t *Table) stop() error {
	if t.cancel == nil {
		return nil
	}
	t.alloc.background.Store(false)
	t.cancel()
	err := t.group.Wait()
	t.cancel = nil
	return err
}

func (t *Table) Name() string { return t.name }

func (t *Table) Row() *record.Row { return t.row }

func (t *Table) Store() *blockstore.Store { return t.store }

func (t *Table) Columns() []*record.Column { return t.row.Columns() }

// Column returns the named column, or nil.
func (t *Table) Column(name string) *record.Column { return t.row.Column(name) }

// ColumnIndex returns the position of the named column, or -1.
func (t *Table) ColumnIndex(name string) int { return t.row.ColumnIndex(name) }

// ColumnsByName resolves names to columns, failing with a schema error on the
// first unknown name.
func (t *Table) ColumnsByName(names ...string) ([]*record.Column, error) {
	out := make([]*record.Column, len(names))
	for i, n := range names {
		c := t.row.Column(n)
		if c == nil {
			return nil, dberr.Schema("lookup column", "unknown column").WithTable(t.name, n)
		}
		out[i] = c
	}
	return out, nil
}

func (t *Table) RowLength() int { return t.rowLength }

func (t *Table) RowsPerBlock() int { return t.rowsPerBlock }

func (t *Table) AutoIncrementColumn() *record.Column { return t.autoInc }

func (t *Table) Constraints() []Constraint { return t.constraints }

// RowCount is the number of VALID rows.
func (t *Table) RowCount() int64 { return t.entries.Load() }

// rowAt checks that addr names a row slot and splits it.
func (t *Table) rowAt(addr uint64) (uint64, int, error) {
	blockID := storage.AddressToBlockID(addr)
	off := storage.AddressToOffset(addr)
	if blockID == 0 || off%t.rowLength != 0 || off >= t.rowEnd {
		return 0, 0, fmt.Errorf("%w: %#x", ErrBadAddress, addr)
	}
	if t.store.AllocKind(blockID) != storage.AllocRow {
		return 0, 0, fmt.Errorf("%w: %#x", ErrRowNotFound, addr)
	}
	return blockID, off, nil
}

// Flush writes dirty blocks and the allocation map.
func (t *Table) Flush() error { return t.store.Flush() }

// Close stops the sweeper and closes the underlying store.
func (t *Table) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.stop()
	err = multierr.Append(err, t.store.Close())
	t.log.Debug("heap: table closed", "rows", t.entries.Load())
	return err
}

// Drop stops the sweeper and deletes the table's files.
func (t *Table) Drop() error {
	t.closed.Store(true)
	err := t.stop()
	err = multierr.Append(err, t.store.Remove())
	t.log.Info("heap: table dropped")
	return err
}

func (t *Table) checkOpen() error {
	if t.closed.Load() {
		return dberr.IO("heap", ErrClosed)
	}
	return nil
}

func (t *Table) String() string {
	return fmt.Sprintf("Table[%s row=%d rows/block=%d]", t.name, t.rowLength, t.rowsPerBlock)
}
