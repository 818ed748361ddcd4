package heap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/record"
)

// Factory builds the schema of a table and then creates or opens it.
type Factory struct {
	name       string
	row        *record.Row
	uniqueSets [][]*record.Column
	used       bool
}

func NewFactory(name string) *Factory {
	return &Factory{name: name, row: record.NewRow(name)}
}

func (f *Factory) Name() string { return f.name }

func (f *Factory) Row() *record.Row { return f.row }

// AddColumn appends a column; see record.Row.AddColumn.
func (f *Factory) AddColumn(t record.ColumnType, name string, size ...int) (*record.Column, error) {
	return f.row.AddColumn(t, name, size...)
}

func (f *Factory) Column(name string) *record.Column { return f.row.Column(name) }

// AddUnique declares a UNIQUE constraint. A single column becomes a unique
// column; a set is checked as a whole.
func (f *Factory) AddUnique(names ...string) error {
	cols, err := columnsOf(f.row, f.name, names)
	if err != nil {
		return err
	}
	switch len(cols) {
	case 0:
		return dberr.Schema("unique", "empty column list").WithTable(f.name, "")
	case 1:
		cols[0].SetUnique()
	default:
		f.uniqueSets = append(f.uniqueSets, cols)
	}
	return nil
}

// AddPrimaryKey declares a PRIMARY KEY. A composite key is a NOT NULL
// unique set.
func (f *Factory) AddPrimaryKey(names ...string) error {
	cols, err := columnsOf(f.row, f.name, names)
	if err != nil {
		return err
	}
	switch len(cols) {
	case 0:
		return dberr.Schema("primary key", "empty column list").WithTable(f.name, "")
	case 1:
		cols[0].SetPrimaryKey()
	default:
		for _, c := range cols {
			c.SetNotNull()
		}
		f.uniqueSets = append(f.uniqueSets, cols)
	}
	return nil
}

func (f *Factory) claim() error {
	if f.used {
		return dberr.Internal("table factory", "factory already built table %s", f.name)
	}
	if len(f.row.Columns()) == 0 {
		return dberr.Schema("table factory", "table has no columns").WithTable(f.name, "")
	}
	autoInc := 0
	for _, c := range f.row.Columns() {
		if c.AutoIncrement() >= 0 {
			autoInc++
		}
	}
	if autoInc > 1 {
		return dberr.Schema("table factory", "more than one auto_increment column").WithTable(f.name, "")
	}
	f.used = true
	return nil
}

// Create builds a new, empty table in store: indexes, then the header.
func (f *Factory) Create(store *blockstore.Store, opts Options) (*Table, error) {
	if err := f.claim(); err != nil {
		return nil, err
	}
	t := newTable(f, store, opts)

	err := t.initIndexes()
	if err == nil {
		err = t.writeHeader()
	}
	if err == nil {
		err = store.Flush()
	}
	if err != nil {
		return nil, err
	}
	t.buildConstraints()
	t.start()

	t.log.Info("heap: table created", "rowLength", t.rowLength, "rowsPerBlock", t.rowsPerBlock)
	return t, nil
}

// Open attaches the schema to an existing store: the indexes are cleared,
// recreated and rebuilt from the rows, and the header is rewritten with the
// new index roots at the current version.
func (f *Factory) Open(ctx context.Context, store *blockstore.Store, opts Options) (*Table, error) {
	if err := f.claim(); err != nil {
		return nil, err
	}
	t := newTable(f, store, opts)

	err := t.clearIndexes()
	if err == nil {
		err = t.initIndexes()
	}
	if err == nil {
		err = t.rebuildIndexes(ctx)
	}
	if err == nil {
		err = t.writeHeader()
	}
	if err != nil {
		return nil, fmt.Errorf("heap: open %s: %w", f.name, err)
	}
	t.buildConstraints()
	t.start()

	t.log.Info("heap: table loaded", "rows", t.entries.Load())
	return t, nil
}

// ParseFunc turns the stored CREATE TABLE text back into a Factory.
type ParseFunc func(ddl string) (*Factory, error)

// Load opens the table stored in store, rebuilding its schema from the
// header with parse.
func Load(ctx context.Context, store *blockstore.Store, parse ParseFunc, opts Options) (*Table, error) {
	h, err := ReadHeader(store)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()
	opts.Logger.Debug("heap: load", "store", store.Name(), "version", h.Version, "ddl", h.DDL)

	f, err := parse(h.DDL)
	if err != nil {
		return nil, fmt.Errorf("heap: load %s: %w", store.Name(), err)
	}
	if !strings.EqualFold(f.Name(), store.Name()) {
		return nil, dberr.Schema("load", "definition names table %q", f.Name()).WithTable(store.Name(), "")
	}
	return f.Open(ctx, store, opts)
}

// CreateStore and OpenStore pair a Factory with a fresh or existing store,
// closing the store again when the table cannot be built.
func CreateStore(store *blockstore.Store, f *Factory, opts Options) (*Table, error) {
	t, err := f.Create(store, opts)
	if err != nil {
		return nil, multierr.Append(err, store.Remove())
	}
	return t, nil
}

func OpenStore(ctx context.Context, store *blockstore.Store, parse ParseFunc, opts Options) (*Table, error) {
	t, err := Load(ctx, store, parse, opts)
	if err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	return t, nil
}

// columnsOf returns the columns of r named by names.
func columnsOf(r *record.Row, table string, names []string) ([]*record.Column, error) {
	out := make([]*record.Column, len(names))
	for i, n := range names {
		c := r.Column(n)
		if c == nil {
			return nil, dberr.Schema("constraint", "unknown column").WithTable(table, n)
		}
		out[i] = c
	}
	return out, nil
}
