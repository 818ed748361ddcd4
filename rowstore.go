// Package rowstore is an embedded block-based row store: fixed-length rows
// in 8 KiB blocks, unique indexes and constraint checks on insert, and a
// lock-free free-block ring refilled by a clock sweep.
package rowstore

import (
	"context"
	"io"
	"sort"

	"github.com/tuannm99/rowstore/internal"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/engine"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/sql/executor"
	"github.com/tuannm99/rowstore/internal/xa"
)

type (
	Config      = internal.RowStoreConfig
	Table       = heap.Table
	Cursor      = heap.Cursor
	Factory     = heap.Factory
	Column      = record.Column
	ColumnType  = record.ColumnType
	Transaction = xa.Transaction
	Result      = executor.Result
)

const (
	TypeVarchar   = record.TypeVarchar
	TypeBoolean   = record.TypeBoolean
	TypeInt       = record.TypeInt
	TypeLong      = record.TypeLong
	TypeDouble    = record.TypeDouble
	TypeDate      = record.TypeDate
	TypeBlob      = record.TypeBlob
	TypeNumeric   = record.TypeNumeric
	TypeBinary    = record.TypeBinary
	TypeVarbinary = record.TypeVarbinary
	TypeIdentity  = record.TypeIdentity
)

var (
	ErrSchema      = dberr.ErrSchema
	ErrEncoding    = dberr.ErrEncoding
	ErrUniqueness  = dberr.ErrUniqueness
	ErrConstraint  = dberr.ErrConstraint
	ErrIO          = dberr.ErrIO
	ErrLockTimeout = dberr.ErrLockTimeout
	ErrUnsupported = dberr.ErrUnsupported

	ErrTableExists   = engine.ErrTableExists
	ErrTableNotFound = engine.ErrTableNotFound
	ErrRowNotFound   = heap.ErrRowNotFound
)

func DefaultConfig() *Config { return internal.DefaultConfig() }

func LoadConfig(path string) (*Config, error) { return internal.LoadConfig(path) }

// NewFactory starts a table definition; see Factory.AddColumn.
func NewFactory(name string) *Factory { return heap.NewFactory(name) }

// DB is an open database directory.
type DB struct {
	*engine.Database
	exec *executor.Executor
}

// Open opens the database described by cfg. Logs go to logOut (stderr when
// nil).
func Open(cfg *Config, logOut io.Writer) (*DB, error) {
	log, err := cfg.NewLogger(logOut)
	if err != nil {
		return nil, err
	}
	db, err := engine.NewDatabase(engine.OptionsFromConfig(cfg, log))
	if err != nil {
		return nil, err
	}
	return &DB{Database: db, exec: executor.NewExecutor(db)}, nil
}

// OpenDir opens dir with the default configuration.
func OpenDir(dir string) (*DB, error) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = dir
	return Open(cfg, nil)
}

// Exec runs one CREATE TABLE, DROP TABLE or INSERT statement.
func (db *DB) Exec(ctx context.Context, sql string, params map[string]any) (*Result, error) {
	return db.exec.ExecSQL(ctx, sql, params)
}

// Scan returns up to limit rows of a table, all when limit <= 0.
func (db *DB) Scan(ctx context.Context, table string, limit int) (*Result, error) {
	return db.exec.Scan(ctx, table, limit)
}

// Insert stores one row given as column name -> value in its own
// transaction and returns the row address.
func (db *DB) Insert(ctx context.Context, table string, row map[string]any) (uint64, error) {
	t, err := db.OpenTable(ctx, table)
	if err != nil {
		return 0, err
	}

	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)

	cols, err := t.ColumnsByName(names...)
	if err != nil {
		return 0, err
	}
	values := make([]expr.Expr, len(names))
	for i, name := range names {
		values[i] = expr.Lit(row[name])
	}

	var addr uint64
	err = db.AutoCommit(func(x *xa.Transaction) error {
		var ierr error
		addr, ierr = t.Insert(expr.NewQueryContext(ctx, x), cols, values)
		return ierr
	})
	return addr, err
}

// Delete removes the row at addr in its own transaction.
func (db *DB) Delete(ctx context.Context, table string, addr uint64) error {
	t, err := db.OpenTable(ctx, table)
	if err != nil {
		return err
	}
	return db.AutoCommit(func(x *xa.Transaction) error {
		return t.Delete(x, addr)
	})
}

// Get reads the row at addr.
func (db *DB) Get(ctx context.Context, table string, addr uint64) ([]any, error) {
	t, err := db.OpenTable(ctx, table)
	if err != nil {
		return nil, err
	}
	cur := t.NewCursor()
	defer cur.Free()
	if err := cur.SetRow(addr); err != nil {
		return nil, err
	}
	if !cur.IsValid() {
		return nil, ErrRowNotFound
	}
	return cur.Values()
}
