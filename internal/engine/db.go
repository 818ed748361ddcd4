package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/tuannm99/rowstore/internal"
	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

var (
	ErrDatabaseClosed = errors.New("rowstore: database is closed")
	ErrTableExists    = errors.New("rowstore: table already exists")
	ErrTableNotFound  = errors.New("rowstore: table not found")
)

type DatabaseOperation interface {
	CreateTable(f *heap.Factory) (*heap.Table, error)
	OpenTable(ctx context.Context, name string) (*heap.Table, error)
	DropTable(name string) error
	Close() error
}

var _ DatabaseOperation = (*Database)(nil)

// Options configures a Database. Zero values take the defaults of
// internal.DefaultConfig.
type Options struct {
	DataDir    string
	BlockCache int
	DirectIO   bool
	Table      heap.Options
	Logger     *slog.Logger
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *internal.RowStoreConfig, log *slog.Logger) Options {
	return Options{
		DataDir:    cfg.Storage.DataDir,
		BlockCache: cfg.Storage.BlockCache,
		DirectIO:   cfg.Storage.DirectIO,
		Table: heap.Options{
			LockTimeout: cfg.Table.LockTimeout,
			RowClockMin: cfg.Table.RowClockMin,
			SweepWait:   cfg.Table.SweepWait,
			Inline:      cfg.Table.InlineSweep,
			Logger:      log,
		},
		Logger: log,
	}
}

// Database is a directory of tables sharing one storage manager and one
// block cache. Each table lives in its own file set "<dir>/tables/<name>".
type Database struct {
	dataDir string
	sm      *storage.StorageManager
	pool    *bufferpool.Pool
	opts    Options
	log     *slog.Logger

	mu      sync.RWMutex
	tables  map[string]*heap.Table
	closed  bool
	loading singleflight.Group
}

// NewDatabase opens (creating if needed) the database directory. Tables are
// opened lazily by OpenTable or all at once by OpenAll.
func NewDatabase(opts Options) (*Database, error) {
	def := internal.DefaultConfig()
	if opts.DataDir == "" {
		opts.DataDir = def.Storage.DataDir
	}
	if opts.BlockCache <= 0 {
		opts.BlockCache = def.Storage.BlockCache
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Table.Logger == nil {
		opts.Table.Logger = opts.Logger
	}

	db := &Database{
		dataDir: opts.DataDir,
		opts:    opts,
		log:     opts.Logger,
		tables:  make(map[string]*heap.Table),
	}
	if err := os.MkdirAll(db.TableDir(), 0o755); err != nil {
		return nil, fmt.Errorf("rowstore: create data dir: %w", err)
	}
	db.sm = storage.NewStorageManager()
	db.pool = bufferpool.NewPool(db.sm, opts.BlockCache)

	db.log.Info("engine: database opened", "dir", db.dataDir, "blockCache", opts.BlockCache, "directIO", opts.DirectIO)
	return db, nil
}

func (db *Database) DataDir() string { return db.dataDir }

func (db *Database) TableDir() string {
	return filepath.Join(db.dataDir, "tables")
}

func (db *Database) StorageManager() *storage.StorageManager { return db.sm }

func (db *Database) Pool() *bufferpool.Pool { return db.pool }

// helper: return FileSet for a given table name.
func (db *Database) tableFileSet(name string) storage.LocalFileSet {
	return storage.LocalFileSet{
		Dir:    db.TableDir(),
		Base:   strings.ToLower(name),
		Direct: db.opts.DirectIO,
	}
}

func key(name string) string { return strings.ToLower(name) }

// CreateTable creates a new table from f and registers it.
func (db *Database) CreateTable(f *heap.Factory) (*heap.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil, ErrDatabaseClosed
	}
	if _, ok := db.tables[key(f.Name())]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTableExists, f.Name())
	}

	store, err := blockstore.Create(db.sm, db.pool, db.tableFileSet(f.Name()))
	if err != nil {
		if errors.Is(err, blockstore.ErrStoreExists) {
			return nil, fmt.Errorf("%w: %s", ErrTableExists, f.Name())
		}
		return nil, err
	}
	t, err := heap.CreateStore(store, f, db.opts.Table)
	if err != nil {
		return nil, err
	}
	db.tables[key(f.Name())] = t
	return t, nil
}

// CreateTableSQL creates a table from a CREATE TABLE statement.
func (db *Database) CreateTableSQL(ddl string) (*heap.Table, error) {
	f, err := ParseTable(ddl)
	if err != nil {
		return nil, err
	}
	return db.CreateTable(f)
}

// OpenTable returns the open table called name, loading it from disk on
// first use. Concurrent first opens of one table share a single load.
func (db *Database) OpenTable(ctx context.Context, name string) (*heap.Table, error) {
	if t, ok, err := db.lookup(name); ok || err != nil {
		return t, err
	}

	v, err, _ := db.loading.Do(key(name), func() (any, error) {
		if t, ok, err := db.lookup(name); ok || err != nil {
			return t, err
		}
		t, err := db.load(ctx, name)
		if err != nil {
			return nil, err
		}

		db.mu.Lock()
		defer db.mu.Unlock()
		if db.closed {
			return nil, multierr.Append(ErrDatabaseClosed, t.Close())
		}
		db.tables[key(name)] = t
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*heap.Table), nil
}

func (db *Database) lookup(name string) (*heap.Table, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, false, ErrDatabaseClosed
	}
	t, ok := db.tables[key(name)]
	return t, ok, nil
}

func (db *Database) load(ctx context.Context, name string) (*heap.Table, error) {
	start := time.Now()
	store, err := blockstore.Open(db.sm, db.pool, db.tableFileSet(name))
	if err != nil {
		if errors.Is(err, blockstore.ErrStoreMissing) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, name)
		}
		return nil, err
	}
	t, err := heap.OpenStore(ctx, store, ParseTable, db.opts.Table)
	if err != nil {
		return nil, err
	}
	db.log.Debug("engine: table loaded", "table", name, "elapsed", time.Since(start))
	return t, nil
}

// Table returns an already open table.
func (db *Database) Table(name string) (*heap.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[key(name)]
	return t, ok
}

// ListTables returns the names of the tables stored in the data directory.
func (db *Database) ListTables() ([]string, error) {
	ents, err := os.ReadDir(db.TableDir())
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		// segment 0 is the bare table name; other segments and the
		// allocation maps carry a '.' suffix
		if e.IsDir() || strings.Contains(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// OpenAll loads every table on disk, in parallel.
func (db *Database) OpenAll(ctx context.Context) error {
	names, err := db.ListTables()
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			_, err := db.OpenTable(ctx, name)
			return err
		})
	}
	return g.Wait()
}

// DropTable deletes a table and its files.
func (db *Database) DropTable(name string) error {
	t, err := db.OpenTable(context.Background(), name)
	if err != nil {
		return err
	}

	db.mu.Lock()
	if db.tables[key(name)] != t {
		db.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTableNotFound, name)
	}
	delete(db.tables, key(name))
	db.mu.Unlock()

	return t.Drop()
}

// Begin starts a transaction with the configured lock timeout.
func (db *Database) Begin() *xa.Transaction {
	return xa.New(db.opts.Table.LockTimeout)
}

// AutoCommit runs fn in its own transaction.
func (db *Database) AutoCommit(fn func(x *xa.Transaction) error) error {
	return xa.AutoCommit(db.opts.Table.LockTimeout, fn)
}

// Flush writes every open table.
func (db *Database) Flush() error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var err error
	for _, t := range db.tables {
		err = multierr.Append(err, t.Flush())
	}
	return err
}

// Close closes every open table in parallel, then the storage manager.
func (db *Database) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	tables := db.tables
	db.tables = nil
	db.mu.Unlock()

	var (
		errMu sync.Mutex
		err   error
		g     errgroup.Group
	)
	for _, t := range tables {
		g.Go(func() error {
			if cerr := t.Close(); cerr != nil {
				errMu.Lock()
				err = multierr.Append(err, cerr)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	err = multierr.Append(err, db.pool.FlushAll())
	err = multierr.Append(err, db.sm.Close())
	db.log.Info("engine: database closed", "tables", len(tables))
	return err
}
