package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/xa"
)

func newTestDB(t *testing.T, dir string) *Database {
	t.Helper()
	db, err := NewDatabase(Options{DataDir: dir, BlockCache: 128})
	require.NoError(t, err)
	return db
}

func insertName(t *testing.T, db *Database, tbl *heap.Table, name string) error {
	t.Helper()
	cols, err := tbl.ColumnsByName("name")
	require.NoError(t, err)
	return db.AutoCommit(func(x *xa.Transaction) error {
		_, err := tbl.Insert(expr.NewQueryContext(context.Background(), x), cols, []expr.Expr{expr.Lit(name)})
		return err
	})
}

func TestDatabase_CreateCloseReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	db := newTestDB(t, dir)
	tbl, err := db.CreateTableSQL("CREATE TABLE Users (id IDENTITY, name VARCHAR(40) UNIQUE NOT NULL)")
	require.NoError(t, err)
	for i := range 10 {
		require.NoError(t, insertName(t, db, tbl, fmt.Sprintf("u%d", i)))
	}
	require.NoError(t, db.Close())
	require.ErrorIs(t, insertName(t, db, tbl, "late"), dberr.ErrIO)

	db = newTestDB(t, dir)
	defer db.Close()

	names, err := db.ListTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, names)

	re, err := db.OpenTable(ctx, "USERS")
	require.NoError(t, err)
	assert.Equal(t, int64(10), re.RowCount())
	assert.True(t, re.Column("name").IsNotNull())

	same, err := db.OpenTable(ctx, "users")
	require.NoError(t, err)
	assert.Same(t, re, same)

	require.ErrorIs(t, insertName(t, db, re, "u3"), dberr.ErrUniqueness)
	require.NoError(t, insertName(t, db, re, "u10"))
}

func TestDatabase_CreateErrors(t *testing.T) {
	db := newTestDB(t, t.TempDir())
	defer db.Close()

	_, err := db.CreateTableSQL("CREATE TABLE t (a INTEGER)")
	require.NoError(t, err)
	_, err = db.CreateTableSQL("CREATE TABLE T (a INTEGER)")
	require.ErrorIs(t, err, ErrTableExists)

	_, err = db.CreateTableSQL("CREATE TABLE bad (a WIDGET)")
	require.ErrorIs(t, err, dberr.ErrSchema)

	_, err = db.CreateTableSQL("CREATE TABLE bad (a VARCHAR(10) auto_increment)")
	require.ErrorIs(t, err, dberr.ErrSchema)

	_, err = db.OpenTable(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestDatabase_DropTable(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t, dir)

	_, err := db.CreateTableSQL("CREATE TABLE a (x INTEGER)")
	require.NoError(t, err)
	_, err = db.CreateTableSQL("CREATE TABLE b (x INTEGER)")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = newTestDB(t, dir)
	defer db.Close()

	// not open yet: dropped from disk
	require.NoError(t, db.DropTable("a"))
	require.ErrorIs(t, db.DropTable("a"), ErrTableNotFound)

	names, err := db.ListTables()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, names)

	_, err = db.CreateTableSQL("CREATE TABLE a (y BIGINT)")
	require.NoError(t, err)
}

func TestDatabase_OpenAll(t *testing.T) {
	dir := t.TempDir()
	db := newTestDB(t, dir)
	for i := range 6 {
		_, err := db.CreateTableSQL(fmt.Sprintf("CREATE TABLE t%d (id IDENTITY, name VARCHAR(8) UNIQUE)", i))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	db = newTestDB(t, dir)
	defer db.Close()
	require.NoError(t, db.OpenAll(context.Background()))
	for i := range 6 {
		_, ok := db.Table(fmt.Sprintf("t%d", i))
		assert.True(t, ok)
	}
}

func TestDatabase_Closed(t *testing.T) {
	db := newTestDB(t, t.TempDir())
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())

	_, err := db.CreateTableSQL("CREATE TABLE t (a INTEGER)")
	require.ErrorIs(t, err, ErrDatabaseClosed)
	_, err = db.OpenTable(context.Background(), "t")
	require.ErrorIs(t, err, ErrDatabaseClosed)
	require.ErrorIs(t, db.DropTable("t"), ErrDatabaseClosed)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := internal.DefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Table.InlineSweep = true

	opts := OptionsFromConfig(cfg, nil)
	assert.Equal(t, cfg.Storage.DataDir, opts.DataDir)
	assert.Equal(t, cfg.Table.LockTimeout, opts.Table.LockTimeout)
	assert.True(t, opts.Table.Inline)

	db, err := NewDatabase(opts)
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
