package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
)

func TestParseTable_Columns(t *testing.T) {
	f, err := ParseTable(`CREATE TABLE orders(
		id BIGINT PRIMARY KEY auto_increment(100),
		code VARCHAR(12) UNIQUE NOT NULL,
		price NUMERIC(10,2) DEFAULT (0),
		body VARCHAR(400),
		rid IDENTITY,
		UNIQUE(code, price))`)
	require.NoError(t, err)

	row := f.Row()
	require.Len(t, row.Columns(), 5)

	id := f.Column("id")
	assert.Equal(t, record.TypeLong, id.Type())
	assert.True(t, id.IsPrimaryKey())
	assert.Equal(t, int64(100), id.AutoIncrement())

	code := f.Column("code")
	assert.True(t, code.IsUnique())
	assert.True(t, code.IsNotNull())

	price := f.Column("price")
	assert.Equal(t, "NUMERIC(10,2)", price.SQLType())
	require.NotNil(t, price.Default())
	assert.Equal(t, "0", price.Default().String())

	assert.True(t, f.Column("body").IsBlobLayout())
	assert.Equal(t, record.TypeIdentity, f.Column("rid").Type())
}

func TestParseTable_Errors(t *testing.T) {
	for _, ddl := range []string{
		"DROP TABLE t",
		"CREATE TABLE t (a WIDGET)",
		"CREATE TABLE t (a INTEGER DEFAULT (1 +))",
		"CREATE TABLE t (a INTEGER, UNIQUE(b))",
		"CREATE TABLE t (a INTEGER, a BIGINT)",
		"CREATE TABLE t (a VARCHAR(0))",
	} {
		_, err := ParseTable(ddl)
		assert.Error(t, err, ddl)
	}
}

// The DDL a table writes into its header parses back to the same table.
func TestParseTable_HeaderRoundTrip(t *testing.T) {
	ddls := []string{
		"CREATE TABLE users(id IDENTITY,name VARCHAR(50) UNIQUE,age INTEGER)",
		"CREATE TABLE t(id BIGINT PRIMARY KEY auto_increment(7),created TIMESTAMP DEFAULT (now),note VARCHAR(20) NOT NULL DEFAULT ('n/a'))",
		"CREATE TABLE g(x INTEGER NOT NULL,y INTEGER NOT NULL,v DOUBLE,b BLOB,bin BINARY(16),vb VARBINARY(300),UNIQUE(x,y))",
	}

	sm := storage.NewStorageManager()
	defer sm.Close()
	pool := bufferpool.NewPool(sm, 64)
	dir := t.TempDir()

	for i, ddl := range ddls {
		f, err := ParseTable(ddl)
		require.NoError(t, err, ddl)

		store, err := blockstore.Create(sm, pool, storage.LocalFileSet{Dir: dir, Base: f.Name() + string(rune('a'+i))})
		require.NoError(t, err)
		tbl, err := f.Create(store, heap.Options{Inline: true})
		require.NoError(t, err)

		assert.Equal(t, ddl, tbl.DDL())

		again, err := ParseTable(tbl.DDL())
		require.NoError(t, err)
		assert.Equal(t, len(f.Row().Columns()), len(again.Row().Columns()))
		assert.Equal(t, f.Row().Length(), again.Row().Length())

		require.NoError(t, tbl.Close())
	}
}
