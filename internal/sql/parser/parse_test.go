package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_CreateTable(t *testing.T) {
	stmt, err := Parse("CREATE TABLE users (id INT, name VARCHAR(50), active BOOL);")
	require.NoError(t, err)

	s, ok := stmt.(*CreateTableStmt)
	require.True(t, ok, "want *CreateTableStmt, got %T", stmt)

	require.Equal(t, "users", s.TableName)
	require.Len(t, s.Columns, 3)

	assert.Equal(t, ColumnDef{Name: "id", Type: "INTEGER", AutoIncrement: -1}, s.Columns[0])
	assert.Equal(t, ColumnDef{Name: "name", Type: "VARCHAR", Size: 50, AutoIncrement: -1}, s.Columns[1])
	assert.Equal(t, ColumnDef{Name: "active", Type: "BOOLEAN", AutoIncrement: -1}, s.Columns[2])
}

func TestParse_CreateTable_SemicolonOptional(t *testing.T) {
	_, err := Parse("CREATE TABLE t(a INTEGER)")
	require.NoError(t, err)

	_, err = Parse("CREATE TABLE t(a INTEGER); DROP TABLE t;")
	require.Error(t, err)
}

func TestParse_CreateTable_ColumnOptions(t *testing.T) {
	s, err := ParseCreateTable(`create table orders (
		id BIGINT PRIMARY KEY auto_increment(100),
		code VARCHAR(12) UNIQUE NOT NULL,
		price NUMERIC(10,2) DEFAULT (0),
		note VARCHAR(20) DEFAULT 'it''s, fine',
		created TIMESTAMP DEFAULT (now),
		ttl INTEGER DEFAULT -1,
		total DOUBLE DEFAULT (params.base * (1 + params.rate)),
		rid INTEGER IDENTITY,
		raw VARBINARY(300) NULL
	)`)
	require.NoError(t, err)
	require.Len(t, s.Columns, 9)

	id := s.Columns[0]
	assert.Equal(t, "BIGINT", id.Type)
	assert.True(t, id.PrimaryKey)
	assert.Equal(t, int64(100), id.AutoIncrement)

	code := s.Columns[1]
	assert.True(t, code.Unique)
	assert.True(t, code.NotNull)
	assert.Equal(t, 12, code.Size)

	price := s.Columns[2]
	assert.Equal(t, "NUMERIC", price.Type)
	assert.Equal(t, 10, price.Size)
	assert.Equal(t, 2, price.Scale)
	assert.Equal(t, "0", price.Default)

	assert.Equal(t, "'it''s, fine'", s.Columns[3].Default)
	assert.Equal(t, "now", s.Columns[4].Default)
	assert.Equal(t, "-1", s.Columns[5].Default)
	assert.Equal(t, "params.base * (1 + params.rate)", s.Columns[6].Default)
	assert.Equal(t, "IDENTITY", s.Columns[7].Type)
	assert.Equal(t, 300, s.Columns[8].Size)
	assert.False(t, s.Columns[8].NotNull)
}

func TestParse_CreateTable_TableConstraints(t *testing.T) {
	s, err := ParseCreateTable("CREATE TABLE grid(x INTEGER,y INTEGER,z INTEGER,UNIQUE(x,y),PRIMARY KEY (z))")
	require.NoError(t, err)

	require.Len(t, s.Columns, 3)
	require.Len(t, s.Constraints, 2)
	assert.Equal(t, TableConstraint{Columns: []string{"x", "y"}}, s.Constraints[0])
	assert.Equal(t, TableConstraint{PrimaryKey: true, Columns: []string{"z"}}, s.Constraints[1])
}

func TestParse_CreateTable_AutoIncrementDefaultsToOne(t *testing.T) {
	s, err := ParseCreateTable("CREATE TABLE t(id BIGINT auto_increment, n INTEGER)")
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Columns[0].AutoIncrement)
	assert.Equal(t, int64(-1), s.Columns[1].AutoIncrement)
}

func TestParse_CreateTable_Invalid(t *testing.T) {
	cases := []string{
		"CREATE TABLE users id INT, name TEXT;",
		"CREATE TABLE users ();",
		"CREATE TABLE users ok (id INT);",
		"CREATE TABLE users (1id INT);",
		"CREATE TABLE users (name VARCHAR);",
		"CREATE TABLE users (name VARCHAR(x));",
		"CREATE TABLE users (a INTEGER DEFAULT (1 + 2);",
		"CREATE TABLE users (a INTEGER NOT 5);",
		"CREATE TABLE users (a INTEGER CHECK);",
		"CREATE TABLE users (a VARCHAR(5) DEFAULT 'open);",
		"CREATE TABLE users (a INTEGER, UNIQUE());",
	}
	for _, sql := range cases {
		_, err := Parse(sql)
		assert.Error(t, err, sql)
	}
}

func TestParse_DropTable(t *testing.T) {
	stmt, err := Parse("DROP TABLE users;")
	require.NoError(t, err)

	s, ok := stmt.(*DropTableStmt)
	require.True(t, ok, "want *DropTableStmt, got %T", stmt)
	assert.Equal(t, "users", s.TableName)

	_, err = Parse("DROP TABLE users extra;")
	require.Error(t, err)
}

func TestParse_Insert(t *testing.T) {
	stmt, err := Parse("INSERT INTO users VALUES (1, 'a,b', true, NULL, now + duration('1h'));")
	require.NoError(t, err)

	s, ok := stmt.(*InsertStmt)
	require.True(t, ok, "want *InsertStmt, got %T", stmt)

	assert.Equal(t, "users", s.TableName)
	assert.Empty(t, s.Columns)
	assert.Equal(t, []string{"1", "'a,b'", "true", "NULL", "now + duration('1h')"}, s.Values)
}

func TestParse_Insert_ColumnList(t *testing.T) {
	stmt, err := Parse("insert into users (name, age) values ('bob', 40)")
	require.NoError(t, err)

	s := stmt.(*InsertStmt)
	assert.Equal(t, []string{"name", "age"}, s.Columns)
	assert.Equal(t, []string{"'bob'", "40"}, s.Values)

	_, err = Parse("INSERT INTO users (name) VALUES ('bob', 40)")
	require.Error(t, err)
	_, err = Parse("INSERT INTO users VALUES ()")
	require.Error(t, err)
}

func TestParse_Unsupported(t *testing.T) {
	_, err := Parse("SELECT * FROM users;")
	require.Error(t, err)
	_, err = Parse("   ")
	require.Error(t, err)
	_, err = ParseCreateTable("DROP TABLE users")
	require.Error(t, err)
}
