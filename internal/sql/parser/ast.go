package parser

// Statement is the root interface for all SQL statements.
type Statement interface {
	stmtNode()
}

// ----- CREATE TABLE -----

// ColumnDef is one column of a CREATE TABLE. Type is the canonical upper
// case type name (INT reads as INTEGER, BOOL as BOOLEAN).
type ColumnDef struct {
	Name  string
	Type  string
	Size  int // VARCHAR/BINARY/VARBINARY length, NUMERIC precision
	Scale int // NUMERIC scale

	PrimaryKey bool
	Unique     bool
	NotNull    bool

	// Default is the DEFAULT expression source, "" when absent.
	Default string
	// AutoIncrement is the auto_increment floor, or -1.
	AutoIncrement int64
}

// TableConstraint is a table-level UNIQUE(...) or PRIMARY KEY(...).
type TableConstraint struct {
	PrimaryKey bool
	Columns    []string
}

type CreateTableStmt struct {
	TableName   string
	Columns     []ColumnDef
	Constraints []TableConstraint
}

func (*CreateTableStmt) stmtNode() {}

// ----- DROP TABLE -----
type DropTableStmt struct {
	TableName string
}

func (*DropTableStmt) stmtNode() {}

// ----- INSERT -----

// InsertStmt keeps each value as expression source; an empty Columns list
// means every column in table order.
type InsertStmt struct {
	TableName string
	Columns   []string
	Values    []string
}

func (*InsertStmt) stmtNode() {}
