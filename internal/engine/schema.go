package engine

import (
	"fmt"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/sql/parser"
)

var columnTypes = map[string]record.ColumnType{
	"VARCHAR":   record.TypeVarchar,
	"BOOLEAN":   record.TypeBoolean,
	"TINYINT":   record.TypeByte,
	"SMALLINT":  record.TypeShort,
	"INTEGER":   record.TypeInt,
	"BIGINT":    record.TypeLong,
	"DOUBLE":    record.TypeDouble,
	"TIMESTAMP": record.TypeDate,
	"BLOB":      record.TypeBlob,
	"NUMERIC":   record.TypeNumeric,
	"BINARY":    record.TypeBinary,
	"VARBINARY": record.TypeVarbinary,
	"IDENTITY":  record.TypeIdentity,
}

// FactoryFromStatement turns a parsed CREATE TABLE into a table factory.
func FactoryFromStatement(stmt *parser.CreateTableStmt) (*heap.Factory, error) {
	f := heap.NewFactory(stmt.TableName)

	for _, def := range stmt.Columns {
		typ, ok := columnTypes[def.Type]
		if !ok {
			return nil, dberr.Schema("create table", "unknown type %s", def.Type).WithTable(stmt.TableName, def.Name)
		}

		var size []int
		switch typ {
		case record.TypeVarchar, record.TypeBinary, record.TypeVarbinary:
			size = []int{def.Size}
		case record.TypeNumeric:
			size = []int{def.Size, def.Scale}
		}

		c, err := f.AddColumn(typ, def.Name, size...)
		if err != nil {
			return nil, err
		}
		if def.PrimaryKey {
			c.SetPrimaryKey()
		}
		if def.Unique {
			c.SetUnique()
		}
		if def.NotNull {
			c.SetNotNull()
		}
		if def.AutoIncrement >= 0 {
			if !isIntegral(typ) {
				return nil, dberr.Schema("create table", "auto_increment on %s column", typ).
					WithTable(stmt.TableName, def.Name)
			}
			c.SetAutoIncrement(def.AutoIncrement)
		}
		if def.Default != "" {
			e, err := expr.Parse(def.Default)
			if err != nil {
				return nil, dberr.Wrap(dberr.KindSchema, "create table", fmt.Errorf("DEFAULT: %w", err)).
					WithTable(stmt.TableName, def.Name)
			}
			c.SetDefault(e)
		}
	}

	for _, tc := range stmt.Constraints {
		var err error
		if tc.PrimaryKey {
			err = f.AddPrimaryKey(tc.Columns...)
		} else {
			err = f.AddUnique(tc.Columns...)
		}
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

func isIntegral(t record.ColumnType) bool {
	switch t {
	case record.TypeByte, record.TypeShort, record.TypeInt, record.TypeLong:
		return true
	}
	return false
}

// ParseTable is the heap.ParseFunc used to rebuild a table from the
// CREATE TABLE text in its header.
func ParseTable(ddl string) (*heap.Factory, error) {
	stmt, err := parser.ParseCreateTable(ddl)
	if err != nil {
		return nil, dberr.Wrap(dberr.KindSchema, "parse table", err)
	}
	return FactoryFromStatement(stmt)
}

var _ heap.ParseFunc = ParseTable
