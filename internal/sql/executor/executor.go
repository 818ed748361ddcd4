package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/engine"
	"github.com/tuannm99/rowstore/internal/expr"
	"github.com/tuannm99/rowstore/internal/heap"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/sql/parser"
	"github.com/tuannm99/rowstore/internal/xa"
)

// executorDB is a small seam for unit-testing Executor without a real DB.
type executorDB interface {
	CreateTable(f *heap.Factory) (*heap.Table, error)
	DropTable(name string) error
	OpenTable(ctx context.Context, name string) (*heap.Table, error)
	Begin() *xa.Transaction
}

var _ executorDB = (*engine.Database)(nil)

// Executor runs parsed statements against a Database.
type Executor struct {
	DB  executorDB
	log *slog.Logger
}

func NewExecutor(db *engine.Database) *Executor {
	return &Executor{DB: db, log: slog.Default()}
}

// NewExecutorForTest allows injecting a fake executorDB.
func NewExecutorForTest(db executorDB) *Executor {
	return &Executor{DB: db, log: slog.Default()}
}

// ExecSQL is the top-level entry: SQL string -> Result. params are visible
// to value expressions as params.<name>.
func (e *Executor) ExecSQL(ctx context.Context, sql string, params map[string]any) (*Result, error) {
	stmt, err := parser.Parse(sql)
	if err != nil {
		return nil, err
	}

	switch s := stmt.(type) {
	case *parser.CreateTableStmt:
		return e.execCreateTable(s)
	case *parser.DropTableStmt:
		return e.execDropTable(s)
	case *parser.InsertStmt:
		return e.execInsert(ctx, s, params)
	default:
		return nil, fmt.Errorf("executor: unsupported statement type %T", stmt)
	}
}

func (e *Executor) execCreateTable(s *parser.CreateTableStmt) (*Result, error) {
	f, err := engine.FactoryFromStatement(s)
	if err != nil {
		return nil, err
	}
	if _, err := e.DB.CreateTable(f); err != nil {
		return nil, err
	}
	return &Result{AffectedRows: 0}, nil
}

func (e *Executor) execDropTable(s *parser.DropTableStmt) (*Result, error) {
	if err := e.DB.DropTable(s.TableName); err != nil {
		return nil, err
	}
	return &Result{AffectedRows: 0}, nil
}

// execInsert inserts one row in its own transaction. Without a column list
// the values fill the table's columns in order, IDENTITY columns skipped.
func (e *Executor) execInsert(ctx context.Context, s *parser.InsertStmt, params map[string]any) (*Result, error) {
	tbl, err := e.DB.OpenTable(ctx, s.TableName)
	if err != nil {
		return nil, err
	}

	cols, err := insertColumns(tbl, s)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(s.Values) {
		return nil, dberr.Schema("insert", "%d columns for %d values", len(cols), len(s.Values)).
			WithTable(tbl.Name(), "")
	}

	values := make([]expr.Expr, len(s.Values))
	for i, src := range s.Values {
		v, err := expr.Parse(src)
		if err != nil {
			return nil, dberr.Wrap(dberr.KindEncoding, "insert", err).WithTable(tbl.Name(), cols[i].Name())
		}
		values[i] = v
	}

	x := e.DB.Begin()
	qc := expr.NewQueryContext(ctx, x)
	for k, v := range params {
		qc = qc.WithParam(k, v)
	}

	addr, err := tbl.Insert(qc, cols, values)
	if err != nil {
		x.Rollback()
		return nil, err
	}
	if err := x.Commit(); err != nil {
		return nil, err
	}

	e.log.Debug("executor: insert", "table", tbl.Name(), "addr", addr, "xa", x.ID())
	return &Result{AffectedRows: 1, LastAddress: addr}, nil
}

func insertColumns(tbl *heap.Table, s *parser.InsertStmt) ([]*record.Column, error) {
	if len(s.Columns) > 0 {
		return tbl.ColumnsByName(s.Columns...)
	}
	var cols []*record.Column
	for _, c := range tbl.Columns() {
		if c.Type() != record.TypeIdentity {
			cols = append(cols, c)
		}
	}
	return cols, nil
}

// Scan returns up to limit VALID rows of a table (all when limit <= 0).
func (e *Executor) Scan(ctx context.Context, table string, limit int) (*Result, error) {
	tbl, err := e.DB.OpenTable(ctx, table)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, c := range tbl.Columns() {
		res.Columns = append(res.Columns, c.Name())
	}

	cur := tbl.NewCursor()
	defer cur.Free()
	for limit <= 0 || len(res.Rows) < limit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ok, err := cur.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		row, err := cur.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, row)
	}

	res.AffectedRows = int64(len(res.Rows))
	return res, nil
}
