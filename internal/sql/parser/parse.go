package parser

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// parseIdent validates an identifier (table/column name).
// Rules (simple):
//   - must be exactly one token (no spaces)
//   - first char: letter or '_'
//   - rest: letter/digit/'_'
func parseIdent(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("missing identifier")
	}

	parts := strings.Fields(s)
	if len(parts) != 1 {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	id := parts[0]

	for i, r := range id {
		if i == 0 {
			if !unicode.IsLetter(r) && r != '_' {
				return "", fmt.Errorf("invalid identifier %q", id)
			}
			continue
		}

		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return "", fmt.Errorf("invalid identifier %q", id)
		}
	}

	return id, nil
}

// Parse parses a single SQL statement into an AST. A trailing ';' is
// optional so the CREATE TABLE text stored in a table header parses as is.
func Parse(sql string) (Statement, error) {
	s := strings.TrimSpace(sql)
	if s == "" {
		return nil, fmt.Errorf("empty statement")
	}

	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	p := &parser{src: s, toks: toks}

	var stmt Statement
	switch {
	case p.peek().is("CREATE"):
		stmt, err = p.createTable()
	case p.peek().is("DROP"):
		stmt, err = p.dropTable()
	case p.peek().is("INSERT"):
		stmt, err = p.insert()
	default:
		return nil, fmt.Errorf("unsupported statement: %q", sql)
	}
	if err != nil {
		return nil, err
	}

	p.accept(";")
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("unexpected %s after statement", t)
	}
	return stmt, nil
}

// ParseCreateTable parses sql and requires a CREATE TABLE statement.
func ParseCreateTable(sql string) (*CreateTableStmt, error) {
	stmt, err := Parse(sql)
	if err != nil {
		return nil, err
	}
	ct, ok := stmt.(*CreateTableStmt)
	if !ok {
		return nil, fmt.Errorf("want CREATE TABLE, got %T", stmt)
	}
	return ct, nil
}

type parser struct {
	src  string
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) accept(word string) bool {
	if p.peek().is(word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(words ...string) error {
	for _, w := range words {
		if t := p.next(); !t.is(w) {
			return fmt.Errorf("expected %s, got %s", w, t)
		}
	}
	return nil
}

func (p *parser) ident(what string) (string, error) {
	t := p.next()
	if t.kind != tokIdent {
		return "", fmt.Errorf("missing %s: got %s", what, t)
	}
	return parseIdent(t.text)
}

func (p *parser) integer(what string) (int64, error) {
	neg := p.accept("-")
	t := p.next()
	if t.kind != tokNumber {
		return 0, fmt.Errorf("missing %s: got %s", what, t)
	}
	n, err := strconv.ParseInt(t.text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, t.text)
	}
	if neg {
		n = -n
	}
	return n, nil
}

// identList reads "(a, b, ...)".
func (p *parser) identList(what string) ([]string, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		name, err := p.ident(what)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
		if p.accept(")") {
			return out, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

// balanced returns the source between the '(' at the cursor and its
// matching ')', consuming both.
func (p *parser) balanced() (string, error) {
	open := p.next()
	if !open.is("(") {
		return "", fmt.Errorf("expected (, got %s", open)
	}
	depth := 1
	for {
		t := p.next()
		switch {
		case t.kind == tokEOF:
			return "", fmt.Errorf("unbalanced parentheses at offset %d", open.start)
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
			if depth == 0 {
				return strings.TrimSpace(p.src[open.end:t.start]), nil
			}
		}
	}
}

// exprUntil returns the source from the cursor up to the first top-level
// token in stops, which is left unconsumed.
func (p *parser) exprUntil(stops ...string) (string, error) {
	start := p.peek().start
	depth := 0
	for {
		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		if depth == 0 && isAny(t, stops) {
			break
		}
		switch {
		case t.is("("):
			depth++
		case t.is(")"):
			depth--
		}
		p.pos++
	}
	text := strings.TrimSpace(p.src[start:p.peek().start])
	if depth != 0 {
		return "", fmt.Errorf("unbalanced parentheses at offset %d", start)
	}
	if text == "" {
		return "", fmt.Errorf("missing expression at offset %d", start)
	}
	return text, nil
}

func isAny(t token, words []string) bool {
	for _, w := range words {
		if t.is(w) {
			return true
		}
	}
	return false
}

// "CREATE TABLE users (id IDENTITY, name VARCHAR(50) UNIQUE NOT NULL, UNIQUE(a,b))"
func (p *parser) createTable() (*CreateTableStmt, error) {
	if err := p.expect("CREATE", "TABLE"); err != nil {
		return nil, fmt.Errorf("invalid CREATE TABLE syntax: %w", err)
	}
	name, err := p.ident("table name")
	if err != nil {
		return nil, fmt.Errorf("invalid CREATE TABLE syntax: %w", err)
	}
	if err := p.expect("("); err != nil {
		return nil, fmt.Errorf("invalid CREATE TABLE syntax: %w", err)
	}
	if p.peek().is(")") {
		return nil, fmt.Errorf("invalid CREATE TABLE syntax: empty column list")
	}

	stmt := &CreateTableStmt{TableName: name}
	for {
		switch {
		case p.peek().is("UNIQUE") && p.toks[p.pos+1].is("("):
			p.next()
			cols, err := p.identList("constraint column")
			if err != nil {
				return nil, fmt.Errorf("invalid UNIQUE constraint: %w", err)
			}
			stmt.Constraints = append(stmt.Constraints, TableConstraint{Columns: cols})

		case p.peek().is("PRIMARY") && p.toks[p.pos+1].is("KEY") && p.toks[p.pos+2].is("("):
			p.next()
			p.next()
			cols, err := p.identList("constraint column")
			if err != nil {
				return nil, fmt.Errorf("invalid PRIMARY KEY constraint: %w", err)
			}
			stmt.Constraints = append(stmt.Constraints, TableConstraint{PrimaryKey: true, Columns: cols})

		default:
			col, err := p.columnDef()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
		}

		if p.accept(")") {
			return stmt, nil
		}
		if err := p.expect(","); err != nil {
			return nil, fmt.Errorf("invalid CREATE TABLE syntax: %w", err)
		}
	}
}

var typeAliases = map[string]string{
	"INT":      "INTEGER",
	"BOOL":     "BOOLEAN",
	"DATETIME": "TIMESTAMP",
	"DECIMAL":  "NUMERIC",
}

func (p *parser) columnDef() (ColumnDef, error) {
	name, err := p.ident("column name")
	if err != nil {
		return ColumnDef{}, fmt.Errorf("invalid column name: %w", err)
	}
	col := ColumnDef{Name: name, AutoIncrement: -1}

	t := p.next()
	if t.kind != tokIdent {
		return col, fmt.Errorf("invalid column def %q: missing type", name)
	}
	col.Type = strings.ToUpper(t.text)
	if alias, ok := typeAliases[col.Type]; ok {
		col.Type = alias
	}

	switch col.Type {
	case "VARCHAR", "BINARY", "VARBINARY":
		if err := p.expect("("); err != nil {
			return col, fmt.Errorf("invalid column def %q: %s needs a length", name, col.Type)
		}
		n, err := p.integer("length")
		if err != nil {
			return col, fmt.Errorf("invalid column def %q: %w", name, err)
		}
		col.Size = int(n)
		if err := p.expect(")"); err != nil {
			return col, fmt.Errorf("invalid column def %q: %w", name, err)
		}
	case "NUMERIC":
		if p.accept("(") {
			n, err := p.integer("precision")
			if err != nil {
				return col, fmt.Errorf("invalid column def %q: %w", name, err)
			}
			col.Size = int(n)
			if p.accept(",") {
				s, err := p.integer("scale")
				if err != nil {
					return col, fmt.Errorf("invalid column def %q: %w", name, err)
				}
				col.Scale = int(s)
			}
			if err := p.expect(")"); err != nil {
				return col, fmt.Errorf("invalid column def %q: %w", name, err)
			}
		}
	}

	for {
		t := p.peek()
		switch {
		case t.is(",") || t.is(")") || t.kind == tokEOF:
			return col, nil

		case t.is("PRIMARY"):
			if err := p.expect("PRIMARY", "KEY"); err != nil {
				return col, fmt.Errorf("invalid column def %q: %w", name, err)
			}
			col.PrimaryKey = true

		case t.is("UNIQUE"):
			p.next()
			col.Unique = true

		case t.is("NOT"):
			if err := p.expect("NOT", "NULL"); err != nil {
				return col, fmt.Errorf("invalid column def %q: %w", name, err)
			}
			col.NotNull = true

		case t.is("NULL"):
			p.next()

		case t.is("IDENTITY"):
			p.next()
			col.Type = "IDENTITY"

		case t.is("AUTO_INCREMENT"):
			p.next()
			col.AutoIncrement = 1
			if p.accept("(") {
				n, err := p.integer("auto_increment floor")
				if err != nil {
					return col, fmt.Errorf("invalid column def %q: %w", name, err)
				}
				col.AutoIncrement = n
				if err := p.expect(")"); err != nil {
					return col, fmt.Errorf("invalid column def %q: %w", name, err)
				}
			}

		case t.is("DEFAULT"):
			p.next()
			var def string
			var err error
			if p.peek().is("(") {
				def, err = p.balanced()
			} else {
				def, err = p.defaultTerm()
			}
			if err != nil {
				return col, fmt.Errorf("invalid column def %q: DEFAULT: %w", name, err)
			}
			col.Default = def

		default:
			return col, fmt.Errorf("invalid column def %q: unexpected %s", name, t)
		}
	}
}

// defaultTerm reads an unparenthesized DEFAULT: one token, optionally
// signed.
func (p *parser) defaultTerm() (string, error) {
	start := p.peek()
	if start.is("-") || start.is("+") {
		p.next()
	}
	t := p.next()
	switch t.kind {
	case tokIdent, tokNumber, tokString:
		return p.src[start.start:t.end], nil
	}
	return "", fmt.Errorf("unexpected %s", t)
}

// "DROP TABLE users"
func (p *parser) dropTable() (*DropTableStmt, error) {
	if err := p.expect("DROP", "TABLE"); err != nil {
		return nil, fmt.Errorf("invalid DROP TABLE syntax: %w", err)
	}
	name, err := p.ident("table name")
	if err != nil {
		return nil, fmt.Errorf("invalid DROP TABLE syntax: %w", err)
	}
	return &DropTableStmt{TableName: name}, nil
}

// "INSERT INTO users [(a, b)] VALUES (1, 'abc')"
func (p *parser) insert() (*InsertStmt, error) {
	if err := p.expect("INSERT", "INTO"); err != nil {
		return nil, fmt.Errorf("invalid INSERT syntax: %w", err)
	}
	name, err := p.ident("table name")
	if err != nil {
		return nil, fmt.Errorf("invalid INSERT syntax: %w", err)
	}
	stmt := &InsertStmt{TableName: name}

	if p.peek().is("(") {
		if stmt.Columns, err = p.identList("column name"); err != nil {
			return nil, fmt.Errorf("invalid INSERT syntax: %w", err)
		}
	}
	if err := p.expect("VALUES", "("); err != nil {
		return nil, fmt.Errorf("invalid INSERT syntax: %w", err)
	}
	for {
		v, err := p.exprUntil(",", ")")
		if err != nil {
			return nil, fmt.Errorf("invalid INSERT values syntax: %w", err)
		}
		stmt.Values = append(stmt.Values, v)
		if p.accept(")") {
			break
		}
		if err := p.expect(","); err != nil {
			return nil, fmt.Errorf("invalid INSERT values syntax: %w", err)
		}
	}

	if len(stmt.Columns) > 0 && len(stmt.Columns) != len(stmt.Values) {
		return nil, fmt.Errorf("invalid INSERT syntax: %d columns for %d values", len(stmt.Columns), len(stmt.Values))
	}
	return stmt, nil
}
