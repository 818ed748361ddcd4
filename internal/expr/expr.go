// Package expr supplies the values a Table stores: SQL literals, bound
// parameters, and CEL expressions used for column DEFAULTs.
package expr

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tuannm99/rowstore/internal/xa"
)

var ErrMissingParam = errors.New("expr: missing parameter")

// QueryContext is the evaluation context of one statement.
type QueryContext struct {
	Ctx    context.Context
	Xa     *xa.Transaction
	Params map[string]any
	// Now is fixed per statement so every DEFAULT sees the same instant.
	Now time.Time
}

func NewQueryContext(ctx context.Context, x *xa.Transaction) *QueryContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &QueryContext{
		Ctx:    ctx,
		Xa:     x,
		Params: map[string]any{},
		Now:    time.Now().UTC(),
	}
}

// WithParam binds a named parameter and returns qc.
func (qc *QueryContext) WithParam(name string, v any) *QueryContext {
	if qc.Params == nil {
		qc.Params = map[string]any{}
	}
	qc.Params[name] = v
	return qc
}

// Expr produces one value; nil is SQL NULL.
type Expr interface {
	Eval(qc *QueryContext) (any, error)
	// String renders the expression so Parse can read it back.
	String() string
}

type Literal struct {
	Value any
}

var Null Expr = Literal{}

func Lit(v any) Literal { return Literal{Value: v} }

func (l Literal) Eval(*QueryContext) (any, error) { return l.Value, nil }

func (l Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return fmt.Sprintf("timestamp(%q)", v.UTC().Format(time.RFC3339Nano))
	case []byte:
		var sb strings.Builder
		sb.WriteString(`b"`)
		for _, c := range v {
			sb.WriteString(`\x`)
			sb.WriteString(hex.EncodeToString([]byte{c}))
		}
		sb.WriteByte('"')
		return sb.String()
	default:
		return fmt.Sprint(v)
	}
}

// Param reads a bound parameter by name.
type Param struct {
	Name string
}

func (p Param) Eval(qc *QueryContext) (any, error) {
	if qc != nil {
		if v, ok := qc.Params[p.Name]; ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
}

func (p Param) String() string { return "params." + p.Name }

// Parse reads a literal, or compiles src as a CEL expression.
func Parse(src string) (Expr, error) {
	s := strings.TrimSpace(src)
	if s == "" {
		return nil, errors.New("expr: empty expression")
	}

	switch strings.ToUpper(s) {
	case "NULL":
		return Null, nil
	case "TRUE":
		return Lit(true), nil
	case "FALSE":
		return Lit(false), nil
	}

	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		body := s[1 : len(s)-1]
		if !strings.Contains(strings.ReplaceAll(body, "''", ""), "'") {
			return Lit(strings.ReplaceAll(body, "''", "'")), nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Lit(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Lit(f), nil
	}

	return NewCEL(s)
}

// MustParse is Parse for expressions known to be valid.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}
