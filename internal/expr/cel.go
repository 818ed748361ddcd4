package expr

import (
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// CEL is an expression compiled once with cel-go. It sees two variables:
// params (the statement's named parameters) and now (a timestamp).
type CEL struct {
	src     string
	program cel.Program
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("params", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("now", cel.TimestampType),
	)
}

func NewCEL(src string) (*CEL, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("expr: creating CEL environment: %w", err)
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("expr: compiling %q: %w", src, issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("expr: creating program: %w", err)
	}
	return &CEL{src: src, program: p}, nil
}

func (c *CEL) Eval(qc *QueryContext) (any, error) {
	params := map[string]any{}
	now := time.Now().UTC()
	if qc != nil {
		if qc.Params != nil {
			params = qc.Params
		}
		if !qc.Now.IsZero() {
			now = qc.Now
		}
	}

	out, _, err := c.program.Eval(map[string]any{
		"params": params,
		"now":    now,
	})
	if err != nil {
		return nil, fmt.Errorf("expr: evaluating %q: %w", c.src, err)
	}
	if out.Type() == types.NullType {
		return nil, nil
	}
	return out.Value(), nil
}

func (c *CEL) String() string { return c.src }
