package expr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Literals(t *testing.T) {
	cases := map[string]any{
		"NULL":    nil,
		"true":    true,
		"FALSE":   false,
		"42":      int64(42),
		"-7":      int64(-7),
		"2.5":     2.5,
		"'it''s'": "it's",
		"  'x'  ": "x",
		"''":      "",
	}
	for src, want := range cases {
		e, err := Parse(src)
		require.NoError(t, err, src)
		got, err := e.Eval(nil)
		require.NoError(t, err, src)
		assert.Equal(t, want, got, src)
	}

	_, err := Parse("   ")
	require.Error(t, err)
}

func TestLiteral_StringRoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	for _, v := range []any{nil, "o'clock", true, int64(12), 1.25, ts, []byte{0, 0xff, 'a'}} {
		src := Lit(v).String()
		e, err := Parse(src)
		require.NoError(t, err, src)
		got, err := e.Eval(NewQueryContext(context.Background(), nil))
		require.NoError(t, err, src)
		assert.Equal(t, v, got, src)
	}
}

func TestCEL_ParamsAndNow(t *testing.T) {
	qc := NewQueryContext(context.Background(), nil).WithParam("x", int64(41))

	e, err := Parse("params.x + 1")
	require.NoError(t, err)
	v, err := e.Eval(qc)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
	assert.Equal(t, "params.x + 1", e.String())

	now, err := Parse("now")
	require.NoError(t, err)
	v, err = now.Eval(qc)
	require.NoError(t, err)
	assert.True(t, qc.Now.Equal(v.(time.Time)))

	null, err := NewCEL("null")
	require.NoError(t, err)
	v, err = null.Eval(qc)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Parse("1 +")
	require.Error(t, err)
}

func TestParam(t *testing.T) {
	qc := NewQueryContext(nil, nil).WithParam("name", "bob")

	v, err := Param{Name: "name"}.Eval(qc)
	require.NoError(t, err)
	assert.Equal(t, "bob", v)

	_, err = Param{Name: "missing"}.Eval(qc)
	require.ErrorIs(t, err, ErrMissingParam)
}
