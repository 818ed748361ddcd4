package heap

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/storage"
	"github.com/tuannm99/rowstore/internal/xa"
)

func TestTable_DebugBlock(t *testing.T) {
	env := newEnv(t)
	tbl := env.newTestTable(t, usersFactory(t), Options{Inline: true})

	a, err := insert(t, tbl, []string{"name", "age"}, "ann", 30)
	require.NoError(t, err)
	b, err := insert(t, tbl, []string{"name", "age"}, "bob", 40)
	require.NoError(t, err)

	x := xa.New(0)
	require.NoError(t, tbl.Delete(x, b))
	require.NoError(t, x.Commit())

	blockID := storage.AddressToBlockID(a)
	var out bytes.Buffer
	require.NoError(t, tbl.DebugBlock(&out, blockID, false))

	s := out.String()
	assert.Contains(t, s, fmt.Sprintf("addr=%d VALID", a))
	assert.NotContains(t, s, fmt.Sprintf("addr=%d ", b))
	assert.Contains(t, s, fmt.Sprintf("valid=1 alloc=0 free=%d", tbl.RowsPerBlock()-1))

	out.Reset()
	require.NoError(t, tbl.DebugBlock(&out, blockID, true))
	assert.Contains(t, out.String(), fmt.Sprintf("addr=%d FREE", b))

	require.ErrorIs(t, tbl.DebugBlock(&out, 0, false), ErrBadAddress)
}

func TestPrintable(t *testing.T) {
	assert.Equal(t, "ab.", printable([]byte("ab\n")))
	assert.Equal(t, "a.", printable([]byte{'a', 0xff}))
}
