package dberr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKindSentinel(t *testing.T) {
	err := Uniqueness("users", "name", "duplicate key %q", "alice")

	require.ErrorIs(t, err, ErrUniqueness)
	require.NotErrorIs(t, err, ErrSchema)

	wrapped := fmt.Errorf("insert failed: %w", err)
	require.ErrorIs(t, wrapped, ErrUniqueness)

	var de *Error
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "users", de.Table)
	assert.Equal(t, "name", de.Column)
	assert.Contains(t, de.Error(), "users.name")
	assert.Contains(t, de.Error(), "alice")
}

func TestError_WrapKeepsCause(t *testing.T) {
	err := IO("read block", io.ErrUnexpectedEOF)

	require.ErrorIs(t, err, ErrIO)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, KindIO, KindOf(err))

	// Re-wrapping an IO error keeps the original.
	again := IO("flush", err)
	assert.Same(t, err, again)

	assert.Nil(t, IO("noop", nil))
}

func TestRetryableAndFatal(t *testing.T) {
	assert.True(t, IsRetryable(LockTimeout("alloc row", 0x2000)))
	assert.False(t, IsRetryable(Schema("add column", "row too long")))
	assert.False(t, IsRetryable(nil))

	assert.True(t, IsFatal(IO("write", io.ErrShortWrite)))
	assert.True(t, IsFatal(Unsupported("set identity", "identity is derived")))
	assert.False(t, IsFatal(Encoding("set", "too long")))
	assert.False(t, IsFatal(nil))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
}

func TestWithTable(t *testing.T) {
	base := Encoding("set", "value too long")
	e := base.WithTable("t1", "c1")

	assert.Empty(t, base.Table)
	assert.Equal(t, "t1", e.Table)
	assert.Equal(t, "c1", e.Column)
	assert.Equal(t, "encoding", e.Kind.String())
}
