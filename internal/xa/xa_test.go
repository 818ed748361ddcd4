package xa

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/storage"
)

type fakeInode struct {
	deleted bool
	err     error
}

func (f *fakeInode) Delete() error {
	f.deleted = true
	return f.err
}

func newBlock(t *testing.T) (*bufferpool.Pool, storage.LocalFileSet, *storage.Block) {
	t.Helper()
	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })
	pool := bufferpool.NewPool(sm, 4)
	fs := storage.LocalFileSet{Dir: t.TempDir(), Base: "xa"}

	b, err := pool.Get(fs, 1)
	require.NoError(t, err)
	return pool, fs, b
}

func TestTransaction_CommitWritesBlocksThenDeletes(t *testing.T) {
	_, _, b := newBlock(t)

	x := New(0)
	assert.Equal(t, DefaultLockTimeout, x.Timeout())
	assert.NotEqual(t, x.ID(), New(time.Second).ID())

	b.Buffer()[5] = 1
	b.SetDirty(5, 6)
	x.AddUpdateBlock(b)
	x.AddUpdateBlock(b)
	assert.Equal(t, 1, x.UpdateCount())
	assert.Equal(t, int32(2), b.Pins())

	ino := &fakeInode{}
	x.AddDeleteInode(ino)

	require.NoError(t, x.Commit())
	assert.True(t, ino.deleted)
	assert.False(t, b.IsDirty())
	assert.Equal(t, int32(1), b.Pins())

	require.ErrorIs(t, x.Commit(), ErrDone)
	b.Release()
}

func TestTransaction_RollbackReleasesBlocksAndRunsDeletes(t *testing.T) {
	_, _, b := newBlock(t)

	x := New(time.Second)
	b.Buffer()[5] = 1
	b.SetDirty(5, 6)
	x.AddUpdateBlock(b)
	ino := &fakeInode{}
	x.AddDeleteInode(ino)
	x.Rollback()

	assert.True(t, ino.deleted)
	assert.True(t, b.IsDirty())
	assert.Equal(t, int32(1), b.Pins())
	b.Release()

	x.Rollback()
	require.ErrorIs(t, x.Commit(), ErrDone)
}

func TestTransaction_DiscardDeletesSince(t *testing.T) {
	x := New(time.Second)
	keep, drop := &fakeInode{}, &fakeInode{}

	x.AddDeleteInode(keep)
	mark := x.DeleteMark()
	x.AddDeleteInode(drop)
	x.DiscardDeletesSince(mark)

	require.NoError(t, x.Commit())
	assert.True(t, keep.deleted)
	assert.False(t, drop.deleted)
}

func TestAutoCommit(t *testing.T) {
	ino := &fakeInode{}
	err := AutoCommit(time.Second, func(x *Transaction) error {
		x.AddDeleteInode(ino)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ino.deleted)

	boom := errors.New("boom")
	other := &fakeInode{}
	err = AutoCommit(time.Second, func(x *Transaction) error {
		x.AddDeleteInode(other)
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.True(t, other.deleted)
}
