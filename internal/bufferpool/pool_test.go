package bufferpool

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/storage"
)

// newTestPool creates a temporary file set, StorageManager and pool for testing.
func newTestPool(t *testing.T, capacity int) (*Pool, storage.LocalFileSet) {
	t.Helper()

	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })

	fs := storage.LocalFileSet{Dir: t.TempDir(), Base: "testtable"}
	return NewPool(sm, capacity), fs
}

func TestPool_Get_LoadsAndPins(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	b1, err := pool.Get(fs, 1)
	require.NoError(t, err)
	require.Equal(t, storage.IndexToBlockID(1), b1.ID())
	require.Equal(t, int32(1), b1.Pins())

	// Second Get returns the same block and pins again.
	b2, err := pool.Get(fs, 1)
	require.NoError(t, err)
	require.Same(t, b1, b2)
	require.Equal(t, int32(2), b1.Pins())

	b1.Release()
	b2.Release()
	require.Equal(t, int32(0), b1.Pins())
	require.Equal(t, 1, pool.repl.Size())
}

func TestPool_Full_NoFreeFrameError(t *testing.T) {
	pool, fs := newTestPool(t, 1)

	b0, err := pool.Get(fs, 0)
	require.NoError(t, err)
	require.NotNil(t, b0)

	_, err = pool.Get(fs, 1)
	require.ErrorIs(t, err, ErrNoFreeFrame)
}

func TestPool_EvictDirtyBlockWritesBack(t *testing.T) {
	pool, fs := newTestPool(t, 1)

	b0, err := pool.Get(fs, 0)
	require.NoError(t, err)
	b0.Buffer()[0] = 42
	b0.SetDirty(0, 1)
	b0.Release()

	// Forces eviction of block 0.
	b1, err := pool.Get(fs, 1)
	require.NoError(t, err)
	b1.Release()

	buf := storage.NewBlockBuffer()
	require.NoError(t, pool.sm.ReadBlock(fs, 0, buf))
	require.Equal(t, byte(42), buf[0])

	// And reading it again through the pool sees the persisted byte.
	again, err := pool.Get(fs, 0)
	require.NoError(t, err)
	require.Equal(t, byte(42), again.Buffer()[0])
	again.Release()
}

func TestPool_FlushAndCommit(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	b0, err := pool.Get(fs, 0)
	require.NoError(t, err)
	b1, err := pool.GetNew(fs, 1)
	require.NoError(t, err)
	require.True(t, b1.IsDirty())

	b0.Buffer()[10] = 11
	b0.SetDirty(10, 11)
	b1.Buffer()[20] = 22

	require.NoError(t, b0.Commit())
	require.False(t, b0.IsDirty())
	require.NoError(t, pool.Flush(fs))
	require.False(t, b1.IsDirty())

	buf := storage.NewBlockBuffer()
	require.NoError(t, pool.sm.ReadBlock(fs, 0, buf))
	require.Equal(t, byte(11), buf[10])
	require.NoError(t, pool.sm.ReadBlock(fs, 1, buf))
	require.Equal(t, byte(22), buf[20])

	b0.Release()
	b1.Release()
	require.NoError(t, pool.FlushAll())
}

func TestPool_Drop(t *testing.T) {
	pool, fs := newTestPool(t, 2)

	b0, err := pool.Get(fs, 0)
	require.NoError(t, err)
	require.ErrorIs(t, pool.Drop(fs, 0), ErrBlockPinned)

	b0.Release()
	require.NoError(t, pool.Drop(fs, 0))
	_, ok := pool.table[BlockTag{FSKey: fs.Key(), Index: 0}]
	require.False(t, ok)

	// Dropping an unknown block is a no-op.
	require.NoError(t, pool.Drop(fs, 7))
}

func TestPool_DropFileSet(t *testing.T) {
	pool, fs := newTestPool(t, 4)
	other := fs.WithBase("other")

	a, err := pool.Get(fs, 0)
	require.NoError(t, err)
	o, err := pool.Get(other, 0)
	require.NoError(t, err)

	require.ErrorIs(t, pool.DropFileSet(fs, false), ErrBlockPinned)

	a.Buffer()[0] = 9
	a.SetDirty(0, 1)
	a.Release()
	require.NoError(t, pool.DropFileSet(fs, false))

	// Blocks of the other file set stay cached.
	_, ok := pool.table[BlockTag{FSKey: other.Key(), Index: 0}]
	require.True(t, ok)
	o.Release()

	buf := storage.NewBlockBuffer()
	require.NoError(t, pool.sm.ReadBlock(fs, 0, buf))
	require.Equal(t, byte(9), buf[0])
}

func TestNewPool_DefaultCapacity(t *testing.T) {
	pool := NewPool(storage.NewStorageManager(), 0)
	require.Equal(t, DefaultCapacity, pool.Capacity())
}

func TestPool_GetNewRefusesPinnedBlock(t *testing.T) {
	pool, fs := newTestPool(t, 4)

	b, err := pool.GetNew(fs, 1)
	require.NoError(t, err)
	b.Buffer()[0] = 1

	_, err = pool.GetNew(fs, 1)
	require.ErrorIs(t, err, ErrBlockPinned)
	require.Equal(t, byte(1), b.Buffer()[0])

	// unpinned: the cached frame is reused and zeroed
	b.Release()
	again, err := pool.GetNew(fs, 1)
	require.NoError(t, err)
	require.Same(t, b, again)
	require.Equal(t, byte(0), again.Buffer()[0])
	again.Release()
}
