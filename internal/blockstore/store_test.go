package blockstore

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

func newEnv(t *testing.T) (*storage.StorageManager, *bufferpool.Pool, storage.LocalFileSet) {
	t.Helper()
	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })
	return sm, bufferpool.NewPool(sm, 16), storage.LocalFileSet{Dir: t.TempDir(), Base: "t1"}
}

func TestStore_CreateAllocateReopen(t *testing.T) {
	sm, pool, fs := newEnv(t)

	s, err := Create(sm, pool, fs)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.BlockCount())
	assert.Equal(t, storage.AllocHeader, s.AllocKind(0))

	row, err := s.AllocateBlock(storage.AllocRow)
	require.NoError(t, err)
	assert.Equal(t, storage.IndexToBlockID(1), row.ID())
	row.Buffer()[100] = 7
	row.SetDirty(100, 101)
	row.Release()

	used, err := s.AllocateBlock(storage.AllocUsed)
	require.NoError(t, err)
	used.Release()

	require.NoError(t, s.Close())

	_, err = Create(sm, pool, fs)
	require.ErrorIs(t, err, ErrStoreExists)

	s2, err := Open(sm, pool, fs)
	require.NoError(t, err)
	defer s2.Close()

	assert.Equal(t, int64(3), s2.BlockCount())
	assert.Equal(t, storage.AllocRow, s2.AllocKind(storage.IndexToBlockID(1)))
	assert.Equal(t, storage.AllocUsed, s2.AllocKind(storage.IndexToBlockID(2)))

	b, err := s2.ReadBlock(storage.IndexToBlockID(1))
	require.NoError(t, err)
	assert.Equal(t, byte(7), b.Buffer()[100])
	b.Release()
}

func TestStore_FirstBlockAndFree(t *testing.T) {
	sm, pool, fs := newEnv(t)
	s, err := Create(sm, pool, fs)
	require.NoError(t, err)
	defer s.Close()

	var ids []uint64
	for _, k := range []storage.AllocKind{storage.AllocRow, storage.AllocUsed, storage.AllocRow} {
		b, err := s.AllocateBlock(k)
		require.NoError(t, err)
		ids = append(ids, b.ID())
		b.Release()
	}

	id, ok := s.FirstBlock(0, storage.AllocRow)
	require.True(t, ok)
	assert.Equal(t, ids[0], id)

	id, ok = s.FirstBlock(ids[0]+storage.BlockSize, storage.AllocRow)
	require.True(t, ok)
	assert.Equal(t, ids[2], id)

	_, ok = s.FirstBlock(ids[2]+storage.BlockSize, storage.AllocRow)
	assert.False(t, ok)

	// Freed blocks are reused lowest first.
	require.NoError(t, s.FreeBlock(ids[1]))
	assert.Equal(t, storage.AllocFree, s.AllocKind(ids[1]))
	b, err := s.AllocateBlock(storage.AllocRow)
	require.NoError(t, err)
	assert.Equal(t, ids[1], b.ID())
	b.Release()

	require.Error(t, s.FreeBlock(0))
}

func TestStore_ReadBlockOutOfRange(t *testing.T) {
	sm, pool, fs := newEnv(t)
	s, err := Create(sm, pool, fs)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.ReadBlock(storage.IndexToBlockID(9))
	require.ErrorIs(t, err, dberr.ErrIO)
	require.ErrorIs(t, err, storage.ErrBlockNotFound)
}

func TestStore_OpenMissingAndRemove(t *testing.T) {
	sm, pool, fs := newEnv(t)

	_, err := Open(sm, pool, fs)
	require.ErrorIs(t, err, ErrStoreMissing)

	s, err := Create(sm, pool, fs)
	require.NoError(t, err)
	require.NoError(t, s.Remove())

	ok, err := storage.SegmentsExist(fs)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_AllocateSkipsPinnedFreedBlock(t *testing.T) {
	sm, pool, fs := newEnv(t)
	s, err := Create(sm, pool, fs)
	require.NoError(t, err)
	defer s.Close()

	held, err := s.AllocateBlock(storage.AllocUsed)
	require.NoError(t, err)
	held.Buffer()[0] = 9

	// a reader still pins the freed block
	require.NoError(t, s.FreeBlock(held.ID()))
	b, err := s.AllocateBlock(storage.AllocRow)
	require.NoError(t, err)
	assert.NotEqual(t, held.ID(), b.ID())
	assert.Equal(t, byte(9), held.Buffer()[0])
	b.Release()
	held.Release()

	again, err := s.AllocateBlock(storage.AllocRow)
	require.NoError(t, err)
	assert.Equal(t, held.ID(), again.ID())
	assert.Equal(t, byte(0), again.Buffer()[0])
	again.Release()
}

// Writes made to a block as soon as FirstBlock reports it must survive the
// allocation that published it.
func TestStore_ConcurrentAllocateKeepsVisibleWrites(t *testing.T) {
	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })
	pool := bufferpool.NewPool(sm, 512)
	s, err := Create(sm, pool, storage.LocalFileSet{Dir: t.TempDir(), Base: "t1"})
	require.NoError(t, err)
	defer s.Close()

	const blocks = 200
	var done atomic.Bool
	var mu sync.Mutex
	marked := map[uint64]bool{}

	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			for range blocks / 4 {
				b, err := s.AllocateBlock(storage.AllocRow)
				if err != nil {
					return err
				}
				b.Release()
			}
			return nil
		})
	}
	var scanners errgroup.Group
	for range 2 {
		scanners.Go(func() error {
			for !done.Load() {
				for id, ok := s.FirstBlock(0, storage.AllocRow); ok; id, ok = s.FirstBlock(id+storage.BlockSize, storage.AllocRow) {
					b, err := s.ReadBlock(id)
					if err != nil {
						return err
					}
					b.LockWait()
					b.Buffer()[0] = 1
					b.Unlock()
					b.Release()

					mu.Lock()
					marked[id] = true
					mu.Unlock()
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	done.Store(true)
	require.NoError(t, scanners.Wait())

	for id := range marked {
		b, err := s.ReadBlock(id)
		require.NoError(t, err)
		assert.Equal(t, byte(1), b.Buffer()[0], "block %#x", id)
		b.Release()
	}
}
