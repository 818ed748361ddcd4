package btree

import (
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/storage"
)

func key(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func newStore(t *testing.T) *blockstore.Store {
	t.Helper()
	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })
	s, err := blockstore.Create(sm, bufferpool.NewPool(sm, 64), storage.LocalFileSet{Dir: t.TempDir(), Base: "idx"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTree(t *testing.T, keyLen int, cmp KeyCompare) (*Tree, *blockstore.Store) {
	t.Helper()
	s := newStore(t)
	tr, err := Create(s, keyLen, cmp)
	require.NoError(t, err)
	return tr, s
}

func lookup(t *testing.T, tr *Tree, k []byte) uint64 {
	t.Helper()
	addr, err := tr.Lookup(k)
	require.NoError(t, err)
	return addr
}

func countBlocks(s *blockstore.Store, kind storage.AllocKind) int {
	n := 0
	for id, ok := s.FirstBlock(0, kind); ok; id, ok = s.FirstBlock(id+storage.BlockSize, kind) {
		n++
	}
	return n
}

func TestTree_InsertLookupRemove(t *testing.T) {
	tr, s := newTree(t, 4, nil)
	assert.Equal(t, storage.AllocIndex, s.AllocKind(tr.Root()))

	require.NoError(t, tr.Insert(key(5), 100))
	require.NoError(t, tr.Insert(key(1), 200))
	require.NoError(t, tr.Insert(key(3), 300))

	assert.Equal(t, uint64(100), lookup(t, tr, key(5)))
	assert.Equal(t, uint64(0), lookup(t, tr, key(4)))
	assert.Equal(t, 3, tr.Len())

	// Same pair again is fine, another address is a duplicate.
	require.NoError(t, tr.Insert(key(5), 100))
	require.ErrorIs(t, tr.Insert(key(5), 101), ErrDuplicateKey)
	require.ErrorIs(t, tr.Insert(key(6), 0), ErrZeroAddress)
	require.ErrorIs(t, tr.Insert([]byte{1}, 7), ErrKeyLength)
	assert.Equal(t, 3, tr.Len())

	require.NoError(t, tr.Remove(key(5)))
	require.NoError(t, tr.Remove(key(5)))
	assert.Equal(t, uint64(0), lookup(t, tr, key(5)))

	var got []uint64
	require.NoError(t, tr.Ascend(func(_ []byte, addr uint64) bool {
		got = append(got, addr)
		return true
	}))
	assert.Equal(t, []uint64{200, 300}, got)

	require.NoError(t, tr.Clear())
	assert.Zero(t, tr.Len())
	assert.Zero(t, lookup(t, tr, key(1)))
}

func TestTree_KeyIsCopied(t *testing.T) {
	tr, _ := newTree(t, 4, nil)
	k := key(7)
	require.NoError(t, tr.Insert(k, 1))
	k[3] = 9
	assert.Equal(t, uint64(1), lookup(t, tr, key(7)))
}

func TestTree_CustomCompare(t *testing.T) {
	// Reverse order.
	tr, _ := newTree(t, 1, func(a, b []byte) int { return int(b[0]) - int(a[0]) })
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, tr.Insert([]byte{i}, uint64(i)))
	}

	var order []byte
	require.NoError(t, tr.Ascend(func(k []byte, _ uint64) bool {
		order = append(order, k[0])
		return len(order) < 2
	}))
	assert.Equal(t, []byte{3, 2}, order)
}

func TestTree_SplitsKeepRootAndOrder(t *testing.T) {
	tr, s := newTree(t, 4, nil)
	tr.fanout = 4
	root := tr.Root()

	const n = 500
	// 7919 is prime, so this visits every key once in scattered order.
	for i := range n {
		k := uint32(i * 7919 % n)
		require.NoError(t, tr.Insert(key(k), uint64(k)+1))
	}
	assert.Equal(t, n, tr.Len())
	assert.Equal(t, root, tr.Root())
	assert.Greater(t, countBlocks(s, storage.AllocIndex), n/4)

	b, err := s.ReadBlock(root)
	require.NoError(t, err)
	assert.Equal(t, internalKind, b.Buffer()[0])
	b.Release()

	for k := range uint32(n) {
		require.Equal(t, uint64(k)+1, lookup(t, tr, key(k)), "key %d", k)
	}
	require.ErrorIs(t, tr.Insert(key(250), 1), ErrDuplicateKey)

	for k := uint32(0); k < n; k += 2 {
		require.NoError(t, tr.Remove(key(k)))
	}
	assert.Equal(t, n/2, tr.Len())

	var prev uint32
	seen := 0
	require.NoError(t, tr.Ascend(func(k []byte, addr uint64) bool {
		v := binary.BigEndian.Uint32(k)
		assert.Equal(t, uint32(1), v%2)
		assert.Equal(t, uint64(v)+1, addr)
		if seen > 0 {
			assert.Greater(t, v, prev)
		}
		prev = v
		seen++
		return true
	}))
	assert.Equal(t, n/2, seen)
	assert.Zero(t, lookup(t, tr, key(10)))
	assert.Equal(t, uint64(12), lookup(t, tr, key(11)))

	require.NoError(t, tr.Clear())
	assert.Equal(t, 1, countBlocks(s, storage.AllocIndex))
	require.NoError(t, tr.Insert(key(3), 9))
	assert.Equal(t, uint64(9), lookup(t, tr, key(3)))
}

func TestTree_CreateRejectsOversizedKeys(t *testing.T) {
	s := newStore(t)
	_, err := Create(s, storage.BlockSize, nil)
	require.ErrorIs(t, err, ErrKeyLength)
	_, err = Create(s, 0, nil)
	require.ErrorIs(t, err, ErrKeyLength)
}

func TestTree_ConcurrentUniqueInsert(t *testing.T) {
	tr, _ := newTree(t, 4, nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Insert(key(42), uint64(i+1)) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, tr.Len())
}
