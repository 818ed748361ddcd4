package blob

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannm99/rowstore/internal/blockstore"
	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/storage"
)

func newStore(t *testing.T) *blockstore.Store {
	t.Helper()
	sm := storage.NewStorageManager()
	t.Cleanup(func() { _ = sm.Close() })

	s, err := blockstore.Create(sm, bufferpool.NewPool(sm, 32), storage.LocalFileSet{Dir: t.TempDir(), Base: "blob"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestInode_Inline(t *testing.T) {
	s := newStore(t)
	inode := make([]byte, InodeSize)

	data := []byte("short payload")
	require.NoError(t, Write(s, nil, inode, data))
	assert.True(t, IsInline(inode))
	assert.Equal(t, int64(len(data)), Length(inode))

	out, err := Read(s, inode)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	// Exactly InlineBlobSize still fits inline.
	edge := bytes.Repeat([]byte{1}, InlineBlobSize)
	require.NoError(t, Write(s, nil, inode, edge))
	assert.True(t, IsInline(inode))
	assert.Equal(t, int64(1), s.BlockCount())
}

func TestInode_OverflowRoundTripAndDelete(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	inode := make([]byte, InodeSize)

	// Bigger than one block to force a multi-block chain.
	payload := bytes.Repeat([]byte("X"), 12012)
	require.NoError(t, Write(s, nil, inode, payload))
	assert.False(t, IsInline(inode))

	out, err := Read(s, inode)
	require.NoError(t, err)
	require.Equal(t, payload, out)

	first := storage.IndexToBlockID(1)
	assert.Equal(t, storage.AllocUsed, s.AllocKind(first))
	assert.Equal(t, storage.AllocUsed, s.AllocKind(first+storage.BlockSize))

	ino := NewInode(s, inode)
	require.NoError(t, ino.Delete())
	assert.Equal(t, storage.AllocFree, s.AllocKind(first))
	assert.Equal(t, storage.AllocFree, s.AllocKind(first+storage.BlockSize))
}

type recorder struct{ blocks []*storage.Block }

func (r *recorder) AddUpdateBlock(b *storage.Block) {
	b.Retain()
	r.blocks = append(r.blocks, b)
}

func TestInode_OverflowRecordsUpdates(t *testing.T) {
	s := newStore(t)
	inode := make([]byte, InodeSize)
	rec := &recorder{}

	payload := bytes.Repeat([]byte("ab"), 300)
	require.NoError(t, Write(s, rec, inode, payload))
	require.Len(t, rec.blocks, 1)
	assert.True(t, rec.blocks[0].IsDirty())

	for _, b := range rec.blocks {
		require.NoError(t, b.Commit())
		b.Release()
	}

	out, err := Read(s, inode)
	require.NoError(t, err)
	assert.Equal(t, payload, out)
}
