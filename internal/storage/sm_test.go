package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorageManager_ReadWriteBlock(t *testing.T) {
	fs := LocalFileSet{Dir: t.TempDir(), Base: "t1"}
	sm := NewStorageManager()
	defer func() { require.NoError(t, sm.Close()) }()

	// Unwritten blocks read as zeroes.
	buf := NewBlockBuffer()
	buf[0] = 0xff
	require.NoError(t, sm.ReadBlock(fs, 3, buf))
	assert.Equal(t, make([]byte, BlockSize), buf)

	src := bytes.Repeat([]byte{0xab}, BlockSize)
	require.NoError(t, sm.WriteBlock(fs, 3, src))

	dst := NewBlockBuffer()
	require.NoError(t, sm.ReadBlock(fs, 3, dst))
	assert.Equal(t, src, dst)

	n, err := sm.CountBlocks(fs)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestStorageManager_BadBuffer(t *testing.T) {
	fs := LocalFileSet{Dir: t.TempDir(), Base: "t1"}
	sm := NewStorageManager()
	defer sm.Close()

	require.ErrorIs(t, sm.ReadBlock(fs, 0, make([]byte, 10)), ErrBadBlockBuffer)
	require.ErrorIs(t, sm.WriteBlock(fs, 0, make([]byte, 10)), ErrBadBlockBuffer)
}

func TestStorageManager_CountBlocks_NoSegments(t *testing.T) {
	fs := LocalFileSet{Dir: filepath.Join(t.TempDir(), "missing"), Base: "t1"}
	sm := NewStorageManager()
	defer sm.Close()

	n, err := sm.CountBlocks(fs)
	require.NoError(t, err)
	assert.Zero(t, n)

	ok, err := SegmentsExist(fs)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorageManager_CloseFileSetAndRemove(t *testing.T) {
	fs := LocalFileSet{Dir: t.TempDir(), Base: "t1"}
	sm := NewStorageManager()
	defer sm.Close()

	require.NoError(t, sm.WriteBlock(fs, 0, NewBlockBuffer()))
	require.NoError(t, sm.Sync(fs))
	require.NoError(t, sm.CloseFileSet(fs))
	require.NoError(t, RemoveAllSegments(fs))

	_, err := os.Stat(filepath.Join(fs.Dir, fs.Base))
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, sm.Close())
	require.ErrorIs(t, sm.ReadBlock(fs, 0, NewBlockBuffer()), ErrClosed)
}

func TestAddressHelpers(t *testing.T) {
	id := IndexToBlockID(5)
	assert.Equal(t, uint64(5*BlockSize), id)
	assert.Equal(t, int64(5), BlockIDToIndex(id))

	addr := RowAddress(id, 130)
	assert.Equal(t, id, AddressToBlockID(addr))
	assert.Equal(t, 130, AddressToOffset(addr))
	assert.Equal(t, "row", AllocRow.String())
}

func TestBlock_DirtyRange(t *testing.T) {
	b := NewBlock(IndexToBlockID(1), NewBlockBuffer(), nil)
	assert.False(t, b.IsDirty())

	b.SetDirty(10, 20)
	b.SetDirty(5, 12)
	lo, hi, gen := b.DirtyRange()
	assert.Equal(t, 5, lo)
	assert.Equal(t, 20, hi)

	// A write after the snapshot keeps the block dirty.
	b.SetDirty(30, 40)
	b.ClearDirty(gen)
	assert.True(t, b.IsDirty())

	_, _, gen = b.DirtyRange()
	b.ClearDirty(gen)
	assert.False(t, b.IsDirty())

	require.ErrorIs(t, b.Commit(), ErrInvalidOperation)
}

func TestSegmentNo(t *testing.T) {
	for name, want := range map[string]int32{"t1": 0, "t1.1": 1, "t1.12": 12} {
		n, ok := segmentNo("t1", name)
		assert.True(t, ok, name)
		assert.Equal(t, want, n, name)
	}
	for _, name := range []string{"t1.alloc", "t1.alloc.1", "t1.0", "t1.-2", "t10", "t"} {
		_, ok := segmentNo("t1", name)
		assert.False(t, ok, name)
	}
	assert.Equal(t, "t1.3", SegFileName("t1", 3))
	assert.Equal(t, filepath.Join("d", "t1.3"), LocalFileSet{Dir: "d", Base: "t1"}.SegmentPath(3))
}
