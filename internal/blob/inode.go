package blob

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

const (
	// InodeSize is the fixed row footprint of every blob-layout column.
	InodeSize = 128
	// InlineBlobSize is the largest payload kept inside the inode itself.
	InlineBlobSize = InodeSize - 8
)

// Inode layout (InodeSize bytes inside the row):
//
//	[0..8)    uint64 length
//	length <= InlineBlobSize:
//	[8..)     payload
//	otherwise:
//	[8..16)   uint64 first overflow block id
//	[16..24)  uint64 overflow block count
//
// Overflow block layout (BlockSize bytes):
//
//	[0..8)    uint64 next block id  // 0 => end of chain
//	[8..10)   uint16 used           // payload bytes on this block
//	[10..)    payload
const (
	overflowHeaderSize  = 10
	overflowPayloadSize = storage.BlockSize - overflowHeaderSize
)

var ErrTruncatedChain = errors.New("blob: truncated overflow chain")

// Store is the part of the BlockStore the blob layer uses.
type Store interface {
	ReadBlock(id uint64) (*storage.Block, error)
	AllocateBlock(kind storage.AllocKind) (*storage.Block, error)
	FreeBlock(id uint64) error
}

// Updater records blocks dirtied on behalf of a transaction.
type Updater interface {
	AddUpdateBlock(b *storage.Block)
}

// Length returns the payload length recorded in an inode.
func Length(inode []byte) int64 {
	return int64(bx.U64(inode[0:8]))
}

// IsInline reports whether the payload lives inside the inode.
func IsInline(inode []byte) bool {
	return Length(inode) <= InlineBlobSize
}

// Write stores data and writes its inode into dst (InodeSize bytes).
// Payloads over InlineBlobSize go to a chain of AllocUsed blocks.
func Write(store Store, xa Updater, dst []byte, data []byte) error {
	if len(dst) < InodeSize {
		return dberr.Internal("blob write", "inode buffer is %d bytes", len(dst))
	}
	inode := dst[:InodeSize]
	clear(inode)
	bx.PutU64(inode[0:8], uint64(len(data)))

	if len(data) <= InlineBlobSize {
		copy(inode[8:], data)
		return nil
	}

	first, count, err := writeChain(store, xa, data)
	if err != nil {
		return err
	}
	bx.PutU64(inode[8:16], first)
	bx.PutU64(inode[16:24], uint64(count))
	return nil
}

func writeChain(store Store, xa Updater, data []byte) (uint64, int, error) {
	slog.Debug("blob: Write start", "len", len(data))

	var (
		first uint64
		prev  *storage.Block
		count int
	)
	finish := func(b *storage.Block) error {
		if xa != nil {
			xa.AddUpdateBlock(b)
			b.Release()
			return nil
		}
		err := b.Commit()
		b.Release()
		return err
	}

	for off := 0; off < len(data); {
		chunk := min(len(data)-off, overflowPayloadSize)

		b, err := store.AllocateBlock(storage.AllocUsed)
		if err != nil {
			if prev != nil {
				prev.Release()
			}
			freeChain(store, first)
			return 0, 0, err
		}
		buf := b.Buffer()
		bx.PutU64(buf[0:8], 0)
		bx.PutU16(buf[8:10], uint16(chunk))
		copy(buf[overflowHeaderSize:], data[off:off+chunk])
		b.SetDirty(0, overflowHeaderSize+chunk)

		if prev == nil {
			first = b.ID()
		} else {
			// Link previous block to this one.
			bx.PutU64(prev.Buffer()[0:8], b.ID())
			prev.SetDirty(0, 8)
			if err := finish(prev); err != nil {
				b.Release()
				return 0, 0, dberr.IO("blob write", err)
			}
		}

		prev = b
		count++
		off += chunk
	}
	if err := finish(prev); err != nil {
		return 0, 0, dberr.IO("blob write", err)
	}

	slog.Debug("blob: Write done", "first", first, "blocks", count)
	return first, count, nil
}

// Read loads the payload an inode refers to.
func Read(store Store, inode []byte) ([]byte, error) {
	n := Length(inode)
	if n <= InlineBlobSize {
		out := make([]byte, n)
		copy(out, inode[8:8+n])
		return out, nil
	}

	out := make([]byte, 0, n)
	remaining := int(n)
	id := bx.U64(inode[8:16])

	for remaining > 0 {
		if id == 0 {
			return nil, dberr.IO("blob read", fmt.Errorf("%w: remaining=%d", ErrTruncatedChain, remaining))
		}
		b, err := store.ReadBlock(id)
		if err != nil {
			return nil, err
		}
		b.RLock()
		buf := b.Buffer()
		next := bx.U64(buf[0:8])
		used := int(bx.U16(buf[8:10]))
		// Safety clamps for corrupted headers.
		if used > overflowPayloadSize {
			slog.Warn("blob: used field too large, clamping", "block", id, "used_raw", used)
			used = overflowPayloadSize
		}
		used = min(used, remaining)
		out = append(out, buf[overflowHeaderSize:overflowHeaderSize+used]...)
		b.RUnlock()
		b.Release()

		remaining -= used
		id = next
	}
	return out, nil
}

// Inode is a detached copy of a row inode, used to free an overflow chain
// after the row bytes have been overwritten.
type Inode struct {
	store Store
	raw   [InodeSize]byte
}

func NewInode(store Store, inode []byte) *Inode {
	i := &Inode{store: store}
	copy(i.raw[:], inode)
	return i
}

func (i *Inode) Length() int64 { return Length(i.raw[:]) }

// Delete frees the overflow chain. Inline inodes own no blocks.
func (i *Inode) Delete() error {
	if IsInline(i.raw[:]) {
		return nil
	}
	return freeChain(i.store, bx.U64(i.raw[8:16]))
}

func freeChain(store Store, id uint64) error {
	for id != 0 {
		b, err := store.ReadBlock(id)
		if err != nil {
			return err
		}
		next := bx.U64(b.Buffer()[0:8])
		b.Release()

		if err := store.FreeBlock(id); err != nil {
			return err
		}
		id = next
	}
	return nil
}

func (i *Inode) String() string {
	return fmt.Sprintf("Inode[len=%d inline=%t]", i.Length(), IsInline(i.raw[:]))
}
