package storage

import (
	"fmt"
	"sync"
	"time"

	locking "github.com/tuannm99/rowstore/internal/lock"
)

// BlockOwner is the cache a block belongs to.
type BlockOwner interface {
	Retain(b *Block)
	Release(b *Block)
	WriteBlock(b *Block) error
}

// Block is one cached, pinned BlockSize buffer.
//
// Row-slot state transitions happen under the write lock (Lock). Readers of
// row bytes hold the read lock. The dirty range is tracked separately so the
// owner can flush without touching the row lock.
type Block struct {
	id    uint64
	buf   []byte
	owner BlockOwner

	mu   sync.RWMutex
	pins locking.RefCount

	dmu      sync.Mutex
	dirtyMin int
	dirtyMax int
	dirtyGen uint64
}

// NewBlock wraps buf. The returned block is unpinned.
func NewBlock(id uint64, buf []byte, owner BlockOwner) *Block {
	if len(buf) != BlockSize {
		panic(ErrBadBlockBuffer)
	}
	return &Block{id: id, buf: buf, owner: owner, dirtyMin: BlockSize}
}

func (b *Block) ID() uint64 { return b.id }

func (b *Block) Index() int64 { return BlockIDToIndex(b.id) }

// Buffer exposes the raw block bytes. Callers hold the appropriate lock.
func (b *Block) Buffer() []byte { return b.buf }

// Lock takes the block write lock, giving up after timeout.
func (b *Block) Lock(timeout time.Duration) error {
	return locking.LockWithin(&b.mu, timeout)
}

// LockWait takes the block write lock without a bound. Only for short
// sections that finish a row transition already started under Lock.
func (b *Block) LockWait() { b.mu.Lock() }

func (b *Block) Unlock() { b.mu.Unlock() }

func (b *Block) RLock() { b.mu.RLock() }

func (b *Block) RUnlock() { b.mu.RUnlock() }

// Pin/Unpin are called by the owner; users call Retain/Release.

func (b *Block) Pin() bool { return b.pins.Inc() }

func (b *Block) Unpin() bool { return b.pins.Dec() }

func (b *Block) Pins() int32 { return b.pins.Get() }

func (b *Block) Retain() {
	if b.owner != nil {
		b.owner.Retain(b)
		return
	}
	b.pins.Inc()
}

func (b *Block) Release() {
	if b.owner != nil {
		b.owner.Release(b)
		return
	}
	b.pins.Dec()
}

// SetDirty widens the dirty byte range to include [lo, hi).
func (b *Block) SetDirty(lo, hi int) {
	lo = max(lo, 0)
	hi = min(hi, BlockSize)
	b.dmu.Lock()
	if lo < b.dirtyMin {
		b.dirtyMin = lo
	}
	if hi > b.dirtyMax {
		b.dirtyMax = hi
	}
	b.dirtyGen++
	b.dmu.Unlock()
}

func (b *Block) IsDirty() bool {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	return b.dirtyMin < b.dirtyMax
}

// DirtyRange returns the current dirty range and a generation to hand back to
// ClearDirty once that range is written.
func (b *Block) DirtyRange() (lo, hi int, gen uint64) {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	return b.dirtyMin, b.dirtyMax, b.dirtyGen
}

// ClearDirty resets the dirty range unless it was widened after gen.
func (b *Block) ClearDirty(gen uint64) {
	b.dmu.Lock()
	defer b.dmu.Unlock()
	if gen != b.dirtyGen {
		return
	}
	b.dirtyMin = BlockSize
	b.dirtyMax = 0
}

// Commit writes the block through its owner.
func (b *Block) Commit() error {
	if b.owner == nil {
		return ErrInvalidOperation
	}
	return b.owner.WriteBlock(b)
}

func (b *Block) String() string {
	return fmt.Sprintf("Block[%#x pins=%d]", b.id, b.Pins())
}
