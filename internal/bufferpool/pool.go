package bufferpool

import (
	"errors"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/tuannm99/rowstore/internal/storage"
)

var (
	DefaultCapacity = 1024

	ErrNoFreeFrame  = errors.New("bufferpool: no free frame available (all pinned)")
	ErrBlockPinned  = errors.New("bufferpool: block is pinned")
	ErrUnknownBlock = errors.New("bufferpool: block does not belong to this pool")
)

type Replacer interface {
	RecordAccess(frameID int)
	SetEvictable(frameID int, evictable bool)
	Evict() (frameID int, ok bool)
	Remove(frameID int)
	Size() int
}

// BlockTag uniquely identifies a block in the pool.
type BlockTag struct {
	FSKey string
	Index int64
}

type Frame struct {
	Tag   BlockTag
	FS    storage.FileSet
	Block *storage.Block
}

var _ storage.BlockOwner = (*Pool)(nil)

// Pool is a single block cache shared by every file set of a database.
// Blocks handed out are pinned; a pinned block is never evicted.
type Pool struct {
	sm *storage.StorageManager

	mu      sync.Mutex
	frames  []*Frame               // len == capacity, nil == free slot
	table   map[BlockTag]int       // (fsKey,index) -> frame index
	byBlock map[*storage.Block]int // block -> frame index
	repl    Replacer
}

func NewPool(sm *storage.StorageManager, capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{
		sm:      sm,
		frames:  make([]*Frame, capacity),
		table:   make(map[BlockTag]int),
		byBlock: make(map[*storage.Block]int),
		repl:    newClockReplacer(capacity),
	}
}

func (p *Pool) Capacity() int { return len(p.frames) }

// Get pins and returns block idx of fs, reading it from disk on a miss.
func (p *Pool) Get(fs storage.FileSet, idx int64) (*storage.Block, error) {
	return p.get(fs, idx, true)
}

// GetNew pins and returns a zeroed block without reading the disk.
// Used for freshly allocated blocks whose old contents are garbage. A block
// that is cached and still pinned is not reused: GetNew fails with
// ErrBlockPinned.
func (p *Pool) GetNew(fs storage.FileSet, idx int64) (*storage.Block, error) {
	b, err := p.get(fs, idx, false)
	if err != nil {
		return nil, err
	}
	b.SetDirty(0, storage.BlockSize)
	return b, nil
}

func (p *Pool) get(fs storage.FileSet, idx int64, load bool) (*storage.Block, error) {
	tag := BlockTag{FSKey: fs.Key(), Index: idx}

	p.mu.Lock()
	defer p.mu.Unlock()

	// 1) HIT
	if fi, ok := p.table[tag]; ok {
		f := p.frames[fi]
		if f == nil {
			// Inconsistent mapping -> cleanup.
			delete(p.table, tag)
		} else {
			if !load {
				// a pinned block is live; zeroing it would discard rows
				if f.Block.Pins() != 0 {
					return nil, ErrBlockPinned
				}
				clear(f.Block.Buffer())
			}
			p.pinLocked(fi, f.Block)
			return f.Block, nil
		}
	}

	// 2) Find free slot, else 3) evict
	fi := -1
	for i, f := range p.frames {
		if f == nil {
			fi = i
			break
		}
	}
	if fi == -1 {
		victim, err := p.evictLocked()
		if err != nil {
			return nil, err
		}
		fi = victim
	}

	buf := storage.NewBlockBuffer()
	if load {
		if err := p.sm.ReadBlock(fs, idx, buf); err != nil {
			return nil, err
		}
	}

	b := storage.NewBlock(storage.IndexToBlockID(idx), buf, p)
	p.frames[fi] = &Frame{Tag: tag, FS: fs, Block: b}
	p.table[tag] = fi
	p.byBlock[b] = fi
	p.pinLocked(fi, b)
	return b, nil
}

func (p *Pool) pinLocked(fi int, b *storage.Block) {
	first := b.Pin()
	p.repl.RecordAccess(fi)
	if first {
		p.repl.SetEvictable(fi, false)
	}
}

// evictLocked frees one frame, writing it back if dirty.
func (p *Pool) evictLocked() (int, error) {
	fi, ok := p.repl.Evict()
	if !ok {
		return -1, ErrNoFreeFrame
	}
	victim := p.frames[fi]
	if victim == nil || victim.Block.Pins() != 0 {
		// Defensive: replacer should never return nil/pinned victims.
		return -1, ErrNoFreeFrame
	}

	if err := p.writeBack(victim); err != nil {
		// Put victim back as evictable if flush fails
		p.repl.RecordAccess(fi)
		p.repl.SetEvictable(fi, true)
		return -1, err
	}

	slog.Debug("bufferpool: evict", "fs", victim.Tag.FSKey, "index", victim.Tag.Index)
	p.removeLocked(fi, victim)
	return fi, nil
}

func (p *Pool) removeLocked(fi int, f *Frame) {
	delete(p.table, f.Tag)
	delete(p.byBlock, f.Block)
	p.frames[fi] = nil
	p.repl.Remove(fi)
}

func (p *Pool) writeBack(f *Frame) error {
	if !f.Block.IsDirty() {
		return nil
	}
	_, _, gen := f.Block.DirtyRange()
	f.Block.RLock()
	err := p.sm.WriteBlock(f.FS, f.Tag.Index, f.Block.Buffer())
	f.Block.RUnlock()
	if err != nil {
		return err
	}
	f.Block.ClearDirty(gen)
	return nil
}

// Retain adds a pin to a block already handed out by this pool.
func (p *Pool) Retain(b *storage.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fi, ok := p.byBlock[b]
	if !ok {
		b.Pin()
		return
	}
	p.pinLocked(fi, b)
}

// Release drops one pin. A block whose pins reach zero becomes evictable.
func (p *Pool) Release(b *storage.Block) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	last := b.Unpin()
	if fi, ok := p.byBlock[b]; ok && last {
		p.repl.SetEvictable(fi, true)
	}
}

// WriteBlock writes b back to its file set if it is dirty.
func (p *Pool) WriteBlock(b *storage.Block) error {
	p.mu.Lock()
	fi, ok := p.byBlock[b]
	var f *Frame
	if ok {
		f = p.frames[fi]
	}
	p.mu.Unlock()

	if f == nil {
		return ErrUnknownBlock
	}
	return p.writeBack(f)
}

// Flush writes every dirty block of fs.
func (p *Pool) Flush(fs storage.FileSet) error {
	key := fs.Key()
	return p.flushMatching(func(f *Frame) bool { return f.Tag.FSKey == key })
}

// FlushAll writes every dirty block in the pool.
func (p *Pool) FlushAll() error {
	return p.flushMatching(func(*Frame) bool { return true })
}

// flushMatching pins the dirty frames selected by match, then writes them
// outside the pool mutex: a writer holding a block lock may be waiting on
// the pool.
func (p *Pool) flushMatching(match func(f *Frame) bool) error {
	p.mu.Lock()
	var dirty []*Frame
	for fi, f := range p.frames {
		if f == nil || !match(f) || !f.Block.IsDirty() {
			continue
		}
		p.pinLocked(fi, f.Block)
		dirty = append(dirty, f)
	}
	p.mu.Unlock()

	var err error
	for _, f := range dirty {
		err = multierr.Append(err, p.writeBack(f))
		p.Release(f.Block)
	}
	return err
}

// Drop removes one unpinned block from the pool without writing it.
func (p *Pool) Drop(fs storage.FileSet, idx int64) error {
	tag := BlockTag{FSKey: fs.Key(), Index: idx}

	p.mu.Lock()
	defer p.mu.Unlock()

	fi, ok := p.table[tag]
	if !ok {
		return nil
	}
	f := p.frames[fi]
	if f == nil {
		delete(p.table, tag)
		p.repl.Remove(fi)
		return nil
	}
	if f.Block.Pins() != 0 {
		return ErrBlockPinned
	}
	p.removeLocked(fi, f)
	return nil
}

// DropFileSet removes ALL blocks of a file set from the pool, writing dirty
// ones first unless discard is set.
//
// This must be called before deleting the underlying files.
// If any block is pinned, ErrBlockPinned is returned.
func (p *Pool) DropFileSet(fs storage.FileSet, discard bool) error {
	key := fs.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	// First pass: detect pinned
	for _, f := range p.frames {
		if f != nil && f.Tag.FSKey == key && f.Block.Pins() != 0 {
			return ErrBlockPinned
		}
	}

	// Second pass: flush + remove
	for i, f := range p.frames {
		if f == nil || f.Tag.FSKey != key {
			continue
		}
		if !discard {
			if err := p.writeBack(f); err != nil {
				return err
			}
		}
		p.removeLocked(i, f)
	}
	return nil
}
