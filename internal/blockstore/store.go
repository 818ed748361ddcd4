// Package blockstore allocates and hands out the fixed-size blocks of one
// table file. Blocks are cached in the shared bufferpool; the per-block
// allocation kind lives in a sidecar "<base>.alloc" file set.
package blockstore

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.uber.org/multierr"

	"github.com/tuannm99/rowstore/internal/bufferpool"
	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/storage"
)

const (
	allocSuffix = ".alloc"
	// StoreHeaderEnd is the end of the store-owned prefix of block 0.
	StoreHeaderEnd = 1024
)

var storeMagic = []byte("RSBLOCK1")

var (
	ErrStoreExists  = errors.New("blockstore: store already exists")
	ErrStoreMissing = errors.New("blockstore: store does not exist")
	ErrBadMagic     = errors.New("blockstore: bad store header")
	ErrClosed       = errors.New("blockstore: store closed")
)

// Store is the BlockStore of one table.
type Store struct {
	name    string
	fs      storage.LocalFileSet
	allocFS storage.LocalFileSet
	sm      *storage.StorageManager
	pool    *bufferpool.Pool

	mu       sync.Mutex
	alloc    []storage.AllocKind // indexed by block index
	reserved map[int64]struct{}  // picked by AllocateBlock, kind not yet published
	closed   bool
}

func newStore(sm *storage.StorageManager, pool *bufferpool.Pool, fs storage.LocalFileSet) *Store {
	return &Store{
		name:     fs.Base,
		fs:       fs,
		allocFS:  fs.WithBase(fs.Base + allocSuffix),
		sm:       sm,
		pool:     pool,
		reserved: make(map[int64]struct{}),
	}
}

// Create initializes a new store whose block 0 is the header block.
func Create(sm *storage.StorageManager, pool *bufferpool.Pool, fs storage.LocalFileSet) (*Store, error) {
	exists, err := storage.SegmentsExist(fs)
	if err != nil {
		return nil, dberr.IO("blockstore create", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrStoreExists, fs.Key())
	}

	s := newStore(sm, pool, fs)
	s.alloc = []storage.AllocKind{storage.AllocHeader}

	b, err := pool.GetNew(fs, 0)
	if err != nil {
		return nil, dberr.IO("blockstore create", err)
	}
	copy(b.Buffer(), storeMagic)
	b.SetDirty(0, StoreHeaderEnd)
	b.Release()

	if err := s.Flush(); err != nil {
		return nil, err
	}
	slog.Debug("blockstore: created", "store", s.name)
	return s, nil
}

// Open loads an existing store and its allocation map.
func Open(sm *storage.StorageManager, pool *bufferpool.Pool, fs storage.LocalFileSet) (*Store, error) {
	exists, err := storage.SegmentsExist(fs)
	if err != nil {
		return nil, dberr.IO("blockstore open", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrStoreMissing, fs.Key())
	}

	s := newStore(sm, pool, fs)

	b, err := pool.Get(fs, 0)
	if err != nil {
		return nil, dberr.IO("blockstore open", err)
	}
	ok := bytes.Equal(b.Buffer()[:len(storeMagic)], storeMagic)
	b.Release()
	if !ok {
		return nil, dberr.IO("blockstore open", ErrBadMagic)
	}

	if err := s.loadAllocMap(); err != nil {
		return nil, dberr.IO("blockstore open", err)
	}
	slog.Debug("blockstore: opened", "store", s.name, "blocks", len(s.alloc))
	return s, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) FileSet() storage.LocalFileSet { return s.fs }

// BlockCount is the number of block indexes tracked by the allocation map.
func (s *Store) BlockCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.alloc))
}

// ReadBlock returns the pinned block with the given id.
func (s *Store) ReadBlock(id uint64) (*storage.Block, error) {
	idx := storage.BlockIDToIndex(id)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, dberr.IO("read block", ErrClosed)
	}
	n := int64(len(s.alloc))
	s.mu.Unlock()

	if idx < 0 || idx >= n {
		return nil, dberr.IO("read block", fmt.Errorf("%w: %#x", storage.ErrBlockNotFound, id))
	}

	b, err := s.pool.Get(s.fs, idx)
	if err != nil {
		return nil, dberr.IO("read block", err)
	}
	return b, nil
}

// AllocateBlock reserves the lowest free block index (or extends the store)
// and returns it pinned and zeroed. The kind is published only once the
// zeroed block is pinned, so FirstBlock never reports a block whose
// contents are about to be cleared.
func (s *Store) AllocateBlock(kind storage.AllocKind) (*storage.Block, error) {
	if kind == storage.AllocFree {
		return nil, dberr.Internal("allocate block", "cannot allocate a free block")
	}

	var skip map[int64]struct{}
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, dberr.IO("allocate block", ErrClosed)
		}
		idx := s.reserveLocked(skip)
		s.mu.Unlock()

		b, err := s.pool.GetNew(s.fs, idx)

		s.mu.Lock()
		delete(s.reserved, idx)
		if err == nil {
			s.alloc[idx] = kind
		}
		s.mu.Unlock()

		switch {
		case err == nil:
			slog.Debug("blockstore: allocate", "store", s.name, "index", idx, "kind", kind)
			return b, nil
		case errors.Is(err, bufferpool.ErrBlockPinned):
			// freed while a reader still holds it; take another index
			if skip == nil {
				skip = make(map[int64]struct{})
			}
			skip[idx] = struct{}{}
		default:
			return nil, dberr.IO("allocate block", err)
		}
	}
}

// reserveLocked picks the lowest free, unreserved index not in skip,
// extending alloc when there is none. The caller holds s.mu.
func (s *Store) reserveLocked(skip map[int64]struct{}) int64 {
	for i := 1; i < len(s.alloc); i++ {
		idx := int64(i)
		if s.alloc[i] != storage.AllocFree {
			continue
		}
		if _, ok := s.reserved[idx]; ok {
			continue
		}
		if _, ok := skip[idx]; ok {
			continue
		}
		s.reserved[idx] = struct{}{}
		return idx
	}
	idx := int64(len(s.alloc))
	s.alloc = append(s.alloc, storage.AllocFree)
	s.reserved[idx] = struct{}{}
	return idx
}

// FreeBlock returns a block to the free pool.
func (s *Store) FreeBlock(id uint64) error {
	idx := storage.BlockIDToIndex(id)
	if idx == 0 {
		return dberr.Internal("free block", "block 0 is the header block")
	}

	s.mu.Lock()
	if idx < 0 || idx >= int64(len(s.alloc)) {
		s.mu.Unlock()
		return dberr.IO("free block", fmt.Errorf("%w: %#x", storage.ErrBlockNotFound, id))
	}
	s.alloc[idx] = storage.AllocFree
	s.mu.Unlock()

	if err := s.pool.Drop(s.fs, idx); err != nil && !errors.Is(err, bufferpool.ErrBlockPinned) {
		return dberr.IO("free block", err)
	}
	return nil
}

// AllocKind reports the allocation kind of a block id.
func (s *Store) AllocKind(id uint64) storage.AllocKind {
	idx := storage.BlockIDToIndex(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= int64(len(s.alloc)) {
		return storage.AllocFree
	}
	return s.alloc[idx]
}

// FirstBlock returns the first block id >= after whose kind is kind.
func (s *Store) FirstBlock(after uint64, kind storage.AllocKind) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := storage.BlockIDToIndex(after); i < int64(len(s.alloc)); i++ {
		if i >= 0 && s.alloc[i] == kind {
			return storage.IndexToBlockID(i), true
		}
	}
	return 0, false
}

// Flush writes dirty cached blocks and the allocation map.
func (s *Store) Flush() error {
	var err error
	err = multierr.Append(err, s.pool.Flush(s.fs))
	err = multierr.Append(err, s.writeAllocMap())
	err = multierr.Append(err, s.sm.Sync(s.fs))
	if err != nil {
		return dberr.IO("blockstore flush", err)
	}
	return nil
}

// Close flushes and evicts the store's blocks and closes its files.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.Flush()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err = multierr.Append(err, s.pool.DropFileSet(s.fs, false))
	err = multierr.Append(err, s.sm.CloseFileSet(s.fs))
	err = multierr.Append(err, s.sm.CloseFileSet(s.allocFS))
	if err != nil {
		slog.Warn("blockstore: close", "store", s.name, "err", err)
	}
	return err
}

// Remove discards cached blocks and deletes the store's files.
func (s *Store) Remove() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var err error
	err = multierr.Append(err, s.pool.DropFileSet(s.fs, true))
	err = multierr.Append(err, s.sm.CloseFileSet(s.fs))
	err = multierr.Append(err, s.sm.CloseFileSet(s.allocFS))
	err = multierr.Append(err, storage.RemoveAllSegments(s.fs))
	err = multierr.Append(err, storage.RemoveAllSegments(s.allocFS))
	return err
}
