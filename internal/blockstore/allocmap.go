package blockstore

import (
	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/storage"
)

// Allocation map layout, one byte per data block:
//
//	block 0: [0..8)  uint64 number of tracked blocks
//	         [8..)   kinds for indexes 0..
//	block N: kinds continue
const allocHeaderSize = 8

func (s *Store) writeAllocMap() error {
	s.mu.Lock()
	kinds := make([]byte, allocHeaderSize+len(s.alloc))
	bx.PutU64(kinds[:allocHeaderSize], uint64(len(s.alloc)))
	for i, k := range s.alloc {
		kinds[allocHeaderSize+i] = byte(k)
	}
	s.mu.Unlock()

	buf := storage.NewBlockBuffer()
	for idx := int64(0); idx*storage.BlockSize < int64(len(kinds)); idx++ {
		clear(buf)
		copy(buf, kinds[idx*storage.BlockSize:])
		if err := s.sm.WriteBlock(s.allocFS, idx, buf); err != nil {
			return err
		}
	}
	return s.sm.Sync(s.allocFS)
}

func (s *Store) loadAllocMap() error {
	buf := storage.NewBlockBuffer()
	if err := s.sm.ReadBlock(s.allocFS, 0, buf); err != nil {
		return err
	}
	n := int(bx.U64(buf[:allocHeaderSize]))
	if n == 0 {
		// Only the header block is known.
		n = 1
		buf[allocHeaderSize] = byte(storage.AllocHeader)
	}

	alloc := make([]storage.AllocKind, n)
	pos := allocHeaderSize
	idx := int64(0)
	for i := range n {
		if pos == storage.BlockSize {
			idx++
			if err := s.sm.ReadBlock(s.allocFS, idx, buf); err != nil {
				return err
			}
			pos = 0
		}
		alloc[i] = storage.AllocKind(buf[pos])
		pos++
	}

	s.mu.Lock()
	s.alloc = alloc
	s.mu.Unlock()
	return nil
}
