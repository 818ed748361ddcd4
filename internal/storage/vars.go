package storage

import (
	"errors"
	"fmt"
)

const (
	OneB  = 1 << 0  // 1
	OneKB = 1 << 10 // 1,024
	OneMB = 1 << 20 // 1,048,576
	OneGB = 1 << 30 // 1,073,741,824

	BlockBits          = 13                       // 8 KiB blocks
	BlockSize          = 1 << BlockBits           // 8,192
	BlockOffsetMask    = BlockSize - 1            // low bits of a row address
	SegmentSize        = 1 << 30                  // 1,073,741,824 (1 GiB)
	MaxBlockPerSegment = SegmentSize / BlockSize  // 131,072 blocks/segment
	BlockMask          = ^uint64(BlockOffsetMask) // high bits of a row address
)

const (
	FileMode0644 = 0o644
	FileMode0664 = 0o664
	FileMode0755 = 0o755
)

// AllocKind is the allocation state of a block, one byte per block in the
// allocation map.
type AllocKind uint8

const (
	AllocFree   AllocKind = 0
	AllocRow    AllocKind = 1 // table rows
	AllocUsed   AllocKind = 2 // blob overflow
	AllocIndex  AllocKind = 4 // unique index B+tree nodes
	AllocHeader AllocKind = 8 // table root block
)

func (k AllocKind) String() string {
	switch k {
	case AllocFree:
		return "free"
	case AllocRow:
		return "row"
	case AllocUsed:
		return "used"
	case AllocIndex:
		return "index"
	case AllocHeader:
		return "header"
	default:
		return fmt.Sprintf("alloc(%d)", uint8(k))
	}
}

// Block ids are byte addresses: index << BlockBits.

func BlockIDToIndex(id uint64) int64 { return int64(id >> BlockBits) }

func IndexToBlockID(idx int64) uint64 { return uint64(idx) << BlockBits }

// RowAddress combines a block id and a row offset within that block.
func RowAddress(blockID uint64, offset int) uint64 {
	return (blockID & BlockMask) + uint64(offset)
}

func AddressToBlockID(addr uint64) uint64 { return addr & BlockMask }

func AddressToOffset(addr uint64) int { return int(addr & BlockOffsetMask) }

var (
	ErrBadBlockBuffer   = errors.New("storage: block buffer must be exactly BlockSize bytes")
	ErrBlockNotFound    = errors.New("storage: block not found")
	ErrInvalidOperation = errors.New("storage: invalid operation")
	ErrClosed           = errors.New("storage: storage manager closed")
)
