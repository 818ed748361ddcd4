package btree

import (
	"github.com/tuannm99/rowstore/internal/alias/bx"
	"github.com/tuannm99/rowstore/internal/storage"
)

// Node block layout:
//
//	0  kind (leafKind or internalKind)
//	2  entry count, uint16
//	8  next leaf block id, leaves only
//	16 entries: key (keyLen bytes) + 8 byte value
//
// A leaf value is a row address. An internal entry holds the minimum key of
// a child subtree and the child block id; the key of entry 0 is not used
// for routing.
const (
	leafKind     byte = 1
	internalKind byte = 2

	nodeHeaderSize = 16
	valueSize      = 8
)

// maxEntries is how many fixed-size entries fit into one node block.
func maxEntries(keyLen int) int {
	return (storage.BlockSize - nodeHeaderSize) / (keyLen + valueSize)
}

type entry struct {
	key []byte
	val uint64
}

// node is a view of an index block. The caller holds the block lock.
type node struct {
	b      *storage.Block
	keyLen int
}

func (n node) buf() []byte  { return n.b.Buffer() }
func (n node) id() uint64   { return n.b.ID() }
func (n node) isLeaf() bool { return n.buf()[0] == leafKind }
func (n node) count() int   { return int(bx.U16At(n.buf(), 2)) }
func (n node) next() uint64 { return bx.U64At(n.buf(), 8) }

func (n node) setNext(id uint64) {
	bx.PutU64At(n.buf(), 8, id)
	n.b.SetDirty(8, 16)
}

// reset turns the block into an empty node of kind.
func (n node) reset(kind byte) {
	clear(n.buf())
	n.buf()[0] = kind
	n.b.SetDirty(0, storage.BlockSize)
}

func (n node) entryOffset(i int) int {
	return nodeHeaderSize + i*(n.keyLen+valueSize)
}

// keyAt aliases the block buffer.
func (n node) keyAt(i int) []byte {
	off := n.entryOffset(i)
	return n.buf()[off : off+n.keyLen]
}

func (n node) valAt(i int) uint64 {
	return bx.U64At(n.buf(), n.entryOffset(i)+n.keyLen)
}

// entries copies every entry out of the block.
func (n node) entries() []entry {
	out := make([]entry, n.count())
	for i := range out {
		k := make([]byte, n.keyLen)
		copy(k, n.keyAt(i))
		out[i] = entry{key: k, val: n.valAt(i)}
	}
	return out
}

// write replaces the node's entries, keeping its kind and next pointer.
func (n node) write(es []entry) {
	buf := n.buf()
	clear(buf[nodeHeaderSize:])
	bx.PutU16At(buf, 2, uint16(len(es)))
	for i, e := range es {
		off := n.entryOffset(i)
		copy(buf[off:off+n.keyLen], e.key)
		bx.PutU64At(buf, off+n.keyLen, e.val)
	}
	n.b.SetDirty(0, storage.BlockSize)
}

// removeAt drops entry i in place.
func (n node) removeAt(i int) {
	buf := n.buf()
	cnt := n.count()
	copy(buf[n.entryOffset(i):], buf[n.entryOffset(i+1):n.entryOffset(cnt)])
	clear(buf[n.entryOffset(cnt-1):n.entryOffset(cnt)])
	bx.PutU16At(buf, 2, uint16(cnt-1))
	n.b.SetDirty(0, n.entryOffset(cnt))
}

// search returns the first leaf position whose key is >= key and whether
// that key equals key.
func (n node) search(cmp KeyCompare, key []byte) (int, bool) {
	lo, hi := 0, n.count()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.keyAt(mid), key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < n.count() && cmp(n.keyAt(lo), key) == 0
}

// childIndex picks the internal entry whose subtree covers key: the last
// entry i with i == 0 or keyAt(i) <= key.
func (n node) childIndex(cmp KeyCompare, key []byte) int {
	lo, hi := 1, n.count()
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(n.keyAt(mid), key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}
