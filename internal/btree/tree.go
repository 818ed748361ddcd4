package btree

import (
	"bytes"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tuannm99/rowstore/internal/storage"
)

// KeyCompare orders two encoded keys.
type KeyCompare func(a, b []byte) int

// Store is the block space the tree lives in.
type Store interface {
	ReadBlock(id uint64) (*storage.Block, error)
	AllocateBlock(kind storage.AllocKind) (*storage.Block, error)
	FreeBlock(id uint64) error
}

// Tree is a B+tree of fixed-length keys to row addresses kept in
// AllocIndex blocks. The root block never moves: when it splits its
// contents go to a new block and the root becomes the internal node above
// it, so the root id written to the table header stays valid.
//
// One RWMutex serializes writers; block locks only fence off buffer pool
// write-back.
type Tree struct {
	store  Store
	root   uint64
	keyLen int
	cmp    KeyCompare
	fanout int // entries per node

	mu    sync.RWMutex
	count int
}

type split struct {
	key []byte
	id  uint64
}

// Create allocates the root block of an empty tree for keys of keyLen
// bytes. A nil cmp orders keys bytewise.
func Create(store Store, keyLen int, cmp KeyCompare) (*Tree, error) {
	fanout := maxEntries(keyLen)
	if keyLen <= 0 || fanout < 3 {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyLength, keyLen)
	}
	if cmp == nil {
		cmp = bytes.Compare
	}

	b, err := store.AllocateBlock(storage.AllocIndex)
	if err != nil {
		return nil, err
	}
	t := &Tree{store: store, root: b.ID(), keyLen: keyLen, cmp: cmp, fanout: fanout}
	b.LockWait()
	t.node(b).reset(leafKind)
	b.Unlock()
	b.Release()

	slog.Debug("btree: create", "root", t.root, "keyLen", keyLen, "fanout", fanout)
	return t, nil
}

// Root is the id of the root block.
func (t *Tree) Root() uint64 { return t.root }

func (t *Tree) node(b *storage.Block) node { return node{b: b, keyLen: t.keyLen} }

func (t *Tree) checkKey(key []byte) error {
	if len(key) != t.keyLen {
		return fmt.Errorf("%w: got %d, want %d", ErrKeyLength, len(key), t.keyLen)
	}
	return nil
}

// Insert maps key to addr. Re-inserting the same pair is a no-op.
func (t *Tree) Insert(key []byte, addr uint64) error {
	if addr == 0 {
		return ErrZeroAddress
	}
	if err := t.checkKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, added, err := t.insert(t.root, key, addr)
	if err != nil {
		return err
	}
	if s != nil {
		if err := t.growRoot(s); err != nil {
			return err
		}
	}
	if added {
		t.count++
	}
	return nil
}

func (t *Tree) insert(id uint64, key []byte, addr uint64) (*split, bool, error) {
	b, err := t.store.ReadBlock(id)
	if err != nil {
		return nil, false, err
	}
	defer b.Release()
	b.LockWait()
	defer b.Unlock()
	n := t.node(b)

	if n.isLeaf() {
		i, found := n.search(t.cmp, key)
		if found {
			if n.valAt(i) == addr {
				return nil, false, nil
			}
			return nil, false, ErrDuplicateKey
		}
		k := slices.Clone(key)
		s, err := t.put(n, i, entry{key: k, val: addr})
		return s, true, err
	}

	if n.count() == 0 {
		return nil, false, fmt.Errorf("%w: empty internal node %#x", ErrCorrupt, id)
	}
	i := n.childIndex(t.cmp, key)
	s, added, err := t.insert(n.valAt(i), key, addr)
	if err != nil || s == nil {
		return nil, added, err
	}
	up, err := t.put(n, i+1, entry{key: s.key, val: s.id})
	return up, added, err
}

// put inserts e at position i of n, splitting n when it is full. The
// returned split names the new right sibling and its minimum key.
func (t *Tree) put(n node, i int, e entry) (*split, error) {
	es := n.entries()
	es = slices.Insert(es, i, e)
	if len(es) <= t.fanout {
		n.write(es)
		return nil, nil
	}

	rb, err := t.store.AllocateBlock(storage.AllocIndex)
	if err != nil {
		return nil, err
	}
	defer rb.Release()
	rb.LockWait()
	defer rb.Unlock()

	mid := len(es) / 2
	right := t.node(rb)
	right.reset(n.buf()[0])
	right.write(es[mid:])
	if n.isLeaf() {
		right.setNext(n.next())
		n.setNext(right.id())
	}
	n.write(es[:mid])

	slog.Debug("btree: split", "block", n.id(), "right", right.id(), "leaf", n.isLeaf())
	return &split{key: es[mid].key, id: right.id()}, nil
}

// growRoot moves the split root into a new block and makes the root an
// internal node over it and its new sibling.
func (t *Tree) growRoot(s *split) error {
	rb, err := t.store.ReadBlock(t.root)
	if err != nil {
		return err
	}
	defer rb.Release()
	lb, err := t.store.AllocateBlock(storage.AllocIndex)
	if err != nil {
		return err
	}
	defer lb.Release()

	rb.LockWait()
	defer rb.Unlock()
	lb.LockWait()
	defer lb.Unlock()

	copy(lb.Buffer(), rb.Buffer())
	lb.SetDirty(0, storage.BlockSize)
	left := t.node(lb)

	root := t.node(rb)
	root.reset(internalKind)
	root.write([]entry{
		{key: slices.Clone(left.keyAt(0)), val: left.id()},
		{key: s.key, val: s.id},
	})
	slog.Debug("btree: grow root", "root", t.root, "left", left.id(), "right", s.id)
	return nil
}

// Remove deletes key. Removing an absent key is not an error. Nodes are not
// merged; an emptied leaf stays in the chain.
func (t *Tree) Remove(key []byte) error {
	if err := t.checkKey(key); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id, err := t.findLeaf(key)
	if err != nil {
		return err
	}
	b, err := t.store.ReadBlock(id)
	if err != nil {
		return err
	}
	defer b.Release()
	b.LockWait()
	defer b.Unlock()

	n := t.node(b)
	if i, found := n.search(t.cmp, key); found {
		n.removeAt(i)
		t.count--
	}
	return nil
}

// Lookup returns the address stored for key, or 0.
func (t *Tree) Lookup(key []byte) (uint64, error) {
	if err := t.checkKey(key); err != nil {
		return 0, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	id, err := t.findLeaf(key)
	if err != nil {
		return 0, err
	}
	b, err := t.store.ReadBlock(id)
	if err != nil {
		return 0, err
	}
	defer b.Release()
	b.RLock()
	defer b.RUnlock()

	n := t.node(b)
	if i, found := n.search(t.cmp, key); found {
		return n.valAt(i), nil
	}
	return 0, nil
}

// findLeaf descends from the root to the leaf covering key. With a nil key
// it follows the leftmost path. The caller holds t.mu.
func (t *Tree) findLeaf(key []byte) (uint64, error) {
	id := t.root
	for depth := 0; ; depth++ {
		if depth > 64 {
			return 0, fmt.Errorf("%w: tree deeper than 64 levels", ErrCorrupt)
		}
		b, err := t.store.ReadBlock(id)
		if err != nil {
			return 0, err
		}
		b.RLock()
		n := t.node(b)
		next, leaf := uint64(0), n.isLeaf()
		switch {
		case leaf:
		case n.count() == 0:
			err = fmt.Errorf("%w: empty internal node %#x", ErrCorrupt, id)
		case key == nil:
			next = n.valAt(0)
		default:
			next = n.valAt(n.childIndex(t.cmp, key))
		}
		b.RUnlock()
		b.Release()

		if err != nil || leaf {
			return id, err
		}
		id = next
	}
}

func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.count
}

// Clear frees every block but the root and leaves an empty leaf there.
func (t *Tree) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, err := t.store.ReadBlock(t.root)
	if err != nil {
		return err
	}
	defer b.Release()
	b.LockWait()
	defer b.Unlock()

	n := t.node(b)
	if !n.isLeaf() {
		for _, e := range n.entries() {
			if err := t.free(e.val); err != nil {
				return err
			}
		}
	}
	n.reset(leafKind)
	t.count = 0
	return nil
}

// free releases the subtree rooted at id.
func (t *Tree) free(id uint64) error {
	b, err := t.store.ReadBlock(id)
	if err != nil {
		return err
	}
	b.RLock()
	n := t.node(b)
	var children []entry
	if !n.isLeaf() {
		children = n.entries()
	}
	b.RUnlock()
	b.Release()

	for _, e := range children {
		if err := t.free(e.val); err != nil {
			return err
		}
	}
	return t.store.FreeBlock(id)
}

// Ascend calls fn for each entry in key order until fn returns false. The
// key passed to fn is only valid during the call; fn must not mutate the
// tree.
func (t *Tree) Ascend(fn func(key []byte, addr uint64) bool) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, err := t.findLeaf(nil)
	if err != nil {
		return err
	}
	for id != 0 {
		b, err := t.store.ReadBlock(id)
		if err != nil {
			return err
		}
		b.RLock()
		n := t.node(b)
		more := true
		for i := 0; i < n.count() && more; i++ {
			more = fn(n.keyAt(i), n.valAt(i))
		}
		id = n.next()
		b.RUnlock()
		b.Release()
		if !more {
			return nil
		}
	}
	return nil
}
