package btree

// Index is the ordered key -> row address map a unique column keeps.
// Keys are the column's encoded bytes; an address of 0 means "absent".
type Index interface {
	Root() uint64
	Insert(key []byte, addr uint64) error
	Remove(key []byte) error
	Lookup(key []byte) (uint64, error)
	Len() int
	Clear() error
	Ascend(fn func(key []byte, addr uint64) bool) error
}

var _ Index = (*Tree)(nil)
