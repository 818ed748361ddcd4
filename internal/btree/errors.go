package btree

import "errors"

var (
	// ErrDuplicateKey is returned by Insert when the key maps to another row.
	ErrDuplicateKey = errors.New("btree: duplicate key")
	ErrZeroAddress  = errors.New("btree: row address must be non-zero")
	ErrKeyLength    = errors.New("btree: bad key length")
	ErrCorrupt      = errors.New("btree: corrupt index block")
)
