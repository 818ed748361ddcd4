package locking

// used for block pins; a block whose count drops to zero may be evicted
// from the cache and written back to its segment file

import (
	"fmt"
	"sync/atomic"
)

// RefCount is a pin counter. The zero value is an unpinned count.
type RefCount struct {
	count atomic.Int32
}

func NewRefCount() *RefCount {
	r := &RefCount{}
	r.count.Store(1)
	return r
}

// Inc pins and reports whether this was the first pin.
func (r *RefCount) Inc() bool {
	return r.count.Add(1) == 1
}

// Dec unpins and reports whether the count reached zero.
func (r *RefCount) Dec() bool {
	newCount := r.count.Add(-1)
	if newCount < 0 {
		panic("refcount dropped below zero")
	}
	return newCount == 0
}

func (r *RefCount) Get() int32 {
	return r.count.Load()
}

func (r *RefCount) String() string {
	return fmt.Sprintf("RefCount: %d", r.Get())
}
