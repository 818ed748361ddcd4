package heap

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/tuannm99/rowstore/internal/dberr"
	"github.com/tuannm99/rowstore/internal/record"
	"github.com/tuannm99/rowstore/internal/storage"
)

// FreeRingSize is the capacity of the free row-block ring.
const FreeRingSize = 256

const sweepPoll = 500 * time.Microsecond

var errRingEmpty = errors.New("heap: free ring empty")

// rowSpace is what the allocator needs from its table.
type rowSpace interface {
	// firstRowBlock returns the first row block id >= after.
	firstRowBlock(after uint64) (uint64, bool)
	// newRowBlock allocates a fresh row block.
	newRowBlock() (uint64, error)
	// countRows counts free and used slots of a row block.
	countRows(blockID uint64) (free, used int, err error)
}

// allocator hands out row block ids for insert.
//
// The ring is lock-free: head and tail are CAS-advanced indexes and every
// slot is claimed or released with a CAS, so it may report empty under
// contention. Slot value 0 means empty; block 0 is never a row block.
//
// The tail is the virgin-space cursor. Once it passes tailTop the sweep
// walks used row blocks with the clock cursor and pushes blocks that still
// have a free slot.
type allocator struct {
	space rowSpace

	ring [FreeRingSize]atomic.Uint64
	head atomic.Int32
	tail atomic.Int32

	tailOffset atomic.Uint64
	tailTop    atomic.Uint64

	wake       chan struct{}
	background atomic.Bool

	rowLength    int64
	rowsPerBlock int64
	rowClockMin  int64
	sweepWait    time.Duration

	log *slog.Logger

	// clock state, guarded by mu
	mu             sync.Mutex
	clockTop       uint64
	clockOffset    uint64
	clockRowFree   int64
	clockRowUsed   int64
	clockBlockFree int64
	sweeps         int64
}

func newAllocator(space rowSpace, rowLength, rowsPerBlock int, opts Options, log *slog.Logger) *allocator {
	a := &allocator{
		space:        space,
		wake:         make(chan struct{}, 1),
		rowLength:    int64(rowLength),
		rowsPerBlock: int64(rowsPerBlock),
		rowClockMin:  opts.RowClockMin,
		sweepWait:    opts.SweepWait,
		log:          log,
	}
	a.tailTop.Store(storage.BlockSize * FreeRingSize)
	return a
}

// pop takes a block id from the ring, or returns 0 when it is empty.
func (a *allocator) pop() uint64 {
	for {
		tail := a.tail.Load()
		head := a.head.Load()
		if head == tail {
			a.signal()
			return 0
		}

		id := a.ring[tail].Swap(0)
		next := (tail + 1) % FreeRingSize
		a.tail.CompareAndSwap(tail, next)

		if id > 0 {
			size := (head - tail + FreeRingSize) % FreeRingSize
			if 2*size < FreeRingSize {
				a.signal()
			}
			return id
		}
	}
}

// push offers a block id to the ring; it is dropped when the ring is full.
func (a *allocator) push(id uint64) bool {
	for {
		head := a.head.Load()
		tail := a.tail.Load()
		next := (head + 1) % FreeRingSize
		if next == tail {
			return false
		}
		a.head.CompareAndSwap(head, next)
		if a.ring[head].CompareAndSwap(0, id) {
			return true
		}
	}
}

func (a *allocator) hasRoom() bool {
	head := a.head.Load()
	tail := a.tail.Load()
	return (head+1)%FreeRingSize != tail
}

func (a *allocator) ringSize() int {
	head := a.head.Load()
	tail := a.tail.Load()
	return int((head - tail + FreeRingSize) % FreeRingSize)
}

func (a *allocator) signal() {
	if !a.background.Load() {
		return
	}
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// acquire returns a row block id to try an insert against: a ring entry,
// the next row block past the tail, or a brand-new block.
func (a *allocator) acquire(ctx context.Context) (uint64, error) {
	if id := a.pop(); id != 0 {
		return id, nil
	}
	if a.pastTop() {
		if id := a.waitForSweep(ctx); id != 0 {
			return id, nil
		}
	}
	return a.extend()
}

func (a *allocator) pastTop() bool {
	return a.tailOffset.Load() >= a.tailTop.Load()
}

// waitForSweep gives the sweep up to sweepWait to refill the ring.
func (a *allocator) waitForSweep(ctx context.Context) uint64 {
	if !a.background.Load() {
		a.fill()
		return a.pop()
	}
	if a.sweepWait <= 0 {
		return 0
	}

	var id uint64
	b := retry.WithMaxDuration(a.sweepWait, retry.NewConstant(sweepPoll))
	_ = retry.Do(ctx, b, func(context.Context) error {
		if id = a.pop(); id != 0 {
			return nil
		}
		return retry.RetryableError(errRingEmpty)
	})
	return id
}

// extend advances the tail to the next row block, allocating one when the
// tail is at the end of the table.
func (a *allocator) extend() (uint64, error) {
	off := a.tailOffset.Load()

	id, ok := a.space.firstRowBlock(off)
	if !ok {
		var err error
		if id, err = a.space.newRowBlock(); err != nil {
			return 0, err
		}
	}

	a.tailOffset.CompareAndSwap(off, max(off, id+storage.BlockSize))
	return id, nil
}

// run is the background sweeper loop.
func (a *allocator) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
			a.fill()
		}
	}
}

// fill runs the clock sweep while the tail is past its top and the ring has
// room. At most two passes: a pass that ends without raising the top starts
// over from block 0 once.
func (a *allocator) fill() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.pastTop() {
		return
	}
	for pass := 0; pass < 2; pass++ {
		if !a.scanClock() {
			return
		}
		if !a.resetClock() {
			return
		}
	}
}

// scanClock advances the clock until the ring is full (false) or the clock
// reaches the end of the row blocks (true).
func (a *allocator) scanClock() bool {
	for a.hasRoom() {
		id, ok := a.space.firstRowBlock(a.clockOffset)
		if !ok {
			a.clockOffset = a.clockTop
			return true
		}
		a.clockOffset = id + storage.BlockSize

		free, used, err := a.space.countRows(id)
		if err != nil {
			// a busy block is looked at again next pass
			if !dberr.IsRetryable(err) {
				a.log.Debug("heap: sweep skip block", "block", id, "err", err)
			}
			continue
		}
		a.clockRowFree += int64(free)
		a.clockRowUsed += int64(used)
		if free > 0 {
			a.clockBlockFree++
			a.push(id)
		}
	}
	return false
}

// resetClock restarts the clock at block 0. When the last pass found too few
// free rows it raises the tail top instead, so inserts extend the table
// again; it then reports false.
func (a *allocator) resetClock() bool {
	// keep at least half the rows free before the clock runs again
	newRows := (a.clockRowUsed - a.clockRowFree) / a.rowsPerBlock
	if a.clockRowFree < a.rowClockMin && a.clockOffset > 0 {
		newRows = a.rowClockMin
	}
	if newRows > 0 {
		a.tailTop.Store(a.tailOffset.Load() + uint64(newRows*a.rowLength))
	}

	a.log.Debug("heap: clock reset",
		"used", a.clockRowUsed, "free", a.clockRowFree, "freeBlocks", a.clockBlockFree, "top", a.tailTop.Load())

	a.sweeps++
	a.clockOffset = 0
	a.clockTop = a.tailOffset.Load()
	a.clockRowUsed = 0
	a.clockRowFree = 0
	a.clockBlockFree = 0

	return newRows <= 0
}

// AllocatorStats is a snapshot of the allocator state.
type AllocatorStats struct {
	FreeRing    int
	TailOffset  uint64
	TailTop     uint64
	ClockOffset uint64
	ClockTop    uint64
	Sweeps      int64
}

func (a *allocator) stats() AllocatorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return AllocatorStats{
		FreeRing:    a.ringSize(),
		TailOffset:  a.tailOffset.Load(),
		TailTop:     a.tailTop.Load(),
		ClockOffset: a.clockOffset,
		ClockTop:    a.clockTop,
		Sweeps:      a.sweeps,
	}
}

// AllocatorStats reports the row allocator state.
func (t *Table) AllocatorStats() AllocatorStats { return t.alloc.stats() }

// Sweep runs one clock sweep on the calling goroutine.
func (t *Table) Sweep() { t.alloc.fill() }

func (t *Table) firstRowBlock(after uint64) (uint64, bool) {
	return t.store.FirstBlock(after, storage.AllocRow)
}

func (t *Table) newRowBlock() (uint64, error) {
	b, err := t.store.AllocateBlock(storage.AllocRow)
	if err != nil {
		return 0, err
	}
	id := b.ID()
	b.Release()
	t.log.Debug("heap: new row block", "block", id)
	return id, nil
}

func (t *Table) countRows(blockID uint64) (free, used int, err error) {
	b, err := t.store.ReadBlock(blockID)
	if err != nil {
		return 0, 0, err
	}
	defer b.Release()

	if err := b.Lock(t.opts.LockTimeout); err != nil {
		return 0, 0, dberr.LockTimeout("sweep", blockID)
	}
	defer b.Unlock()

	buf := b.Buffer()
	for off := 0; off < t.rowEnd; off += t.rowLength {
		if record.State(buf, off) == record.RowFree {
			free++
		} else {
			used++
		}
	}
	return free, used, nil
}
