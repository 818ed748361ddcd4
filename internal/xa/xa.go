// Package xa is the transaction collaborator of the row store: it collects
// the blocks an operation dirtied and the blob inodes whose deletion must
// wait until the operation finishes.
package xa

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/tuannm99/rowstore/internal/storage"
)

const DefaultLockTimeout = 500 * time.Millisecond

var ErrDone = errors.New("xa: transaction already finished")

// Deleter is a resource released at commit, such as a blob inode.
type Deleter interface {
	Delete() error
}

type Transaction struct {
	id      uuid.UUID
	timeout time.Duration

	mu      sync.Mutex
	blocks  []*storage.Block
	seen    map[*storage.Block]struct{}
	deletes []Deleter
	done    bool
}

func New(timeout time.Duration) *Transaction {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &Transaction{
		id:      uuid.New(),
		timeout: timeout,
		seen:    make(map[*storage.Block]struct{}),
	}
}

func (x *Transaction) ID() uuid.UUID { return x.id }

// Timeout bounds block write-lock acquisition.
func (x *Transaction) Timeout() time.Duration { return x.timeout }

// AddUpdateBlock records a dirtied block. The block stays pinned until the
// transaction finishes.
func (x *Transaction) AddUpdateBlock(b *storage.Block) {
	if b == nil {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.seen[b]; ok {
		return
	}
	b.Retain()
	x.seen[b] = struct{}{}
	x.blocks = append(x.blocks, b)
}

// AddDeleteInode defers d until the transaction finishes.
func (x *Transaction) AddDeleteInode(d Deleter) {
	if d == nil {
		return
	}
	x.mu.Lock()
	x.deletes = append(x.deletes, d)
	x.mu.Unlock()
}

// DeleteMark returns a position for DiscardDeletesSince.
func (x *Transaction) DeleteMark() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.deletes)
}

// DiscardDeletesSince drops deferred deletions queued after mark.
func (x *Transaction) DiscardDeletesSince(mark int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if mark >= 0 && mark < len(x.deletes) {
		clear(x.deletes[mark:])
		x.deletes = x.deletes[:mark]
	}
}

func (x *Transaction) UpdateCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.blocks)
}

func (x *Transaction) finish() ([]*storage.Block, []Deleter, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.done {
		return nil, nil, ErrDone
	}
	x.done = true
	blocks, deletes := x.blocks, x.deletes
	x.blocks, x.deletes, x.seen = nil, nil, nil
	return blocks, deletes, nil
}

// Commit writes every recorded block, then runs deferred deletions.
func (x *Transaction) Commit() error {
	blocks, deletes, err := x.finish()
	if err != nil {
		return err
	}

	for _, b := range blocks {
		err = multierr.Append(err, b.Commit())
		b.Release()
	}
	if err != nil {
		// Blocks are still dirty in the cache; keep the inodes alive.
		slog.Warn("xa: commit write failed", "xa", x.id, "err", err)
		return err
	}

	for _, d := range deletes {
		if derr := d.Delete(); derr != nil {
			slog.Warn("xa: deferred delete failed", "xa", x.id, "err", derr)
			err = multierr.Append(err, derr)
		}
	}
	slog.Debug("xa: commit", "xa", x.id, "blocks", len(blocks), "deletes", len(deletes))
	return err
}

// Rollback releases recorded blocks without writing them. Row changes
// already made in cached blocks are not undone, so the blob chains those
// changes orphaned are released here as they would be on commit.
func (x *Transaction) Rollback() {
	blocks, deletes, err := x.finish()
	if err != nil {
		return
	}
	for _, b := range blocks {
		b.Release()
	}
	for _, d := range deletes {
		if derr := d.Delete(); derr != nil {
			slog.Warn("xa: deferred delete failed", "xa", x.id, "err", derr)
		}
	}
	slog.Debug("xa: rollback", "xa", x.id, "blocks", len(blocks), "deletes", len(deletes))
}

// AutoCommit runs fn in a fresh transaction, committing on success.
func AutoCommit(timeout time.Duration, fn func(x *Transaction) error) error {
	x := New(timeout)
	if err := fn(x); err != nil {
		x.Rollback()
		return err
	}
	return x.Commit()
}
