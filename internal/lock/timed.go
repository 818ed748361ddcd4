package locking

import (
	"context"
	"errors"
	"time"

	retry "github.com/sethvargo/go-retry"
)

var ErrLockTimeout = errors.New("locking: lock not acquired before timeout")

var errBusy = errors.New("locking: busy")

const (
	spinBase = 20 * time.Microsecond
	spinCap  = 2 * time.Millisecond
)

// TryLocker is satisfied by *sync.Mutex and *sync.RWMutex.
type TryLocker interface {
	TryLock() bool
}

// LockWithin acquires l, polling with a capped exponential backoff until
// timeout elapses. A non-positive timeout makes a single attempt.
func LockWithin(l TryLocker, timeout time.Duration) error {
	if l.TryLock() {
		return nil
	}
	if timeout <= 0 {
		return ErrLockTimeout
	}

	b := retry.NewExponential(spinBase)
	b = retry.WithCappedDuration(spinCap, b)
	b = retry.WithMaxDuration(timeout, b)

	err := retry.Do(context.Background(), b, func(context.Context) error {
		if l.TryLock() {
			return nil
		}
		return retry.RetryableError(errBusy)
	})
	if err != nil {
		return ErrLockTimeout
	}
	return nil
}
