package lock

import (
	"context"
	"errors"
)

// ErrNotObtained is returned when another holder owns the lock.
var ErrNotObtained = errors.New("lock not obtained")

// Lock is a held, expiring lock.
type Lock interface {
	Refresh(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker hands out expiring locks keyed by name.
type Locker interface {
	Obtain(ctx context.Context, key string) (Lock, error)
}
