// Package admission implements the global concurrency gate every request
// passes through before it reaches the storage core, plus the
// read-only-bucket rejection named in §4.7.
package admission

import (
	"context"

	"golang.org/x/sync/semaphore"

	"silo/internal/coreerr"
)

// Controller gates request entry with a global counting semaphore. The
// read-only check for mutating requests is CheckMutationAllowed, which
// handlers call separately.
type Controller struct {
	sem *semaphore.Weighted
}

func NewController(capacity int) *Controller {
	if capacity <= 0 {
		capacity = 16
	}
	return &Controller{sem: semaphore.NewWeighted(int64(capacity))}
}

// Permit is a single held unit of admission capacity.
type Permit struct {
	sem *semaphore.Weighted
}

// Release returns the permit to the pool. Safe to call once.
func (p *Permit) Release() {
	p.sem.Release(1)
}

// Acquire blocks (FIFO, per semaphore.Weighted's documented ordering)
// until a permit is available or ctx is cancelled. Cancellation returns
// ctx.Err() without ever having executed the operation.
func (c *Controller) Acquire(ctx context.Context) (*Permit, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &Permit{sem: c.sem}, nil
}

// CheckMutationAllowed rejects a mutating operation against a read-only
// bucket (or a read-only service) before any handle is acquired.
func CheckMutationAllowed(readOnly bool) error {
	if readOnly {
		return coreerr.New(coreerr.AccessDenied, "the bucket is read-only")
	}
	return nil
}
