package repository

import "context"

// Locker is a non-blocking mutual-exclusion primitive over a store shared by
// every worker in the coordination domain.
type Locker interface {
	// TryAcquire creates the lock record only if absent. It returns a non-empty
	// token iff this call created it, and "" when the record already exists.
	// It never waits or retries.
	TryAcquire(ctx context.Context, name string) (token string, err error)
	// Release deletes the lock record if it still carries token. An empty
	// token deletes the record unconditionally.
	Release(ctx context.Context, name, token string) error
}
