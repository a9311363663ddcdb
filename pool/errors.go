package pool

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned by Acquire once the pool has been shut down
	ErrPoolClosed = errors.New("pool: pool is shut down")
	// ErrReleased is returned by a Handle whose lease has already ended
	ErrReleased = errors.New("pool: connection already released")
	// ErrResourceCreation marks a failure of the connection factory
	ErrResourceCreation = errors.New("pool: failed to create connection")
	// ErrForeignHandle is returned when a handle is given to a pool that did not issue it
	ErrForeignHandle = errors.New("pool: handle not issued by this pool")
)

// PoolError represents errors specific to pool operations
type PoolError struct {
	Op   string
	Pool string
	Err  error

	creation bool
}

func (e *PoolError) Error() string {
	if e.Pool != "" {
		return fmt.Sprintf("pool %s: error during %s: %v", e.Pool, e.Op, e.Err)
	}
	return fmt.Sprintf("pool: error during %s: %v", e.Op, e.Err)
}

func (e *PoolError) Unwrap() error {
	return e.Err
}

// Is reports factory failures as ErrResourceCreation while Unwrap keeps the
// factory's own error reachable.
func (e *PoolError) Is(target error) bool {
	return e.creation && target == ErrResourceCreation
}

// IsPoolError checks if an error is a pool error
func IsPoolError(err error) bool {
	var target *PoolError
	return errors.As(err, &target)
}

func creationError(pool string, err error) *PoolError {
	return &PoolError{Op: "acquire", Pool: pool, Err: err, creation: true}
}
