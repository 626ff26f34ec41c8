package pool

import (
	"fmt"
	"time"
)

// ConnState is the pool-visible state of one connection.
type ConnState int

const (
	// ConnCreating means the factory is opening the connection.
	ConnCreating ConnState = iota
	// ConnIdle means the connection is available for assignment.
	ConnIdle
	// ConnInUse means a caller owns the connection.
	ConnInUse
	// ConnDestroying means the factory is closing the connection.
	ConnDestroying
	// ConnClosed means the connection is gone.
	ConnClosed
	// ConnErrored means the connection failed to open or reported an
	// error while closing.
	ConnErrored
)

func (s ConnState) String() string {
	switch s {
	case ConnCreating:
		return "creating"
	case ConnIdle:
		return "idle"
	case ConnInUse:
		return "in_use"
	case ConnDestroying:
		return "destroying"
	case ConnClosed:
		return "closed"
	case ConnErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Conn is the pool's handle for one connection. Callers receive it from
// Acquire and give it back with Release or Destroy.
type Conn[T any] struct {
	id    uint64
	pool  *Pool[T]
	value T

	// Guarded by pool.mu.
	state     ConnState
	createdAt time.Time
	lastUsed  time.Time
}

// ID identifies the connection within its pool.
func (c *Conn[T]) ID() uint64 {
	return c.id
}

// Value returns the connection produced by the factory.
func (c *Conn[T]) Value() T {
	return c.value
}

// State returns the connection's current state.
func (c *Conn[T]) State() ConnState {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.state
}

// CreatedAt returns when the factory finished opening the connection.
func (c *Conn[T]) CreatedAt() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.createdAt
}

// LastUsed returns when the connection was last handed out or returned.
func (c *Conn[T]) LastUsed() time.Time {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	return c.lastUsed
}

func (c *Conn[T]) String() string {
	return fmt.Sprintf("conn-%d", c.id)
}
