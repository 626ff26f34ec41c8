package redisconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Session is one live Redis connection owned by a pool.
type Session struct {
	id        uuid.UUID
	createdAt time.Time

	mu     sync.Mutex
	client redis.UniversalClient
}

func newSession() *Session {
	return &Session{id: uuid.New(), createdAt: time.Now()}
}

// ID returns the session's identity. It appears in logs and events.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Client returns the go-redis client bound to this session's connection.
// It is nil in events raised before the handshake finished.
func (s *Session) Client() redis.UniversalClient {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

func (s *Session) setClient(c redis.UniversalClient) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// CreatedAt returns when the session started connecting.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Session) String() string {
	return fmt.Sprintf("session-%s", s.id.String()[:8])
}
