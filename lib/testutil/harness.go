// Package testutil provides an in-process Redis server and a scriptable
// driver for testing the pool without a real Redis deployment.
package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/go-i2p/redispool/lib/redisconn"
)

// RedisHarness runs a miniredis server for the duration of a test.
type RedisHarness struct {
	Server *miniredis.Miniredis
}

// NewRedisHarness starts a server that is stopped when t finishes.
func NewRedisHarness(t testing.TB) *RedisHarness {
	t.Helper()
	return &RedisHarness{Server: miniredis.RunT(t)}
}

// Addr returns the server's host:port.
func (h *RedisHarness) Addr() string {
	return h.Server.Addr()
}

// Options returns connection options pointing at the server.
func (h *RedisHarness) Options() redisconn.Options {
	return redisconn.Options{Addr: h.Server.Addr()}
}

// SetError makes every command fail with msg until cleared with "".
func (h *RedisHarness) SetError(msg string) {
	h.Server.SetError(msg)
}

// Stop shuts the server down so new connections are refused.
func (h *RedisHarness) Stop() {
	h.Server.Close()
}

// Restart starts the server again on the same address.
func (h *RedisHarness) Restart() error {
	return h.Server.Restart()
}

// Clients returns the number of connections the server currently has.
func (h *RedisHarness) Clients() int {
	return h.Server.CurrentConnectionCount()
}
