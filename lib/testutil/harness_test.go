package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-i2p/redispool/lib/redisconn"
)

func TestRedisHarness(t *testing.T) {
	h := NewRedisHarness(t)

	client := redis.NewClient(&redis.Options{Addr: h.Addr()})
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "k", "v", 0).Err())
	got, err := client.Get(ctx, "k").Result()
	require.NoError(t, err)
	assert.Equal(t, "v", got)

	h.SetError("LOADING server is loading")
	assert.Error(t, client.Get(ctx, "k").Err())
	h.SetError("")
	assert.NoError(t, client.Get(ctx, "k").Err())

	assert.Equal(t, h.Addr(), h.Options().Addr)
}

func TestFakeDriverSignals(t *testing.T) {
	d := &FakeDriver{OpenErr: FailFirst(1)}

	var got []redisconn.Signal
	record := func(sig redisconn.Signal, err error) { got = append(got, sig) }

	_, err := d.Open(context.Background(), redisconn.Options{}, record)
	require.ErrorIs(t, err, ErrOpenRefused)
	assert.Equal(t, []redisconn.Signal{redisconn.SignalConnecting, redisconn.SignalError}, got)

	got = nil
	client, err := d.Open(context.Background(), redisconn.Options{}, record)
	require.NoError(t, err)
	assert.Equal(t, []redisconn.Signal{redisconn.SignalConnecting, redisconn.SignalReady}, got)

	got = nil
	d.Raise(redisconn.SignalReconnecting, nil)
	assert.Equal(t, []redisconn.Signal{redisconn.SignalReconnecting}, got)

	require.NoError(t, d.Close(client))
	assert.Equal(t, 2, d.Opens())
	assert.Equal(t, 1, d.Closes())
}

func TestFakeDriverDelayHonorsContext(t *testing.T) {
	d := &FakeDriver{OpenDelay: time.Minute}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := d.Open(ctx, redisconn.Options{}, nil)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
