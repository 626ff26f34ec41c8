// Package redisconn creates and closes the Redis sessions a pool manages.
//
// A Driver opens single-connection go-redis clients and reports dial,
// handshake and connection errors as Signals. The Factory turns those
// signals into lifecycle events (connect, ready, reconnecting, error,
// close, end) on an events.Notifier and adapts the driver to pool.Factory:
//
//	notifier := events.NewNotifier[*redisconn.Session](0, nil)
//	factory := redisconn.NewFactory(redisconn.RedisDriver{},
//	    redisconn.Options{Addr: "localhost:6379"},
//	    redisconn.WithNotifier(notifier))
//	p, err := pool.New[*redisconn.Session](factory, pool.DefaultConfig())
//
// Each session holds exactly one server connection. Command retries stay
// inside go-redis; the factory never retries a failed Create.
package redisconn
