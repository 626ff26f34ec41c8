package redispool

import (
	"log/slog"

	"github.com/go-i2p/redispool/lib/events"
	"github.com/go-i2p/redispool/lib/redisconn"
)

// EventLogger returns an Observer that writes every lifecycle event to
// logger. Errors log at warn, session churn at debug.
func EventLogger(logger *slog.Logger) Observer {
	return events.ObserverFunc[*redisconn.Session](func(e Event) {
		attrs := []any{"event", e.Type.String()}
		if e.Conn != nil {
			attrs = append(attrs, "session", e.Conn.String())
		}
		if e.Err != nil {
			attrs = append(attrs, "error", e.Err)
		}

		switch e.Type {
		case events.EventError, events.EventReconnecting:
			logger.Warn("redis session event", attrs...)
		case events.EventDisconnected:
			logger.Info("redis pool disconnected")
		default:
			logger.Debug("redis session event", attrs...)
		}
	})
}
