package redisconn

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/go-i2p/redispool/lib/errors"
)

// DefaultAddr is used when neither URL nor Addr is set.
const DefaultAddr = "localhost:6379"

// Options describes how to reach the Redis server. Every session of a pool
// is opened with the same Options.
type Options struct {
	// URL is a redis:// or rediss:// URL. Fields set below override the
	// values parsed from it.
	URL string
	// Addr is host:port.
	Addr     string
	Username string
	Password string
	DB       int
	// ClientName is sent with CLIENT SETNAME on every dial.
	ClientName string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxRetries is the driver's per-command retry count. Zero keeps the
	// driver default, -1 disables retries.
	MaxRetries int
	// Protocol is the RESP version, 2 or 3. Zero keeps the driver default.
	Protocol int
	// TLS enables TLS with the system roots.
	TLS bool
	// TLSConfig overrides the TLS settings when TLS is set.
	TLSConfig *tls.Config
}

// Validate checks the options without contacting the server.
func (o Options) Validate() error {
	_, err := o.redisOptions()
	return err
}

// Address returns the server address the options resolve to.
func (o Options) Address() string {
	ro, err := o.redisOptions()
	if err != nil {
		return o.Addr
	}
	return ro.Addr
}

// redisOptions builds go-redis client options for one session.
func (o Options) redisOptions() (*redis.Options, error) {
	ro := &redis.Options{Addr: DefaultAddr}
	if o.URL != "" {
		parsed, err := redis.ParseURL(o.URL)
		if err != nil {
			return nil, fmt.Errorf("redis url: %v: %w", err, apperrors.ErrConfiguration)
		}
		ro = parsed
	}

	if o.Addr != "" {
		if _, _, err := net.SplitHostPort(o.Addr); err != nil {
			return nil, fmt.Errorf("redis addr %q: %v: %w", o.Addr, err, apperrors.ErrConfiguration)
		}
		ro.Addr = o.Addr
	}
	if o.Username != "" {
		ro.Username = o.Username
	}
	if o.Password != "" {
		ro.Password = o.Password
	}
	if o.DB != 0 {
		ro.DB = o.DB
	}
	if o.DB < 0 {
		return nil, fmt.Errorf("redis db must not be negative: %w", apperrors.ErrConfiguration)
	}
	if o.ClientName != "" {
		ro.ClientName = o.ClientName
	}
	if o.DialTimeout > 0 {
		ro.DialTimeout = o.DialTimeout
	}
	if o.ReadTimeout != 0 {
		ro.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout != 0 {
		ro.WriteTimeout = o.WriteTimeout
	}
	if o.MaxRetries != 0 {
		ro.MaxRetries = o.MaxRetries
	}
	switch o.Protocol {
	case 0:
	case 2, 3:
		ro.Protocol = o.Protocol
	default:
		return nil, fmt.Errorf("redis protocol must be 2 or 3, got %d: %w", o.Protocol, apperrors.ErrConfiguration)
	}
	if o.TLS {
		if o.TLSConfig != nil {
			ro.TLSConfig = o.TLSConfig.Clone()
		} else if ro.TLSConfig == nil {
			host, _, _ := net.SplitHostPort(ro.Addr)
			ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: host}
		}
	}

	// A session is one connection; the pool does the pooling.
	ro.PoolSize = 1
	ro.MinIdleConns = 0
	ro.MaxIdleConns = 1
	ro.ContextTimeoutEnabled = true
	return ro, nil
}
