package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/kjstillabower/weather-snapshot-service/internal/models"
)

// DefaultMirrorKey is the memcached key the snapshot is published under.
const DefaultMirrorKey = "weather:snapshot"

// Mirror receives a copy of every snapshot after a refresh cycle. It is write-only;
// the service never reads state back from a mirror.
type Mirror interface {
	Publish(ctx context.Context, snap models.Snapshot) error
}

// MemcachedMirror publishes snapshots to memcached for out-of-process consumers.
type MemcachedMirror struct {
	client *memcache.Client
	key    string
	ttl    time.Duration
}

// NewMemcachedMirror creates a MemcachedMirror. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. ttl bounds how long a
// published snapshot outlives the process.
func NewMemcachedMirror(addrs string, timeout time.Duration, maxIdleConns int, ttl time.Duration) *MemcachedMirror {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedMirror{client: client, key: DefaultMirrorKey, ttl: ttl}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Publish implements Mirror.
func (m *MemcachedMirror) Publish(ctx context.Context, snap models.Snapshot) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return m.client.Set(&memcache.Item{
		Key:        m.key,
		Value:      raw,
		Expiration: expirationSeconds(m.ttl),
	})
}

// expirationSeconds converts ttl to a memcached relative expiration.
func expirationSeconds(ttl time.Duration) int32 {
	expSec := int32(ttl.Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600
	}
	return expSec
}

// Ping checks if memcached is reachable.
func (m *MemcachedMirror) Ping() error {
	return m.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (m *MemcachedMirror) Close() error {
	return m.client.Close()
}
