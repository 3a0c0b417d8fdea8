package permission

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/p4mcp/p4-mcp-server/internal/connection"
	"github.com/p4mcp/p4-mcp-server/internal/p4"
)

// DefaultCacheTTL bounds how often properties are fetched from the server.
const DefaultCacheTTL = 60 * time.Second

// PropertySource lists the server properties visible to the current user.
type PropertySource interface {
	Properties(ctx context.Context) (map[string]string, error)
}

// Acquirer lends the shared backend connection.
type Acquirer interface {
	Acquire(ctx context.Context, fn func(*connection.Handle) error) error
}

// BackendProperties reads properties with "property -l".
type BackendProperties struct {
	backend Acquirer
}

// NewBackendProperties creates a PropertySource over backend.
func NewBackendProperties(backend Acquirer) *BackendProperties {
	return &BackendProperties{backend: backend}
}

// Properties implements PropertySource.
func (b *BackendProperties) Properties(ctx context.Context) (map[string]string, error) {
	values := map[string]string{}
	err := b.backend.Acquire(ctx, func(h *connection.Handle) error {
		records, err := h.Run(ctx, p4.Cmd("property", "-l"))
		if err != nil {
			return err
		}
		for _, record := range p4.TaggedOf(records) {
			name := strings.TrimSpace(record.String("name"))
			if name == "" {
				continue
			}
			values[name] = strings.TrimSpace(record.String("value"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return values, nil
}

type snapshot struct {
	values  map[string]string
	fetched time.Time
}

// CacheOptions configures a Cache.
type CacheOptions struct {
	TTL    time.Duration
	Logger zerolog.Logger
	// Refreshes counts refreshes by outcome; optional.
	Refreshes *prometheus.CounterVec
	// Now defaults to time.Now.
	Now func() time.Time
}

// Cache holds the last property listing. It is replaced wholesale on every
// refresh, and a failed refresh leaves it empty so policy fails open.
type Cache struct {
	source    PropertySource
	ttl       time.Duration
	now       func() time.Time
	current   atomic.Pointer[snapshot]
	group     singleflight.Group
	refreshes *prometheus.CounterVec
	logger    zerolog.Logger
}

// NewCache creates a Cache over source.
func NewCache(source PropertySource, opts CacheOptions) *Cache {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		source:    source,
		ttl:       ttl,
		now:       now,
		refreshes: opts.Refreshes,
		logger:    opts.Logger.With().Str("component", "permission").Logger(),
	}
}

// Get returns one property, refreshing the cache when it is stale.
func (c *Cache) Get(ctx context.Context, name string) (string, bool) {
	values := c.values(ctx)
	value, ok := values[name]
	return value, ok
}

func (c *Cache) values(ctx context.Context) map[string]string {
	if snap := c.current.Load(); snap != nil && !snap.fetched.IsZero() && c.now().Sub(snap.fetched) < c.ttl {
		return snap.values
	}
	result, _, _ := c.group.Do("properties", func() (any, error) {
		return c.refresh(ctx), nil
	})
	return result.(map[string]string)
}

func (c *Cache) refresh(ctx context.Context) map[string]string {
	values, err := c.source.Properties(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to refresh property cache")
		c.count("error")
		c.current.Store(&snapshot{values: map[string]string{}})
		return map[string]string{}
	}
	c.count("success")
	c.current.Store(&snapshot{values: values, fetched: c.now()})
	return values
}

func (c *Cache) count(result string) {
	if c.refreshes != nil {
		c.refreshes.WithLabelValues(result).Inc()
	}
}
