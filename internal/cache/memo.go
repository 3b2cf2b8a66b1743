package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"hdbresale/server/internal/metrics"
)

// Memo caches function results by key for a fixed TTL. Concurrent loads of
// the same key share one call.
type Memo struct {
	ttl     time.Duration
	cache   *ttlcache.Cache[string, any]
	cacheMu sync.RWMutex
	group   singleflight.Group
}

func New(ttl time.Duration) *Memo {
	return &Memo{
		ttl: ttl,
		cache: ttlcache.New(
			ttlcache.WithTTL[string, any](ttl),
			ttlcache.WithDisableTouchOnHit[string, any](),
		),
	}
}

// Start runs expired-item cleanup until Stop is called.
func (m *Memo) Start() {
	go m.cache.Start()
}

func (m *Memo) Stop() {
	m.cache.Stop()
}

// Key builds a cache key from a function name and a SHA-256 digest of its
// JSON-encoded inputs.
func Key(function string, inputs ...any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		// Inputs are plain filter values; fall back to their printed form.
		data = []byte(fmt.Sprintf("%#v", inputs))
	}
	sum := sha256.Sum256(data)
	return function + ":" + hex.EncodeToString(sum[:])
}

func function(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

func (m *Memo) Get(key string) (any, bool) {
	m.cacheMu.RLock()
	defer m.cacheMu.RUnlock()
	item := m.cache.Get(key)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (m *Memo) Set(key string, value any) {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cache.Set(key, value, ttlcache.DefaultTTL)
}

// Purge drops every entry.
func (m *Memo) Purge() {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	m.cache.DeleteAll()
}

func (m *Memo) Len() int {
	return m.cache.Len()
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result. Errors are not cached.
func (m *Memo) GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) (any, error)) (any, error) {
	fn := function(key)
	if v, ok := m.Get(key); ok {
		metrics.CacheRequests.WithLabelValues(fn, "hit").Inc()
		return v, nil
	}
	metrics.CacheRequests.WithLabelValues(fn, "miss").Inc()

	v, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		m.Set(key, v)
		return v, nil
	})
	return v, err
}

// Load is GetOrLoad with a typed result.
func Load[T any](ctx context.Context, m *Memo, key string, load func(ctx context.Context) (T, error)) (T, error) {
	v, err := m.GetOrLoad(ctx, key, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}
