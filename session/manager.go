package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
)

// KeyFunc maps a session id to its store key.
type KeyFunc func(sessionID string) string

// OverflowHandler is called once for a session whose stored size exceeds
// the configured maximum, right after it is loaded.
type OverflowHandler func(key string, c *Cache)

// SizeReporter receives the stored size of every loaded session.
type SizeReporter func(key string, sizeBytes int)

type managerOptions struct {
	keyFunc    KeyFunc
	maxSize    int
	onOverflow OverflowHandler
	onSize     SizeReporter
	cacheOpts  []CacheOption
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// WithKeyFunc overrides how session ids become store keys.
func WithKeyFunc(fn KeyFunc) ManagerOption {
	return func(o *managerOptions) { o.keyFunc = fn }
}

// WithKeyPrefix stores sessions under prefix+id.
func WithKeyPrefix(prefix string) ManagerOption {
	return func(o *managerOptions) {
		o.keyFunc = func(id string) string { return prefix + id }
	}
}

// WithMaxSize sets the stored size above which the overflow handler runs.
// Zero disables the check.
func WithMaxSize(n int) ManagerOption {
	return func(o *managerOptions) { o.maxSize = n }
}

// WithOverflowHandler replaces the default overflow handler, which clears
// the session.
func WithOverflowHandler(h OverflowHandler) ManagerOption {
	return func(o *managerOptions) { o.onOverflow = h }
}

// WithSizeReporter adds a callback for loaded session sizes.
func WithSizeReporter(r SizeReporter) ManagerOption {
	return func(o *managerOptions) { o.onSize = r }
}

// WithCacheOptions applies opts to every cache the manager creates.
func WithCacheOptions(opts ...CacheOption) ManagerOption {
	return func(o *managerOptions) { o.cacheOpts = append(o.cacheOpts, opts...) }
}

type entry struct {
	cache *Cache
	refs  int
}

// Manager hands out one shared Cache per session to every request using it
// and writes changes back when a request ends.
type Manager struct {
	store Store
	opts  managerOptions

	mu      sync.Mutex
	entries map[string]*entry
	loads   singleflight.Group
}

// NewManager creates a Manager backed by store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	o := managerOptions{
		keyFunc: func(id string) string { return id },
		onOverflow: func(key string, c *Cache) {
			log.Warnf("Session %s exceeds size limit, clearing it", key)
			c.Clear()
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		store:   store,
		opts:    o,
		entries: make(map[string]*entry),
	}
}

// Key returns the store key for a session id.
func (m *Manager) Key(sessionID string) string {
	return m.opts.keyFunc(sessionID)
}

// Acquire returns the shared cache for sessionID, loading it from the store
// if no request holds it. Every Acquire must be paired with End or Release.
func (m *Manager) Acquire(ctx context.Context, sessionID string) *Cache {
	key := m.Key(sessionID)

	m.mu.Lock()
	if e, ok := m.entries[key]; ok {
		e.refs++
		m.mu.Unlock()
		return e.cache
	}
	m.mu.Unlock()

	// The shared load outlives any one caller's cancellation.
	loadCtx := context.WithoutCancel(ctx)
	v, _, _ := m.loads.Do(key, func() (interface{}, error) {
		return m.load(loadCtx, key), nil
	})
	loaded := v.(*Cache)

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok {
		e.refs++
		return e.cache
	}
	m.entries[key] = &entry{cache: loaded, refs: 1}
	metrics.SessionsActive.Set(float64(len(m.entries)))
	return loaded
}

func (m *Manager) load(ctx context.Context, key string) *Cache {
	opts := append([]CacheOption{WithName(key)}, m.opts.cacheOpts...)

	start := time.Now()
	data, err := m.store.Load(ctx, key)
	if err != nil {
		metrics.SessionLoads.WithLabelValues("error").Inc()
		log.Errorf("Starting empty session %s after load failure: %v", key, err)
		return NewCache(opts...)
	}
	metrics.SessionLoads.WithLabelValues("ok").Inc()

	c := NewCacheFromHash(data, opts...)
	size := c.SizeBytes()
	log.Debugf("Loaded session %s: %d fields, %d bytes in %s", key, len(data), size, time.Since(start))

	metrics.SessionSizeBytes.Observe(float64(size))
	if m.opts.onSize != nil {
		m.opts.onSize(key, size)
	}
	if m.opts.maxSize > 0 && size > m.opts.maxSize {
		metrics.SessionOverflows.Inc()
		m.opts.onOverflow(key, c)
	}
	return c
}

// Release drops one reference to the session. The cache leaves the registry
// when the last reference goes; it is returned either way.
func (m *Manager) Release(_ context.Context, sessionID string) (*Cache, bool) {
	key := m.Key(sessionID)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false
	}
	e.refs--
	if e.refs <= 0 {
		delete(m.entries, key)
		metrics.SessionsActive.Set(float64(len(m.entries)))
	}
	return e.cache, true
}

// Flush drains c and saves the batch under key. Nothing is sent when the
// batch is empty.
func (m *Manager) Flush(ctx context.Context, key string, c *Cache) error {
	_, err := m.flush(ctx, key, c)
	return err
}

func (m *Manager) flush(ctx context.Context, key string, c *Cache) (bool, error) {
	batch := c.DrainChangeBatch()
	if len(batch) == 0 {
		return false, nil
	}
	if err := m.store.Save(ctx, key, batch); err != nil {
		metrics.FlushFailures.Inc()
		return false, fmt.Errorf("failed to flush session %s: %w", key, err)
	}
	return true, nil
}

// End flushes the session's changes and releases the caller's reference.
// A session with nothing to save still has its expiry pushed back. Store
// errors are logged, not returned.
func (m *Manager) End(ctx context.Context, sessionID string) {
	key := m.Key(sessionID)

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		log.Warnf("End called for session %s that is not held", key)
		return
	}

	saved, err := m.flush(ctx, key, e.cache)
	switch {
	case err != nil:
		log.Errorf("%v", err)
	case !saved:
		if err := m.store.RefreshTTL(ctx, key); err != nil {
			log.Warnf("Failed to refresh TTL for session %s: %v", key, err)
		}
	}
	m.Release(ctx, sessionID)
}

// Abandon empties the session and deletes it from the store. Requests still
// holding the cache see it empty; anything they set afterwards is saved as
// a new session when they end.
func (m *Manager) Abandon(ctx context.Context, sessionID string) {
	key := m.Key(sessionID)

	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if ok {
		e.cache.Clear()
		e.cache.DrainChangeBatch()
	}

	if err := m.store.Delete(ctx, key); err != nil {
		log.Errorf("Failed to delete session %s: %v", key, err)
	}
}

// Active returns the number of sessions currently held by requests.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
