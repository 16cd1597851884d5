// Package pool keeps one live Redis connection per server identity and
// rebuilds it when it breaks.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
	"github.com/abdelmounim-dev/session-cache/services"
)

const (
	defaultRecycleInterval = 3 * time.Hour
	defaultStatsInterval   = 30 * time.Second
	defaultRetireGrace     = 5 * time.Second
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("connection pool is closed")

// ConstructionError reports a failed attempt to build a connection. Nothing
// is cached for the identity, so the next Get tries again.
type ConstructionError struct {
	Identity Identity
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("construct connection to %s: %v", e.Identity, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Dialer builds a ready-to-use client for an identity.
type Dialer func(ctx context.Context, id Identity) (*redis.Client, error)

// StatsReporter receives per-connection command counts for one interval.
type StatsReporter func(conn string, sent, received int64)

// Options configures a Pool.
type Options struct {
	Dialer          Dialer
	Reporter        StatsReporter
	RecycleInterval time.Duration // 0 disables forced recycling
	StatsInterval   time.Duration // 0 disables stats sampling
	RetireGrace     time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithDialer overrides how connections are built.
func WithDialer(d Dialer) Option {
	return func(o *Options) { o.Dialer = d }
}

// WithStatsReporter overrides where interval counters go.
func WithStatsReporter(r StatsReporter) Option {
	return func(o *Options) { o.Reporter = r }
}

// WithRecycleInterval sets how often every connection is replaced.
func WithRecycleInterval(d time.Duration) Option {
	return func(o *Options) { o.RecycleInterval = d }
}

// WithStatsInterval sets how often counters are sampled.
func WithStatsInterval(d time.Duration) Option {
	return func(o *Options) { o.StatsInterval = d }
}

// WithRetireGrace sets how long a retired connection stays usable by
// callers that already hold it.
func WithRetireGrace(d time.Duration) Option {
	return func(o *Options) {
		if d >= 0 {
			o.RetireGrace = d
		}
	}
}

// DialerFromOptions returns a Dialer built on services.NewRedisClient, taking
// timeouts and sizing from base and the endpoint from the identity.
func DialerFromOptions(base services.RedisOptions) Dialer {
	return func(ctx context.Context, id Identity) (*redis.Client, error) {
		opts := base
		opts.Address = id.Addr()
		opts.Password = id.Password
		opts.DB = id.DB
		return services.NewRedisClient(ctx, opts)
	}
}

type counters struct {
	sent, received int64
}

// Pool maps identities to shared connections. A Pool is safe for concurrent
// use; construct one per process and Close it on shutdown.
type Pool struct {
	opts  Options
	conns sync.Map // string -> *Conn
	locks sync.Map // string -> *sync.Mutex

	statsMu  sync.Mutex
	baseline map[*Conn]counters

	retireMu sync.Mutex
	retiring map[*Conn]*time.Timer

	closed   atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a pool. Maintenance does not run until Start.
func New(opts ...Option) *Pool {
	o := Options{
		Dialer:          DialerFromOptions(services.RedisOptions{PoolSize: 10, PingRetries: 2}),
		Reporter:        reportToMetrics,
		RecycleInterval: defaultRecycleInterval,
		StatsInterval:   defaultStatsInterval,
		RetireGrace:     defaultRetireGrace,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Pool{
		opts:     o,
		baseline: make(map[*Conn]counters),
		retiring: make(map[*Conn]*time.Timer),
		stop:     make(chan struct{}),
	}
}

// Get returns the live connection for id, building one if there is none or
// the cached one is no longer open.
func (p *Pool) Get(ctx context.Context, id Identity) (*Conn, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	key := id.String()

	if v, ok := p.conns.Load(key); ok {
		if c := v.(*Conn); c.Healthy() {
			return c, nil
		}
	}

	mu := p.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	var stale *Conn
	if v, ok := p.conns.Load(key); ok {
		c := v.(*Conn)
		if c.Healthy() {
			return c, nil
		}
		stale = c
	}

	client, err := p.opts.Dialer(ctx, id)
	if err != nil {
		metrics.PoolConstructions.WithLabelValues("error").Inc()
		if stale != nil && p.conns.CompareAndDelete(key, stale) {
			p.retire(stale)
		}
		return nil, &ConstructionError{Identity: id, Err: err}
	}
	metrics.PoolConstructions.WithLabelValues("ok").Inc()

	c := newConn(id, client)
	p.conns.Store(key, c)
	if stale != nil {
		log.Infof("Replaced %s connection to %s", stale.State(), key)
		p.retire(stale)
	}

	if p.closed.Load() {
		p.conns.CompareAndDelete(key, c)
		_ = c.close()
		return nil, ErrPoolClosed
	}
	return c, nil
}

func (p *Pool) lockFor(key string) *sync.Mutex {
	v, _ := p.locks.LoadOrStore(key, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// retire closes c after the grace period. The caller must already have
// removed c from the map so no new caller can pick it up.
func (p *Pool) retire(c *Conn) {
	c.markClosing()
	metrics.PoolRetirements.Inc()

	p.retireMu.Lock()
	defer p.retireMu.Unlock()
	if _, ok := p.retiring[c]; ok {
		return
	}
	p.retiring[c] = time.AfterFunc(p.opts.RetireGrace, func() {
		p.retireMu.Lock()
		delete(p.retiring, c)
		p.retireMu.Unlock()
		if err := c.close(); err != nil {
			log.Debugf("Ignoring close error for %s: %v", c.id, err)
		}
	})
}

// RecycleAll retires every pooled connection so later lookups build fresh
// ones. Callers holding an old connection keep it for the grace period.
func (p *Pool) RecycleAll() {
	n := 0
	p.conns.Range(func(k, v any) bool {
		if p.conns.CompareAndDelete(k, v) {
			p.retire(v.(*Conn))
			n++
		}
		return true
	})
	if n > 0 {
		log.Infof("Recycled %d redis connection(s)", n)
	}
}

// ReportStats sends the per-connection counter deltas since the previous
// call to the reporter and moves the baseline forward.
func (p *Pool) ReportStats() {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	next := make(map[*Conn]counters, len(p.baseline))
	p.conns.Range(func(k, v any) bool {
		c := v.(*Conn)
		sent, received := c.Counters()
		prev := p.baseline[c]
		p.opts.Reporter(k.(string), sent-prev.sent, received-prev.received)
		next[c] = counters{sent: sent, received: received}
		return true
	})
	p.baseline = next
}

// Len returns the number of pooled connections.
func (p *Pool) Len() int {
	n := 0
	p.conns.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// ConnStats describes one pooled connection.
type ConnStats struct {
	Name     string
	State    State
	Sent     int64
	Received int64
	Age      time.Duration
}

// Stats snapshots every pooled connection.
func (p *Pool) Stats() []ConnStats {
	var out []ConnStats
	p.conns.Range(func(k, v any) bool {
		c := v.(*Conn)
		sent, received := c.Counters()
		out = append(out, ConnStats{
			Name:     k.(string),
			State:    c.State(),
			Sent:     sent,
			Received: received,
			Age:      time.Since(c.created),
		})
		return true
	})
	return out
}

// Close stops maintenance and closes every connection, including ones still
// in their retirement grace period.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	var errs []error
	p.conns.Range(func(k, v any) bool {
		p.conns.Delete(k)
		if err := v.(*Conn).close(); err != nil {
			errs = append(errs, err)
		}
		return true
	})

	p.retireMu.Lock()
	for c, t := range p.retiring {
		if t.Stop() {
			_ = c.close()
		}
		delete(p.retiring, c)
	}
	p.retireMu.Unlock()

	return errors.Join(errs...)
}

func reportToMetrics(conn string, sent, received int64) {
	metrics.RedisCommandsSent.WithLabelValues(conn).Add(float64(sent))
	metrics.RedisCommandsReceived.WithLabelValues(conn).Add(float64(received))
	log.Debugf("Redis %s: %d commands sent, %d received in last interval", conn, sent, received)
}
