package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/panjf2000/ants/v2"

	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
	"github.com/abdelmounim-dev/session-cache/pool"
)

const (
	defaultAsyncWorkers      = 64
	defaultBackgroundTimeout = 5 * time.Second
)

// RedisStore implements the Store interface on Redis hashes, one hash per
// session. Writes are confirmed; deletes and TTL refreshes after a load are
// sent from a worker pool without waiting for the reply.
type RedisStore struct {
	pool     *pool.Pool
	identity func(ctx context.Context) pool.Identity
	ttl      time.Duration
	timeout  time.Duration
	workers  *ants.Pool

	mu      sync.Mutex
	pending map[string]*pendingTasks
}

// pendingTasks counts background deletes still in flight for one key.
type pendingTasks struct {
	wg sync.WaitGroup
	n  int
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithIdentityResolver picks the Redis server per call, for deployments that
// spread sessions over several servers.
func WithIdentityResolver(fn func(ctx context.Context) pool.Identity) RedisStoreOption {
	return func(s *RedisStore) { s.identity = fn }
}

// WithBackgroundTimeout bounds each fire-and-forget command.
func WithBackgroundTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewRedisStore creates a RedisStore on connections from p. workers bounds
// how many background commands run at once; zero uses a default.
func NewRedisStore(p *pool.Pool, id pool.Identity, ttl time.Duration, workers int, opts ...RedisStoreOption) (*RedisStore, error) {
	if workers <= 0 {
		workers = defaultAsyncWorkers
	}
	wp, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create background worker pool: %w", err)
	}
	s := &RedisStore{
		pool:     p,
		identity: func(context.Context) pool.Identity { return id },
		ttl:      ttl,
		timeout:  defaultBackgroundTimeout,
		workers:  wp,
		pending:  make(map[string]*pendingTasks),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) client(ctx context.Context) (*redis.Client, error) {
	conn, err := s.pool.Get(ctx, s.identity(ctx))
	if err != nil {
		return nil, err
	}
	return conn.Client(), nil
}

// Load retrieves the session hash and pushes its expiry forward.
func (s *RedisStore) Load(ctx context.Context, key string) (map[string][]byte, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}
	fields, err := client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", key, err)
	}

	s.background(ctx, "expire", "", func(ctx context.Context, c *redis.Client) error {
		return c.Expire(ctx, key, s.ttl).Err()
	})

	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}

// Save writes the batch's new field values and resets the TTL in one
// transaction and waits for it. Deleted fields are removed in the background.
func (s *RedisStore) Save(ctx context.Context, key string, batch []Change) error {
	writes := make(map[string]interface{})
	var deletes []string
	for _, ch := range batch {
		switch ch.Op {
		case OpWrite:
			writes[ch.Key] = ch.Wire
		case OpDelete:
			deletes = append(deletes, ch.Key)
		}
	}

	if len(writes) > 0 {
		// An older background delete of the same field must not land after this write.
		s.waitPending(key)

		client, err := s.client(ctx)
		if err != nil {
			return fmt.Errorf("failed to save session %s: %w", key, err)
		}
		pipe := client.TxPipeline()
		pipe.HSet(ctx, key, writes)
		pipe.Expire(ctx, key, s.ttl)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to save session %s: %w", key, err)
		}
		metrics.FlushedFields.WithLabelValues(OpWrite.String()).Add(float64(len(writes)))
	}

	if len(deletes) > 0 {
		s.background(ctx, "hdel", key, func(ctx context.Context, c *redis.Client) error {
			return c.HDel(ctx, key, deletes...).Err()
		})
		metrics.FlushedFields.WithLabelValues(OpDelete.String()).Add(float64(len(deletes)))
	}
	return nil
}

// Delete removes the session hash without waiting for the reply.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	s.background(ctx, "del", key, func(ctx context.Context, c *redis.Client) error {
		return c.Del(ctx, key).Err()
	})
	return nil
}

// RefreshTTL updates the expiration time of a session hash.
func (s *RedisStore) RefreshTTL(ctx context.Context, key string) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}
	// A missing key is a no-op.
	return client.Expire(ctx, key, s.ttl).Err()
}

// Close waits up to the background timeout for in-flight commands and stops
// the worker pool.
func (s *RedisStore) Close() error {
	return s.workers.ReleaseTimeout(s.timeout)
}

// background runs fn on a worker with its own deadline. Failures are logged
// and counted, never returned. A non-empty ordered key makes later writes to
// that key wait for fn.
func (s *RedisStore) background(ctx context.Context, command, ordered string, fn func(context.Context, *redis.Client) error) {
	id := s.identity(ctx)
	done := func() {}
	if ordered != "" {
		done = s.track(ordered)
	}

	task := func() {
		defer done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		conn, err := s.pool.Get(ctx, id)
		if err == nil {
			err = fn(ctx, conn.Client())
		}
		if err != nil {
			metrics.BackgroundFailures.WithLabelValues(command).Inc()
			log.Warnf("Background %s failed: %v", command, err)
		}
	}

	if err := s.workers.Submit(task); err != nil {
		log.Debugf("Running %s inline: %v", command, err)
		task()
	}
}

func (s *RedisStore) track(key string) func() {
	s.mu.Lock()
	t, ok := s.pending[key]
	if !ok {
		t = &pendingTasks{}
		s.pending[key] = t
	}
	t.n++
	t.wg.Add(1)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		t.n--
		if t.n == 0 {
			delete(s.pending, key)
		}
		s.mu.Unlock()
		t.wg.Done()
	}
}

func (s *RedisStore) waitPending(key string) {
	s.mu.Lock()
	t := s.pending[key]
	s.mu.Unlock()
	if t != nil {
		t.wg.Wait()
	}
}
