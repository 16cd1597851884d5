package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
)

// State is the lifecycle state of a pooled connection.
type State int32

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a shared Redis client for one Identity. It counts commands sent
// and replies received, and notices when its client has been closed.
type Conn struct {
	id       Identity
	client   *redis.Client
	created  time.Time
	state    atomic.Int32
	sent     atomic.Int64
	received atomic.Int64
}

func newConn(id Identity, client *redis.Client) *Conn {
	c := &Conn{id: id, client: client, created: time.Now()}
	client.AddHook(counterHook{conn: c})
	return c
}

// Client returns the underlying go-redis client. Do not close it directly.
func (c *Conn) Client() *redis.Client { return c.client }

// Identity returns the server this connection talks to.
func (c *Conn) Identity() Identity { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Healthy reports whether the connection can still be handed out.
func (c *Conn) Healthy() bool { return c.State() == StateOpen }

// Counters returns totals since the connection was created.
func (c *Conn) Counters() (sent, received int64) {
	return c.sent.Load(), c.received.Load()
}

func (c *Conn) markClosing() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
}

func (c *Conn) markBroken() {
	c.state.CompareAndSwap(int32(StateOpen), int32(StateClosed))
}

func (c *Conn) close() error {
	c.state.Store(int32(StateClosed))
	if err := c.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// counterHook feeds Conn counters and flags a closed client.
type counterHook struct {
	conn *Conn
}

func (h counterHook) BeforeProcess(ctx context.Context, _ redis.Cmder) (context.Context, error) {
	h.conn.sent.Add(1)
	return ctx, nil
}

func (h counterHook) AfterProcess(_ context.Context, cmd redis.Cmder) error {
	h.observe(cmd.Err())
	return nil
}

func (h counterHook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	h.conn.sent.Add(int64(len(cmds)))
	return ctx, nil
}

func (h counterHook) AfterProcessPipeline(_ context.Context, cmds []redis.Cmder) error {
	for _, cmd := range cmds {
		h.observe(cmd.Err())
	}
	return nil
}

func (h counterHook) observe(err error) {
	switch {
	case err == nil, errors.Is(err, redis.Nil):
		h.conn.received.Add(1)
	case errors.Is(err, redis.ErrClosed):
		h.conn.markBroken()
	}
}
