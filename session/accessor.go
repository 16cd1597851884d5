package session

import (
	"context"
	"sync"
)

// Accessor gives code outside an HTTP request, such as a background job,
// the shared cache of one session. Close ends the session exactly once.
type Accessor struct {
	m    *Manager
	id   string
	c    *Cache
	once sync.Once
}

// Open acquires the session. An empty id yields an accessor with no session.
func (m *Manager) Open(ctx context.Context, sessionID string) *Accessor {
	a := &Accessor{m: m, id: sessionID}
	if sessionID != "" {
		a.c = m.Acquire(ctx, sessionID)
	}
	return a
}

// ID returns the session id.
func (a *Accessor) ID() string { return a.id }

// Session returns the shared cache, or nil when the accessor has no session.
func (a *Accessor) Session() *Cache { return a.c }

// Close flushes and releases the session.
func (a *Accessor) Close(ctx context.Context) {
	if a.c == nil {
		return
	}
	a.once.Do(func() { a.m.End(ctx, a.id) })
}
