// Package middleware binds HTTP requests to shared session caches.
package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/abdelmounim-dev/session-cache/session"
)

type ctxKey struct{}

type requestSession struct {
	id    string
	cache *session.Cache
}

// Options configures the session cookie.
type Options struct {
	Path     string
	MaxAge   int
	Secure   bool
	SameSite http.SameSite
}

// Option mutates Options.
type Option func(*Options)

// WithCookiePath sets the cookie path. The default is "/".
func WithCookiePath(p string) Option {
	return func(o *Options) { o.Path = p }
}

// WithCookieMaxAge sets the cookie lifetime in seconds. Zero makes it a
// browser session cookie.
func WithCookieMaxAge(seconds int) Option {
	return func(o *Options) { o.MaxAge = seconds }
}

// WithSecureCookie marks the cookie HTTPS-only.
func WithSecureCookie() Option {
	return func(o *Options) { o.Secure = true }
}

// Sessions returns middleware that gives each request the shared cache of
// its session. The session id comes from the named cookie; requests without
// a valid one get a new id and cookie. Changes are flushed after the wrapped
// handler returns.
func Sessions(m *session.Manager, cookieName string, opts ...Option) func(http.Handler) http.Handler {
	o := Options{Path: "/", SameSite: http.SameSiteLaxMode}
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := readID(r, cookieName)
			if !ok {
				id = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cookieName,
					Value:    id,
					Path:     o.Path,
					MaxAge:   o.MaxAge,
					Secure:   o.Secure,
					HttpOnly: true,
					SameSite: o.SameSite,
				})
			}

			cache := m.Acquire(r.Context(), id)
			// The flush must finish even if the client has gone away.
			defer m.End(context.WithoutCancel(r.Context()), id)

			ctx := context.WithValue(r.Context(), ctxKey{}, &requestSession{id: id, cache: cache})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func readID(r *http.Request, cookieName string) (string, bool) {
	c, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return "", false
	}
	return c.Value, true
}

// FromContext returns the session cache bound to the request.
func FromContext(ctx context.Context) (*session.Cache, bool) {
	s, ok := ctx.Value(ctxKey{}).(*requestSession)
	if !ok {
		return nil, false
	}
	return s.cache, true
}

// IDFromContext returns the session id bound to the request.
func IDFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKey{}).(*requestSession)
	if !ok {
		return "", false
	}
	return s.id, true
}
