// Package server exposes the session cache over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/abdelmounim-dev/session-cache/log"
	"github.com/abdelmounim-dev/session-cache/metrics"
	"github.com/abdelmounim-dev/session-cache/middleware"
	"github.com/abdelmounim-dev/session-cache/session"
)

// Options configures a Server.
type Options struct {
	CookieName   string
	MetricsPath  string // empty disables the in-process /metrics route
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Cookie       []middleware.Option
}

// Option mutates Options.
type Option func(*Options)

// WithCookieName sets the session cookie name.
func WithCookieName(name string) Option {
	return func(o *Options) { o.CookieName = name }
}

// WithMetricsRoute serves Prometheus metrics on path from the same listener.
func WithMetricsRoute(path string) Option {
	return func(o *Options) { o.MetricsPath = path }
}

// WithTimeouts sets the HTTP read and write timeouts.
func WithTimeouts(read, write time.Duration) Option {
	return func(o *Options) {
		o.ReadTimeout = read
		o.WriteTimeout = write
	}
}

// WithCookieOptions passes cookie settings to the session middleware.
func WithCookieOptions(opts ...middleware.Option) Option {
	return func(o *Options) { o.Cookie = append(o.Cookie, opts...) }
}

// Server serves the session API.
type Server struct {
	opts       Options
	manager    *session.Manager
	router     *mux.Router
	httpServer *http.Server
}

// New creates a server listening on addr.
func New(addr string, m *session.Manager, opts ...Option) *Server {
	o := Options{
		CookieName:   "SessionId",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		opts:    o,
		manager: m,
		router:  mux.NewRouter(),
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  o.ReadTimeout,
		WriteTimeout: o.WriteTimeout,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.opts.MetricsPath != "" {
		s.router.Handle(s.opts.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/session").Subrouter()
	api.Use(middleware.Sessions(s.manager, s.opts.CookieName, s.opts.Cookie...))
	api.HandleFunc("", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("", s.handleAbandon).Methods(http.MethodDelete)
	api.HandleFunc("/{field}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{field}", s.handlePut).Methods(http.MethodPut)
	api.HandleFunc("/{field}", s.handleDelete).Methods(http.MethodDelete)
}

// Start serves until Shutdown. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	log.Infof("Session server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("session server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, which
// flush their sessions on the way out.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Infof("Shutting down session server, %d sessions in use", s.manager.Active())
	return s.httpServer.Shutdown(ctx)
}

type listResponse struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_sessions": s.manager.Active()})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.FromContext(r.Context())
	id, _ := middleware.IDFromContext(r.Context())

	resp := listResponse{ID: id, Fields: make(map[string]any)}
	c.Range(func(k string, v any) bool {
		resp.Fields[k] = v
		return true
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.FromContext(r.Context())
	field := mux.Vars(r)["field"]

	v, ok := c.Get(field)
	if !ok {
		http.Error(w, "field not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.FromContext(r.Context())
	field := mux.Vars(r)["field"]

	var v any
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		http.Error(w, "body must be a JSON value", http.StatusBadRequest)
		return
	}
	c.Set(field, v)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	c, _ := middleware.FromContext(r.Context())
	c.Remove(mux.Vars(r)["field"])
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAbandon(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IDFromContext(r.Context())
	s.manager.Abandon(r.Context(), id)
	http.SetCookie(w, &http.Cookie{Name: s.opts.CookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("Failed to write response: %v", err)
	}
}
