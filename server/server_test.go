package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/session-cache/pool"
	"github.com/abdelmounim-dev/session-cache/session"
)

// setupServer runs the full stack against miniredis: pool, RedisStore,
// manager and HTTP routes.
func setupServer(t *testing.T) (*httptest.Server, *http.Client, *miniredis.Miniredis, *session.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	id, err := pool.ParseIdentity(mr.Addr())
	require.NoError(t, err)

	p := pool.New(
		pool.WithDialer(func(_ context.Context, id pool.Identity) (*redis.Client, error) {
			return redis.NewClient(&redis.Options{Addr: id.Addr()}), nil
		}),
		pool.WithRecycleInterval(0),
		pool.WithStatsInterval(0),
	)
	store, err := session.NewRedisStore(p, id, time.Hour, 4)
	require.NoError(t, err)
	m := session.NewManager(store, session.WithKeyPrefix("sess:"))

	ts := httptest.NewServer(New("", m, WithMetricsRoute("/metrics")).Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = store.Close()
		_ = p.Close()
	})

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return ts, &http.Client{Jar: jar, Timeout: 5 * time.Second}, mr, m
}

func do(t *testing.T, c *http.Client, method, url, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestServer_SessionLifecycle(t *testing.T) {
	ts, client, mr, m := setupServer(t)

	code, _ := do(t, client, http.MethodPut, ts.URL+"/session/user", `"ann"`)
	require.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, client, http.MethodPut, ts.URL+"/session/cart", `["apple","pear"]`)
	require.Equal(t, http.StatusNoContent, code)

	code, body := do(t, client, http.MethodGet, ts.URL+"/session/user", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `"ann"`, body)

	code, body = do(t, client, http.MethodGet, ts.URL+"/session", "")
	require.Equal(t, http.StatusOK, code)
	var list listResponse
	require.NoError(t, json.Unmarshal([]byte(body), &list))
	assert.Equal(t, map[string]any{"user": "ann", "cart": []any{"apple", "pear"}}, list.Fields)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "sess:"+list.ID, keys[0])
	assert.NotEmpty(t, mr.HGet(keys[0], "user"))
	assert.Equal(t, time.Hour, mr.TTL(keys[0]))

	code, _ = do(t, client, http.MethodDelete, ts.URL+"/session/user", "")
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = do(t, client, http.MethodGet, ts.URL+"/session/user", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Eventually(t, func() bool { return mr.HGet(keys[0], "user") == "" }, time.Second, 10*time.Millisecond)

	code, _ = do(t, client, http.MethodDelete, ts.URL+"/session", "")
	assert.Equal(t, http.StatusNoContent, code)
	assert.Eventually(t, func() bool { return !mr.Exists(keys[0]) }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, m.Active())
}

func TestServer_SessionsAreIsolated(t *testing.T) {
	ts, alice, _, _ := setupServer(t)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	bob := &http.Client{Jar: jar}

	do(t, alice, http.MethodPut, ts.URL+"/session/name", `"alice"`)
	do(t, bob, http.MethodPut, ts.URL+"/session/name", `"bob"`)

	_, body := do(t, alice, http.MethodGet, ts.URL+"/session/name", "")
	assert.JSONEq(t, `"alice"`, body)
	_, body = do(t, bob, http.MethodGet, ts.URL+"/session/name", "")
	assert.JSONEq(t, `"bob"`, body)
}

func TestServer_RejectsBadBody(t *testing.T) {
	ts, client, _, _ := setupServer(t)

	code, _ := do(t, client, http.MethodPut, ts.URL+"/session/x", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts, client, _, _ := setupServer(t)

	code, body := do(t, client, http.MethodGet, ts.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok","active_sessions":0}`, body)

	do(t, client, http.MethodPut, ts.URL+"/session/x", `1`)
	code, body = do(t, client, http.MethodGet, ts.URL+"/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "session_loads_total")
	assert.Contains(t, body, "session_flushed_fields_total")
}
