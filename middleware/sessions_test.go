package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdelmounim-dev/session-cache/session"
)

// recordingStore keeps saved batches per key in memory.
type recordingStore struct {
	mu    sync.Mutex
	saved map[string][]session.Change
}

func (s *recordingStore) Load(context.Context, string) (map[string][]byte, error) {
	return map[string][]byte{}, nil
}

func (s *recordingStore) Save(_ context.Context, key string, batch []session.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[key] = append(s.saved[key], batch...)
	return nil
}

func (s *recordingStore) Delete(context.Context, string) error     { return nil }
func (s *recordingStore) RefreshTTL(context.Context, string) error { return nil }

func setup(t *testing.T, h http.HandlerFunc) (http.Handler, *session.Manager, *recordingStore) {
	t.Helper()
	store := &recordingStore{saved: make(map[string][]session.Change)}
	m := session.NewManager(store)
	return Sessions(m, "SessionId")(h), m, store
}

func TestSessions_MintsIDAndCookie(t *testing.T) {
	var gotID string
	h, m, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		c.Set("visits", 1)
		gotID, _ = IDFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "SessionId", cookies[0].Name)
	assert.Equal(t, gotID, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
	_, err := uuid.Parse(gotID)
	assert.NoError(t, err)

	assert.Equal(t, 0, m.Active())
	require.Len(t, store.saved[gotID], 1)
	assert.Equal(t, "visits", store.saved[gotID][0].Key)
}

func TestSessions_ReusesValidCookie(t *testing.T) {
	id := uuid.NewString()
	h, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		got, ok := IDFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, id, got)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "SessionId", Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Result().Cookies())
}

func TestSessions_ReplacesMalformedCookie(t *testing.T) {
	h, _, _ := setup(t, func(w http.ResponseWriter, r *http.Request) {
		got, _ := IDFromContext(r.Context())
		assert.NotEqual(t, "../../etc", got)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "SessionId", Value: "../../etc"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Len(t, rec.Result().Cookies(), 1)
}

func TestSessions_ConcurrentRequestsShareCache(t *testing.T) {
	id := uuid.NewString()
	entered := make(chan *session.Cache, 2)
	release := make(chan struct{})
	h, m, store := setup(t, func(w http.ResponseWriter, r *http.Request) {
		c, _ := FromContext(r.Context())
		entered <- c
		<-release
	})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.AddCookie(&http.Cookie{Name: "SessionId", Value: id})
			h.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	a, b := <-entered, <-entered
	assert.Same(t, a, b)
	assert.Equal(t, 1, m.Active())
	a.Set("shared", true)
	close(release)
	wg.Wait()

	assert.Equal(t, 0, m.Active())
	require.Len(t, store.saved[id], 1)
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
	_, ok = IDFromContext(context.Background())
	assert.False(t, ok)
}
