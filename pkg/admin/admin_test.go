package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/handler"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code         int             `json:"code"`
	Data         json.RawMessage `json:"data"`
	Message      string          `json:"message"`
	Kind         string          `json:"kind"`
	DatasourceID string          `json:"datasource_id"`
}

var catalog = map[string]*databind.Config{
	"greeting": {ID: "greeting", Type: databind.TypeStatic, Static: &databind.StaticConfig{Data: map[string]any{"hello": "world"}}},
	"echo":     {ID: "echo", Type: "echo"},
	"broken":   {ID: "broken", Type: "broken"},
}

func lookup(id string) (*databind.Config, bool) {
	cfg, ok := catalog[id]
	return cfg, ok
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *databind.Manager) {
	t.Helper()
	collector, err := metrics.New("")
	require.NoError(t, err)

	m := databind.NewManager(databind.WithMetrics(collector))
	t.Cleanup(m.Cleanup)

	require.NoError(t, m.Registry().Register(databind.TypeStatic, handler.NewStatic()))
	require.NoError(t, m.Registry().Register("echo", databind.HandlerFunc(func(ctx context.Context, cfg *databind.Config) (any, error) {
		return map[string]any(databind.ParamsFromContext(ctx)), nil
	})))
	require.NoError(t, m.Registry().Register("broken", databind.HandlerFunc(func(context.Context, *databind.Config) (any, error) {
		return nil, dberrors.ErrNetwork.WithMessage("upstream unavailable")
	})))

	opts = append([]Option{WithMetrics(collector), WithLookup(lookup)}, opts...)
	return New(m, opts...), m
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	w, _ := do(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestFetchAndInspect(t *testing.T) {
	s, _ := newTestServer(t)

	w, env := do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusOK, env.Code)

	var res databind.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, map[string]any{"hello": "world"}, res.Data)
	assert.False(t, res.FromCache)

	// 第二次命中缓存
	_, env = do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.FromCache)

	w, env = do(t, s, http.MethodGet, "/datasources/greeting", "")
	require.Equal(t, http.StatusOK, w.Code)
	var view stateView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Equal(t, "greeting", view.ID)
	assert.False(t, view.Loading)
	assert.Empty(t, view.Error)
	assert.False(t, view.LastFetched.IsZero())

	_, env = do(t, s, http.MethodGet, "/datasources", "")
	var views []stateView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, "greeting", views[0].ID)
}

func TestFetchWithParamsAndPolicy(t *testing.T) {
	s, m := newTestServer(t)

	w, env := do(t, s, http.MethodPost, "/datasources/echo/fetch", `{"policy":"no-cache","params":{"page":2}}`)
	require.Equal(t, http.StatusOK, w.Code)

	var res databind.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, map[string]any{"page": float64(2)}, res.Data)
	assert.Equal(t, 0, m.CacheStats().Size)

	w, env = do(t, s, http.MethodPost, "/datasources/echo/fetch", `{"policy":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(dberrors.KindConfig), env.Kind)

	w, env = do(t, s, http.MethodPost, "/datasources/echo/fetch", `{"policy":"sometimes"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "echo", env.DatasourceID)
}

func TestFetchErrors(t *testing.T) {
	s, _ := newTestServer(t)

	w, env := do(t, s, http.MethodPost, "/datasources/missing/fetch", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1001, env.Code)

	w, env = do(t, s, http.MethodPost, "/datasources/broken/fetch", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, string(dberrors.KindNetwork), env.Kind)
	assert.Equal(t, "broken", env.DatasourceID)
	assert.Contains(t, env.Message, "upstream unavailable")

	// 失败同样会记录在状态中
	_, env = do(t, s, http.MethodGet, "/datasources/broken", "")
	var view stateView
	require.NoError(t, json.Unmarshal(env.Data, &view))
	assert.Contains(t, view.Error, "upstream unavailable")

	noLookup, _ := newTestServer(t, WithLookup(nil))
	w, _ = do(t, noLookup, http.MethodPost, "/datasources/greeting/fetch", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRefetchAndInvalidate(t *testing.T) {
	s, m := newTestServer(t)

	for _, path := range []string{"/datasources/greeting/refetch", "/datasources/greeting/invalidate", "/datasources/greeting"} {
		method := http.MethodPost
		if path == "/datasources/greeting" {
			method = http.MethodGet
		}
		w, _ := do(t, s, method, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}

	do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")
	require.Equal(t, 1, m.CacheStats().Size)

	w, _ := do(t, s, http.MethodPost, "/datasources/greeting/invalidate", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, m.CacheStats().Size)
	st, _ := m.State("greeting")
	assert.True(t, st.IsStale)

	w, env := do(t, s, http.MethodPost, "/datasources/greeting/refetch", "")
	require.Equal(t, http.StatusOK, w.Code)
	var res databind.Result
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.False(t, res.FromCache)
	assert.Equal(t, 1, m.CacheStats().Size)
}

func TestCacheEndpoints(t *testing.T) {
	s, m := newTestServer(t)
	do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")
	do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")

	_, env := do(t, s, http.MethodGet, "/cache/stats", "")
	var stats struct {
		Size int   `json:"size"`
		Hits int64 `json:"hits"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, int64(1), stats.Hits)

	w, _ := do(t, s, http.MethodPost, "/invalidate", "")
	require.Equal(t, http.StatusOK, w.Code)
	st, _ := m.State("greeting")
	assert.True(t, st.IsStale)

	do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")
	w, _ = do(t, s, http.MethodDelete, "/cache", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, m.CacheStats().Size)
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodPost, "/datasources/greeting/fetch", "")

	w, _ := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `databind_fetch_total{datasource="greeting",outcome="success",policy="cache-first"} 1`)
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, WithCORS(&CORSConfig{
		AllowOrigins: []string{"https://*.example.com"},
		AllowHeaders: []string{"Content-Type"},
	}))

	req := httptest.NewRequest(http.MethodOptions, "/datasources", nil)
	req.Header.Set("Origin", "https://studio.example.com")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://studio.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	assert.False(t, matchOrigin("https://.example.com", []string{"https://*.example.com"}))
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()

	cancel()
	require.NoError(t, <-done)
}
