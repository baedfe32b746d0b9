package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/databind"
	"github.com/tokmz/databind/pkg/cache"
	dberrors "github.com/tokmz/databind/pkg/errors"
	"github.com/tokmz/databind/pkg/request"
)

// recordingTransport 记录最近一次请求
type recordingTransport struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	resp    *request.Response
	err     error
}

func (r *recordingTransport) Send(_ context.Context, method, url string, headers map[string]string, body []byte) (*request.Response, error) {
	r.method, r.url, r.headers, r.body = method, url, headers, body
	return r.resp, r.err
}

func jsonResponse(status int, body string) *request.Response {
	return &request.Response{
		StatusCode: status,
		Headers:    http.Header{"Content-Type": []string{"application/json; charset=utf-8"}},
		Body:       []byte(body),
	}
}

func httpConfig(hc *databind.HTTPConfig) *databind.Config {
	return &databind.Config{ID: "weather", Type: databind.TypeHTTP, HTTP: hc}
}

func TestHTTPBuildsSortedQuery(t *testing.T) {
	tr := &recordingTransport{resp: jsonResponse(200, `{}`)}
	h := NewHTTP(tr, nil)

	_, err := h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL:         "https://api.example.com/v1/weather?units=metric",
		QueryParams: map[string]any{"city": "Oslo", "days": 3, "detail": true},
	}))
	require.NoError(t, err)

	assert.Equal(t, http.MethodGet, tr.method)
	assert.Equal(t, "https://api.example.com/v1/weather?city=Oslo&days=3&detail=true&units=metric", tr.url)
	assert.Nil(t, tr.body)
}

func TestHTTPParamsOverrideQuery(t *testing.T) {
	tr := &recordingTransport{resp: jsonResponse(200, `{}`)}
	h := NewHTTP(tr, nil)

	ctx := context.Background()
	m := databind.NewManager()
	require.NoError(t, m.Registry().Register(databind.TypeHTTP, h))
	defer m.Cleanup()

	_, err := m.Fetch(ctx, httpConfig(&databind.HTTPConfig{
		URL:         "https://api.example.com/items",
		QueryParams: map[string]any{"page": 1},
	}), databind.WithParams(cache.Params{"page": 2}))
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/items?page=2", tr.url)
}

func TestHTTPBodyOmittedForGetAndDelete(t *testing.T) {
	for _, method := range []string{"GET", "delete"} {
		tr := &recordingTransport{resp: jsonResponse(200, `{}`)}
		_, err := NewHTTP(tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
			URL: "https://x", Method: method, Body: map[string]any{"a": 1},
		}))
		require.NoError(t, err)
		assert.Nil(t, tr.body, method)
	}

	tr := &recordingTransport{resp: jsonResponse(200, `{}`)}
	_, err := NewHTTP(tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL: "https://x", Method: "post", Body: map[string]any{"a": 1}, Headers: map[string]string{"X-Tenant": "t1"},
	}))
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, tr.method)
	assert.JSONEq(t, `{"a":1}`, string(tr.body))
	assert.Equal(t, "application/json", tr.headers["Content-Type"])
	assert.Equal(t, "t1", tr.headers["X-Tenant"])
}

func TestHTTPLowercaseContentTypeWins(t *testing.T) {
	tr := &recordingTransport{resp: jsonResponse(200, `{}`)}
	_, err := NewHTTP(tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL: "https://x", Method: "POST", Body: "raw", Headers: map[string]string{"content-type": "text/plain", "x-tenant": "t1"},
	}))
	require.NoError(t, err)

	// 配置的小写头与默认 Content-Type 归一为同一个键
	assert.Equal(t, map[string]string{"Content-Type": "text/plain", "X-Tenant": "t1"}, tr.headers)
}

func TestHTTPParsesByContentType(t *testing.T) {
	tr := &recordingTransport{resp: &request.Response{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte("hello"),
	}}
	data, err := NewHTTP(tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x"}))
	require.NoError(t, err)
	assert.Equal(t, "hello", data)

	tr.resp = jsonResponse(200, `{"temp":72}`)
	data, err = NewHTTP(tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temp": float64(72)}, data)
}

func TestHTTPTransform(t *testing.T) {
	tr := &recordingTransport{resp: jsonResponse(200, `{"data":{"items":[{"name":"a"},{"name":"b"}]}}`)}
	h := NewHTTP(tr, nil)

	data, err := h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x", Transform: "data.items.1.name"}))
	require.NoError(t, err)
	assert.Equal(t, "b", data)

	data, err = h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x", Transform: "data.missing.name"}))
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestHTTPTransformFuncFailures(t *testing.T) {
	tr := &recordingTransport{resp: jsonResponse(200, `{"v":1}`)}
	h := NewHTTP(tr, nil)

	_, err := h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL:           "https://x",
		TransformFunc: func(any) (any, error) { return nil, errors.New("bad shape") },
	}))
	assert.Equal(t, dberrors.KindTransform, dberrors.KindOf(err))

	_, err = h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL: "https://x",
		TransformFunc: func(data any) (any, error) {
			return data.([]any)[0], nil
		},
	}))
	require.Error(t, err)
	assert.Equal(t, dberrors.KindTransform, dberrors.KindOf(err))
	assert.Contains(t, err.Error(), "transform panic")
}

func TestHTTPNetworkErrors(t *testing.T) {
	cause := errors.New("connection refused")

	tests := []struct {
		name string
		tr   *recordingTransport
	}{
		{"non 2xx", &recordingTransport{resp: jsonResponse(503, `{}`)}},
		{"transport failure", &recordingTransport{err: cause}},
		{"invalid json", &recordingTransport{resp: jsonResponse(200, `{`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHTTP(tt.tr, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x"}))
			require.Error(t, err)
			assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))

			var e *dberrors.Error
			require.True(t, errors.As(err, &e))
			assert.Equal(t, "weather", e.DatasourceID)
		})
	}

	_, err := NewHTTP(&recordingTransport{err: cause}, nil).Fetch(context.Background(), httpConfig(&databind.HTTPConfig{URL: "https://x"}))
	assert.ErrorIs(t, err, cause)
}

func TestHTTPMissingURL(t *testing.T) {
	_, err := NewHTTP(&recordingTransport{}, nil).Fetch(context.Background(), httpConfig(nil))
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))
}

func TestHTTPDefaultTransportWithAuth(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"t":72}}`))
	}))
	defer srv.Close()

	h := NewHTTP(NewTransport(func() string { return "tok" }), nil)
	data, err := h.Fetch(context.Background(), httpConfig(&databind.HTTPConfig{
		URL:         srv.URL + "/weather",
		QueryParams: map[string]any{"b": 2, "a": "x"},
		Transform:   "data",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "a=x&b=2", gotQuery)
	assert.Equal(t, map[string]any{"t": float64(72)}, data)
}

func TestHTTPAbortIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := NewHTTP(NewTransport(nil), nil).Fetch(ctx, httpConfig(&databind.HTTPConfig{URL: srv.URL}))
	require.Error(t, err)
	assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))
	assert.Contains(t, err.Error(), "request aborted")
}

func TestNavigate(t *testing.T) {
	data := map[string]any{
		"a": map[string]any{"b": []any{map[string]any{"c": 1}}},
	}
	assert.Equal(t, 1, Navigate(data, "a.b.0.c"))
	assert.Nil(t, Navigate(data, "a.b.1.c"))
	assert.Nil(t, Navigate(data, "a.b.x"))
	assert.Nil(t, Navigate(data, "a.b.0.c.d"))
	assert.Equal(t, data, Navigate(data, ""))
}

func TestStatic(t *testing.T) {
	data, err := NewStatic().Fetch(context.Background(), &databind.Config{
		ID: "s", Type: databind.TypeStatic, Static: &databind.StaticConfig{Data: []any{1, 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, data)

	data, err = NewStatic().Fetch(context.Background(), &databind.Config{ID: "s", Type: databind.TypeStatic})
	require.NoError(t, err)
	assert.Nil(t, data)
}
