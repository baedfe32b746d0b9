package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	dberrors "github.com/tokmz/databind/pkg/errors"
)

func TestSendMergesHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "app", r.Header.Get("X-Client"))
		assert.Equal(t, "t2", r.Header.Get("X-Tenant"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"msg":"ok"}`))
	}))
	defer srv.Close()

	client := New(WithHeaders(map[string]string{"X-Client": "app", "X-Tenant": "t1"}))
	resp, err := client.Send(context.Background(), http.MethodGet, srv.URL, map[string]string{"X-Tenant": "t2"}, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.True(t, resp.IsJSON())

	var body map[string]string
	require.NoError(t, resp.Decode(&body))
	assert.Equal(t, "ok", body["msg"])
}

func TestSendBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.JSONEq(t, `{"name":"oslo"}`, string(b))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	resp, err := New().Send(context.Background(), http.MethodPost, srv.URL, map[string]string{"Content-Type": "application/json"}, []byte(`{"name":"oslo"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestNon2xxIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	resp, err := New().Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.False(t, resp.IsJSON())
	assert.Contains(t, resp.String(), "nope")
}

func TestInvalidRequest(t *testing.T) {
	_, err := New().Send(context.Background(), "BAD METHOD", "http://localhost", nil, nil)
	require.Error(t, err)
	assert.Equal(t, dberrors.KindConfig, dberrors.KindOf(err))
}

func TestAuthInterceptor(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	token := "first"
	client := New(WithInterceptor(NewAuthInterceptor(func() string { return token })))

	_, err := client.Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	token = "second"
	_, err = client.Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	_, err = client.Send(context.Background(), http.MethodGet, srv.URL, map[string]string{"Authorization": "Basic abc"}, nil)
	require.NoError(t, err)
	token = ""
	_, err = client.Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Bearer first", "Bearer second", "Basic abc", ""}, seen)
}

type rejectingInterceptor struct {
	before, after error
	calls         int
}

func (r *rejectingInterceptor) BeforeRequest(context.Context, *http.Request) error {
	r.calls++
	return r.before
}

func (r *rejectingInterceptor) AfterResponse(context.Context, *Response) error {
	return r.after
}

func TestInterceptorErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	denied := errors.New("denied")
	_, err := New(WithInterceptor(&rejectingInterceptor{before: denied})).
		Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, int32(0), hits.Load())

	resp, err := New(WithInterceptor(&rejectingInterceptor{after: denied})).
		Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	assert.ErrorIs(t, err, denied)
	assert.NotNil(t, resp)
	assert.Equal(t, int32(1), hits.Load())
}

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		assert.Equal(t, "payload", string(b))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	resp, err := New(WithRetry(fastRetry(3))).Send(context.Background(), http.MethodPost, srv.URL, nil, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	resp, err := New(WithRetry(fastRetry(2))).Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())

	_, err = New(WithRetry(fastRetry(2))).Send(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetry)
	assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))
}

func TestRetrySkipsClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := New(WithRetry(fastRetry(3))).Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBackoffBounds(t *testing.T) {
	rc := DefaultRetryConfig()
	for attempt := 0; attempt < 10; attempt++ {
		d := rc.backoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, rc.MaxDelay+rc.MaxDelay/4)
	}
}

func TestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	_, err := New(WithTimeout(30*time.Millisecond)).Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, dberrors.KindTimeout, dberrors.KindOf(err))
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := New().Send(ctx, http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, dberrors.KindNetwork, dberrors.KindOf(err))
}

func TestTracingPropagatesContext(t *testing.T) {
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})

	var traceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("Traceparent")
	}))
	defer srv.Close()

	_, err := New(WithTracing(true)).Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, traceparent)

	traceparent = ""
	_, err = New().Send(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, traceparent)
}
