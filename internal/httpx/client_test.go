package httpx

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/apperr"
)

func TestGetJSONDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ping", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := New(Options{Name: "test", BaseURL: srv.URL, APIKey: "secret", RPS: 100})

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/v1/ping", nil, &out))
	assert.True(t, out.OK)
}

func TestGetJSONMapsStatusCodes(t *testing.T) {
	tests := []struct {
		status int
		kind   apperr.Kind
	}{
		{http.StatusNotFound, apperr.KindNotFound},
		{http.StatusUnauthorized, apperr.KindUnauthorized},
		{http.StatusForbidden, apperr.KindUnauthorized},
		{http.StatusInternalServerError, apperr.KindDownstreamFailure},
		{http.StatusTooManyRequests, apperr.KindDownstreamFailure},
		{http.StatusTeapot, apperr.KindDataValidation},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(Options{Name: "test", BaseURL: srv.URL, RPS: 100})

		var out map[string]interface{}
		err := c.GetJSON(context.Background(), "/x", nil, &out)
		assert.Equal(t, tt.kind, apperr.KindOf(err), "status %d", tt.status)
		srv.Close()
	}
}

func TestPostJSONSendsBodyAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/extract", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"hello"}`, string(body))

		w.Write([]byte(`{"confidence": 0.9}`))
	}))
	defer srv.Close()

	c := New(Options{Name: "test", BaseURL: srv.URL, RPS: 100})

	payload := map[string]string{"text": "hello"}
	var out struct {
		Confidence float64 `json:"confidence"`
	}
	require.NoError(t, c.PostJSON(context.Background(), "/extract", payload, &out))
	assert.Equal(t, 0.9, out.Confidence)
}

func TestPostJSONNilOutSkipsDecode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json at all`))
	}))
	defer srv.Close()

	c := New(Options{Name: "test", BaseURL: srv.URL, RPS: 100})
	assert.NoError(t, c.PostJSON(context.Background(), "/fire", map[string]int{"n": 1}, nil))
}

func TestPostJSONMapsServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Options{Name: "test", BaseURL: srv.URL, RPS: 100})
	err := c.PostJSON(context.Background(), "/x", map[string]int{}, nil)
	assert.Equal(t, apperr.KindDownstreamFailure, apperr.KindOf(err))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Options{Name: "test", BaseURL: srv.URL, RPS: 1000, Burst: 1000})

	var out map[string]interface{}
	for i := 0; i < 10; i++ {
		err := c.GetJSON(context.Background(), "/x", nil, &out)
		assert.Equal(t, apperr.KindDownstreamFailure, apperr.KindOf(err))
	}
	// breaker opened after 5 consecutive failures; the rest never hit the server
	assert.Equal(t, int64(5), calls.Load())
}

func TestContextCancellationStopsLimiterWait(t *testing.T) {
	c := New(Options{Name: "test", BaseURL: "http://localhost:0", RPS: 0.001, Burst: 1})

	var out map[string]interface{}
	// consume the single burst token
	_ = c.GetJSON(context.Background(), "/x", nil, &out)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.GetJSON(ctx, "/x", nil, &out)
	assert.Equal(t, apperr.KindShutdown, apperr.KindOf(err))
}
