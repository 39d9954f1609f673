package refdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/config"
)

const issBody = `{
  "securities": {
    "columns": ["secid", "shortname", "regnumber", "name", "isin", "is_traded", "type", "primary_boardid", "market"],
    "data": [
      ["SBER", "Сбербанк", "10301481B", "Сбербанк России ПАО ао", "RU0009029540", 1, "common_share", "TQBR", "shares"],
      ["SBERP", "Сбербанк-п", "20301481B", "Сбербанк России ПАО ап", "RU0009029557", 1, "preferred_share", "TQBR", "shares"],
      ["JUNK", "Пустышка", null, "Не торгуется и без ISIN", null, 0, null, null, null]
    ]
  }
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) SecuritiesClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSecuritiesClient(config.SecMasterConfig{
		BaseURL: srv.URL, TimeoutMS: 5000, RPS: 100, Burst: 100,
	})
}

func TestSearchParsesColumnarResponse(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/securities.json", r.URL.Path)
		assert.Equal(t, "Сбербанк", r.URL.Query().Get("q"))
		w.Write([]byte(issBody))
	})

	results, err := client.Search(context.Background(), "Сбербанк", 10)
	require.NoError(t, err)
	require.Len(t, results, 2, "untraded instruments without ISIN are dropped")

	assert.Equal(t, "SBER", results[0].Ticker)
	assert.Equal(t, "Сбербанк", results[0].ShortName)
	assert.Equal(t, "RU0009029540", results[0].ISIN)
	assert.True(t, results[0].IsTraded)
	assert.Equal(t, "TQBR", results[0].PrimaryBoard)
	assert.Equal(t, "shares", results[0].Market)
}

func TestCachedClientHitsUpstreamOnce(t *testing.T) {
	var calls atomic.Int64
	inner := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(issBody))
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := WithCache(inner, rdb, time.Hour)

	ctx := context.Background()
	first, err := client.Search(ctx, "Сбербанк", 10)
	require.NoError(t, err)
	second, err := client.Search(ctx, "Сбербанк", 10)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())

	// different query misses the cache
	_, err = client.Search(ctx, "Газпром", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestCacheExpiry(t *testing.T) {
	var calls atomic.Int64
	inner := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(issBody))
	})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := WithCache(inner, rdb, time.Minute)

	ctx := context.Background()
	_, err := client.Search(ctx, "Сбербанк", 10)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = client.Search(ctx, "Сбербанк", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}
