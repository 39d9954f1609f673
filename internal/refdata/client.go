// Package refdata mirrors the securities master: issuer records, exchange
// search, and sector constituents.
package refdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/httpx"
)

// Security is one instrument returned by the securities-master search.
type Security struct {
	Ticker       string `json:"ticker"`
	ShortName    string `json:"short_name"`
	FullName     string `json:"full_name"`
	ISIN         string `json:"isin,omitempty"`
	IsTraded     bool   `json:"is_traded"`
	Market       string `json:"market,omitempty"`
	Type         string `json:"type,omitempty"`
	PrimaryBoard string `json:"primary_board,omitempty"`
}

// SecuritiesClient searches the securities master.
type SecuritiesClient interface {
	// Search returns instruments matching the free-text query. Results with
	// neither an ISIN nor a traded flag are filtered out.
	Search(ctx context.Context, query string, limit int) ([]Security, error)
}

// issClient talks to the exchange's ISS-style JSON API, where each section is
// a columns array plus rows of positional values.
type issClient struct {
	http *httpx.Client
}

// NewSecuritiesClient builds the HTTP-backed securities-master client.
func NewSecuritiesClient(cfg config.SecMasterConfig) SecuritiesClient {
	return &issClient{
		http: httpx.New(httpx.Options{
			Name:    "securities_master",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
			RPS:     cfg.RPS,
			Burst:   cfg.Burst,
		}),
	}
}

type issResponse struct {
	Securities struct {
		Columns []string        `json:"columns"`
		Data    [][]interface{} `json:"data"`
	} `json:"securities"`
}

func (c *issClient) Search(ctx context.Context, query string, limit int) ([]Security, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("iss.meta", "off")
	params.Set("iss.only", "securities")

	var resp issResponse
	if err := c.http.GetJSON(ctx, "/securities.json", params, &resp); err != nil {
		return nil, fmt.Errorf("securities search %q: %w", query, err)
	}

	colIndex := make(map[string]int, len(resp.Securities.Columns))
	for i, col := range resp.Securities.Columns {
		colIndex[col] = i
	}

	var results []Security
	for _, row := range resp.Securities.Data {
		sec := Security{
			Ticker:       stringAt(row, colIndex, "secid"),
			ShortName:    stringAt(row, colIndex, "shortname"),
			FullName:     stringAt(row, colIndex, "name"),
			ISIN:         stringAt(row, colIndex, "isin"),
			IsTraded:     numberAt(row, colIndex, "is_traded") == 1,
			Market:       stringAt(row, colIndex, "market"),
			Type:         stringAt(row, colIndex, "type"),
			PrimaryBoard: stringAt(row, colIndex, "primary_boardid"),
		}
		if sec.Ticker == "" {
			continue
		}
		// only instruments that are identifiable or actually trade
		if sec.ISIN == "" && !sec.IsTraded {
			continue
		}
		results = append(results, sec)
	}
	return results, nil
}

func stringAt(row []interface{}, index map[string]int, col string) string {
	i, ok := index[col]
	if !ok || i >= len(row) || row[i] == nil {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func numberAt(row []interface{}, index map[string]int, col string) float64 {
	i, ok := index[col]
	if !ok || i >= len(row) || row[i] == nil {
		return 0
	}
	f, _ := row[i].(float64)
	return f
}

// cachedClient memoizes search results in redis. Reference data moves
// slowly, so a day-long TTL is safe.
type cachedClient struct {
	inner SecuritiesClient
	rdb   *redis.Client
	ttl   time.Duration
}

// WithCache wraps a client with a redis search cache.
func WithCache(inner SecuritiesClient, rdb *redis.Client, ttl time.Duration) SecuritiesClient {
	return &cachedClient{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *cachedClient) Search(ctx context.Context, query string, limit int) ([]Security, error) {
	key := fmt.Sprintf("refdata:search:%s:%d", query, limit)

	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var cached []Security
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached, nil
		}
	}

	results, err := c.inner.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(results); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			log.Debug().Err(err).Str("key", key).Msg("refdata cache write failed")
		}
	}
	return results, nil
}
