package study

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/httpx"
)

// IntervalDay is the daily candle interval code of the exchange API.
const IntervalDay = 24

const issTimeLayout = "2006-01-02 15:04:05"

// Candle is one OHLCV bar.
type Candle struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// PriceClient fetches historical candles for one instrument.
type PriceClient interface {
	Candles(ctx context.Context, ticker string, from, to time.Time, interval int) ([]Candle, error)
}

// issPriceClient reads candles from the exchange ISS endpoint. The response
// is columnar: a list of column names plus rows of values.
type issPriceClient struct {
	http *httpx.Client
}

// NewPriceClient builds the exchange-backed price client.
func NewPriceClient(cfg config.PriceAPIConfig) PriceClient {
	return &issPriceClient{
		http: httpx.New(httpx.Options{
			Name:    "price-api",
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
			RPS:     cfg.RPS,
			Burst:   cfg.Burst,
		}),
	}
}

type candlesResponse struct {
	Candles struct {
		Columns []string        `json:"columns"`
		Data    [][]interface{} `json:"data"`
	} `json:"candles"`
}

func (c *issPriceClient) Candles(ctx context.Context, ticker string, from, to time.Time, interval int) ([]Candle, error) {
	q := url.Values{}
	q.Set("from", from.Format(issTimeLayout))
	q.Set("till", to.Format(issTimeLayout))
	q.Set("interval", fmt.Sprintf("%d", interval))
	q.Set("iss.meta", "off")

	var resp candlesResponse
	path := fmt.Sprintf("/engines/stock/markets/shares/securities/%s/candles.json", ticker)
	if err := c.http.GetJSON(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	col := make(map[string]int, len(resp.Candles.Columns))
	for i, name := range resp.Candles.Columns {
		col[name] = i
	}

	candles := make([]Candle, 0, len(resp.Candles.Data))
	for _, row := range resp.Candles.Data {
		begin := stringAt(row, col, "begin")
		ts, err := time.ParseInLocation(issTimeLayout, begin, time.UTC)
		if err != nil {
			return nil, apperr.Newf(apperr.KindDataValidation,
				"price-api: bad candle timestamp %q for %s", begin, ticker)
		}
		candles = append(candles, Candle{
			TS:     ts,
			Open:   numberAt(row, col, "open"),
			High:   numberAt(row, col, "high"),
			Low:    numberAt(row, col, "low"),
			Close:  numberAt(row, col, "close"),
			Volume: numberAt(row, col, "volume"),
		})
	}
	return candles, nil
}

func stringAt(row []interface{}, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	s, _ := row[i].(string)
	return s
}

func numberAt(row []interface{}, col map[string]int, name string) float64 {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return 0
	}
	f, _ := row[i].(float64)
	return f
}
