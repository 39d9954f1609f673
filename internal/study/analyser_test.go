package study

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/httpx"
)

type fakePrices struct {
	candles []Candle
}

func (f *fakePrices) Candles(_ context.Context, _ string, _, _ time.Time, _ int) ([]Candle, error) {
	return f.candles, nil
}

var eventTS = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func studyConfig() config.EventStudyConfig {
	return config.EventStudyConfig{
		EstimationDays:    30,
		EventWindowDays:   1,
		SignificanceSigma: 2.0,
		MinObservations:   20,
	}
}

// history builds daily candles ending the day before the event: the first
// close is 100, each following close applies the next return.
func history(returns []float64, volume float64) []Candle {
	day := eventTS.Truncate(24 * time.Hour)
	n := len(returns) + 1
	candles := make([]Candle, 0, n)
	close := 100.0
	for i := 0; i < n; i++ {
		if i > 0 {
			close *= 1 + returns[i-1]
		}
		candles = append(candles, Candle{
			TS:     day.AddDate(0, 0, i-n),
			Close:  close,
			Volume: volume,
		})
	}
	return candles
}

// alternating +2% / -2%, mean 0, sample sigma ~0.02052
func flatHistory() []Candle {
	returns := make([]float64, 20)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.02
		} else {
			returns[i] = -0.02
		}
	}
	return history(returns, 1000)
}

func withEvent(est []Candle, eventReturn, volume float64) []Candle {
	last := est[len(est)-1]
	return append(est, Candle{
		TS:     eventTS.Truncate(24 * time.Hour),
		Close:  last.Close * (1 + eventReturn),
		Volume: volume,
	})
}

func TestAnalyseSignificantJump(t *testing.T) {
	a := NewAnalyser(&fakePrices{candles: withEvent(flatHistory(), 0.10, 3000)}, studyConfig())

	res, err := a.Analyse(context.Background(), "SBER", eventTS)
	require.NoError(t, err)

	assert.InDelta(t, 0.10, res.AR, 1e-6)
	assert.InDelta(t, 0.10, res.CAR, 1e-6)
	assert.InDelta(t, 3.0, res.VolumeRatio, 1e-6)
	assert.InDelta(t, 0.02052, res.Sigma, 1e-4)
	assert.True(t, res.Significant)
	assert.Equal(t, "1d", res.Window)

	// |AR| / (2 sigma) = 0.10 / 0.04104 clamps to 1
	conf, err := a.ConfMarket(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, conf, 1e-9)
}

func TestAnalyseQuietDayNotSignificant(t *testing.T) {
	a := NewAnalyser(&fakePrices{candles: withEvent(flatHistory(), 0.01, 1000)}, studyConfig())

	res, err := a.Analyse(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.False(t, res.Significant, "1% move is inside 2 sigma and volume is normal")

	conf, err := a.ConfMarket(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.Zero(t, conf)
}

func TestVolumeAloneTriggersSignificance(t *testing.T) {
	a := NewAnalyser(&fakePrices{candles: withEvent(flatHistory(), 0.01, 2500)}, studyConfig())

	res, err := a.Analyse(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.True(t, res.Significant)
	assert.InDelta(t, 2.5, res.VolumeRatio, 1e-6)

	// 0.01 / (2 * 0.02052)
	conf, err := a.ConfMarket(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.InDelta(t, 0.2437, conf, 5e-4)
}

func TestInsufficientHistoryIsNotAFailure(t *testing.T) {
	short := history([]float64{0.01, 0.01, 0.01, 0.01}, 1000)
	a := NewAnalyser(&fakePrices{candles: withEvent(short, 0.10, 3000)}, studyConfig())

	_, err := a.Analyse(context.Background(), "SBER", eventTS)
	require.ErrorIs(t, err, ErrInsufficientHistory)

	conf, err := a.ConfMarket(context.Background(), "SBER", eventTS)
	require.NoError(t, err)
	assert.Zero(t, conf)
}

func TestNoEventCandlesMeansNoMeasurement(t *testing.T) {
	a := NewAnalyser(&fakePrices{candles: flatHistory()}, studyConfig())

	_, err := a.Analyse(context.Background(), "SBER", eventTS)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestPriceClientParsesColumnarCandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/engines/stock/markets/shares/securities/SBER/candles.json", r.URL.Path)
		assert.Equal(t, "24", r.URL.Query().Get("interval"))
		assert.NotEmpty(t, r.URL.Query().Get("from"))
		assert.NotEmpty(t, r.URL.Query().Get("till"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candles": {
				"columns": ["begin", "end", "open", "close", "high", "low", "value", "volume"],
				"data": [
					["2026-08-18 00:00:00", "2026-08-18 23:59:59", 100.0, 101.5, 102.0, 99.5, 1000000.0, 5000.0],
					["2026-08-19 00:00:00", "2026-08-19 23:59:59", 101.5, 100.0, 101.8, 99.9, 900000.0, 4500.0]
				]
			}
		}`))
	}))
	defer srv.Close()

	c := &issPriceClient{http: httpx.New(httpx.Options{Name: "test", BaseURL: srv.URL, RPS: 100})}
	candles, err := c.Candles(context.Background(), "SBER",
		eventTS.AddDate(0, 0, -30), eventTS, IntervalDay)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC), candles[0].TS)
	assert.InDelta(t, 101.5, candles[0].Close, 1e-9)
	assert.InDelta(t, 5000.0, candles[0].Volume, 1e-9)
	assert.InDelta(t, 100.0, candles[1].Close, 1e-9)
}
