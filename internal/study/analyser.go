// Package study measures how the market reacted to an event: abnormal
// return against a mean-return baseline, cumulative abnormal return, and
// volume anomaly over an estimation window preceding the event.
package study

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
)

// ErrInsufficientHistory signals too few observations to fit a baseline.
// Callers degrade the market score to 0 instead of failing the pipeline.
var ErrInsufficientHistory = errors.New("insufficient price history")

// Result is one event-study measurement.
type Result struct {
	AR          float64
	CAR         float64
	VolumeRatio float64
	Sigma       float64
	Significant bool
	Window      string
}

// Analyser runs event studies over a price history source.
type Analyser struct {
	prices PriceClient
	cfg    config.EventStudyConfig
}

// NewAnalyser builds an analyser.
func NewAnalyser(prices PriceClient, cfg config.EventStudyConfig) *Analyser {
	return &Analyser{prices: prices, cfg: cfg}
}

// Analyse fits a mean-return baseline on the estimation window before
// eventTS and measures abnormal return and volume in the event window.
func (a *Analyser) Analyse(ctx context.Context, ticker string, eventTS time.Time) (*Result, error) {
	from := eventTS.AddDate(0, 0, -a.cfg.EstimationDays)
	to := eventTS.AddDate(0, 0, a.cfg.EventWindowDays)

	candles, err := a.prices.Candles(ctx, ticker, from, to, IntervalDay)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %s: %w", ticker, err)
	}

	eventDay := eventTS.UTC().Truncate(24 * time.Hour)
	var estimation, window []Candle
	for _, c := range candles {
		if c.TS.UTC().Truncate(24 * time.Hour).Before(eventDay) {
			estimation = append(estimation, c)
		} else {
			window = append(window, c)
		}
	}

	// n closes give n-1 returns
	if len(estimation) < a.cfg.MinObservations+1 || len(window) == 0 {
		return nil, ErrInsufficientHistory
	}

	returns := make([]float64, 0, len(estimation)-1)
	for i := 1; i < len(estimation); i++ {
		prev := estimation[i-1].Close
		if prev == 0 {
			return nil, ErrInsufficientHistory
		}
		returns = append(returns, (estimation[i].Close-prev)/prev)
	}
	if len(returns) < a.cfg.MinObservations {
		return nil, ErrInsufficientHistory
	}

	baseline := mean(returns)
	sigma := stddev(returns, baseline)

	var ar, car float64
	prevClose := estimation[len(estimation)-1].Close
	for _, c := range window {
		if prevClose == 0 {
			return nil, ErrInsufficientHistory
		}
		abnormal := (c.Close-prevClose)/prevClose - baseline
		car += abnormal
		if math.Abs(abnormal) > math.Abs(ar) {
			ar = abnormal
		}
		prevClose = c.Close
	}

	avgVolume := 0.0
	for _, c := range estimation {
		avgVolume += c.Volume
	}
	avgVolume /= float64(len(estimation))

	volumeRatio := 0.0
	if avgVolume > 0 {
		volumeRatio = window[0].Volume / avgVolume
	}

	significant := math.Abs(ar) > a.cfg.SignificanceSigma*sigma || volumeRatio > 2

	return &Result{
		AR:          ar,
		CAR:         car,
		VolumeRatio: volumeRatio,
		Sigma:       sigma,
		Significant: significant,
		Window:      fmt.Sprintf("%dd", a.cfg.EventWindowDays),
	}, nil
}

// ConfMarket is the causal-score market component:
// min(1, |AR| / (2 sigma)) when the reaction is significant, else 0.
// Insufficient history is not an error here.
func (a *Analyser) ConfMarket(ctx context.Context, ticker string, eventTS time.Time) (float64, error) {
	res, err := a.Analyse(ctx, ticker, eventTS)
	if err != nil {
		if errors.Is(err, ErrInsufficientHistory) {
			return 0, nil
		}
		return 0, err
	}
	if !res.Significant || res.Sigma <= 0 {
		return 0, nil
	}
	return math.Min(1, math.Abs(res.AR)/(2*res.Sigma)), nil
}

// Impact converts a measurement into the graph relationship payload.
func (r *Result) Impact(eventID uuid.UUID, ticker string) domain.Impact {
	return domain.Impact{
		EventID:     eventID,
		Ticker:      ticker,
		AR:          r.AR,
		CAR:         r.CAR,
		VolumeRatio: r.VolumeRatio,
		Window:      r.Window,
		Significant: r.Significant,
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation around m.
func stddev(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}
