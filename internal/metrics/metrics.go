// Package metrics exposes the process-wide Prometheus registry. Counters are
// bumped inline by the ingest, enrichment, causal, and outbox paths; queue
// depth gauges are refreshed by the Sampler from the store.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/persistence"
)

var (
	registry = prometheus.NewRegistry()
	factory  = promauto.With(registry)

	// NewsIngested counts stored news items per source.
	NewsIngested = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "ingest", Name: "news_total",
		Help: "News items stored, by source.",
	}, []string{"source"})

	// DuplicatesSkipped counts items dropped by hash or external-id dedup.
	DuplicatesSkipped = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "ingest", Name: "duplicates_total",
		Help: "Duplicate news items skipped, by source.",
	}, []string{"source"})

	// AdsFlagged counts items the antispam detector marked as ads.
	AdsFlagged = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "ingest", Name: "ads_total",
		Help: "News items flagged as advertising, by source.",
	}, []string{"source"})

	// PollErrors counts failed poll rounds per source.
	PollErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "ingest", Name: "poll_errors_total",
		Help: "Failed poll rounds, by source.",
	}, []string{"source"})

	// EnrichProcessed counts completed enrichment passes.
	EnrichProcessed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "enrich", Name: "processed_total",
		Help: "News items enriched successfully.",
	})

	// EnrichFailed counts enrichment passes that errored.
	EnrichFailed = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "enrich", Name: "failed_total",
		Help: "News items whose enrichment failed.",
	})

	// CausalEdges counts causal edges written, by kind.
	CausalEdges = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "ceg", Name: "edges_total",
		Help: "Causal edges upserted, by kind.",
	}, []string{"kind"})

	// OutboxPublished counts relayed outbox rows per topic.
	OutboxPublished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "outbox", Name: "published_total",
		Help: "Outbox rows delivered to the broker, by topic.",
	}, []string{"topic"})

	// OutboxFailures counts publish attempts that failed.
	OutboxFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "radar", Subsystem: "outbox", Name: "publish_failures_total",
		Help: "Outbox publish attempts that failed.",
	})

	newsQueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "radar", Subsystem: "enrich", Name: "queue_depth",
		Help: "News items per enrichment status.",
	}, []string{"status"})

	outboxQueueDepth = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "radar", Subsystem: "outbox", Name: "queue_depth",
		Help: "Outbox rows per status.",
	}, []string{"status"})
)

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Sampler refreshes the queue depth gauges from the store.
type Sampler struct {
	repo  persistence.Repository
	every time.Duration
}

// NewSampler builds a sampler; every <= 0 falls back to 15s.
func NewSampler(repo persistence.Repository, every time.Duration) *Sampler {
	if every <= 0 {
		every = 15 * time.Second
	}
	return &Sampler{repo: repo, every: every}
}

// Run samples until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	s.sample(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sample(ctx)
		}
	}
}

func (s *Sampler) sample(ctx context.Context) {
	if counts, err := s.repo.News.CountByStatus(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to sample news queue depth")
	} else {
		for status, n := range counts {
			newsQueueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	}

	if counts, err := s.repo.Outbox.CountByStatus(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to sample outbox depth")
	} else {
		for status, n := range counts {
			outboxQueueDepth.WithLabelValues(string(status)).Set(float64(n))
		}
	}
}
