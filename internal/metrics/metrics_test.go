package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

type countingNewsRepo struct {
	persistence.NewsRepo
	counts map[domain.EnrichmentStatus]int64
}

func (c countingNewsRepo) CountByStatus(context.Context) (map[domain.EnrichmentStatus]int64, error) {
	return c.counts, nil
}

type countingOutboxRepo struct {
	persistence.OutboxRepo
	counts map[domain.OutboxStatus]int64
}

func (c countingOutboxRepo) CountByStatus(context.Context) (map[domain.OutboxStatus]int64, error) {
	return c.counts, nil
}

func TestSamplerRefreshesQueueGauges(t *testing.T) {
	repo := persistence.Repository{
		News: countingNewsRepo{counts: map[domain.EnrichmentStatus]int64{
			domain.EnrichmentPending: 42,
			domain.EnrichmentDone:    7,
		}},
		Outbox: countingOutboxRepo{counts: map[domain.OutboxStatus]int64{
			domain.OutboxPending: 5,
		}},
	}

	s := NewSampler(repo, 0)
	require.Equal(t, "15s", s.every.String())
	s.sample(context.Background())

	assert.Equal(t, 42.0, testutil.ToFloat64(newsQueueDepth.WithLabelValues(string(domain.EnrichmentPending))))
	assert.Equal(t, 7.0, testutil.ToFloat64(newsQueueDepth.WithLabelValues(string(domain.EnrichmentDone))))
	assert.Equal(t, 5.0, testutil.ToFloat64(outboxQueueDepth.WithLabelValues(string(domain.OutboxPending))))
}

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(NewsIngested.WithLabelValues("interfax"))
	NewsIngested.WithLabelValues("interfax").Inc()
	NewsIngested.WithLabelValues("interfax").Inc()
	assert.Equal(t, before+2, testutil.ToFloat64(NewsIngested.WithLabelValues("interfax")))
}
