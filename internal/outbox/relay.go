// Package outbox drains the transactional outbox into the broker. Multiple
// relays may run against the same table; the claim flips rows to in_flight
// under a skip-locked select, so they never double-publish.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/broker"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
)

// purgeEvery spaces out deletion sweeps of old sent rows.
const purgeEvery = time.Hour

// Relay is the outbox delivery loop.
type Relay struct {
	repo persistence.OutboxRepo
	pub  broker.Publisher
	cfg  config.OutboxConfig

	// test seam
	now func() time.Time
}

// NewRelay builds a relay.
func NewRelay(repo persistence.OutboxRepo, pub broker.Publisher, cfg config.OutboxConfig) *Relay {
	return &Relay{repo: repo, pub: pub, cfg: cfg, now: time.Now}
}

// Run drains batches until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	poll := time.Duration(r.cfg.PollIntervalSecs) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	lastPurge := r.now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if n, err := r.DrainOnce(ctx); err != nil {
			log.Error().Err(err).Msg("outbox drain failed")
		} else if n > 0 {
			log.Debug().Int("published", n).Msg("outbox batch relayed")
		}

		if r.now().Sub(lastPurge) >= purgeEvery {
			r.purge(ctx)
			lastPurge = r.now()
		}
	}
}

// DrainOnce claims one batch and publishes it, returning the number of rows
// delivered. Failures are rescheduled with exponential backoff; rows past
// the retry budget are dead-lettered by the repository.
func (r *Relay) DrainOnce(ctx context.Context) (int, error) {
	rows, err := r.repo.ClaimBatch(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	var sent []uuid.UUID
	for _, row := range rows {
		body, err := json.Marshal(domain.Envelope{
			Type:       row.Topic,
			OccurredAt: row.CreatedAt,
			Payload:    row.Payload,
		})
		if err != nil {
			log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("unmarshalable outbox row")
			r.fail(ctx, row)
			continue
		}

		if err := r.pub.Publish(ctx, row.Topic, body); err != nil {
			metrics.OutboxFailures.Inc()
			log.Warn().Err(err).Str("topic", row.Topic).Str("outbox_id", row.ID.String()).
				Int("retries", row.Retries).Msg("publish failed")
			r.fail(ctx, row)
			continue
		}
		metrics.OutboxPublished.WithLabelValues(row.Topic).Inc()
		sent = append(sent, row.ID)
	}

	if len(sent) > 0 {
		if err := r.repo.MarkSent(ctx, sent); err != nil {
			return 0, err
		}
	}
	return len(sent), nil
}

// fail schedules the next attempt at base * 2^retries from now; the
// repository dead-letters the row once the budget runs out.
func (r *Relay) fail(ctx context.Context, row domain.OutboxEvent) {
	base := time.Duration(r.cfg.BaseRetrySeconds) * time.Second
	next := r.now().UTC().Add(base * (1 << uint(row.Retries)))
	if err := r.repo.MarkFailed(ctx, row.ID, next, r.cfg.MaxRetries); err != nil {
		log.Error().Err(err).Str("outbox_id", row.ID.String()).Msg("failed to reschedule outbox row")
	}
}

func (r *Relay) purge(ctx context.Context) {
	cutoff := r.now().UTC().AddDate(0, 0, -r.cfg.KeepDays)
	n, err := r.repo.PurgeSent(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("outbox purge failed")
		return
	}
	if n > 0 {
		log.Info().Int64("purged", n).Msg("old sent outbox rows removed")
	}
}
