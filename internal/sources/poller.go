package sources

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
)

// maxPollBackoff caps exponential retry delay after transient failures.
const maxPollBackoff = 15 * time.Minute

// Sink consumes raw items produced by a poller.
type Sink interface {
	Ingest(ctx context.Context, src domain.Source, raw domain.RawNews) error
}

// BacklogFunc reports the current unenriched queue depth.
type BacklogFunc func(ctx context.Context) (int64, error)

// Poller owns one source: its adapter, its cursor, and its retry budget.
// Nothing else writes this source's parser state.
type Poller struct {
	src      domain.Source
	adapter  Adapter
	states   persistence.SourceRepo
	sink     Sink
	backlog  BacklogFunc
	interval time.Duration
	cfg      config.IngestConfig
}

// NewPoller builds a poller. backlog may be nil to disable back-pressure.
func NewPoller(src domain.Source, adapter Adapter, states persistence.SourceRepo, sink Sink,
	backlog BacklogFunc, interval time.Duration, cfg config.IngestConfig) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		src: src, adapter: adapter, states: states, sink: sink,
		backlog: backlog, interval: interval, cfg: cfg,
	}
}

// Run polls until ctx is cancelled or the source is declared unhealthy.
// An incomplete backfill runs concurrently; dedup resolves any overlap with
// real-time items.
func (p *Poller) Run(ctx context.Context) error {
	st, err := p.states.GetParserState(ctx, p.src.ID)
	if err != nil {
		return err
	}

	backfillDone := make(chan struct{})
	if !st.BackfillCompleted {
		go p.runBackfill(ctx, backfillDone)
	} else {
		close(backfillDone)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-backfillDone:
			if !st.BackfillCompleted {
				st.BackfillCompleted = true
				if err := p.states.SaveParserState(ctx, *st); err != nil {
					log.Error().Err(err).Str("source", p.src.Code).Msg("failed to persist backfill flag")
				}
			}
			backfillDone = nil // already-closed channel would spin the loop
		default:
		}

		if p.overloaded(ctx) {
			if !sleep(ctx, time.Duration(p.cfg.BackoffPollSecs)*time.Second) {
				return ctx.Err()
			}
			continue
		}

		items, newCursor, err := p.adapter.Poll(ctx, p.src, st.LastExternalID)
		if err != nil {
			stop, serr := p.handlePollError(ctx, st, err)
			if serr != nil {
				return serr
			}
			if stop {
				return err
			}
			continue
		}

		for _, raw := range items {
			if err := p.sink.Ingest(ctx, p.src, raw); err != nil {
				log.Error().Err(err).Str("source", p.src.Code).
					Str("external_id", raw.ExternalID).Msg("ingest failed")
			}
		}

		now := time.Now().UTC()
		st.LastExternalID = newCursor
		st.LastPollAt = &now
		st.ErrorCount = 0
		if err := p.states.SaveParserState(ctx, *st); err != nil {
			return err
		}

		if !sleep(ctx, p.interval) {
			return ctx.Err()
		}
	}
}

// handlePollError classifies a poll failure. Permission and not-found
// errors burn the channel retry budget; transient ones back off
// exponentially.
func (p *Poller) handlePollError(ctx context.Context, st *domain.ParserState, pollErr error) (stop bool, err error) {
	metrics.PollErrors.WithLabelValues(p.src.Code).Inc()
	st.ErrorCount++
	if serr := p.states.SaveParserState(ctx, *st); serr != nil {
		return false, serr
	}

	kind := apperr.KindOf(pollErr)
	if kind == apperr.KindNotFound || kind == apperr.KindUnauthorized {
		if st.ErrorCount >= p.cfg.MaxChannelRetries {
			log.Error().Err(pollErr).Str("source", p.src.Code).
				Int("error_count", st.ErrorCount).Msg("source unhealthy, giving up")
			return true, nil
		}
		log.Warn().Err(pollErr).Str("source", p.src.Code).Msg("source unreachable")
		sleep(ctx, p.interval)
		return false, nil
	}

	backoff := p.interval * (1 << uint(st.ErrorCount-1))
	if backoff > maxPollBackoff {
		backoff = maxPollBackoff
	}
	log.Warn().Err(pollErr).Str("source", p.src.Code).
		Dur("backoff", backoff).Msg("poll failed, backing off")
	sleep(ctx, backoff)
	return false, nil
}

// runBackfill closes done only on a clean finish; an aborted backfill keeps
// the flag unset so the next start retries it.
func (p *Poller) runBackfill(ctx context.Context, done chan<- struct{}) {
	stream, err := p.adapter.Backfill(ctx, p.src, p.cfg.MaxBackfillDays)
	if err != nil {
		log.Error().Err(err).Str("source", p.src.Code).Msg("backfill failed to start")
		return
	}
	count := 0
	for raw := range stream {
		if err := p.sink.Ingest(ctx, p.src, raw); err != nil {
			log.Warn().Err(err).Str("source", p.src.Code).Msg("backfill ingest failed")
			continue
		}
		count++
	}
	if ctx.Err() != nil {
		return
	}
	log.Info().Str("source", p.src.Code).Int("items", count).Msg("backfill complete")
	close(done)
}

func (p *Poller) overloaded(ctx context.Context) bool {
	if p.backlog == nil || p.cfg.MaxBacklog <= 0 {
		return false
	}
	depth, err := p.backlog(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("backlog check failed")
		return false
	}
	if depth > int64(p.cfg.MaxBacklog) {
		log.Warn().Int64("backlog", depth).Str("source", p.src.Code).Msg("backlog over limit, pausing polls")
		return true
	}
	return false
}

// sleep waits d or until cancellation; false means the context ended.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
