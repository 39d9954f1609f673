package linker

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

const aliasRedisKey = "linker:aliases"

// AliasCache holds the alias table as an immutable snapshot. Readers load
// the snapshot without locking; all writes funnel through the single
// goroutine started by Run, which owns the map.
type AliasCache struct {
	repo     persistence.AliasRepo
	rdb      *redis.Client
	snapshot atomic.Value // map[string]domain.Alias
	learn    chan domain.Alias
}

// NewAliasCache builds the cache; rdb may be nil to skip the redis mirror.
func NewAliasCache(repo persistence.AliasRepo, rdb *redis.Client) *AliasCache {
	c := &AliasCache{
		repo:  repo,
		rdb:   rdb,
		learn: make(chan domain.Alias, 256),
	}
	c.snapshot.Store(map[string]domain.Alias{})
	return c
}

// Load populates the snapshot from the store. Call once at startup.
func (c *AliasCache) Load(ctx context.Context) error {
	aliases, err := c.repo.ListActive(ctx)
	if err != nil {
		return err
	}
	m := make(map[string]domain.Alias, len(aliases))
	for _, a := range aliases {
		m[a.Normalized] = a
	}
	c.snapshot.Store(m)
	log.Info().Int("aliases", len(m)).Msg("alias cache loaded")
	return nil
}

// Lookup returns the alias for a normalized name.
func (c *AliasCache) Lookup(normalized string) (domain.Alias, bool) {
	m := c.snapshot.Load().(map[string]domain.Alias)
	a, ok := m[normalized]
	return a, ok
}

// Size returns the current alias count.
func (c *AliasCache) Size() int {
	return len(c.snapshot.Load().(map[string]domain.Alias))
}

// Learn queues a newly discovered alias. Non-blocking: when the queue is
// full the alias is dropped and will be re-learned on the next mention.
func (c *AliasCache) Learn(alias domain.Alias) {
	select {
	case c.learn <- alias:
	default:
		log.Warn().Str("alias", alias.Normalized).Msg("alias learn queue full, dropping")
	}
}

// Run is the single writer: it drains the learn queue, persists each alias,
// and publishes a fresh snapshot. Returns when ctx is done.
func (c *AliasCache) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case alias := <-c.learn:
			c.store(ctx, alias)
		}
	}
}

func (c *AliasCache) store(ctx context.Context, alias domain.Alias) {
	old := c.snapshot.Load().(map[string]domain.Alias)
	if _, exists := old[alias.Normalized]; exists {
		return
	}

	if err := c.repo.Insert(ctx, alias); err != nil {
		if !apperr.IsDuplicate(err) {
			log.Error().Err(err).Str("alias", alias.Normalized).Msg("failed to persist alias")
			return
		}
		// lost a race with another process; keep it in the snapshot anyway
	}

	next := make(map[string]domain.Alias, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[alias.Normalized] = alias
	c.snapshot.Store(next)

	if c.rdb != nil {
		if err := c.rdb.HSet(ctx, aliasRedisKey, alias.Normalized, alias.IssuerID.String()).Err(); err != nil {
			log.Debug().Err(err).Msg("alias redis mirror write failed")
		}
	}

	log.Info().Str("alias", alias.Normalized).Str("issuer", alias.IssuerID.String()).
		Str("origin", string(alias.Origin)).Msg("alias learned")
}
