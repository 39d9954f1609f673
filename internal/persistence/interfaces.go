package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/radarlab/radar/internal/domain"
)

// TimeRange is a closed time window for history queries.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// EnrichmentResult is everything one pipeline pass produced for a news item.
// Persisted atomically together with the status flip and outbox rows.
type EnrichmentResult struct {
	NewsID   uuid.UUID
	Summary  *string
	Entities []domain.Entity
	Links    []domain.LinkedCompany
	Topics   []domain.Topic
	Events   []domain.Event
	Sector   string
	Country  string
	NewsType string
	Subtype  string
	Tags     []string
	Outbox   []domain.OutboxEvent
}

// NewsRepo persists news items and drives the enrichment queue.
type NewsRepo interface {
	// TryInsert writes the news row, its images, and the news.created outbox
	// rows in one transaction. Duplicate content hash or (source, external id)
	// surface as kinded duplicate errors and leave the store untouched.
	TryInsert(ctx context.Context, news domain.News, images []domain.Image, outbox []domain.OutboxEvent) error

	// GetByID returns the news item or a not-found error.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error)

	// ClaimPending flips up to limit pending items to in_progress and returns
	// them. Rows locked by other workers are skipped, not waited on.
	ClaimPending(ctx context.Context, limit int) ([]domain.News, error)

	// SaveEnrichment atomically stores the pipeline output, marks the item
	// done, and appends the news.enriched / event outbox rows.
	SaveEnrichment(ctx context.Context, res EnrichmentResult) error

	// MarkFailed returns the item to pending while retries remain, or parks it
	// as failed once the budget is exhausted.
	MarkFailed(ctx context.Context, id uuid.UUID, maxRetries int, cause string) error

	// SetAdVerdict updates the ad flags on an already-stored item.
	SetAdVerdict(ctx context.Context, id uuid.UUID, isAd bool, score float64, reasons []string) error

	// CountByStatus returns queue depth per enrichment status.
	CountByStatus(ctx context.Context) (map[domain.EnrichmentStatus]int64, error)
}

// SourceRepo persists source registrations and per-source poll cursors.
type SourceRepo interface {
	// Upsert registers or refreshes a source by code and returns the stored row.
	Upsert(ctx context.Context, src domain.Source) (*domain.Source, error)

	// ListEnabled returns all enabled sources.
	ListEnabled(ctx context.Context) ([]domain.Source, error)

	// GetByCode returns the source or a not-found error.
	GetByCode(ctx context.Context, code string) (*domain.Source, error)

	// GetByID returns the source or a not-found error.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error)

	// GetParserState returns the poll cursor, a zero-value state if none yet.
	GetParserState(ctx context.Context, sourceID uuid.UUID) (*domain.ParserState, error)

	// SaveParserState upserts the poll cursor. Only the owning poll task
	// may call this for a given source.
	SaveParserState(ctx context.Context, st domain.ParserState) error
}

// IssuerRepo persists the securities-master mirror.
type IssuerRepo interface {
	// Upsert inserts or refreshes an issuer keyed by ticker.
	Upsert(ctx context.Context, issuer domain.Issuer) (*domain.Issuer, error)

	// GetByID returns the issuer or a not-found error.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Issuer, error)

	// GetByTicker returns the issuer or a not-found error.
	GetByTicker(ctx context.Context, ticker string) (*domain.Issuer, error)

	// ListTraded returns all currently traded issuers.
	ListTraded(ctx context.Context) ([]domain.Issuer, error)

	// ListBySector returns traded issuers in a sector, for constituents lookups.
	ListBySector(ctx context.Context, sectorID string) ([]domain.Issuer, error)
}

// AliasRepo persists organisation-name aliases.
type AliasRepo interface {
	// ListActive returns all non-tombstoned aliases.
	ListActive(ctx context.Context) ([]domain.Alias, error)

	// Insert adds an alias; a second insert of the same normalized form is a
	// duplicate error.
	Insert(ctx context.Context, alias domain.Alias) error

	// Tombstone disables an alias without deleting history.
	Tombstone(ctx context.Context, normalized string) error
}

// EventRepo persists extracted events for causal linking.
type EventRepo interface {
	// ListWindow returns events in the time window, oldest first.
	ListWindow(ctx context.Context, tr TimeRange) ([]domain.Event, error)

	// ListAnchorsWindow returns anchor events in the window, oldest first.
	ListAnchorsWindow(ctx context.Context, tr TimeRange) ([]domain.Event, error)

	// GetByID returns the event or a not-found error.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error)

	// ListByNews returns the events extracted from one news item.
	ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Event, error)
}

// OutboxRepo drives the transactional outbox relay.
type OutboxRepo interface {
	// ClaimBatch flips up to limit due pending/failed rows to in_flight and
	// returns them; rows claimed by a competing relay are skipped.
	ClaimBatch(ctx context.Context, limit int) ([]domain.OutboxEvent, error)

	// MarkSent finalizes delivered rows.
	MarkSent(ctx context.Context, ids []uuid.UUID) error

	// MarkFailed bumps retries and schedules the next attempt; rows past
	// maxRetries become dead-lettered instead.
	MarkFailed(ctx context.Context, id uuid.UUID, nextAttempt time.Time, maxRetries int) error

	// PurgeSent deletes sent rows older than the cutoff, returning the count.
	PurgeSent(ctx context.Context, olderThan time.Time) (int64, error)

	// CountByStatus returns outbox depth per status for metrics.
	CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int64, error)
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	News    NewsRepo
	Sources SourceRepo
	Issuers IssuerRepo
	Aliases AliasRepo
	Events  EventRepo
	Outbox  OutboxRepo
}
