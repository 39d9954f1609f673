package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SourceKind discriminates adapter families.
type SourceKind string

const (
	SourceKindMessageChannel SourceKind = "message_channel"
	SourceKindHTML           SourceKind = "html"
)

// Source is a configured news origin (a messaging channel or a web site).
type Source struct {
	ID          uuid.UUID              `json:"id" db:"id"`
	Code        string                 `json:"code" db:"code"`
	Kind        SourceKind             `json:"kind" db:"kind"`
	Name        string                 `json:"display_name" db:"display_name"`
	BaseLocator string                 `json:"base_locator" db:"base_locator"`
	TrustLevel  int                    `json:"trust_level" db:"trust_level"`
	Enabled     bool                   `json:"enabled" db:"enabled"`
	Config      map[string]interface{} `json:"config" db:"config"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at" db:"updated_at"`
}

// ParserState is the per-source ingestion cursor. It is mutated exclusively
// by the polling task that owns the source.
type ParserState struct {
	SourceID          uuid.UUID  `json:"source_id" db:"source_id"`
	LastExternalID    string     `json:"last_external_id" db:"last_external_id"`
	LastPollAt        *time.Time `json:"last_poll_at" db:"last_poll_at"`
	ErrorCount        int        `json:"error_count" db:"error_count"`
	BackfillCompleted bool       `json:"backfill_completed" db:"backfill_completed"`
}

// EnrichmentStatus tracks the news item's progress through the pipeline.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentDone       EnrichmentStatus = "done"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// DedupStatus records the outcome of content-hash deduplication. Only winners
// are persisted; losers never reach the news table.
type DedupStatus string

const (
	DedupWinner DedupStatus = "winner"
)

// News is an ingested news item. Immutable after first write except for
// enrichment status, summary, and the ad flags.
type News struct {
	ID               uuid.UUID        `json:"id" db:"id"`
	SourceID         uuid.UUID        `json:"source_id" db:"source_id"`
	ExternalID       string           `json:"external_id" db:"external_id"`
	Title            string           `json:"title" db:"title"`
	Text             string           `json:"text" db:"text"`
	Summary          *string          `json:"summary,omitempty" db:"summary"`
	PublishedAt      time.Time        `json:"published_at" db:"published_at"`
	DetectedAt       time.Time        `json:"detected_at" db:"detected_at"`
	URL              *string          `json:"url,omitempty" db:"url"`
	Lang             string           `json:"lang" db:"lang"`
	ContentHash      string           `json:"content_hash" db:"content_hash"`
	DedupStatus      DedupStatus      `json:"dedup_status" db:"dedup_status"`
	IsAd             bool             `json:"is_ad" db:"is_ad"`
	AdScore          float64          `json:"ad_score" db:"ad_score"`
	AdReasons        []string         `json:"ad_reasons" db:"ad_reasons"`
	EnrichmentStatus EnrichmentStatus `json:"enrichment_status" db:"enrichment_status"`
}

// ContentHash computes the dedup key over normalized title+text.
func ContentHash(title, text string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(title) + "\n" + strings.TrimSpace(text)))
	return hex.EncodeToString(h[:])
}

// RawNews is the uniform record emitted by every source adapter.
type RawNews struct {
	SourceID    uuid.UUID              `json:"source_id"`
	ExternalID  string                 `json:"external_id"`
	Title       string                 `json:"title"`
	Text        string                 `json:"text"`
	Summary     string                 `json:"summary,omitempty"`
	PublishedAt time.Time              `json:"published_at"`
	URL         string                 `json:"url,omitempty"`
	MediaRefs   []string               `json:"media_refs,omitempty"`
	RawMeta     map[string]interface{} `json:"raw_meta,omitempty"`
}

// Image is a content-addressed image blob shared across news items.
type Image struct {
	ID        uuid.UUID `json:"id" db:"id"`
	SHA256    string    `json:"sha256" db:"sha256"`
	MimeType  string    `json:"mime_type" db:"mime_type"`
	Bytes     []byte    `json:"-" db:"bytes"`
	Width     int       `json:"width" db:"width"`
	Height    int       `json:"height" db:"height"`
	FileSize  int       `json:"file_size" db:"file_size"`
	Thumbnail []byte    `json:"-" db:"thumbnail"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EntityKind classifies extracted entities.
type EntityKind string

const (
	EntityOrg        EntityKind = "org"
	EntityPerson     EntityKind = "person"
	EntityLocation   EntityKind = "location"
	EntityDate       EntityKind = "date"
	EntityMoney      EntityKind = "money"
	EntityPercentage EntityKind = "percentage"
	EntityAmount     EntityKind = "amount"
	EntityPeriod     EntityKind = "period"
	EntityUnit       EntityKind = "unit"
)

// Entity is a per-news extraction record. Deleted with the parent news.
type Entity struct {
	ID         uuid.UUID              `json:"id" db:"id"`
	NewsID     uuid.UUID              `json:"news_id" db:"news_id"`
	Kind       EntityKind             `json:"kind" db:"kind"`
	RawText    string                 `json:"raw_text" db:"raw_text"`
	Normalized string                 `json:"normalized" db:"normalized"`
	Confidence float64                `json:"confidence" db:"confidence"`
	Attrs      map[string]interface{} `json:"attrs,omitempty" db:"attrs"`
}

// Issuer is a securities-master reference record.
type Issuer struct {
	ID          uuid.UUID `json:"id" db:"id"`
	LegalName   string    `json:"legal_name" db:"legal_name"`
	ShortNames  []string  `json:"short_names" db:"short_names"`
	Ticker      string    `json:"ticker" db:"ticker"`
	ISIN        *string   `json:"isin,omitempty" db:"isin"`
	Board       *string   `json:"board,omitempty" db:"board"`
	SectorID    *string   `json:"sector_id,omitempty" db:"sector_id"`
	CountryCode string    `json:"country_code" db:"country_code"`
	IsTraded    bool      `json:"is_traded" db:"is_traded"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// AliasOrigin distinguishes operator-curated aliases from auto-learned ones.
type AliasOrigin string

const (
	AliasCurated AliasOrigin = "curated"
	AliasLearned AliasOrigin = "learned"
)

// Alias maps a normalized organisation string to an issuer. Learned aliases
// are additive; curated entries may be tombstoned by an operator.
type Alias struct {
	Normalized string      `json:"normalized" db:"normalized"`
	IssuerID   uuid.UUID   `json:"issuer_id" db:"issuer_id"`
	Origin     AliasOrigin `json:"origin" db:"origin"`
	Confidence float64     `json:"confidence" db:"confidence"`
	Tombstoned bool        `json:"tombstoned" db:"tombstoned"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// LinkMethod records how an organisation mention was resolved.
type LinkMethod string

const (
	LinkAliasExact  LinkMethod = "alias_exact"
	LinkFuzzy       LinkMethod = "fuzzy"
	LinkAutoLearned LinkMethod = "auto_learned"
)

// LinkedCompany ties a news item to a resolved issuer.
type LinkedCompany struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	NewsID    uuid.UUID  `json:"news_id" db:"news_id"`
	IssuerID  uuid.UUID  `json:"issuer_id" db:"issuer_id"`
	Method    LinkMethod `json:"method" db:"method"`
	Score     float64    `json:"score" db:"score"`
	IsPrimary bool       `json:"is_primary" db:"is_primary"`
}

// Topic is a taxonomy tag on a news item; at most three per news, one primary.
type Topic struct {
	NewsID     uuid.UUID `json:"news_id" db:"news_id"`
	Code       string    `json:"code" db:"code"`
	Confidence float64   `json:"confidence" db:"confidence"`
	IsPrimary  bool      `json:"is_primary" db:"is_primary"`
}
