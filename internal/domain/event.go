package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the typed-event families detected by the extractor.
type EventType string

const (
	EventSanctions        EventType = "sanctions"
	EventRateHike         EventType = "rate_hike"
	EventRateCut          EventType = "rate_cut"
	EventEarnings         EventType = "earnings"
	EventEarningsBeat     EventType = "earnings_beat"
	EventEarningsMiss     EventType = "earnings_miss"
	EventGuidance         EventType = "guidance"
	EventGuidanceCut      EventType = "guidance_cut"
	EventMnA              EventType = "mna"
	EventIPO              EventType = "ipo"
	EventDividends        EventType = "dividends"
	EventDividendCut      EventType = "dividend_cut"
	EventBuyback          EventType = "buyback"
	EventDefault          EventType = "default"
	EventManagementChange EventType = "management_change"
	EventSupplyChain      EventType = "supply_chain"
	EventProduction       EventType = "production"
	EventAccident         EventType = "accident"
	EventStrike           EventType = "strike"
	EventLegal            EventType = "legal"
	EventRegulatory       EventType = "regulatory"
	EventStockDrop        EventType = "stock_drop"
	EventStockRally       EventType = "stock_rally"
	EventRubAppreciation  EventType = "rub_appreciation"
	EventRubDepreciation  EventType = "rub_depreciation"
	EventMarketDrop       EventType = "market_drop"
	EventGeneral          EventType = "news_general"
)

// PersonRef names a person in event attributes.
type PersonRef struct {
	Name     string `json:"name"`
	Position string `json:"position,omitempty"`
	Company  string `json:"company,omitempty"`
}

// MarketRef names a market or index in event attributes.
type MarketRef struct {
	Name   string  `json:"name"`
	Type   string  `json:"type,omitempty"`
	Value  float64 `json:"value,omitempty"`
	Change float64 `json:"change,omitempty"`
}

// MetricRef is a financial metric mentioned in the news.
type MetricRef struct {
	MetricType string  `json:"metric_type"`
	Value      float64 `json:"value"`
	Company    string  `json:"company,omitempty"`
}

// EventAttrs is the attribute payload stored with every event.
type EventAttrs struct {
	Companies []string    `json:"companies"`
	Tickers   []string    `json:"tickers"`
	People    []PersonRef `json:"people,omitempty"`
	Markets   []MarketRef `json:"markets,omitempty"`
	Metrics   []MetricRef `json:"metrics,omitempty"`
}

// Event is a typed occurrence extracted from one news item.
type Event struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	NewsID     uuid.UUID  `json:"news_id" db:"news_id"`
	Type       EventType  `json:"type" db:"type"`
	Title      string     `json:"title" db:"title"`
	TS         time.Time  `json:"ts" db:"ts"`
	Attrs      EventAttrs `json:"attrs" db:"attrs"`
	IsAnchor   bool       `json:"is_anchor" db:"is_anchor"`
	Confidence float64    `json:"confidence" db:"confidence"`
}

// EdgeKind classifies a causal edge by evidence strength.
type EdgeKind string

const (
	EdgeHypothesis EdgeKind = "hypothesis"
	EdgeRetro      EdgeKind = "retro"
	EdgeConfirmed  EdgeKind = "confirmed"
)

// Sign is the expected direction of the causal effect.
type Sign string

const (
	SignPositive Sign = "+"
	SignNegative Sign = "-"
	SignEither   Sign = "±"
)

// CausalEdge is a CAUSES relationship between two events.
type CausalEdge struct {
	CauseID       uuid.UUID   `json:"cause_id"`
	EffectID      uuid.UUID   `json:"effect_id"`
	Kind          EdgeKind    `json:"kind"`
	Sign          Sign        `json:"sign"`
	ExpectedLag   string      `json:"expected_lag"`
	ConfPrior     float64     `json:"conf_prior"`
	ConfText      float64     `json:"conf_text"`
	ConfMarket    float64     `json:"conf_market"`
	ConfTotal     float64     `json:"conf_total"`
	EvidenceSet   []uuid.UUID `json:"evidence_set,omitempty"`
	IsRetroactive bool        `json:"is_retroactive"`
}

// Impact is an IMPACTS relationship from an event to an instrument.
type Impact struct {
	EventID     uuid.UUID `json:"event_id"`
	Ticker      string    `json:"ticker"`
	AR          float64   `json:"ar"`
	CAR         float64   `json:"car"`
	VolumeRatio float64   `json:"volume_ratio"`
	Window      string    `json:"window"`
	Significant bool      `json:"significant"`
}

// Urgency grades extractor output.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ExtractedCompany is one organisation found by the external extractor.
type ExtractedCompany struct {
	Name   string `json:"name"`
	Ticker string `json:"ticker,omitempty"`
}

// Extraction is the opaque external extractor's structured result. The
// pipeline consumes only these fields; anything else is undefined.
type Extraction struct {
	Companies        []ExtractedCompany `json:"companies"`
	People           []PersonRef        `json:"people"`
	Markets          []MarketRef        `json:"markets"`
	FinancialMetrics []MetricRef        `json:"financial_metrics"`
	EventTypes       []string           `json:"event_types"`
	Sector           string             `json:"sector,omitempty"`
	Country          string             `json:"country,omitempty"`
	IsAnchor         bool               `json:"is_anchor,omitempty"`
	Urgency          Urgency            `json:"urgency"`
	Confidence       float64            `json:"confidence"`
	IsAdvertisement  bool               `json:"is_advertisement"`
	ContentTypes     []string           `json:"content_types,omitempty"`
}
