package ceg

import (
	"strings"
	"time"

	"github.com/radarlab/radar/internal/domain"
)

// prior is one row of the domain-knowledge table: an expected effect of a
// cause type, with direction, lag band, and base confidence.
type prior struct {
	effect domain.EventType
	sign   domain.Sign
	lag    string
	conf   float64
}

// domainPriors encodes which event types are known to cause which, for the
// Russian market. Lookup is by (cause, effect) pair.
var domainPriors = map[domain.EventType][]prior{
	domain.EventSanctions: {
		{domain.EventMarketDrop, domain.SignNegative, "0-1d", 0.75},
	},
	domain.EventRateHike: {
		{domain.EventRubAppreciation, domain.SignPositive, "1h-1d", 0.65},
		{domain.EventStockRally, domain.SignPositive, "0-3d", 0.60},
	},
	domain.EventRateCut: {
		{domain.EventRubDepreciation, domain.SignNegative, "1h-1d", 0.60},
	},
	domain.EventEarningsBeat: {
		{domain.EventStockRally, domain.SignPositive, "0-1d", 0.70},
	},
	domain.EventEarningsMiss: {
		{domain.EventStockDrop, domain.SignNegative, "0-1d", 0.75},
	},
	domain.EventGuidanceCut: {
		{domain.EventStockDrop, domain.SignNegative, "0-1d", 0.70},
	},
	domain.EventMnA: {
		{domain.EventStockRally, domain.SignPositive, "0-1d", 0.80},
	},
	domain.EventDefault: {
		{domain.EventStockDrop, domain.SignNegative, "0-1h", 0.90},
	},
	domain.EventDividendCut: {
		{domain.EventStockDrop, domain.SignNegative, "0-1d", 0.65},
	},
	domain.EventBuyback: {
		{domain.EventStockRally, domain.SignPositive, "0-3d", 0.60},
	},
	domain.EventRegulatory: {
		{domain.EventStockDrop, domain.SignNegative, "1-7d", 0.55},
	},
	domain.EventSupplyChain: {
		{domain.EventProduction, domain.SignNegative, "1-4w", 0.50},
	},
	domain.EventAccident: {
		{domain.EventStockDrop, domain.SignNegative, "0-1d", 0.65},
	},
	domain.EventManagementChange: {
		{domain.EventStockDrop, domain.SignEither, "0-3d", 0.45},
		{domain.EventStockRally, domain.SignEither, "0-3d", 0.45},
	},
}

// lookupPrior matches a (cause, effect) type pair against the table.
func lookupPrior(cause, effect domain.EventType) (prior, bool) {
	for _, p := range domainPriors[cause] {
		if p.effect == effect {
			return p, true
		}
	}
	return prior{}, false
}

// lagRange is an inclusive [min, max] band on effect delay.
type lagRange struct {
	min time.Duration
	max time.Duration
}

var lagRanges = map[string]lagRange{
	"0-1h":  {0, time.Hour},
	"1h-1d": {time.Hour, 24 * time.Hour},
	"0-1d":  {0, 24 * time.Hour},
	"0-3d":  {0, 3 * 24 * time.Hour},
	"1-7d":  {24 * time.Hour, 7 * 24 * time.Hour},
	"1-4w":  {7 * 24 * time.Hour, 28 * 24 * time.Hour},
	"0-7d":  {0, 7 * 24 * time.Hour},
}

// defaultLag is assumed when no prior covers the pair.
const defaultLag = "0-7d"

// lagMatches reports whether an observed delay falls inside a named band.
// Unknown band names never match.
func lagMatches(lag string, delta time.Duration) bool {
	r, ok := lagRanges[lag]
	if !ok {
		return false
	}
	return delta >= r.min && delta <= r.max
}

// textMarker is a causal connector with its evidential weight.
type textMarker struct {
	marker string
	conf   float64
}

// causalMarkers is a closed set of Russian and English causal connectors.
// Scoring takes the strongest marker found; order does not matter.
var causalMarkers = []textMarker{
	{"привело к", 0.9},
	{"вызвало", 0.9},
	{"стало причиной", 0.9},
	{"повлекло", 0.8},
	{"спровоцировало", 0.8},
	{"из-за", 0.8},
	{"в результате", 0.8},
	{"вследствие", 0.8},
	{"следствие", 0.7},
	{"в связи с", 0.7},
	{"на фоне", 0.6},
	{"после", 0.5},
	{"caused by", 0.9},
	{"led to", 0.9},
	{"due to", 0.8},
	{"because of", 0.8},
	{"as a result of", 0.8},
	{"resulted in", 0.8},
}

// textConfidence scans the combined news text of both events and returns the
// weight of the strongest causal connector present, 0 when none.
func textConfidence(texts ...string) float64 {
	joined := strings.ToLower(strings.Join(texts, "\n"))
	best := 0.0
	for _, m := range causalMarkers {
		if m.conf > best && strings.Contains(joined, m.marker) {
			best = m.conf
		}
	}
	return best
}

// defaultRetroTypes may retroactively link to future events.
var defaultRetroTypes = map[domain.EventType]struct{}{
	domain.EventSanctions:  {},
	domain.EventRegulatory: {},
	domain.EventDefault:    {},
}
