// Package events builds typed events from enriched news. Detection is
// keyword-driven over an ordered family table, so extraction stays
// deterministic and cheap.
package events

import (
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/radarlab/radar/internal/domain"
)

// family is one event-type keyword family.
type family struct {
	eventType domain.EventType
	markers   []string
	priority  int
}

// Russian marker families. Markers are regexp fragments, most of them plain
// literals. Priority orders competing detections; families without an
// explicit priority rank 5.
var families = []family{
	{domain.EventSanctions, []string{"санкции", "санкц", "ограничени", "запрет", "включить в список", "наложить штраф", "инициировать расследование"}, 10},
	{domain.EventRateHike, []string{"повысил ставку", "рост ставки", "повышение ставки", "цб повысил", "центральный банк повысил", "ключевая ставка повышена"}, 9},
	{domain.EventRateCut, []string{"снижение ставки", "снизил ставку", "понижение ставки", "ставка снижена", "снижена ставка"}, 9},
	{domain.EventDefault, []string{"дефолт", "банкротство", "невыплата", "технический дефолт"}, 9},
	{domain.EventEarningsMiss, []string{"убыток", "снижение прибыли", "падение прибыли"}, 8},
	{domain.EventEarningsBeat, []string{"рост прибыли", "увеличение прибыли", "рекордная прибыль"}, 8},
	{domain.EventMnA, []string{"слияние", "поглощение", "приобрет", "купил долю", "m&a"}, 8},
	{domain.EventIPO, []string{"ipo", "первичное размещение"}, 8},
	{domain.EventEarnings, []string{"прибыль", "выручка", "отчетность", "финансовые результаты", "квартальная отчетность", "годовая отчетность"}, 7},
	{domain.EventGuidanceCut, []string{"снизил прогноз", "ухудшил прогноз", "пересмотрел прогноз"}, 6},
	{domain.EventGuidance, []string{"прогноз", "ожидания", "планирует"}, 5},
	{domain.EventDividendCut, []string{"сократил дивиденды", "снизил дивиденды"}, 6},
	{domain.EventDividends, []string{"дивиденды", "дивиденд", "выплата дивидендов"}, 5},
	{domain.EventBuyback, []string{"обратный выкуп", "байбэк", "buyback"}, 5},
	{domain.EventRegulatory, []string{"регулятор", "регулирование", "законопроект", "постановление", "указ", "антимонопольн"}, 5},
	{domain.EventLegal, []string{"судебн", "арбитраж", "судебное решение", "иск "}, 5},
	{domain.EventManagementChange, []string{"новый директор", "смена руководства", "ушел в отставку", "покинул пост", "сменил директор"}, 5},
	{domain.EventSupplyChain, []string{"цепочка поставок", "логистик", "перебои", "задержка поставок"}, 5},
	{domain.EventProduction, []string{"производство", "выпуск", "мощност", "завод"}, 4},
	{domain.EventAccident, []string{"авария", "инцидент", "катастроф", "чп "}, 5},
	{domain.EventStrike, []string{"забастовка", "остановка работы"}, 5},
	{domain.EventStockDrop, []string{`акци\p{L}*[^.!?\n]{0,40}?(?:упал|рухнул|снизил|обвалил|подешевел)`, "обвал акций", "падение акций", "падение котировок"}, 6},
	{domain.EventStockRally, []string{`акци\p{L}*[^.!?\n]{0,40}?(?:выросл|взлетел|подорожал|прибавил)`, "рост акций", "рост котировок", "ралли"}, 6},
	{domain.EventRubAppreciation, []string{`рубл\p{L}*[^.!?\n]{0,40}?(?:укрепил|вырос|подорожал)`, "укрепление рубля"}, 6},
	{domain.EventRubDepreciation, []string{`рубл\p{L}*[^.!?\n]{0,40}?(?:ослаб|упал|подешевел|обвалил)`, "ослабление рубля", "падение рубля", "девальвац"}, 6},
	{domain.EventMarketDrop, []string{`индекс\p{L}*[^.!?\n]{0,40}?(?:упал|снизил|обвалил|рухнул|потерял)`, "обвал рынка", "падение рынка", "обвал на рынке"}, 6},
}

// anchor-eligible types beyond the per-attribute rules
var defaultAnchorTypes = map[domain.EventType]struct{}{
	domain.EventSanctions:    {},
	domain.EventRateHike:     {},
	domain.EventRateCut:      {},
	domain.EventEarningsMiss: {},
	domain.EventEarningsBeat: {},
	domain.EventDefault:      {},
	domain.EventRegulatory:   {},
	domain.EventMnA:          {},
	domain.EventIPO:          {},
}

// Extractor detects events in news text.
type Extractor struct {
	patterns    map[domain.EventType]*regexp.Regexp
	priorities  map[domain.EventType]int
	anchorTypes map[domain.EventType]struct{}
	maxEvents   int
}

// NewExtractor builds an extractor. anchorTypes may be nil to use the
// default anchor set; maxEvents <= 0 falls back to 5.
func NewExtractor(anchorTypes []string, maxEvents int) *Extractor {
	e := &Extractor{
		patterns:    make(map[domain.EventType]*regexp.Regexp, len(families)),
		priorities:  make(map[domain.EventType]int, len(families)),
		anchorTypes: defaultAnchorTypes,
		maxEvents:   maxEvents,
	}
	if e.maxEvents <= 0 {
		e.maxEvents = 5
	}
	if len(anchorTypes) > 0 {
		e.anchorTypes = make(map[domain.EventType]struct{}, len(anchorTypes))
		for _, t := range anchorTypes {
			e.anchorTypes[domain.EventType(t)] = struct{}{}
		}
	}
	for _, f := range families {
		e.patterns[f.eventType] = regexp.MustCompile(strings.Join(f.markers, "|"))
		e.priorities[f.eventType] = f.priority
	}
	return e
}

// Input is the per-news slice of enrichment state the extractor reads.
// Trust is the publishing source's trust level.
type Input struct {
	News       domain.News
	Extraction domain.Extraction
	Tickers    []string
	Trust      int
}

// Extract returns up to maxEvents events, highest-priority types first. When
// no family matches, a single news_general event is produced.
func (e *Extractor) Extract(in Input) []domain.Event {
	fullText := strings.ToLower(in.News.Title + " " + in.News.Text)

	type detection struct {
		eventType domain.EventType
		matches   int
	}
	var detected []detection
	for _, f := range families {
		if n := len(e.patterns[f.eventType].FindAllString(fullText, -1)); n > 0 {
			detected = append(detected, detection{f.eventType, n})
		}
	}

	sort.SliceStable(detected, func(i, j int) bool {
		return e.priorities[detected[i].eventType] > e.priorities[detected[j].eventType]
	})
	if len(detected) > e.maxEvents {
		detected = detected[:e.maxEvents]
	}
	if len(detected) == 0 {
		detected = []detection{{domain.EventGeneral, 0}}
	}

	attrs := buildAttrs(in)

	events := make([]domain.Event, 0, len(detected))
	for _, d := range detected {
		conf := confidence(d.matches)
		events = append(events, domain.Event{
			ID:         uuid.New(),
			NewsID:     in.News.ID,
			Type:       d.eventType,
			Title:      eventTitle(in.News, e.patterns[d.eventType]),
			TS:         in.News.PublishedAt,
			Attrs:      attrs,
			IsAnchor:   e.isAnchor(d.eventType, in, attrs, conf),
			Confidence: conf,
		})
	}
	return events
}

func buildAttrs(in Input) domain.EventAttrs {
	attrs := domain.EventAttrs{
		Tickers: in.Tickers,
		People:  in.Extraction.People,
		Markets: in.Extraction.Markets,
		Metrics: in.Extraction.FinancialMetrics,
	}
	for _, c := range in.Extraction.Companies {
		attrs.Companies = append(attrs.Companies, c.Name)
		if c.Ticker != "" && !contains(attrs.Tickers, c.Ticker) {
			attrs.Tickers = append(attrs.Tickers, c.Ticker)
		}
	}
	return attrs
}

// eventTitle is the first sentence containing a family marker, falling back
// to the news title.
func eventTitle(news domain.News, pattern *regexp.Regexp) string {
	if pattern == nil {
		return news.Title
	}
	for _, sentence := range splitSentences(news.Title + ". " + news.Text) {
		if pattern.MatchString(strings.ToLower(sentence)) {
			return strings.TrimSpace(sentence)
		}
	}
	return news.Title
}

var sentenceRe = regexp.MustCompile(`[^.!?\n]+[.!?]?`)

func splitSentences(text string) []string {
	return sentenceRe.FindAllString(text, -1)
}

// gates for events qualifying as anchors through attributes rather than type
const (
	minAnchorTrust      = 7
	minAnchorConfidence = 0.7
)

// isAnchor marks events that commonly cause others. Anchor-eligible types
// qualify outright; multi-company events and events carrying financial
// metrics qualify only from trusted sources with confident detections.
func (e *Extractor) isAnchor(t domain.EventType, in Input, attrs domain.EventAttrs, conf float64) bool {
	if _, ok := e.anchorTypes[t]; ok {
		return true
	}
	if in.Trust < minAnchorTrust || conf < minAnchorConfidence {
		return false
	}
	return len(attrs.Companies) >= 2 || len(attrs.Metrics) >= 1
}

// confidence starts at 0.7, gains 0.1 per extra marker hit, and stays in
// [0.5, 0.95].
func confidence(matches int) float64 {
	conf := 0.7
	if matches > 1 {
		conf += 0.1 * float64(matches-1)
	}
	if conf > 0.95 {
		conf = 0.95
	}
	if conf < 0.5 {
		conf = 0.5
	}
	return conf
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
