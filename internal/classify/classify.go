// Package classify derives sector, country, type, and topics for a news
// item. Everything here is keyword- and lexicon-driven: the same input
// always classifies the same way.
package classify

import (
	"strings"

	"github.com/google/uuid"

	"github.com/radarlab/radar/internal/domain"
)

// NewsType is the coarse classification of a news item.
type NewsType string

const (
	TypeOneCompany NewsType = "OneCompany"
	TypeMarket     NewsType = "Market"
	TypeRegulatory NewsType = "Regulatory"
)

// NewsSubtype refines the type.
type NewsSubtype string

const (
	SubEarnings         NewsSubtype = "Earnings"
	SubGuidance         NewsSubtype = "Guidance"
	SubMnA              NewsSubtype = "MnA"
	SubDefault          NewsSubtype = "Default"
	SubSanctions        NewsSubtype = "Sanctions"
	SubHack             NewsSubtype = "Hack"
	SubLegal            NewsSubtype = "Legal"
	SubESG              NewsSubtype = "ESG"
	SubSupplyChain      NewsSubtype = "SupplyChain"
	SubTechOutage       NewsSubtype = "TechOutage"
	SubManagementChange NewsSubtype = "ManagementChange"
	SubOther            NewsSubtype = "Other"
)

// Input carries what the classifier needs from the pipeline.
type Input struct {
	NewsID        uuid.UUID
	Title         string
	Text          string
	Lang          string
	EventTypes    []domain.EventType
	LinkedTickers []string
	// hints from the external extractor, used when local rules find nothing
	ExtractorSector  string
	ExtractorCountry string
}

// Result is the classifier output.
type Result struct {
	Sector  string
	Country string
	Type    NewsType
	Subtype NewsSubtype
	Tags    []string
	Topics  []domain.Topic
}

// Classify runs the full deterministic classification.
func Classify(in Input) Result {
	textLower := strings.ToLower(in.Title + "\n" + in.Text)

	res := Result{
		Sector:  classifySector(in, textLower),
		Country: classifyCountry(in, textLower),
		Subtype: classifySubtype(in.EventTypes, textLower),
		Tags:    classifyTags(textLower),
	}
	res.Type = classifyType(in, res.Subtype)
	res.Topics = buildTopics(in.NewsID, res)
	return res
}

// classifySector prefers linked issuers over keywords over extractor hints.
func classifySector(in Input, textLower string) string {
	for _, ticker := range in.LinkedTickers {
		if s, ok := SectorByTicker(ticker); ok {
			return s.ID
		}
	}
	if s, ok := SectorByKeywords(textLower); ok {
		return s.ID
	}
	if _, ok := SectorByID(in.ExtractorSector); ok {
		return in.ExtractorSector
	}
	return ""
}

var countryMarkers = []struct {
	marker string
	code   string
}{
	{"сша", "US"}, {"соединенные штаты", "US"},
	{"китай", "CN"}, {"кнр", "CN"},
	{"евросоюз", "EU"}, {"европейский союз", "EU"},
	{"германи", "DE"}, {"франци", "FR"}, {"великобритани", "GB"},
	{"турци", "TR"}, {"казахстан", "KZ"}, {"беларус", "BY"},
	{"инди", "IN"}, {"япони", "JP"},
}

// classifyCountry extracts an ISO-2 country code: explicit mentions first,
// then the extractor hint, then the language default.
func classifyCountry(in Input, textLower string) string {
	for _, cm := range countryMarkers {
		if strings.Contains(textLower, cm.marker) {
			return cm.code
		}
	}
	if len(in.ExtractorCountry) == 2 {
		return strings.ToUpper(in.ExtractorCountry)
	}
	if in.Lang == "ru" {
		return "RU"
	}
	return ""
}

// subtype precedence: the most specific corporate-action families first
var subtypeByEvent = []struct {
	event domain.EventType
	sub   NewsSubtype
}{
	{domain.EventSanctions, SubSanctions},
	{domain.EventDefault, SubDefault},
	{domain.EventMnA, SubMnA},
	{domain.EventEarningsBeat, SubEarnings},
	{domain.EventEarningsMiss, SubEarnings},
	{domain.EventEarnings, SubEarnings},
	{domain.EventGuidanceCut, SubGuidance},
	{domain.EventGuidance, SubGuidance},
	{domain.EventManagementChange, SubManagementChange},
	{domain.EventSupplyChain, SubSupplyChain},
	{domain.EventLegal, SubLegal},
}

func classifySubtype(events []domain.EventType, textLower string) NewsSubtype {
	set := make(map[domain.EventType]struct{}, len(events))
	for _, e := range events {
		set[e] = struct{}{}
	}
	for _, m := range subtypeByEvent {
		if _, ok := set[m.event]; ok {
			return m.sub
		}
	}

	switch {
	case containsAnyFold(textLower, "кибератак", "взлом", "хакер", "утечка данных"):
		return SubHack
	case containsAnyFold(textLower, "технический сбой", "сбой в работе", "недоступен сервис"):
		return SubTechOutage
	case containsAnyFold(textLower, "esg", "углеродн", "выбросы", "устойчивое развитие"):
		return SubESG
	}
	return SubOther
}

func classifyType(in Input, sub NewsSubtype) NewsType {
	if sub == SubSanctions {
		return TypeRegulatory
	}
	for _, e := range in.EventTypes {
		switch e {
		case domain.EventRegulatory, domain.EventRateHike, domain.EventRateCut:
			return TypeRegulatory
		}
	}
	if len(in.LinkedTickers) == 1 {
		return TypeOneCompany
	}
	return TypeMarket
}

var tagMarkers = []struct {
	tag     string
	markers []string
}{
	{"dividends", []string{"дивиденд", "dividend"}},
	{"buyback", []string{"обратный выкуп", "байбэк", "buyback"}},
	{"ipo", []string{"ipo", "первичное размещение"}},
	{"quarterly", []string{"квартал", "quarterly", "кв."}},
	{"ai", []string{"искусственный интеллект", "нейросет", " ии "}},
	{"crypto", []string{"криптовалют", "биткоин", "bitcoin"}},
}

// classifyTags picks up to three secondary tags in lexicon order.
func classifyTags(textLower string) []string {
	var tags []string
	for _, tm := range tagMarkers {
		if len(tags) == 3 {
			break
		}
		if containsAnyFold(textLower, tm.markers...) {
			tags = append(tags, tm.tag)
		}
	}
	return tags
}

// buildTopics projects the classification onto at most three topics; the
// subtype-derived topic is primary.
func buildTopics(newsID uuid.UUID, res Result) []domain.Topic {
	var topics []domain.Topic

	if res.Subtype != SubOther {
		topics = append(topics, domain.Topic{
			NewsID: newsID, Code: strings.ToLower(string(res.Subtype)),
			Confidence: 0.9, IsPrimary: true,
		})
	}
	if res.Sector != "" {
		if s, ok := SectorByID(res.Sector); ok {
			topics = append(topics, domain.Topic{
				NewsID: newsID, Code: "sector:" + strings.ToLower(strings.ReplaceAll(s.Name, " ", "_")),
				Confidence: 0.7, IsPrimary: len(topics) == 0,
			})
		}
	}
	for _, tag := range res.Tags {
		if len(topics) == 3 {
			break
		}
		topics = append(topics, domain.Topic{
			NewsID: newsID, Code: tag, Confidence: 0.6, IsPrimary: len(topics) == 0,
		})
	}
	return topics
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func containsAnyFold(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
