package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/domain"
)

func newsWith(title, text string) domain.News {
	return domain.News{
		ID:          uuid.New(),
		Title:       title,
		Text:        text,
		PublishedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestExtractRateHike(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("ЦБ повысил ставку до 16%",
		"Банк России объявил о повышении ставки на фоне инфляции.")

	events := e.Extract(Input{News: news})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRateHike, events[0].Type)
	assert.True(t, events[0].IsAnchor)
	assert.Equal(t, news.PublishedAt, events[0].TS)
}

func TestExtractFallsBackToGeneral(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("Погода в Москве", "Сегодня солнечно и тепло.")

	events := e.Extract(Input{News: news})
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventGeneral, events[0].Type)
	assert.False(t, events[0].IsAnchor)
	assert.Equal(t, news.Title, events[0].Title)
}

func TestExtractPrioritizesSpecificTypes(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("Санкции и отчетность",
		"Введены новые санкции. Компания опубликовала отчетность: прибыль выросла.")

	events := e.Extract(Input{News: news})
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, domain.EventSanctions, events[0].Type,
		"sanctions outrank earnings in the priority table")
}

func TestExtractCapsEventCount(t *testing.T) {
	e := NewExtractor(nil, 3)
	news := newsWith("Все сразу",
		"Санкции введены. Дефолт объявлен. Прибыль упала, убыток вырос. "+
			"Дивиденды отменены. Обратный выкуп остановлен. Производство встало. "+
			"Забастовка на заводе. Суд арбитраж иск.")

	events := e.Extract(Input{News: news})
	assert.Len(t, events, 3)
}

func TestEventTitleIsFirstMatchingSentence(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("Итоги дня на рынке",
		"Торги открылись ростом. Совет директоров рекомендовал дивиденды за квартал. Индекс закрылся в плюсе.")

	events := e.Extract(Input{News: news})
	require.NotEmpty(t, events)

	var divTitle string
	for _, ev := range events {
		if ev.Type == domain.EventDividends {
			divTitle = ev.Title
		}
	}
	assert.Equal(t, "Совет директоров рекомендовал дивиденды за квартал.", divTitle)
}

func TestAnchorByCompaniesAndMetrics(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("Производство выросло", "Завод увеличил выпуск продукции.")

	// production alone is not anchor-eligible
	events := e.Extract(Input{News: news, Trust: 8})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventProduction, events[0].Type)
	assert.False(t, events[0].IsAnchor)

	// two companies make it an anchor
	events = e.Extract(Input{
		News:  news,
		Trust: 8,
		Extraction: domain.Extraction{Companies: []domain.ExtractedCompany{
			{Name: "Северсталь"}, {Name: "НЛМК"},
		}},
	})
	assert.True(t, events[0].IsAnchor)

	// a financial metric does too
	events = e.Extract(Input{
		News:  news,
		Trust: 8,
		Extraction: domain.Extraction{FinancialMetrics: []domain.MetricRef{
			{MetricType: "revenue", Value: 1e9},
		}},
	})
	assert.True(t, events[0].IsAnchor)
}

func TestAnchorByAttributesRequiresTrustedSource(t *testing.T) {
	e := NewExtractor(nil, 5)
	news := newsWith("Производство выросло", "Завод увеличил выпуск продукции.")
	twoCompanies := domain.Extraction{Companies: []domain.ExtractedCompany{
		{Name: "Северсталь"}, {Name: "НЛМК"},
	}}

	// attribute-qualified anchors need source trust
	events := e.Extract(Input{News: news, Trust: 4, Extraction: twoCompanies})
	require.NotEmpty(t, events)
	assert.False(t, events[0].IsAnchor)

	events = e.Extract(Input{News: news, Trust: 7, Extraction: twoCompanies})
	assert.True(t, events[0].IsAnchor)

	// anchor-eligible types stay anchors regardless of trust
	events = e.Extract(Input{News: newsWith("Санкции", "Введены санкции."), Trust: 2})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventSanctions, events[0].Type)
	assert.True(t, events[0].IsAnchor)
}

func TestExtractMarketReactionTypes(t *testing.T) {
	e := NewExtractor(nil, 5)

	events := e.Extract(Input{News: newsWith("Рубль укрепился к доллару",
		"Курс вырос по итогам торговой сессии.")})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRubAppreciation, events[0].Type)

	events = e.Extract(Input{News: newsWith("Акции SBER упали на 5%",
		"Бумаги банка дешевеют на повышенных объемах.")})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventStockDrop, events[0].Type)

	events = e.Extract(Input{News: newsWith("Индекс Мосбиржи снизился",
		"Обвал рынка продолжился на вечерней сессии.")})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventMarketDrop, events[0].Type)

	events = e.Extract(Input{News: newsWith("Рубль ослаб к юаню",
		"Ослабление рубля ускорилось.")})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventRubDepreciation, events[0].Type)
}

func TestConfidenceScalesWithMatches(t *testing.T) {
	e := NewExtractor(nil, 5)

	one := e.Extract(Input{News: newsWith("Дефолт", "Объявлен дефолт.")})
	require.NotEmpty(t, one)
	assert.InDelta(t, 0.8, one[0].Confidence, 1e-9, "two hits of one family")

	single := e.Extract(Input{News: newsWith("Забастовка", "Рабочие объявили забастовку")})
	require.NotEmpty(t, single)
	assert.InDelta(t, 0.7, single[0].Confidence, 1e-9)

	many := e.Extract(Input{News: newsWith("Дефолт",
		"Дефолт. Дефолт. Дефолт. Дефолт. Дефолт. Дефолт.")})
	assert.InDelta(t, 0.95, many[0].Confidence, 1e-9, "confidence is clamped")
}

func TestConfigurableAnchorTypes(t *testing.T) {
	e := NewExtractor([]string{"strike"}, 5)
	news := newsWith("Забастовка", "Рабочие объявили забастовку")

	events := e.Extract(Input{News: news})
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventStrike, events[0].Type)
	assert.True(t, events[0].IsAnchor)

	// sanctions are no longer anchors under the custom set
	events = e.Extract(Input{News: newsWith("Санкции", "Введены санкции")})
	assert.False(t, events[0].IsAnchor)
}

func TestTickersMergedFromExtraction(t *testing.T) {
	e := NewExtractor(nil, 5)
	events := e.Extract(Input{
		News:    newsWith("Отчетность", "Компания показала прибыль."),
		Tickers: []string{"SBER"},
		Extraction: domain.Extraction{Companies: []domain.ExtractedCompany{
			{Name: "Сбербанк", Ticker: "SBER"},
			{Name: "Газпром", Ticker: "GAZP"},
		}},
	})
	require.NotEmpty(t, events)
	assert.ElementsMatch(t, []string{"SBER", "GAZP"}, events[0].Attrs.Tickers)
	assert.Equal(t, []string{"Сбербанк", "Газпром"}, events[0].Attrs.Companies)
}
