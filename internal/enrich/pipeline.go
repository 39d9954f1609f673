// Package enrich orchestrates the per-news pipeline: extraction, entity
// persistence, issuer linking, classification, event extraction, causal
// linking, and market impact, finishing with one atomic enrichment commit.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/radarlab/radar/internal/ceg"
	"github.com/radarlab/radar/internal/classify"
	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/events"
	"github.com/radarlab/radar/internal/linker"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
	"github.com/radarlab/radar/internal/study"
)

// idlePause is how long a worker sleeps when the queue is empty.
const idlePause = time.Second

// MarketAnalyser measures the market reaction for impact edges.
type MarketAnalyser interface {
	Analyse(ctx context.Context, ticker string, eventTS time.Time) (*study.Result, error)
}

// GraphSink receives the graph mirror of enrichment output. All methods are
// idempotent.
type GraphSink interface {
	WriteNews(ctx context.Context, news domain.News, country string) error
	WriteEvents(ctx context.Context, newsID uuid.UUID, events []domain.Event) error
	WriteIssuer(ctx context.Context, issuer domain.Issuer) error
	LinkNewsIssuer(ctx context.Context, link domain.LinkedCompany) error
	WriteImpact(ctx context.Context, impact domain.Impact) error
}

// Pipeline is the per-news enrichment orchestrator.
type Pipeline struct {
	repo      persistence.Repository
	extractor Extractor
	linker    *linker.Linker
	events    *events.Extractor
	engine    *ceg.Engine
	analyser  MarketAnalyser
	graph     GraphSink
	cfg       config.EnrichmentConfig

	trustMu sync.Mutex
	trust   map[uuid.UUID]int
}

// NewPipeline wires the pipeline. engine, analyser, and graph may be nil;
// the corresponding stages are skipped.
func NewPipeline(repo persistence.Repository, extractor Extractor, lk *linker.Linker,
	ev *events.Extractor, engine *ceg.Engine, analyser MarketAnalyser, graph GraphSink,
	cfg config.EnrichmentConfig) *Pipeline {
	return &Pipeline{
		repo: repo, extractor: extractor, linker: lk, events: ev,
		engine: engine, analyser: analyser, graph: graph, cfg: cfg,
		trust: make(map[uuid.UUID]int),
	}
}

// Run drives the worker pool until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	workers := p.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error { return p.worker(ctx) })
	}
	return g.Wait()
}

func (p *Pipeline) worker(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		batch, err := p.repo.News.ClaimPending(ctx, p.cfg.BatchSize)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim pending news")
			if !pause(ctx, idlePause) {
				return ctx.Err()
			}
			continue
		}
		if len(batch) == 0 {
			if !pause(ctx, idlePause) {
				return ctx.Err()
			}
			continue
		}

		for _, news := range batch {
			p.processWithBudget(ctx, news)
		}
	}
}

func (p *Pipeline) processWithBudget(ctx context.Context, news domain.News) {
	timeout := time.Duration(p.cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Minute
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := p.ProcessOne(itemCtx, news); err != nil {
		metrics.EnrichFailed.Inc()
		log.Error().Err(err).Str("news_id", news.ID.String()).Msg("enrichment failed")
		if mErr := p.repo.News.MarkFailed(ctx, news.ID, p.cfg.MaxRetries, err.Error()); mErr != nil {
			log.Error().Err(mErr).Str("news_id", news.ID.String()).Msg("failed to record enrichment failure")
		}
		return
	}
	metrics.EnrichProcessed.Inc()
}

// ProcessOne enriches a single claimed news item.
func (p *Pipeline) ProcessOne(ctx context.Context, news domain.News) error {
	if news.IsAd || strings.TrimSpace(news.Title+news.Text) == "" {
		return p.saveMinimal(ctx, news)
	}

	extraction, err := p.extractor.Extract(ctx, ExtractRequest{
		Text: news.Text, Title: news.Title, PublishedAt: news.PublishedAt, Lang: news.Lang,
	})
	if err != nil {
		return fmt.Errorf("extraction failed: %w", err)
	}
	if extraction.IsAdvertisement {
		return p.saveMinimal(ctx, news)
	}

	entities := buildEntities(news.ID, extraction)

	links, linkedTickers, issuers := p.linkCompanies(ctx, news, extraction)

	cls := classify.Classify(classify.Input{
		NewsID:           news.ID,
		Title:            news.Title,
		Text:             news.Text,
		Lang:             news.Lang,
		EventTypes:       eventTypes(extraction.EventTypes),
		LinkedTickers:    linkedTickers,
		ExtractorSector:  extraction.Sector,
		ExtractorCountry: extraction.Country,
	})

	evs := p.events.Extract(events.Input{
		News: news, Extraction: extraction, Tickers: linkedTickers,
		Trust: p.sourceTrust(ctx, news.SourceID),
	})

	var edges []domain.CausalEdge
	if p.engine != nil {
		edges, err = p.engine.ProcessNews(ctx, news, evs)
		if err != nil {
			return fmt.Errorf("causal linking failed: %w", err)
		}
	}

	impacts := p.measureImpacts(ctx, evs)

	outbox, err := buildOutbox(news, cls, evs, edges, impacts)
	if err != nil {
		return err
	}

	summary := makeSummary(news.Text)
	res := persistence.EnrichmentResult{
		NewsID:   news.ID,
		Summary:  summary,
		Entities: entities,
		Links:    links,
		Topics:   cls.Topics,
		Events:   evs,
		Sector:   cls.Sector,
		Country:  cls.Country,
		NewsType: string(cls.Type),
		Subtype:  string(cls.Subtype),
		Tags:     cls.Tags,
		Outbox:   outbox,
	}
	if err := p.repo.News.SaveEnrichment(ctx, res); err != nil {
		return fmt.Errorf("failed to commit enrichment: %w", err)
	}

	p.mirrorToGraph(ctx, news, cls.Country, evs, issuers, links, impacts)
	return nil
}

// sourceTrust resolves the publishing source's trust level, cached for the
// process lifetime. Unknown sources count as untrusted.
func (p *Pipeline) sourceTrust(ctx context.Context, sourceID uuid.UUID) int {
	p.trustMu.Lock()
	lvl, ok := p.trust[sourceID]
	p.trustMu.Unlock()
	if ok {
		return lvl
	}

	if p.repo.Sources == nil {
		return 0
	}
	src, err := p.repo.Sources.GetByID(ctx, sourceID)
	if err != nil {
		log.Warn().Err(err).Str("source_id", sourceID.String()).Msg("source trust lookup failed")
		return 0
	}
	p.trustMu.Lock()
	p.trust[sourceID] = src.TrustLevel
	p.trustMu.Unlock()
	return src.TrustLevel
}

// saveMinimal finishes ads and empty items without running the pipeline.
func (p *Pipeline) saveMinimal(ctx context.Context, news domain.News) error {
	enriched, err := domain.NewOutboxEvent(domain.TopicNewsEnriched, map[string]interface{}{
		"news_id": news.ID,
		"skipped": true,
		"is_ad":   news.IsAd,
	})
	if err != nil {
		return err
	}
	return p.repo.News.SaveEnrichment(ctx, persistence.EnrichmentResult{
		NewsID: news.ID,
		Outbox: []domain.OutboxEvent{enriched},
	})
}

// linkCompanies resolves extracted organisations to issuers. Mentions whose
// name appears in the title sort first, so the primary link lands on a
// title organisation.
func (p *Pipeline) linkCompanies(ctx context.Context, news domain.News, extraction domain.Extraction) ([]domain.LinkedCompany, []string, []domain.Issuer) {
	if p.linker == nil || len(extraction.Companies) == 0 {
		return nil, nil, nil
	}

	titleLower := strings.ToLower(news.Title)
	mentions := make([]linker.Mention, 0, len(extraction.Companies))
	named := make(map[string]struct{}, len(extraction.Companies))
	for _, c := range extraction.Companies {
		mentions = append(mentions, linker.Mention{Name: c.Name, Ticker: c.Ticker})
		if c.Ticker != "" {
			named[c.Ticker] = struct{}{}
		}
	}
	// bare ticker tokens in the text; bogus ones fail resolution and drop out
	for _, tok := range linker.FindTickerCandidates(news.Title + " " + news.Text) {
		if _, dup := named[tok]; !dup {
			mentions = append(mentions, linker.Mention{Name: tok, Ticker: tok})
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool {
		inTitleI := strings.Contains(titleLower, strings.ToLower(mentions[i].Name))
		inTitleJ := strings.Contains(titleLower, strings.ToLower(mentions[j].Name))
		return inTitleI && !inTitleJ
	})

	links := p.linker.Resolve(ctx, news.ID, mentions)

	var tickers []string
	var issuers []domain.Issuer
	for _, link := range links {
		issuer, err := p.repo.Issuers.GetByID(ctx, link.IssuerID)
		if err != nil {
			log.Warn().Err(err).Str("issuer_id", link.IssuerID.String()).Msg("linked issuer missing")
			continue
		}
		tickers = append(tickers, issuer.Ticker)
		issuers = append(issuers, *issuer)
	}
	return links, tickers, issuers
}

// measureImpacts runs the event study for each event's first ticker.
// Insufficient history is expected and skipped quietly.
func (p *Pipeline) measureImpacts(ctx context.Context, evs []domain.Event) []domain.Impact {
	if p.analyser == nil {
		return nil
	}

	var impacts []domain.Impact
	for _, ev := range evs {
		if len(ev.Attrs.Tickers) == 0 {
			continue
		}
		ticker := ev.Attrs.Tickers[0]
		res, err := p.analyser.Analyse(ctx, ticker, ev.TS)
		if err != nil {
			if !errors.Is(err, study.ErrInsufficientHistory) {
				log.Warn().Err(err).Str("ticker", ticker).Msg("impact measurement failed")
			}
			continue
		}
		impacts = append(impacts, res.Impact(ev.ID, ticker))
	}
	return impacts
}

func (p *Pipeline) mirrorToGraph(ctx context.Context, news domain.News, country string,
	evs []domain.Event, issuers []domain.Issuer, links []domain.LinkedCompany, impacts []domain.Impact) {
	if p.graph == nil {
		return
	}

	if err := p.graph.WriteNews(ctx, news, country); err != nil {
		log.Warn().Err(err).Str("news_id", news.ID.String()).Msg("graph news write failed")
		return
	}
	if err := p.graph.WriteEvents(ctx, news.ID, evs); err != nil {
		log.Warn().Err(err).Str("news_id", news.ID.String()).Msg("graph events write failed")
	}
	// issuer nodes first, so mention links have both endpoints
	for _, issuer := range issuers {
		if err := p.graph.WriteIssuer(ctx, issuer); err != nil {
			log.Warn().Err(err).Str("ticker", issuer.Ticker).Msg("graph issuer write failed")
		}
	}
	for _, link := range links {
		if err := p.graph.LinkNewsIssuer(ctx, link); err != nil {
			log.Warn().Err(err).Str("issuer_id", link.IssuerID.String()).Msg("graph mention write failed")
		}
	}
	for _, impact := range impacts {
		if err := p.graph.WriteImpact(ctx, impact); err != nil {
			log.Warn().Err(err).Str("ticker", impact.Ticker).Msg("graph impact write failed")
		}
	}
}

func buildEntities(newsID uuid.UUID, extraction domain.Extraction) []domain.Entity {
	var entities []domain.Entity
	for _, c := range extraction.Companies {
		attrs := map[string]interface{}{}
		if c.Ticker != "" {
			attrs["ticker"] = c.Ticker
		}
		entities = append(entities, domain.Entity{
			ID: uuid.New(), NewsID: newsID, Kind: domain.EntityOrg,
			RawText: c.Name, Normalized: linker.Normalize(c.Name),
			Confidence: 0.9, Attrs: attrs,
		})
	}
	for _, person := range extraction.People {
		entities = append(entities, domain.Entity{
			ID: uuid.New(), NewsID: newsID, Kind: domain.EntityPerson,
			RawText: person.Name, Normalized: strings.ToLower(person.Name),
			Confidence: 0.9,
			Attrs:      map[string]interface{}{"position": person.Position, "company": person.Company},
		})
	}
	for _, metric := range extraction.FinancialMetrics {
		entities = append(entities, domain.Entity{
			ID: uuid.New(), NewsID: newsID, Kind: domain.EntityMoney,
			RawText: metric.MetricType, Normalized: strings.ToLower(metric.MetricType),
			Confidence: 0.8,
			Attrs:      map[string]interface{}{"value": metric.Value, "company": metric.Company},
		})
	}
	return entities
}

func buildOutbox(news domain.News, cls classify.Result, evs []domain.Event,
	edges []domain.CausalEdge, impacts []domain.Impact) ([]domain.OutboxEvent, error) {
	var outbox []domain.OutboxEvent

	enriched, err := domain.NewOutboxEvent(domain.TopicNewsEnriched, map[string]interface{}{
		"news_id": news.ID,
		"sector":  cls.Sector,
		"country": cls.Country,
		"type":    cls.Type,
		"subtype": cls.Subtype,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build outbox: %w", err)
	}
	outbox = append(outbox, enriched)

	for _, ev := range evs {
		row, err := domain.NewOutboxEvent(domain.TopicEventCreated, ev)
		if err != nil {
			return nil, fmt.Errorf("failed to build outbox: %w", err)
		}
		outbox = append(outbox, row)
	}
	for _, edge := range edges {
		row, err := domain.NewOutboxEvent(domain.TopicEventCaused, edge)
		if err != nil {
			return nil, fmt.Errorf("failed to build outbox: %w", err)
		}
		outbox = append(outbox, row)
	}
	for _, impact := range impacts {
		row, err := domain.NewOutboxEvent(domain.TopicEventImpacts, impact)
		if err != nil {
			return nil, fmt.Errorf("failed to build outbox: %w", err)
		}
		outbox = append(outbox, row)
	}
	return outbox, nil
}

func eventTypes(raw []string) []domain.EventType {
	out := make([]domain.EventType, 0, len(raw))
	for _, t := range raw {
		out = append(out, domain.EventType(t))
	}
	return out
}

// makeSummary keeps the first two sentences, capped at 300 runes.
func makeSummary(text string) *string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var summary string
	count := 0
	for _, r := range text {
		summary += string(r)
		if r == '.' || r == '!' || r == '?' {
			count++
			if count == 2 {
				break
			}
		}
	}
	runes := []rune(summary)
	if len(runes) > 300 {
		summary = string(runes[:300])
	}
	summary = strings.TrimSpace(summary)
	return &summary
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
