// Package ceg maintains the causal event graph: scoring candidate
// cause/effect pairs against domain priors, causal text markers, and market
// reaction, and keeping only edges above the confidence floor.
package ceg

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
)

// lagPenalty is applied to the total score when the observed delay falls
// outside the prior's expected lag band.
const lagPenalty = 0.75

// forwardCandidateLimit caps how many past events are considered as causes
// for one new event. When the window holds more, the newest win.
const forwardCandidateLimit = 200

// MarketScorer yields the market-reaction component of the causal score for
// one instrument around an event timestamp. Implementations must return 0,
// not an error, when history is merely insufficient.
type MarketScorer interface {
	ConfMarket(ctx context.Context, ticker string, eventTS time.Time) (float64, error)
}

// EdgeStore persists CAUSES edges. All writes are idempotent per
// (cause, effect) pair.
type EdgeStore interface {
	UpsertEdge(ctx context.Context, edge domain.CausalEdge) error
	DeleteEdge(ctx context.Context, causeID, effectID uuid.UUID) error
	ListFrom(ctx context.Context, causeID uuid.UUID) ([]domain.CausalEdge, error)
}

// NewsGetter provides the news text backing an event.
type NewsGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error)
}

// keyedMutex serializes linking per event id so two news items naming the
// same event do not re-score it concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (k *keyedMutex) lock(id uuid.UUID) {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()
	m.Lock()
}

func (k *keyedMutex) unlock(id uuid.UUID) {
	k.mu.Lock()
	m := k.locks[id]
	k.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}

// Engine scores and maintains causal edges between events.
type Engine struct {
	cfg        config.CEGConfig
	events     persistence.EventRepo
	news       NewsGetter
	edges      EdgeStore
	market     MarketScorer
	retroTypes map[domain.EventType]struct{}
	locks      *keyedMutex
}

// NewEngine builds the causal engine. market may be nil, in which case the
// market component of every score is 0.
func NewEngine(cfg config.CEGConfig, events persistence.EventRepo, news NewsGetter, edges EdgeStore, market MarketScorer) *Engine {
	retro := defaultRetroTypes
	if len(cfg.RetroTypes) > 0 {
		retro = make(map[domain.EventType]struct{}, len(cfg.RetroTypes))
		for _, t := range cfg.RetroTypes {
			retro[domain.EventType(t)] = struct{}{}
		}
	}
	return &Engine{
		cfg:        cfg,
		events:     events,
		news:       news,
		edges:      edges,
		market:     market,
		retroTypes: retro,
		locks:      newKeyedMutex(),
	}
}

// ProcessNews links the batch of events extracted from one news item:
// forward against past events in the lookback window, internally within the
// batch, and retroactively against future events for retro-eligible types.
// Returns the edges that were written.
func (e *Engine) ProcessNews(ctx context.Context, news domain.News, newEvents []domain.Event) ([]domain.CausalEdge, error) {
	if len(newEvents) == 0 {
		return nil, nil
	}

	// batch order: by ts, extraction order breaks ties
	batch := make([]domain.Event, len(newEvents))
	copy(batch, newEvents)
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].TS.Before(batch[j].TS) })

	lookback := time.Duration(e.cfg.LookbackDays) * 24 * time.Hour
	past, err := e.events.ListWindow(ctx, persistence.TimeRange{
		From: batch[0].TS.Add(-lookback),
		To:   batch[len(batch)-1].TS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load lookback window: %w", err)
	}
	if len(past) > forwardCandidateLimit {
		past = past[len(past)-forwardCandidateLimit:]
	}

	var written []domain.CausalEdge
	for i, eNew := range batch {
		e.locks.lock(eNew.ID)

		var candidates []domain.CausalEdge

		// forward: past events as causes
		effectText := news.Title + "\n" + news.Text
		for _, ePast := range past {
			if ePast.ID == eNew.ID || !ePast.TS.Before(eNew.TS) {
				continue
			}
			causeText, terr := e.newsText(ctx, ePast.NewsID)
			if terr != nil {
				log.Warn().Err(terr).Str("event_id", ePast.ID.String()).Msg("causal scoring: cause text unavailable")
			}
			if edge, ok := e.score(ctx, ePast, eNew, causeText, effectText, false); ok {
				edge.EvidenceSet = evidence(ePast, eNew, past)
				candidates = append(candidates, edge)
			}
		}

		// internal: earlier events of the same news
		for _, eSib := range batch[:i] {
			if edge, ok := e.score(ctx, eSib, eNew, effectText, effectText, false); ok {
				candidates = append(candidates, edge)
			}
		}

		pruned := pruneDominated(candidates, eventTypeIndex(append(past, batch...)))
		for _, edge := range pruned {
			if err := e.edges.UpsertEdge(ctx, edge); err != nil {
				e.locks.unlock(eNew.ID)
				return written, fmt.Errorf("failed to upsert causal edge: %w", err)
			}
			metrics.CausalEdges.WithLabelValues(string(edge.Kind)).Inc()
			written = append(written, edge)
		}

		// retro: this event explains already-recorded future ones
		if _, ok := e.retroTypes[eNew.Type]; ok {
			retroEdges, rerr := e.linkRetro(ctx, eNew, effectText)
			if rerr != nil {
				e.locks.unlock(eNew.ID)
				return written, rerr
			}
			written = append(written, retroEdges...)
		}

		e.locks.unlock(eNew.ID)
	}
	return written, nil
}

func (e *Engine) linkRetro(ctx context.Context, cause domain.Event, causeText string) ([]domain.CausalEdge, error) {
	retroWindow := time.Duration(e.cfg.RetroWindowDays) * 24 * time.Hour
	future, err := e.events.ListWindow(ctx, persistence.TimeRange{
		From: cause.TS.Add(time.Second),
		To:   cause.TS.Add(retroWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load retro window: %w", err)
	}

	var written []domain.CausalEdge
	for _, eFut := range future {
		if eFut.ID == cause.ID {
			continue
		}
		effectText, terr := e.newsText(ctx, eFut.NewsID)
		if terr != nil {
			log.Warn().Err(terr).Str("event_id", eFut.ID.String()).Msg("causal scoring: effect text unavailable")
		}
		edge, ok := e.score(ctx, cause, eFut, causeText, effectText, true)
		if !ok {
			continue
		}
		edge.EvidenceSet = evidence(cause, eFut, future)
		if err := e.edges.UpsertEdge(ctx, edge); err != nil {
			return written, fmt.Errorf("failed to upsert retro edge: %w", err)
		}
		metrics.CausalEdges.WithLabelValues(string(edge.Kind)).Inc()
		written = append(written, edge)
	}
	return written, nil
}

// Rescore re-evaluates one stored edge: below the floor it is deleted,
// otherwise rewritten with fresh component scores.
func (e *Engine) Rescore(ctx context.Context, causeID, effectID uuid.UUID, retroactive bool) error {
	cause, err := e.events.GetByID(ctx, causeID)
	if err != nil {
		return err
	}
	effect, err := e.events.GetByID(ctx, effectID)
	if err != nil {
		return err
	}
	causeText, _ := e.newsText(ctx, cause.NewsID)
	effectText, _ := e.newsText(ctx, effect.NewsID)

	edge, ok := e.score(ctx, *cause, *effect, causeText, effectText, retroactive)
	if !ok {
		return e.edges.DeleteEdge(ctx, causeID, effectID)
	}
	return e.edges.UpsertEdge(ctx, edge)
}

// score evaluates cause -> effect. Returns false when the pair is temporally
// impossible or the total confidence lands below the floor.
func (e *Engine) score(ctx context.Context, cause, effect domain.Event, causeText, effectText string, retroactive bool) (domain.CausalEdge, bool) {
	if !cause.TS.Before(effect.TS) {
		return domain.CausalEdge{}, false
	}

	confPrior := 0.0
	sign := domain.SignEither
	lag := defaultLag
	if p, ok := lookupPrior(cause.Type, effect.Type); ok {
		confPrior = p.conf
		sign = p.sign
		lag = p.lag
	}

	confText := textConfidence(causeText, effectText)
	confMarket := e.marketConfidence(ctx, effect)

	w := e.cfg.Weights
	total := w.Prior*confPrior + w.Text*confText + w.Market*confMarket
	if !lagMatches(lag, effect.TS.Sub(cause.TS)) {
		total *= lagPenalty
	}
	if total < e.cfg.MinConfidence {
		return domain.CausalEdge{}, false
	}

	// retro edges stay retro no matter how strong the components are
	kind := domain.EdgeHypothesis
	switch {
	case retroactive:
		kind = domain.EdgeRetro
	case confPrior >= 0.6 && confText >= 0.6 && confMarket >= 0.6:
		kind = domain.EdgeConfirmed
	}

	return domain.CausalEdge{
		CauseID:       cause.ID,
		EffectID:      effect.ID,
		Kind:          kind,
		Sign:          sign,
		ExpectedLag:   lag,
		ConfPrior:     confPrior,
		ConfText:      confText,
		ConfMarket:    confMarket,
		ConfTotal:     total,
		IsRetroactive: retroactive,
	}, true
}

// marketConfidence asks the analyser about the effect's first ticker.
// Missing data and analyser failures both degrade to 0.
func (e *Engine) marketConfidence(ctx context.Context, effect domain.Event) float64 {
	if e.market == nil || len(effect.Attrs.Tickers) == 0 {
		return 0
	}
	conf, err := e.market.ConfMarket(ctx, effect.Attrs.Tickers[0], effect.TS)
	if err != nil {
		log.Warn().Err(err).
			Str("ticker", effect.Attrs.Tickers[0]).
			Str("event_id", effect.ID.String()).
			Msg("market confidence unavailable")
		return 0
	}
	return conf
}

func (e *Engine) newsText(ctx context.Context, newsID uuid.UUID) (string, error) {
	n, err := e.news.GetByID(ctx, newsID)
	if err != nil {
		return "", err
	}
	return n.Title + "\n" + n.Text, nil
}

// pruneDominated keeps, per effect, only the best-scoring cause of each
// cause type.
func pruneDominated(edges []domain.CausalEdge, typeOf map[uuid.UUID]domain.EventType) []domain.CausalEdge {
	type slot struct {
		effect    uuid.UUID
		causeType domain.EventType
	}
	best := make(map[slot]domain.CausalEdge, len(edges))
	for _, edge := range edges {
		s := slot{edge.EffectID, typeOf[edge.CauseID]}
		if cur, ok := best[s]; !ok || edge.ConfTotal > cur.ConfTotal {
			best[s] = edge
		}
	}
	kept := make([]domain.CausalEdge, 0, len(best))
	for _, edge := range edges {
		s := slot{edge.EffectID, typeOf[edge.CauseID]}
		if best[s].CauseID == edge.CauseID {
			kept = append(kept, edge)
		}
	}
	return kept
}

func eventTypeIndex(events []domain.Event) map[uuid.UUID]domain.EventType {
	idx := make(map[uuid.UUID]domain.EventType, len(events))
	for _, ev := range events {
		idx[ev.ID] = ev.Type
	}
	return idx
}

// evidence picks up to three events strictly between cause and effect that
// share a company or ticker with either endpoint.
func evidence(cause, effect domain.Event, pool []domain.Event) []uuid.UUID {
	shared := make(map[string]struct{})
	for _, ev := range []domain.Event{cause, effect} {
		for _, c := range ev.Attrs.Companies {
			shared["c:"+c] = struct{}{}
		}
		for _, t := range ev.Attrs.Tickers {
			shared["t:"+t] = struct{}{}
		}
	}

	var ids []uuid.UUID
	for _, ev := range pool {
		if len(ids) == 3 {
			break
		}
		if ev.ID == cause.ID || ev.ID == effect.ID {
			continue
		}
		if !ev.TS.After(cause.TS) || !ev.TS.Before(effect.TS) {
			continue
		}
		match := false
		for _, c := range ev.Attrs.Companies {
			if _, ok := shared["c:"+c]; ok {
				match = true
				break
			}
		}
		if !match {
			for _, t := range ev.Attrs.Tickers {
				if _, ok := shared["t:"+t]; ok {
					match = true
					break
				}
			}
		}
		if match {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// Chain is one root-to-leaf causal path.
type Chain struct {
	Edges []domain.CausalEdge `json:"edges"`
}

// BuildChains walks CAUSES edges breadth-first from root, up to maxDepth
// hops, skipping edges below floor. Each returned chain ends where no
// qualifying edge continues it.
func (e *Engine) BuildChains(ctx context.Context, root uuid.UUID, maxDepth int, floor float64) ([]Chain, error) {
	if maxDepth <= 0 {
		maxDepth = e.cfg.MaxChainDepth
	}

	var chains []Chain
	queue := []Chain{{}}
	heads := []uuid.UUID{root}
	seen := map[uuid.UUID]struct{}{root: {}}

	for len(queue) > 0 {
		path := queue[0]
		head := heads[0]
		queue, heads = queue[1:], heads[1:]

		if len(path.Edges) >= maxDepth {
			chains = append(chains, path)
			continue
		}
		out, err := e.edges.ListFrom(ctx, head)
		if err != nil {
			return nil, fmt.Errorf("failed to list outgoing edges: %w", err)
		}

		extended := false
		for _, edge := range out {
			if edge.ConfTotal < floor {
				continue
			}
			if _, ok := seen[edge.EffectID]; ok {
				continue
			}
			seen[edge.EffectID] = struct{}{}
			next := Chain{Edges: append(append([]domain.CausalEdge(nil), path.Edges...), edge)}
			queue = append(queue, next)
			heads = append(heads, edge.EffectID)
			extended = true
		}
		if !extended && len(path.Edges) > 0 {
			chains = append(chains, path)
		}
	}
	return chains, nil
}
