// Package graph mirrors the event model into the graph store. Every write
// is a MERGE keyed by a stable identifier, so replays and races converge on
// the same graph. Nodes get created_at on first write and updated_at on
// every later one; relationship properties fully replace on MERGE.
package graph

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
)

// Writer owns the graph driver.
type Writer struct {
	driver neo4j.DriverWithContext
}

// NewWriter connects to the graph store.
func NewWriter(cfg config.GraphConfig) (*Writer, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	return &Writer{driver: driver}, nil
}

// Close releases the driver.
func (w *Writer) Close(ctx context.Context) error {
	return w.driver.Close(ctx)
}

var constraints = []string{
	"CREATE CONSTRAINT event_id IF NOT EXISTS FOR (e:Event) REQUIRE e.id IS UNIQUE",
	"CREATE CONSTRAINT news_id IF NOT EXISTS FOR (n:News) REQUIRE n.id IS UNIQUE",
	"CREATE CONSTRAINT issuer_id IF NOT EXISTS FOR (i:Issuer) REQUIRE i.id IS UNIQUE",
	"CREATE CONSTRAINT instrument_ticker IF NOT EXISTS FOR (s:Instrument) REQUIRE s.ticker IS UNIQUE",
	"CREATE CONSTRAINT market_code IF NOT EXISTS FOR (m:Market) REQUIRE m.code IS UNIQUE",
	"CREATE CONSTRAINT sector_id IF NOT EXISTS FOR (s:Sector) REQUIRE s.id IS UNIQUE",
	"CREATE CONSTRAINT country_code IF NOT EXISTS FOR (c:Country) REQUIRE c.code IS UNIQUE",
}

// EnsureConstraints creates the per-label uniqueness constraints.
func (w *Writer) EnsureConstraints(ctx context.Context) error {
	session := w.session(ctx)
	defer session.Close(ctx)

	for _, stmt := range constraints {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to create constraint: %w", err)
		}
	}
	log.Info().Int("constraints", len(constraints)).Msg("graph constraints ensured")
	return nil
}

// WriteNews mirrors a news node and its country.
func (w *Writer) WriteNews(ctx context.Context, news domain.News, country string) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MERGE (n:News {id: $id})
			ON CREATE SET n.created_at = datetime()
			ON MATCH  SET n.updated_at = datetime()
			SET n.title = $title, n.published_at = $published_at,
			    n.lang = $lang, n.is_ad = $is_ad`,
			map[string]interface{}{
				"id":           news.ID.String(),
				"title":        news.Title,
				"published_at": news.PublishedAt.UTC(),
				"lang":         news.Lang,
				"is_ad":        news.IsAd,
			})
		if err != nil {
			return err
		}
		if country == "" {
			return nil
		}
		_, err = tx.Run(ctx, `
			MERGE (c:Country {code: $code})
			ON CREATE SET c.created_at = datetime()
			WITH c
			MATCH (n:News {id: $id})
			MERGE (n)-[:ABOUT]->(c)`,
			map[string]interface{}{"code": country, "id": news.ID.String()})
		return err
	})
}

// WriteIssuer mirrors an issuer with its sector, market, and instrument.
func (w *Writer) WriteIssuer(ctx context.Context, issuer domain.Issuer) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MERGE (i:Issuer {id: $id})
			ON CREATE SET i.created_at = datetime()
			ON MATCH  SET i.updated_at = datetime()
			SET i.legal_name = $legal_name, i.ticker = $ticker, i.country = $country
			MERGE (s:Instrument {ticker: $ticker})
			ON CREATE SET s.created_at = datetime()
			ON MATCH  SET s.updated_at = datetime()
			MERGE (i)-[:ISSUES]->(s)`,
			map[string]interface{}{
				"id":         issuer.ID.String(),
				"legal_name": issuer.LegalName,
				"ticker":     issuer.Ticker,
				"country":    issuer.CountryCode,
			})
		if err != nil {
			return err
		}

		if issuer.SectorID != nil && *issuer.SectorID != "" {
			if _, err := tx.Run(ctx, `
				MERGE (s:Sector {id: $sector})
				ON CREATE SET s.created_at = datetime()
				WITH s
				MATCH (i:Issuer {id: $id})
				MERGE (i)-[:IN_SECTOR]->(s)`,
				map[string]interface{}{"sector": *issuer.SectorID, "id": issuer.ID.String()}); err != nil {
				return err
			}
		}
		if issuer.Board != nil && *issuer.Board != "" {
			if _, err := tx.Run(ctx, `
				MERGE (m:Market {code: $board})
				ON CREATE SET m.created_at = datetime()
				WITH m
				MATCH (s:Instrument {ticker: $ticker})
				MERGE (s)-[:TRADED_ON]->(m)`,
				map[string]interface{}{"board": *issuer.Board, "ticker": issuer.Ticker}); err != nil {
				return err
			}
		}
		return nil
	})
}

// LinkNewsIssuer writes the MENTIONS relationship with the resolution score.
func (w *Writer) LinkNewsIssuer(ctx context.Context, link domain.LinkedCompany) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MATCH (n:News {id: $news_id})
			MATCH (i:Issuer {id: $issuer_id})
			MERGE (n)-[r:MENTIONS]->(i)
			SET r = {method: $method, score: $score, is_primary: $is_primary}`,
			map[string]interface{}{
				"news_id":    link.NewsID.String(),
				"issuer_id":  link.IssuerID.String(),
				"method":     string(link.Method),
				"score":      link.Score,
				"is_primary": link.IsPrimary,
			})
		return err
	})
}

// WriteEvents mirrors the events of one news item, the LINKED_TO relation
// back to the news, and the PRECEDES chain in timestamp order.
func (w *Writer) WriteEvents(ctx context.Context, newsID uuid.UUID, events []domain.Event) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		for _, ev := range events {
			_, err := tx.Run(ctx, `
				MERGE (e:Event {id: $id})
				ON CREATE SET e.created_at = datetime()
				ON MATCH  SET e.updated_at = datetime()
				SET e.type = $type, e.title = $title, e.ts = $ts,
				    e.is_anchor = $is_anchor, e.confidence = $confidence,
				    e.tickers = $tickers
				WITH e
				MATCH (n:News {id: $news_id})
				MERGE (e)-[:LINKED_TO]->(n)`,
				map[string]interface{}{
					"id":         ev.ID.String(),
					"type":       string(ev.Type),
					"title":      ev.Title,
					"ts":         ev.TS.UTC(),
					"is_anchor":  ev.IsAnchor,
					"confidence": ev.Confidence,
					"tickers":    ev.Attrs.Tickers,
					"news_id":    newsID.String(),
				})
			if err != nil {
				return err
			}
		}
		for i := 1; i < len(events); i++ {
			_, err := tx.Run(ctx, `
				MATCH (a:Event {id: $prev})
				MATCH (b:Event {id: $next})
				MERGE (a)-[:PRECEDES]->(b)`,
				map[string]interface{}{
					"prev": events[i-1].ID.String(),
					"next": events[i].ID.String(),
				})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// UpsertEdge writes a CAUSES relationship, replacing its properties, and
// refreshes the EVIDENCE_OF links of its evidence events.
func (w *Writer) UpsertEdge(ctx context.Context, edge domain.CausalEdge) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		evidence := make([]string, len(edge.EvidenceSet))
		for i, id := range edge.EvidenceSet {
			evidence[i] = id.String()
		}
		_, err := tx.Run(ctx, `
			MATCH (a:Event {id: $cause})
			MATCH (b:Event {id: $effect})
			MERGE (a)-[r:CAUSES]->(b)
			SET r = {
				kind: $kind, sign: $sign, expected_lag: $lag,
				conf_prior: $prior, conf_text: $text, conf_market: $market,
				conf_total: $total, evidence_set: $evidence,
				is_retroactive: $retro, updated_at: datetime()
			}`,
			map[string]interface{}{
				"cause":    edge.CauseID.String(),
				"effect":   edge.EffectID.String(),
				"kind":     string(edge.Kind),
				"sign":     string(edge.Sign),
				"lag":      edge.ExpectedLag,
				"prior":    edge.ConfPrior,
				"text":     edge.ConfText,
				"market":   edge.ConfMarket,
				"total":    edge.ConfTotal,
				"evidence": evidence,
				"retro":    edge.IsRetroactive,
			})
		if err != nil {
			return err
		}

		for _, evID := range edge.EvidenceSet {
			if _, err := tx.Run(ctx, `
				MATCH (ev:Event {id: $ev})
				MATCH (b:Event {id: $effect})
				MERGE (ev)-[:EVIDENCE_OF]->(b)`,
				map[string]interface{}{"ev": evID.String(), "effect": edge.EffectID.String()}); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteEdge removes a CAUSES relationship; deleting a missing edge is a
// no-op.
func (w *Writer) DeleteEdge(ctx context.Context, causeID, effectID uuid.UUID) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MATCH (:Event {id: $cause})-[r:CAUSES]->(:Event {id: $effect})
			DELETE r`,
			map[string]interface{}{"cause": causeID.String(), "effect": effectID.String()})
		return err
	})
}

// ListFrom returns the outgoing CAUSES edges of one event.
func (w *Writer) ListFrom(ctx context.Context, causeID uuid.UUID) ([]domain.CausalEdge, error) {
	session := w.session(ctx)
	defer session.Close(ctx)

	records, err := neo4j.ExecuteRead(ctx, session,
		func(tx neo4j.ManagedTransaction) ([]domain.CausalEdge, error) {
			result, err := tx.Run(ctx, `
				MATCH (a:Event {id: $cause})-[r:CAUSES]->(b:Event)
				RETURN b.id AS effect, r.kind AS kind, r.sign AS sign,
				       r.expected_lag AS lag, r.conf_prior AS prior,
				       r.conf_text AS text, r.conf_market AS market,
				       r.conf_total AS total, r.is_retroactive AS retro`,
				map[string]interface{}{"cause": causeID.String()})
			if err != nil {
				return nil, err
			}

			var edges []domain.CausalEdge
			for result.Next(ctx) {
				rec := result.Record()
				effectID, err := uuid.Parse(stringValue(rec, "effect"))
				if err != nil {
					continue
				}
				edges = append(edges, domain.CausalEdge{
					CauseID:       causeID,
					EffectID:      effectID,
					Kind:          domain.EdgeKind(stringValue(rec, "kind")),
					Sign:          domain.Sign(stringValue(rec, "sign")),
					ExpectedLag:   stringValue(rec, "lag"),
					ConfPrior:     floatValue(rec, "prior"),
					ConfText:      floatValue(rec, "text"),
					ConfMarket:    floatValue(rec, "market"),
					ConfTotal:     floatValue(rec, "total"),
					IsRetroactive: boolValue(rec, "retro"),
				})
			}
			return edges, result.Err()
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list causal edges: %w", err)
	}
	return records, nil
}

// WriteImpact writes the IMPACTS relationship to an instrument.
func (w *Writer) WriteImpact(ctx context.Context, impact domain.Impact) error {
	return w.write(ctx, func(ctx context.Context, tx neo4j.ManagedTransaction) error {
		_, err := tx.Run(ctx, `
			MATCH (e:Event {id: $event})
			MERGE (s:Instrument {ticker: $ticker})
			ON CREATE SET s.created_at = datetime()
			MERGE (e)-[r:IMPACTS]->(s)
			SET r = {
				ar: $ar, car: $car, volume_ratio: $volume_ratio,
				window: $window, significant: $significant, updated_at: datetime()
			}`,
			map[string]interface{}{
				"event":        impact.EventID.String(),
				"ticker":       impact.Ticker,
				"ar":           impact.AR,
				"car":          impact.CAR,
				"volume_ratio": impact.VolumeRatio,
				"window":       impact.Window,
				"significant":  impact.Significant,
			})
		return err
	})
}

func (w *Writer) session(ctx context.Context) neo4j.SessionWithContext {
	return w.driver.NewSession(ctx, neo4j.SessionConfig{})
}

func (w *Writer) write(ctx context.Context, fn func(context.Context, neo4j.ManagedTransaction) error) error {
	session := w.session(ctx)
	defer session.Close(ctx)

	_, err := neo4j.ExecuteWrite(ctx, session,
		func(tx neo4j.ManagedTransaction) (struct{}, error) {
			return struct{}{}, fn(ctx, tx)
		})
	return err
}

func stringValue(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func floatValue(rec *neo4j.Record, key string) float64 {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return 0
	}
	f, _ := v.(float64)
	return f
}

func boolValue(rec *neo4j.Record, key string) bool {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return false
	}
	b, _ := v.(bool)
	return b
}
