package sources

import (
	"context"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/antispam"
	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/images"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
)

// Ingestor turns a raw adapter record into a stored news row: ad scoring,
// image fetch, content-hash dedup, and the news.created outbox row, all in
// one repository transaction.
type Ingestor struct {
	detector *antispam.Detector
	news     persistence.NewsRepo
	images   *images.Service
}

// NewIngestor builds the ingest stage. imgSvc may be nil to skip image
// fetching.
func NewIngestor(detector *antispam.Detector, news persistence.NewsRepo, imgSvc *images.Service) *Ingestor {
	return &Ingestor{detector: detector, news: news, images: imgSvc}
}

// Ingest stores one raw item. Dedup losers are dropped silently; every other
// error is the caller's to handle.
func (i *Ingestor) Ingest(ctx context.Context, src domain.Source, raw domain.RawNews) error {
	if raw.ExternalID == "" || raw.PublishedAt.IsZero() {
		return apperr.Newf(apperr.KindDataValidation, "source %s: raw item missing id or timestamp", src.Code)
	}

	forwardedFrom, _ := raw.RawMeta["forwarded_from"].(string)
	verdict := i.detector.Check(antispam.Input{
		Text:          raw.Text,
		Title:         raw.Title,
		ForwardedFrom: forwardedFrom,
		SourceCode:    src.Code,
		TrustLevel:    src.TrustLevel,
	})

	news := domain.News{
		ID:               uuid.New(),
		SourceID:         src.ID,
		ExternalID:       raw.ExternalID,
		Title:            raw.Title,
		Text:             raw.Text,
		PublishedAt:      raw.PublishedAt,
		DetectedAt:       time.Now().UTC(),
		Lang:             detectLang(raw.Title + " " + raw.Text),
		ContentHash:      domain.ContentHash(raw.Title, raw.Text),
		DedupStatus:      domain.DedupWinner,
		IsAd:             verdict.IsAd,
		AdScore:          verdict.Score,
		AdReasons:        verdict.Reasons,
		EnrichmentStatus: domain.EnrichmentPending,
	}
	if raw.Summary != "" {
		news.Summary = &raw.Summary
	}
	if raw.URL != "" {
		news.URL = &raw.URL
	}

	var imgs []domain.Image
	if i.images != nil {
		for _, ref := range raw.MediaRefs {
			img, err := i.images.Fetch(ctx, ref)
			if err != nil {
				log.Warn().Err(err).Str("source", src.Code).Str("url", ref).Msg("image fetch failed")
				continue
			}
			imgs = append(imgs, *img)
		}
	}

	created, err := domain.NewOutboxEvent(domain.TopicNewsCreated, map[string]interface{}{
		"news_id":      news.ID,
		"source_code":  src.Code,
		"published_at": news.PublishedAt,
		"is_ad":        news.IsAd,
	})
	if err != nil {
		return fmt.Errorf("failed to build outbox event: %w", err)
	}

	err = i.news.TryInsert(ctx, news, imgs, []domain.OutboxEvent{created})
	if apperr.IsDuplicate(err) {
		metrics.DuplicatesSkipped.WithLabelValues(src.Code).Inc()
		log.Debug().Str("source", src.Code).Str("external_id", raw.ExternalID).
			Str("kind", apperr.KindOf(err).String()).Msg("duplicate news dropped")
		return nil
	}
	if err == nil {
		metrics.NewsIngested.WithLabelValues(src.Code).Inc()
		if news.IsAd {
			metrics.AdsFlagged.WithLabelValues(src.Code).Inc()
		}
	}
	return err
}

// detectLang is a coarse Cyrillic-vs-Latin call; good enough for routing.
func detectLang(text string) string {
	var cyr, lat int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyr++
		case unicode.Is(unicode.Latin, r):
			lat++
		}
	}
	if cyr >= lat && cyr > 0 {
		return "ru"
	}
	if lat > 0 {
		return "en"
	}
	return "ru"
}
