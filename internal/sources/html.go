package sources

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
)

// maxBackfillPages stops runaway pagination on sites without a clean end.
const maxBackfillPages = 500

// htmlStrategy is one set of CSS selectors for a site family.
type htmlStrategy struct {
	itemSelector  string
	titleSelector string
	textSelector  string
	timeSelector  string
	timeLayouts   []string
	pageParam     string
}

// Two built-in site families: classic headline lists and card grids.
// Sources may override any selector through their config block.
var htmlStrategies = map[string]htmlStrategy{
	"newslist": {
		itemSelector:  ".news-list a, .news-feed a, a.news-item",
		titleSelector: "h1",
		textSelector:  "article p, .article__text p, .news-text p",
		timeSelector:  "time",
		timeLayouts:   []string{time.RFC3339, "2006-01-02 15:04:05", "02.01.2006 15:04"},
		pageParam:     "page",
	},
	"cards": {
		itemSelector:  ".card a.card__link, .item-card > a",
		titleSelector: "h1.article-title, h1",
		textSelector:  ".article-body p",
		timeSelector:  "time, .article-date",
		timeLayouts:   []string{time.RFC3339, "02.01.2006 15:04"},
		pageParam:     "p",
	},
}

// htmlAdapter scrapes a news site: a list page with links, one request per
// article.
type htmlAdapter struct {
	strategy htmlStrategy
	hc       *http.Client
}

func newHTMLAdapter(src domain.Source) (*htmlAdapter, error) {
	name, _ := src.Config["strategy"].(string)
	if name == "" {
		name = "newslist"
	}
	strat, ok := htmlStrategies[name]
	if !ok {
		return nil, apperr.Newf(apperr.KindConfig, "source %s: unknown html strategy %q", src.Code, name)
	}

	// per-source selector overrides
	if v, ok := src.Config["item_selector"].(string); ok && v != "" {
		strat.itemSelector = v
	}
	if v, ok := src.Config["title_selector"].(string); ok && v != "" {
		strat.titleSelector = v
	}
	if v, ok := src.Config["text_selector"].(string); ok && v != "" {
		strat.textSelector = v
	}
	if v, ok := src.Config["time_selector"].(string); ok && v != "" {
		strat.timeSelector = v
	}

	return &htmlAdapter{
		strategy: strat,
		hc:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (a *htmlAdapter) Poll(ctx context.Context, src domain.Source, cursor string) ([]domain.RawNews, string, error) {
	links, err := a.listLinks(ctx, src.BaseLocator)
	if err != nil {
		return nil, cursor, err
	}

	// list pages are newest first; stop at the cursor
	var fresh []string
	for _, link := range links {
		if link == cursor {
			break
		}
		fresh = append(fresh, link)
	}
	if len(fresh) == 0 {
		return nil, cursor, nil
	}

	// emit oldest first so commit order follows published order
	items := make([]domain.RawNews, 0, len(fresh))
	for i := len(fresh) - 1; i >= 0; i-- {
		raw, err := a.fetchArticle(ctx, src, fresh[i])
		if err != nil {
			log.Warn().Err(err).Str("source", src.Code).Str("url", fresh[i]).Msg("skipping unreadable article")
			continue
		}
		items = append(items, raw)
	}
	return items, fresh[0], nil
}

func (a *htmlAdapter) Backfill(ctx context.Context, src domain.Source, horizonDays int) (<-chan domain.RawNews, error) {
	horizon := time.Now().AddDate(0, 0, -capHorizon(horizonDays))
	out := make(chan domain.RawNews)

	go func() {
		defer close(out)
		for page := 1; page <= maxBackfillPages; page++ {
			pageURL := pagedURL(src.BaseLocator, a.strategy.pageParam, page)
			links, err := a.listLinks(ctx, pageURL)
			if err != nil || len(links) == 0 {
				return
			}
			for _, link := range links {
				raw, err := a.fetchArticle(ctx, src, link)
				if err != nil {
					continue
				}
				if raw.PublishedAt.Before(horizon) {
					return
				}
				select {
				case out <- raw:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// listLinks fetches a list page and returns absolute article URLs in page
// order, deduplicated.
func (a *htmlAdapter) listLinks(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := a.fetchDoc(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, apperr.New(apperr.KindConfig, fmt.Errorf("bad base locator %q: %w", pageURL, err))
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find(a.strategy.itemSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, abs)
	})
	return links, nil
}

func (a *htmlAdapter) fetchArticle(ctx context.Context, src domain.Source, articleURL string) (domain.RawNews, error) {
	doc, err := a.fetchDoc(ctx, articleURL)
	if err != nil {
		return domain.RawNews{}, err
	}

	title := strings.TrimSpace(doc.Find(a.strategy.titleSelector).First().Text())
	if title == "" {
		title, _ = doc.Find(`meta[property="og:title"]`).Attr("content")
		title = strings.TrimSpace(title)
	}

	var paragraphs []string
	doc.Find(a.strategy.textSelector).Each(func(_ int, sel *goquery.Selection) {
		if p := strings.TrimSpace(sel.Text()); p != "" {
			paragraphs = append(paragraphs, p)
		}
	})
	text := strings.Join(paragraphs, "\n\n")

	if title == "" || text == "" {
		return domain.RawNews{}, apperr.Newf(apperr.KindDataValidation, "article %s: no title or text", articleURL)
	}

	var media []string
	doc.Find(`meta[property="og:image"]`).Each(func(_ int, sel *goquery.Selection) {
		if u, ok := sel.Attr("content"); ok && u != "" {
			media = append(media, u)
		}
	})

	return domain.RawNews{
		SourceID:    src.ID,
		ExternalID:  articleURL,
		Title:       title,
		Text:        text,
		PublishedAt: a.publishedAt(doc),
		URL:         articleURL,
		MediaRefs:   media,
	}, nil
}

// publishedAt reads the article timestamp, preferring the datetime attribute
// over element text. Unparseable pages fall back to now.
func (a *htmlAdapter) publishedAt(doc *goquery.Document) time.Time {
	sel := doc.Find(a.strategy.timeSelector).First()
	candidates := []string{}
	if dt, ok := sel.Attr("datetime"); ok {
		candidates = append(candidates, dt)
	}
	candidates = append(candidates, strings.TrimSpace(sel.Text()))

	for _, c := range candidates {
		if c == "" {
			continue
		}
		for _, layout := range a.strategy.timeLayouts {
			if ts, err := time.Parse(layout, c); err == nil {
				return ts
			}
		}
	}
	return time.Now().UTC()
}

func (a *htmlAdapter) fetchDoc(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperr.New(apperr.KindDataValidation, fmt.Errorf("bad url %q: %w", pageURL, err))
	}
	req.Header.Set("User-Agent", "radar/1.0")

	resp, err := a.hc.Do(req)
	if err != nil {
		return nil, apperr.New(apperr.KindTransientIO, fmt.Errorf("fetch %s: %w", pageURL, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperr.Newf(apperr.KindNotFound, "page %s not found", pageURL)
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, apperr.Newf(apperr.KindUnauthorized, "page %s: status %d", pageURL, resp.StatusCode)
	default:
		return nil, apperr.Newf(apperr.KindTransientIO, "page %s: status %d", pageURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.New(apperr.KindDataValidation, fmt.Errorf("parse %s: %w", pageURL, err))
	}
	return doc, nil
}

func pagedURL(base, param string, page int) string {
	if page <= 1 {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s%s=%d", base, sep, param, page)
}
