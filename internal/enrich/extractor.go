package enrich

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/httpx"
)

// ExtractRequest is the wire request of the external extractor.
type ExtractRequest struct {
	Text        string    `json:"text"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Lang        string    `json:"lang"`
}

// Extractor produces the structured extraction for one news item. The
// pipeline treats the implementation as opaque and reads only the contract
// fields.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (domain.Extraction, error)
}

// httpExtractor calls the external extractor service, bounding in-flight
// requests with a semaphore.
type httpExtractor struct {
	http *httpx.Client
	sem  chan struct{}
}

// NewExtractor wires the configured extractor: the HTTP service when a base
// URL is set, the local fallback otherwise.
func NewExtractor(cfg config.ExtractorConfig) Extractor {
	if cfg.UseLocal || cfg.BaseURL == "" {
		return LocalExtractor{}
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &httpExtractor{
		http: httpx.New(httpx.Options{
			Name:    "extractor",
			BaseURL: cfg.BaseURL,
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
			RPS:     float64(concurrency) * 2,
			Burst:   concurrency,
		}),
		sem: make(chan struct{}, concurrency),
	}
}

func (e *httpExtractor) Extract(ctx context.Context, req ExtractRequest) (domain.Extraction, error) {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return domain.Extraction{}, ctx.Err()
	}

	var out domain.Extraction
	if err := e.http.PostJSON(ctx, "/extract", req, &out); err != nil {
		return domain.Extraction{}, err
	}
	return out, nil
}

// LocalExtractor is the degraded in-process fallback: quoted and
// capitalized organisation names only, no people or metrics.
type LocalExtractor struct{}

var (
	quotedOrgRe = regexp.MustCompile(`«([^»]{2,60})»|"([^"]{2,60})"`)
	capOrgRe    = regexp.MustCompile(`(?:ПАО|АО|ООО|ОАО|ЗАО)\s+«?([А-ЯЁA-Z][\wА-Яа-яЁё-]{1,40})»?`)
)

func (LocalExtractor) Extract(_ context.Context, req ExtractRequest) (domain.Extraction, error) {
	full := req.Title + "\n" + req.Text

	seen := make(map[string]struct{})
	var companies []domain.ExtractedCompany
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		companies = append(companies, domain.ExtractedCompany{Name: name})
	}

	for _, m := range quotedOrgRe.FindAllStringSubmatch(full, -1) {
		if m[1] != "" {
			add(m[1])
		} else {
			add(m[2])
		}
	}
	for _, m := range capOrgRe.FindAllStringSubmatch(full, -1) {
		add(m[1])
	}

	return domain.Extraction{
		Companies:  companies,
		Urgency:    domain.UrgencyNormal,
		Confidence: 0.3,
	}, nil
}
