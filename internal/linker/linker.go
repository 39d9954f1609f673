package linker

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/refdata"
)

// AutoLearnThreshold is the minimum fuzzy score at which a match is trusted
// enough to remember as an alias.
const AutoLearnThreshold = 50.0

// Linker resolves organisation mentions against the alias cache and,
// failing that, the securities master.
type Linker struct {
	cache   *AliasCache
	refdata *refdata.Service
}

// New builds a linker.
func New(cache *AliasCache, rd *refdata.Service) *Linker {
	return &Linker{cache: cache, refdata: rd}
}

// Mention is one organisation reference from the extractor, optionally
// carrying a ticker the extractor already recognized.
type Mention struct {
	Name   string
	Ticker string
}

var tickerRe = regexp.MustCompile(`^[A-Z]{3,6}$`)

// maxTickerCandidates bounds the free-text scan per news item.
const maxTickerCandidates = 10

var tickerTokenRe = regexp.MustCompile(`\$([A-Z]{3,6})\b|\b([A-Z]{4,6})\b`)

// FindTickerCandidates scans text for $SBER-style and bare uppercase ticker
// tokens. Candidates are only that: resolution against the securities master
// decides which are real.
func FindTickerCandidates(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range tickerTokenRe.FindAllStringSubmatch(text, -1) {
		tok := m[1]
		if tok == "" {
			tok = m[2]
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == maxTickerCandidates {
			break
		}
	}
	return out
}

// Resolve links mentions to issuers. The first resolved mention becomes the
// primary link; duplicates collapse onto one link per issuer.
func (l *Linker) Resolve(ctx context.Context, newsID uuid.UUID, mentions []Mention) []domain.LinkedCompany {
	var links []domain.LinkedCompany
	seen := make(map[uuid.UUID]struct{})

	for _, m := range mentions {
		link, err := l.resolveOne(ctx, newsID, m)
		if err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				log.Warn().Err(err).Str("mention", m.Name).Msg("company resolution failed")
			}
			continue
		}
		if _, dup := seen[link.IssuerID]; dup {
			continue
		}
		seen[link.IssuerID] = struct{}{}
		link.IsPrimary = len(links) == 0
		links = append(links, *link)
	}
	return links
}

func (l *Linker) resolveOne(ctx context.Context, newsID uuid.UUID, m Mention) (*domain.LinkedCompany, error) {
	// ticker supplied by the extractor or the mention itself is a ticker
	ticker := m.Ticker
	if ticker == "" && tickerRe.MatchString(strings.TrimSpace(m.Name)) {
		ticker = strings.TrimSpace(m.Name)
	}
	if ticker != "" {
		if issuer, err := l.refdata.GetIssuer(ctx, ticker); err == nil {
			return &domain.LinkedCompany{
				ID: uuid.New(), NewsID: newsID, IssuerID: issuer.ID,
				Method: domain.LinkAliasExact, Score: 100,
			}, nil
		}
	}

	normalized := Normalize(m.Name)
	if normalized == "" {
		return nil, apperr.Newf(apperr.KindDataValidation, "empty mention")
	}

	if alias, ok := l.cache.Lookup(normalized); ok {
		method := domain.LinkAliasExact
		if alias.Origin == domain.AliasLearned {
			method = domain.LinkAutoLearned
		}
		return &domain.LinkedCompany{
			ID: uuid.New(), NewsID: newsID, IssuerID: alias.IssuerID,
			Method: method, Score: 100 * alias.Confidence,
		}, nil
	}

	return l.fuzzyResolve(ctx, newsID, m.Name, normalized)
}

// fuzzyResolve searches the securities master, scores candidates, and links
// plus auto-learns when the best score clears the threshold.
func (l *Linker) fuzzyResolve(ctx context.Context, newsID uuid.UUID, name, normalized string) (*domain.LinkedCompany, error) {
	candidates, err := l.refdata.Search(ctx, name, 20)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, apperr.Newf(apperr.KindNotFound, "no candidates for %q", name)
	}

	best, score := bestMatch(normalized, candidates)
	if score < AutoLearnThreshold {
		return nil, apperr.Newf(apperr.KindNotFound, "best score %.0f below threshold for %q", score, name)
	}

	issuer, err := l.refdata.EnsureIssuer(ctx, *best)
	if err != nil {
		return nil, err
	}

	l.cache.Learn(domain.Alias{
		Normalized: normalized,
		IssuerID:   issuer.ID,
		Origin:     domain.AliasLearned,
		Confidence: score / 100,
		CreatedAt:  time.Now().UTC(),
	})

	return &domain.LinkedCompany{
		ID: uuid.New(), NewsID: newsID, IssuerID: issuer.ID,
		Method: domain.LinkFuzzy, Score: score,
	}, nil
}

// bestMatch scores every candidate and returns the winner. Ties break toward
// the shorter short name, preferring the common share over derivatives.
func bestMatch(normalized string, candidates []refdata.Security) (*refdata.Security, float64) {
	type scored struct {
		sec   refdata.Security
		score float64
	}
	results := make([]scored, 0, len(candidates))
	for _, sec := range candidates {
		results = append(results, scored{sec, scoreCandidate(normalized, sec)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return len(results[i].sec.ShortName) < len(results[j].sec.ShortName)
	})
	return &results[0].sec, results[0].score
}

func scoreCandidate(normalized string, sec refdata.Security) float64 {
	var score float64
	if strings.Contains(strings.ToLower(sec.ShortName), normalized) {
		score += 50
	}
	if strings.Contains(strings.ToLower(sec.FullName), normalized) {
		score += 30
	}
	if sec.IsTraded {
		score += 20
	}
	if sec.Market == "shares" || sec.Market == "stock" {
		score += 15
	}
	if sec.PrimaryBoard == "TQBR" || sec.PrimaryBoard == "TQTF" {
		score += 10
	}
	if sec.ISIN != "" {
		score += 25
	}
	return score
}
