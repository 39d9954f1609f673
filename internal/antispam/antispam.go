// Package antispam scores incoming news for advertising and promo content
// before it is persisted. Scoring is rule-weighted and fully deterministic:
// the same text and source always produce the same score and reasons.
package antispam

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/config"
)

// Verdict is the outcome of one check.
type Verdict struct {
	IsAd    bool
	Score   float64
	Reasons []string
}

// Input is the normalized view of a news item the detector scores.
// Adapters fill what they know; zero values are safe.
type Input struct {
	Text          string
	Title         string
	ForwardedFrom string
	SourceCode    string
	TrustLevel    int
}

type rule struct {
	name     string
	keywords []string
	pattern  *regexp.Regexp
	weight   float64
}

// Detector is an immutable rule set; safe for concurrent use.
type Detector struct {
	thresholdDefault float64
	thresholdTrusted float64

	hashtagRules    []rule
	keywordRules    []rule
	urlRules        []rule
	structuralRules map[string]float64

	whitelistedDomains []string
	blacklistedSources map[string]struct{}
}

var (
	urlRe     = regexp.MustCompile(`https?://[^\s]+`)
	hashtagRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)
)

// NewDetector builds a detector from config, layering configured rules on
// top of the built-in defaults.
func NewDetector(cfg config.AntispamConfig) *Detector {
	d := &Detector{
		thresholdDefault: cfg.ThresholdDefault,
		thresholdTrusted: cfg.ThresholdTrusted,
		hashtagRules: []rule{
			{name: "ad_hashtags", keywords: []string{"#реклама", "#ad", "#promo", "#промо", "#спонсор"}, weight: 3.0},
			{name: "partner_hashtags", keywords: []string{"#партнер", "#partner", "#collab"}, weight: 2.0},
		},
		keywordRules: []rule{
			{name: "casino_keywords", keywords: []string{"казино", "ставки", "букмекер", "1xbet", "бонус на депозит"}, weight: 5.0},
			{name: "discount_keywords", keywords: []string{"скидка", "промокод", "распродажа", "акция", "выгодное предложение"}, weight: 2.0},
			{name: "urgency_keywords", keywords: []string{"только сегодня", "осталось мест", "успей купить", "последний день"}, weight: 1.5},
			{name: "crypto_scam", keywords: []string{"криптовалюта заработок", "пассивный доход", "финансовая свобода"}, weight: 3.0},
		},
		urlRules: []rule{
			{name: "utm_params", pattern: regexp.MustCompile(`[?&](utm_|ref=|partner=)`), weight: 2.0},
			{name: "shorteners", pattern: regexp.MustCompile(`(bit\.ly|tinyurl|clck\.ru|vk\.cc)`), weight: 1.5},
			{name: "suspicious_tld", pattern: regexp.MustCompile(`\.(tk|ml|ga|cf)(/|$)`), weight: 2.0},
		},
		structuralRules: map[string]float64{
			"many_urls":        2.0,
			"forwarded_ad":     3.0,
			"short_with_links": 1.5,
		},
		whitelistedDomains: []string{
			"gov.ru", "cbr.ru", "moex.com", "e-disclosure.ru", "interfax.ru",
			"rbc.ru", "vedomosti.ru", "kommersant.ru", "tass.ru", "ria.ru",
		},
		blacklistedSources: make(map[string]struct{}),
	}

	for _, r := range cfg.Rules {
		if !r.Enabled {
			continue
		}
		cr := rule{name: r.Name, keywords: lowerAll(r.Keywords), weight: r.Weight}
		if r.Pattern != "" {
			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				log.Warn().Str("rule", r.Name).Err(err).Msg("skipping antispam rule with bad pattern")
				continue
			}
			cr.pattern = re
		}
		switch r.Kind {
		case "hashtag":
			d.hashtagRules = append(d.hashtagRules, cr)
		case "keyword":
			d.keywordRules = append(d.keywordRules, cr)
		case "url":
			d.urlRules = append(d.urlRules, cr)
		case "structural":
			d.structuralRules[r.Name] = r.Weight
		default:
			log.Warn().Str("rule", r.Name).Str("kind", r.Kind).Msg("unknown antispam rule kind")
		}
	}
	d.whitelistedDomains = append(d.whitelistedDomains, cfg.WhitelistedDomains...)
	for _, s := range cfg.BlacklistedSources {
		d.blacklistedSources[s] = struct{}{}
	}
	return d
}

// Check scores one item. Sources with trust level 9+ bypass scoring entirely.
// Rules fire at most once each, in a fixed order, so reasons are stable.
func (d *Detector) Check(in Input) Verdict {
	if in.TrustLevel >= 9 {
		return Verdict{}
	}

	text := in.Title
	if text != "" && in.Text != "" {
		text += "\n"
	}
	text += in.Text
	textLower := strings.ToLower(text)

	var score float64
	var reasons []string

	hashtags := hashtagRe.FindAllString(textLower, -1)
	for _, r := range d.hashtagRules {
		if matchesAny(hashtags, r.keywords) {
			score += r.weight
			reasons = append(reasons, "hashtag:"+r.name)
		}
	}

	for _, r := range d.keywordRules {
		if containsAny(textLower, r.keywords) {
			score += r.weight
			reasons = append(reasons, "keyword:"+r.name)
		}
	}

	urls := dedupe(urlRe.FindAllString(text, -1))
	scorable := urls[:0:0]
	for _, u := range urls {
		if !d.isWhitelisted(u) {
			scorable = append(scorable, u)
		}
	}
	for _, r := range d.urlRules {
		if anyMatches(scorable, r.pattern) {
			score += r.weight
			reasons = append(reasons, "url_pattern:"+r.name)
		}
	}
	if len(scorable) > 3 {
		score += d.structuralRules["many_urls"]
		reasons = append(reasons, "structural:many_urls")
	}

	if in.ForwardedFrom != "" {
		if _, bad := d.blacklistedSources[in.ForwardedFrom]; bad {
			score += d.structuralRules["forwarded_ad"]
			reasons = append(reasons, "structural:forwarded_ad")
		}
	}

	if len([]rune(strings.TrimSpace(text))) < 50 && len(urls) > 0 {
		score += d.structuralRules["short_with_links"]
		reasons = append(reasons, "structural:short_with_links")
	}

	threshold := d.thresholdDefault
	if in.TrustLevel >= 7 {
		threshold = d.thresholdTrusted
	}
	return Verdict{IsAd: score >= threshold, Score: score, Reasons: reasons}
}

func (d *Detector) isWhitelisted(url string) bool {
	for _, dom := range d.whitelistedDomains {
		if strings.Contains(url, dom) {
			return true
		}
	}
	return false
}

func matchesAny(hashtags, keywords []string) bool {
	for _, h := range hashtags {
		for _, kw := range keywords {
			if strings.Contains(h, kw) {
				return true
			}
		}
	}
	return false
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func anyMatches(urls []string, re *regexp.Regexp) bool {
	if re == nil {
		return false
	}
	for _, u := range urls {
		if re.MatchString(u) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
