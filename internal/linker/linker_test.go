package linker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/refdata"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`ПАО «Сбербанк»`, "сбербанк"},
		{`ПАО "Газпром"`, "газпром"},
		{"Норильский никель", "норильский никель"},
		{"X5 Retail Group", "x5 retail group"},
		{"ООО Рога-и-Копыта", "рога и копыта"},
		{"Лукойл, ПАО", "лукойл,"},
		{"  АО  Тинькофф Банк ", "тинькофф банк"},
		{"JSC Polyus", "polyus"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Normalize(tt.in), "input %q", tt.in)
	}
}

// in-memory fakes

type fakeAliasRepo struct {
	mu      sync.Mutex
	aliases map[string]domain.Alias
}

func newFakeAliasRepo() *fakeAliasRepo {
	return &fakeAliasRepo{aliases: make(map[string]domain.Alias)}
}

func (r *fakeAliasRepo) ListActive(ctx context.Context) ([]domain.Alias, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Alias
	for _, a := range r.aliases {
		if !a.Tombstoned {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAliasRepo) Insert(ctx context.Context, alias domain.Alias) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.aliases[alias.Normalized]; exists {
		return apperr.Newf(apperr.KindDuplicateOnHash, "alias exists")
	}
	r.aliases[alias.Normalized] = alias
	return nil
}

func (r *fakeAliasRepo) Tombstone(ctx context.Context, normalized string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.aliases[normalized]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "alias not found")
	}
	a.Tombstoned = true
	r.aliases[normalized] = a
	return nil
}

type fakeIssuerRepo struct {
	mu      sync.Mutex
	byTick  map[string]domain.Issuer
	nextAdd []domain.Issuer
}

func newFakeIssuerRepo() *fakeIssuerRepo {
	return &fakeIssuerRepo{byTick: make(map[string]domain.Issuer)}
}

func (r *fakeIssuerRepo) Upsert(ctx context.Context, issuer domain.Issuer) (*domain.Issuer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byTick[issuer.Ticker]; ok {
		issuer.ID = existing.ID
	}
	r.byTick[issuer.Ticker] = issuer
	return &issuer, nil
}

func (r *fakeIssuerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Issuer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, issuer := range r.byTick {
		if issuer.ID == id {
			return &issuer, nil
		}
	}
	return nil, apperr.Newf(apperr.KindNotFound, "issuer not found")
}

func (r *fakeIssuerRepo) GetByTicker(ctx context.Context, ticker string) (*domain.Issuer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	issuer, ok := r.byTick[ticker]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "issuer not found")
	}
	return &issuer, nil
}

func (r *fakeIssuerRepo) ListTraded(ctx context.Context) ([]domain.Issuer, error) {
	return nil, nil
}

func (r *fakeIssuerRepo) ListBySector(ctx context.Context, sectorID string) ([]domain.Issuer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Issuer
	for _, issuer := range r.byTick {
		if issuer.SectorID != nil && *issuer.SectorID == sectorID {
			out = append(out, issuer)
		}
	}
	return out, nil
}

type fakeSecClient struct {
	results map[string][]refdata.Security
}

func (c *fakeSecClient) Search(ctx context.Context, query string, limit int) ([]refdata.Security, error) {
	return c.results[query], nil
}

func newTestLinker(t *testing.T, sec *fakeSecClient) (*Linker, *AliasCache, *fakeAliasRepo, *fakeIssuerRepo) {
	t.Helper()
	aliasRepo := newFakeAliasRepo()
	issuerRepo := newFakeIssuerRepo()
	cache := NewAliasCache(aliasRepo, nil)
	require.NoError(t, cache.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cache.Run(ctx)

	svc := refdata.NewService(sec, issuerRepo)
	return New(cache, svc), cache, aliasRepo, issuerRepo
}

func TestResolveViaKnownAlias(t *testing.T) {
	l, cache, aliasRepo, _ := newTestLinker(t, &fakeSecClient{})

	issuerID := uuid.New()
	require.NoError(t, aliasRepo.Insert(context.Background(), domain.Alias{
		Normalized: "сбербанк", IssuerID: issuerID, Origin: domain.AliasCurated, Confidence: 1,
	}))
	require.NoError(t, cache.Load(context.Background()))

	links := l.Resolve(context.Background(), uuid.New(), []Mention{{Name: `ПАО «Сбербанк»`}})
	require.Len(t, links, 1)
	assert.Equal(t, issuerID, links[0].IssuerID)
	assert.Equal(t, domain.LinkAliasExact, links[0].Method)
	assert.True(t, links[0].IsPrimary)
}

func TestResolveFuzzyAutoLearns(t *testing.T) {
	sec := &fakeSecClient{results: map[string][]refdata.Security{
		"Газпром": {
			{Ticker: "GAZP", ShortName: "ГАЗПРОМ ао", FullName: `"Газпром" (ПАО) ао`,
				ISIN: "RU0007661625", IsTraded: true, Market: "shares", PrimaryBoard: "TQBR"},
			{Ticker: "GAZC", ShortName: "Выпуск облигаций", FullName: "Газпром Капитал БО-001",
				ISIN: "RU000A0X0001", IsTraded: true, Market: "bonds"},
		},
	}}
	l, cache, aliasRepo, issuerRepo := newTestLinker(t, sec)

	newsID := uuid.New()
	links := l.Resolve(context.Background(), newsID, []Mention{{Name: "Газпром"}})
	require.Len(t, links, 1)
	assert.Equal(t, domain.LinkFuzzy, links[0].Method)
	assert.GreaterOrEqual(t, links[0].Score, AutoLearnThreshold)

	issuer, err := issuerRepo.GetByTicker(context.Background(), "GAZP")
	require.NoError(t, err)
	assert.Equal(t, issuer.ID, links[0].IssuerID)

	// learning is asynchronous through the cache's writer goroutine
	require.Eventually(t, func() bool {
		_, ok := cache.Lookup("газпром")
		return ok
	}, time.Second, 10*time.Millisecond)

	aliasRepo.mu.Lock()
	stored, ok := aliasRepo.aliases["газпром"]
	aliasRepo.mu.Unlock()
	require.True(t, ok)
	assert.Equal(t, domain.AliasLearned, stored.Origin)

	// second resolution hits the learned alias without searching
	links = l.Resolve(context.Background(), uuid.New(), []Mention{{Name: "ГАЗПРОМ"}})
	require.Len(t, links, 1)
	assert.Equal(t, domain.LinkAutoLearned, links[0].Method)
}

func TestResolveBelowThresholdSkipped(t *testing.T) {
	sec := &fakeSecClient{results: map[string][]refdata.Security{
		"Неизвестная Контора": {
			{Ticker: "XXXX", ShortName: "Другое", FullName: "Совсем другое", IsTraded: true},
		},
	}}
	l, _, _, _ := newTestLinker(t, sec)

	links := l.Resolve(context.Background(), uuid.New(), []Mention{{Name: "Неизвестная Контора"}})
	assert.Empty(t, links, "weak fuzzy matches must not produce links")
}

func TestResolveDirectTicker(t *testing.T) {
	l, _, _, issuerRepo := newTestLinker(t, &fakeSecClient{})

	issuer, err := issuerRepo.Upsert(context.Background(), domain.Issuer{
		ID: uuid.New(), Ticker: "LKOH", LegalName: "ЛУКОЙЛ", IsTraded: true,
	})
	require.NoError(t, err)

	links := l.Resolve(context.Background(), uuid.New(), []Mention{{Name: "LKOH"}})
	require.Len(t, links, 1)
	assert.Equal(t, issuer.ID, links[0].IssuerID)
	assert.Equal(t, domain.LinkAliasExact, links[0].Method)
}

func TestResolveDeduplicatesIssuers(t *testing.T) {
	l, cache, aliasRepo, _ := newTestLinker(t, &fakeSecClient{})

	issuerID := uuid.New()
	for _, alias := range []string{"сбербанк", "сбер"} {
		require.NoError(t, aliasRepo.Insert(context.Background(), domain.Alias{
			Normalized: alias, IssuerID: issuerID, Origin: domain.AliasCurated, Confidence: 1,
		}))
	}
	require.NoError(t, cache.Load(context.Background()))

	links := l.Resolve(context.Background(), uuid.New(), []Mention{
		{Name: "Сбербанк"}, {Name: "Сбер"},
	})
	require.Len(t, links, 1, "two aliases of one issuer collapse to one link")
	assert.True(t, links[0].IsPrimary)
}

func TestBestMatchTieBreaksOnShorterName(t *testing.T) {
	candidates := []refdata.Security{
		{Ticker: "SBERP", ShortName: "Сбербанк-п", FullName: "Сбербанк ап", ISIN: "RU2", IsTraded: true, Market: "shares", PrimaryBoard: "TQBR"},
		{Ticker: "SBER", ShortName: "Сбербанк", FullName: "Сбербанк ао", ISIN: "RU1", IsTraded: true, Market: "shares", PrimaryBoard: "TQBR"},
	}
	best, score := bestMatch("сбербанк", candidates)
	assert.Equal(t, "SBER", best.Ticker)
	assert.Equal(t, 150.0, score)
}

func TestTombstonedAliasIgnored(t *testing.T) {
	aliasRepo := newFakeAliasRepo()
	require.NoError(t, aliasRepo.Insert(context.Background(), domain.Alias{
		Normalized: "сбербанк", IssuerID: uuid.New(), Origin: domain.AliasCurated,
	}))
	require.NoError(t, aliasRepo.Tombstone(context.Background(), "сбербанк"))

	cache := NewAliasCache(aliasRepo, nil)
	require.NoError(t, cache.Load(context.Background()))
	_, ok := cache.Lookup("сбербанк")
	assert.False(t, ok)
}

func TestFindTickerCandidates(t *testing.T) {
	text := "Акции $SBER и GAZP выросли после решения ЦБ. SBER лидирует."
	got := FindTickerCandidates(text)
	assert.Equal(t, []string{"SBER", "GAZP"}, got)
}

func TestFindTickerCandidatesIgnoresShortLatinWords(t *testing.T) {
	assert.Empty(t, FindTickerCandidates("IPO на бирже: рост GDP не ожидается"))
}
