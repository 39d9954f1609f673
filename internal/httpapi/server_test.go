package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/ceg"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

type stubNewsRepo struct {
	persistence.NewsRepo
	counts map[domain.EnrichmentStatus]int64
	err    error
}

func (s stubNewsRepo) CountByStatus(context.Context) (map[domain.EnrichmentStatus]int64, error) {
	return s.counts, s.err
}

type stubOutboxRepo struct {
	persistence.OutboxRepo
	counts map[domain.OutboxStatus]int64
}

func (s stubOutboxRepo) CountByStatus(context.Context) (map[domain.OutboxStatus]int64, error) {
	return s.counts, nil
}

type stubChains struct {
	chains   []ceg.Chain
	rescored int
	retro    bool
}

func (s *stubChains) BuildChains(_ context.Context, _ uuid.UUID, _ int, _ float64) ([]ceg.Chain, error) {
	return s.chains, nil
}

func (s *stubChains) Rescore(_ context.Context, _, _ uuid.UUID, retroactive bool) error {
	s.rescored++
	s.retro = retroactive
	return nil
}

type stubSectors struct {
	tickers []string
}

func (s *stubSectors) SectorConstituents(context.Context, string) ([]string, error) {
	return s.tickers, nil
}

func TestHealthOK(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{
		News: stubNewsRepo{counts: map[domain.EnrichmentStatus]int64{}},
	}, nil, nil)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "ok", resp.Storage)
}

func TestHealthDegradedWhenStoreUnreachable(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{
		News: stubNewsRepo{err: errors.New("connection refused")},
	}, nil, nil)

	rec := httptest.NewRecorder()
	srv.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Contains(t, resp.Storage, "connection refused")
}

func TestQueuesReportsBothDepths(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{
		News: stubNewsRepo{counts: map[domain.EnrichmentStatus]int64{
			domain.EnrichmentPending: 12,
		}},
		Outbox: stubOutboxRepo{counts: map[domain.OutboxStatus]int64{
			domain.OutboxPending: 3,
			domain.OutboxSent:    100,
		}},
	}, nil, nil)

	rec := httptest.NewRecorder()
	srv.handleQueues(rec, httptest.NewRequest(http.MethodGet, "/queues", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp QueuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(12), resp.News["pending"])
	assert.Equal(t, int64(3), resp.Outbox["pending"])
	assert.Equal(t, int64(100), resp.Outbox["sent"])
}

func TestChainsEndpointReturnsPaths(t *testing.T) {
	edge := domain.CausalEdge{CauseID: uuid.New(), EffectID: uuid.New(), ConfTotal: 0.7}
	chains := &stubChains{chains: []ceg.Chain{{Edges: []domain.CausalEdge{edge}}}}
	srv := NewServer(":0", persistence.Repository{}, chains, nil)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/chains/"+edge.CauseID.String()+"?depth=2&floor=0.5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ChainsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, edge.CauseID, resp.EventID)
	require.Len(t, resp.Chains, 1)
	assert.Equal(t, edge.EffectID, resp.Chains[0].Edges[0].EffectID)
}

func TestChainsEndpointRejectsBadID(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{}, &stubChains{}, nil)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chains/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChainsUnavailableWithoutEngine(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{}, nil, nil)

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/chains/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRescoreEndpointForwardsRetroFlag(t *testing.T) {
	chains := &stubChains{}
	srv := NewServer(":0", persistence.Repository{}, chains, nil)

	path := "/edges/" + uuid.NewString() + "/" + uuid.NewString() + "/rescore?retro=true"
	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, chains.rescored)
	assert.True(t, chains.retro)
}

func TestConstituentsEndpoint(t *testing.T) {
	srv := NewServer(":0", persistence.Repository{}, nil, &stubSectors{tickers: []string{"SBER", "VTBR"}})

	rec := httptest.NewRecorder()
	srv.router().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/sectors/banks/constituents", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ConstituentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "banks", resp.SectorID)
	assert.Equal(t, []string{"SBER", "VTBR"}, resp.Tickers)
}
