// Package httpapi is the operational HTTP surface: health, queue depths, the
// Prometheus scrape endpoint, and read/maintenance access to the causal graph.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/ceg"
	"github.com/radarlab/radar/internal/metrics"
	"github.com/radarlab/radar/internal/persistence"
)

// ChainService walks and maintains the causal graph.
type ChainService interface {
	BuildChains(ctx context.Context, root uuid.UUID, maxDepth int, floor float64) ([]ceg.Chain, error)
	Rescore(ctx context.Context, causeID, effectID uuid.UUID, retroactive bool) error
}

// SectorIndex resolves a sector to its traded tickers.
type SectorIndex interface {
	SectorConstituents(ctx context.Context, sectorID string) ([]string, error)
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
	Storage   string    `json:"storage"`
}

// QueuesResponse is the /queues payload: enrichment and outbox depth by status.
type QueuesResponse struct {
	News   map[string]int64 `json:"news"`
	Outbox map[string]int64 `json:"outbox"`
}

// ChainsResponse is the /chains payload.
type ChainsResponse struct {
	EventID uuid.UUID   `json:"event_id"`
	Chains  []ceg.Chain `json:"chains"`
}

// ConstituentsResponse is the /sectors constituents payload.
type ConstituentsResponse struct {
	SectorID string   `json:"sector_id"`
	Tickers  []string `json:"tickers"`
}

// Server serves the operational endpoints. chains and sectors may be nil when
// the process runs without the causal engine or reference data; the
// corresponding routes answer 503.
type Server struct {
	addr    string
	repo    persistence.Repository
	chains  ChainService
	sectors SectorIndex
	started time.Time
}

// NewServer builds the server; it does not listen until Run.
func NewServer(addr string, repo persistence.Repository, chains ChainService, sectors SectorIndex) *Server {
	return &Server{addr: addr, repo: repo, chains: chains, sectors: sectors, started: time.Now()}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/queues", s.handleQueues).Methods(http.MethodGet)
	r.HandleFunc("/chains/{event_id}", s.handleChains).Methods(http.MethodGet)
	r.HandleFunc("/edges/{cause_id}/{effect_id}/rescore", s.handleRescore).Methods(http.MethodPost)
	r.HandleFunc("/sectors/{sector_id}/constituents", s.handleConstituents).Methods(http.MethodGet)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown incomplete")
		}
	}()

	log.Info().Str("addr", s.addr).Msg("http listener started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// handleHealth reports liveness. The store probe doubles as the readiness
// signal: a failing count query marks the process degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Storage:   "ok",
	}

	status := http.StatusOK
	if _, err := s.repo.News.CountByStatus(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Storage = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleQueues(w http.ResponseWriter, r *http.Request) {
	newsCounts, err := s.repo.News.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	outboxCounts, err := s.repo.Outbox.CountByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := QueuesResponse{
		News:   make(map[string]int64, len(newsCounts)),
		Outbox: make(map[string]int64, len(outboxCounts)),
	}
	for status, n := range newsCounts {
		resp.News[string(status)] = n
	}
	for status, n := range outboxCounts {
		resp.Outbox[string(status)] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChains walks the causal graph from one event. depth and floor query
// parameters default to the engine's configuration.
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		http.Error(w, "causal engine unavailable", http.StatusServiceUnavailable)
		return
	}
	eventID, err := uuid.Parse(mux.Vars(r)["event_id"])
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))
	floor, _ := strconv.ParseFloat(r.URL.Query().Get("floor"), 64)

	chains, err := s.chains.BuildChains(r.Context(), eventID, depth, floor)
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	if chains == nil {
		chains = []ceg.Chain{}
	}
	writeJSON(w, http.StatusOK, ChainsResponse{EventID: eventID, Chains: chains})
}

// handleRescore re-evaluates one stored edge on demand, deleting it when it
// no longer clears the confidence floor.
func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	if s.chains == nil {
		http.Error(w, "causal engine unavailable", http.StatusServiceUnavailable)
		return
	}
	vars := mux.Vars(r)
	causeID, err := uuid.Parse(vars["cause_id"])
	if err != nil {
		http.Error(w, "invalid cause id", http.StatusBadRequest)
		return
	}
	effectID, err := uuid.Parse(vars["effect_id"])
	if err != nil {
		http.Error(w, "invalid effect id", http.StatusBadRequest)
		return
	}
	retro := r.URL.Query().Get("retro") == "true"

	if err := s.chains.Rescore(r.Context(), causeID, effectID, retro); err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConstituents(w http.ResponseWriter, r *http.Request) {
	if s.sectors == nil {
		http.Error(w, "reference data unavailable", http.StatusServiceUnavailable)
		return
	}
	sectorID := mux.Vars(r)["sector_id"]

	tickers, err := s.sectors.SectorConstituents(r.Context(), sectorID)
	if err != nil {
		http.Error(w, err.Error(), errStatus(err))
		return
	}
	if tickers == nil {
		tickers = []string{}
	}
	writeJSON(w, http.StatusOK, ConstituentsResponse{SectorID: sectorID, Tickers: tickers})
}

func errStatus(err error) int {
	if apperr.KindOf(err) == apperr.KindNotFound {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}
