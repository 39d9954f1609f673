package refdata

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

// Service keeps the local issuer mirror in sync with the securities master
// and answers sector-constituent queries.
type Service struct {
	client  SecuritiesClient
	issuers persistence.IssuerRepo
}

// NewService wires the securities-master client to the issuer store.
func NewService(client SecuritiesClient, issuers persistence.IssuerRepo) *Service {
	return &Service{client: client, issuers: issuers}
}

// Search proxies to the securities master.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]Security, error) {
	return s.client.Search(ctx, query, limit)
}

// EnsureIssuer upserts the issuer record for an instrument and returns the
// stored row.
func (s *Service) EnsureIssuer(ctx context.Context, sec Security) (*domain.Issuer, error) {
	if sec.Ticker == "" {
		return nil, fmt.Errorf("cannot store issuer without ticker")
	}

	issuer := domain.Issuer{
		ID:          uuid.New(),
		LegalName:   sec.FullName,
		Ticker:      sec.Ticker,
		CountryCode: "RU",
		IsTraded:    sec.IsTraded,
	}
	if sec.ShortName != "" {
		issuer.ShortNames = []string{sec.ShortName}
	}
	if sec.ISIN != "" {
		isin := sec.ISIN
		issuer.ISIN = &isin
	}
	if sec.PrimaryBoard != "" {
		board := sec.PrimaryBoard
		issuer.Board = &board
	}

	stored, err := s.issuers.Upsert(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to store issuer %s: %w", sec.Ticker, err)
	}
	return stored, nil
}

// GetIssuer returns the issuer for a ticker from the local mirror.
func (s *Service) GetIssuer(ctx context.Context, ticker string) (*domain.Issuer, error) {
	return s.issuers.GetByTicker(ctx, ticker)
}

// SectorConstituents returns the tickers of traded issuers sharing a sector.
// Served over the operational API for sector-level fan-out.
func (s *Service) SectorConstituents(ctx context.Context, sectorID string) ([]string, error) {
	issuers, err := s.issuers.ListBySector(ctx, sectorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sector %s: %w", sectorID, err)
	}
	tickers := make([]string, 0, len(issuers))
	for _, issuer := range issuers {
		tickers = append(tickers, issuer.Ticker)
	}
	return tickers, nil
}
