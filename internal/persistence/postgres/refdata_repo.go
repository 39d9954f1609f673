package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

// issuerRepo implements IssuerRepo for PostgreSQL
type issuerRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewIssuerRepo creates a new PostgreSQL issuer repository
func NewIssuerRepo(db *sqlx.DB, timeout time.Duration) persistence.IssuerRepo {
	return &issuerRepo{db: db, timeout: timeout}
}

const issuerColumns = `id, legal_name, short_names, ticker, isin, board, sector_id,
	country_code, is_traded, updated_at`

// Upsert inserts or refreshes an issuer keyed by ticker
func (r *issuerRepo) Upsert(ctx context.Context, issuer domain.Issuer) (*domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO issuers (id, legal_name, short_names, ticker, isin, board, sector_id, country_code, is_traded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticker) DO UPDATE SET
			legal_name = EXCLUDED.legal_name,
			short_names = EXCLUDED.short_names,
			isin = EXCLUDED.isin,
			board = EXCLUDED.board,
			sector_id = EXCLUDED.sector_id,
			country_code = EXCLUDED.country_code,
			is_traded = EXCLUDED.is_traded,
			updated_at = NOW()
		RETURNING ` + issuerColumns

	row := r.db.QueryRowxContext(ctx, query,
		issuer.ID, issuer.LegalName, pq.Array(issuer.ShortNames), issuer.Ticker,
		issuer.ISIN, issuer.Board, issuer.SectorID, issuer.CountryCode, issuer.IsTraded)

	stored, err := scanIssuer(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert issuer: %w", err)
	}
	return stored, nil
}

// GetByID returns the issuer or a not-found error
func (r *issuerRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE id = $1`
	issuer, err := scanIssuer(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "issuer %s not found", id)
		}
		return nil, fmt.Errorf("failed to get issuer: %w", err)
	}
	return issuer, nil
}

// GetByTicker returns the issuer or a not-found error
func (r *issuerRepo) GetByTicker(ctx context.Context, ticker string) (*domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE ticker = $1`
	issuer, err := scanIssuer(r.db.QueryRowxContext(ctx, query, ticker))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "issuer %s not found", ticker)
		}
		return nil, fmt.Errorf("failed to get issuer by ticker: %w", err)
	}
	return issuer, nil
}

// ListTraded returns all currently traded issuers
func (r *issuerRepo) ListTraded(ctx context.Context) ([]domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE is_traded ORDER BY ticker`
	return r.list(ctx, query)
}

// ListBySector returns traded issuers in a sector
func (r *issuerRepo) ListBySector(ctx context.Context, sectorID string) ([]domain.Issuer, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + issuerColumns + ` FROM issuers WHERE is_traded AND sector_id = $1 ORDER BY ticker`
	return r.list(ctx, query, sectorID)
}

func (r *issuerRepo) list(ctx context.Context, query string, args ...interface{}) ([]domain.Issuer, error) {
	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query issuers: %w", err)
	}
	defer rows.Close()

	var issuers []domain.Issuer
	for rows.Next() {
		issuer, err := scanIssuer(rows)
		if err != nil {
			return nil, err
		}
		issuers = append(issuers, *issuer)
	}
	return issuers, rows.Err()
}

func scanIssuer(row rowScanner) (*domain.Issuer, error) {
	var issuer domain.Issuer
	var shortNames pq.StringArray

	err := row.Scan(
		&issuer.ID, &issuer.LegalName, &shortNames, &issuer.Ticker, &issuer.ISIN,
		&issuer.Board, &issuer.SectorID, &issuer.CountryCode, &issuer.IsTraded,
		&issuer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	issuer.ShortNames = shortNames
	return &issuer, nil
}

// aliasRepo implements AliasRepo for PostgreSQL
type aliasRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewAliasRepo creates a new PostgreSQL alias repository
func NewAliasRepo(db *sqlx.DB, timeout time.Duration) persistence.AliasRepo {
	return &aliasRepo{db: db, timeout: timeout}
}

// ListActive returns all non-tombstoned aliases
func (r *aliasRepo) ListActive(ctx context.Context) ([]domain.Alias, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT normalized, issuer_id, origin, confidence, tombstoned, created_at
		FROM company_aliases WHERE NOT tombstoned ORDER BY normalized`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var aliases []domain.Alias
	for rows.Next() {
		var a domain.Alias
		if err := rows.Scan(&a.Normalized, &a.IssuerID, &a.Origin, &a.Confidence,
			&a.Tombstoned, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		aliases = append(aliases, a)
	}
	return aliases, rows.Err()
}

// Insert adds an alias; a repeat of the same normalized form is a duplicate
func (r *aliasRepo) Insert(ctx context.Context, alias domain.Alias) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO company_aliases (normalized, issuer_id, origin, confidence, tombstoned)
		VALUES ($1, $2, $3, $4, false)`,
		alias.Normalized, alias.IssuerID, alias.Origin, alias.Confidence)
	if err != nil {
		return mapUniqueViolation(err)
	}
	return nil
}

// Tombstone disables an alias without deleting history
func (r *aliasRepo) Tombstone(ctx context.Context, normalized string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		UPDATE company_aliases SET tombstoned = true WHERE normalized = $1`, normalized)
	if err != nil {
		return fmt.Errorf("failed to tombstone alias: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.Newf(apperr.KindNotFound, "alias %q not found", normalized)
	}
	return nil
}
