package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

// sourceRepo implements SourceRepo for PostgreSQL
type sourceRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSourceRepo creates a new PostgreSQL source repository
func NewSourceRepo(db *sqlx.DB, timeout time.Duration) persistence.SourceRepo {
	return &sourceRepo{db: db, timeout: timeout}
}

const sourceColumns = `id, code, kind, display_name, base_locator, trust_level, enabled,
	config, created_at, updated_at`

// Upsert registers or refreshes a source by code
func (r *sourceRepo) Upsert(ctx context.Context, src domain.Source) (*domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	configJSON, err := json.Marshal(src.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal source config: %w", err)
	}

	query := `
		INSERT INTO sources (id, code, kind, display_name, base_locator, trust_level, enabled, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (code) DO UPDATE SET
			kind = EXCLUDED.kind,
			display_name = EXCLUDED.display_name,
			base_locator = EXCLUDED.base_locator,
			trust_level = EXCLUDED.trust_level,
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			updated_at = NOW()
		RETURNING ` + sourceColumns

	row := r.db.QueryRowxContext(ctx, query,
		src.ID, src.Code, src.Kind, src.Name, src.BaseLocator, src.TrustLevel,
		src.Enabled, configJSON)

	stored, err := scanSource(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert source: %w", err)
	}
	return stored, nil
}

// ListEnabled returns all enabled sources
func (r *sourceRepo) ListEnabled(ctx context.Context) ([]domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE enabled ORDER BY code`

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// GetByCode returns the source or a not-found error
func (r *sourceRepo) GetByCode(ctx context.Context, code string) (*domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE code = $1`

	src, err := scanSource(r.db.QueryRowxContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "source %s not found", code)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// GetByID returns the source or a not-found error
func (r *sourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1`

	src, err := scanSource(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "source %s not found", id)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return src, nil
}

// GetParserState returns the poll cursor, a fresh zero state if none yet
func (r *sourceRepo) GetParserState(ctx context.Context, sourceID uuid.UUID) (*domain.ParserState, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var st domain.ParserState
	err := r.db.QueryRowxContext(ctx, `
		SELECT source_id, last_external_id, last_poll_at, error_count, backfill_completed
		FROM parser_state WHERE source_id = $1`, sourceID).
		Scan(&st.SourceID, &st.LastExternalID, &st.LastPollAt, &st.ErrorCount, &st.BackfillCompleted)
	if err != nil {
		if err == sql.ErrNoRows {
			return &domain.ParserState{SourceID: sourceID}, nil
		}
		return nil, fmt.Errorf("failed to get parser state: %w", err)
	}
	return &st, nil
}

// SaveParserState upserts the poll cursor
func (r *sourceRepo) SaveParserState(ctx context.Context, st domain.ParserState) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO parser_state (source_id, last_external_id, last_poll_at, error_count, backfill_completed)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (source_id) DO UPDATE SET
			last_external_id = EXCLUDED.last_external_id,
			last_poll_at = EXCLUDED.last_poll_at,
			error_count = EXCLUDED.error_count,
			backfill_completed = EXCLUDED.backfill_completed`,
		st.SourceID, st.LastExternalID, st.LastPollAt, st.ErrorCount, st.BackfillCompleted)
	if err != nil {
		return fmt.Errorf("failed to save parser state: %w", err)
	}
	return nil
}

func scanSource(row rowScanner) (*domain.Source, error) {
	var src domain.Source
	var configJSON []byte

	err := row.Scan(
		&src.ID, &src.Code, &src.Kind, &src.Name, &src.BaseLocator,
		&src.TrustLevel, &src.Enabled, &configJSON, &src.CreatedAt, &src.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &src.Config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal source config: %w", err)
		}
	} else {
		src.Config = make(map[string]interface{})
	}
	return &src, nil
}
