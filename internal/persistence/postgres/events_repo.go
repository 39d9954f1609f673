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

// eventRepo implements EventRepo for PostgreSQL
type eventRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewEventRepo creates a new PostgreSQL event repository
func NewEventRepo(db *sqlx.DB, timeout time.Duration) persistence.EventRepo {
	return &eventRepo{db: db, timeout: timeout}
}

const eventColumns = `id, news_id, type, title, ts, attrs, is_anchor, confidence`

// ListWindow returns events in the time window, oldest first
func (r *eventRepo) ListWindow(ctx context.Context, tr persistence.TimeRange) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE ts >= $1 AND ts <= $2
		ORDER BY ts`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// ListAnchorsWindow returns anchor events in the window, oldest first
func (r *eventRepo) ListAnchorsWindow(ctx context.Context, tr persistence.TimeRange) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE is_anchor AND ts >= $1 AND ts <= $2
		ORDER BY ts`

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("failed to query anchor events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByID returns the event or a not-found error
func (r *eventRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	ev, err := scanEvent(r.db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "event %s not found", id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

// ListByNews returns the events extracted from one news item
func (r *eventRepo) ListByNews(ctx context.Context, newsID uuid.UUID) ([]domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + eventColumns + ` FROM events WHERE news_id = $1 ORDER BY ts`

	rows, err := r.db.QueryxContext(ctx, query, newsID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events by news: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var ev domain.Event
	var attrsJSON []byte

	err := row.Scan(&ev.ID, &ev.NewsID, &ev.Type, &ev.Title, &ev.TS, &attrsJSON,
		&ev.IsAnchor, &ev.Confidence)
	if err != nil {
		return nil, err
	}

	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &ev.Attrs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event attrs: %w", err)
		}
	}
	return &ev, nil
}

func scanEvents(rows *sqlx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}
