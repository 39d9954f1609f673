package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

// newsRepo implements NewsRepo for PostgreSQL
type newsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewNewsRepo creates a new PostgreSQL news repository
func NewNewsRepo(db *sqlx.DB, timeout time.Duration) persistence.NewsRepo {
	return &newsRepo{db: db, timeout: timeout}
}

const newsColumns = `id, source_id, external_id, title, text, summary, published_at,
	detected_at, url, lang, content_hash, dedup_status, is_ad, ad_score, ad_reasons,
	enrichment_status`

// TryInsert writes the news row plus its images and outbox rows in one
// transaction. The first statement to trip a unique constraint aborts the
// whole write, so losers leave no partial state behind.
func (r *newsRepo) TryInsert(ctx context.Context, news domain.News, images []domain.Image, outbox []domain.OutboxEvent) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO news (id, source_id, external_id, title, text, summary, published_at,
			detected_at, url, lang, content_hash, dedup_status, is_ad, ad_score, ad_reasons,
			enrichment_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err = tx.ExecContext(ctx, query,
		news.ID, news.SourceID, news.ExternalID, news.Title, news.Text, news.Summary,
		news.PublishedAt, news.DetectedAt, news.URL, news.Lang, news.ContentHash,
		news.DedupStatus, news.IsAd, news.AdScore, pq.Array(news.AdReasons),
		news.EnrichmentStatus)
	if err != nil {
		return mapUniqueViolation(err)
	}

	for _, img := range images {
		// Image blobs are content-addressed; a second news item with the
		// same image reuses the stored row.
		var imageID uuid.UUID
		err = tx.QueryRowxContext(ctx, `
			INSERT INTO images (id, sha256, mime_type, bytes, width, height, file_size, thumbnail)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (sha256) DO UPDATE SET sha256 = EXCLUDED.sha256
			RETURNING id`,
			img.ID, img.SHA256, img.MimeType, img.Bytes, img.Width, img.Height,
			img.FileSize, img.Thumbnail).Scan(&imageID)
		if err != nil {
			return fmt.Errorf("failed to upsert image: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO news_images (news_id, image_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			news.ID, imageID)
		if err != nil {
			return fmt.Errorf("failed to link image: %w", err)
		}
	}

	if err := insertOutboxTx(ctx, tx, outbox); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit news insert: %w", err)
	}
	return nil
}

// GetByID returns the news item or a not-found error
func (r *newsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.News, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `SELECT ` + newsColumns + ` FROM news WHERE id = $1`

	row := r.db.QueryRowxContext(ctx, query, id)
	news, err := scanNews(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperr.Newf(apperr.KindNotFound, "news %s not found", id)
		}
		return nil, fmt.Errorf("failed to get news: %w", err)
	}
	return news, nil
}

// ClaimPending flips up to limit pending items to in_progress, skipping rows
// held by other workers.
func (r *newsRepo) ClaimPending(ctx context.Context, limit int) ([]domain.News, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE news SET enrichment_status = 'in_progress'
		WHERE id IN (
			SELECT id FROM news
			WHERE enrichment_status = 'pending'
			ORDER BY detected_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + newsColumns

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim pending news: %w", err)
	}
	defer rows.Close()

	return scanNewsRows(rows)
}

// SaveEnrichment stores the full pipeline output atomically: derived rows are
// replaced, the item flips to done, and the outbox rows ride the same commit.
func (r *newsRepo) SaveEnrichment(ctx context.Context, res persistence.EnrichmentResult) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE news SET enrichment_status = 'done', summary = COALESCE($2, summary),
			sector = NULLIF($3, ''), country = NULLIF($4, ''),
			news_type = NULLIF($5, ''), news_subtype = NULLIF($6, ''), tags = $7
		WHERE id = $1`,
		res.NewsID, res.Summary, res.Sector, res.Country, res.NewsType, res.Subtype,
		pq.Array(res.Tags))
	if err != nil {
		return fmt.Errorf("failed to finalize news: %w", err)
	}

	for _, table := range []string{"entities", "linked_companies", "news_topics", "events"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE news_id = $1`, res.NewsID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	for _, e := range res.Entities {
		attrsJSON, err := json.Marshal(e.Attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal entity attrs: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO entities (id, news_id, kind, raw_text, normalized, confidence, attrs)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, e.NewsID, e.Kind, e.RawText, e.Normalized, e.Confidence, attrsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert entity: %w", err)
		}
	}

	for _, l := range res.Links {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO linked_companies (id, news_id, issuer_id, method, score, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			l.ID, l.NewsID, l.IssuerID, l.Method, l.Score, l.IsPrimary)
		if err != nil {
			return fmt.Errorf("failed to insert linked company: %w", err)
		}
	}

	for _, t := range res.Topics {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO news_topics (news_id, code, confidence, is_primary)
			VALUES ($1, $2, $3, $4)`,
			t.NewsID, t.Code, t.Confidence, t.IsPrimary)
		if err != nil {
			return fmt.Errorf("failed to insert topic: %w", err)
		}
	}

	for _, ev := range res.Events {
		attrsJSON, err := json.Marshal(ev.Attrs)
		if err != nil {
			return fmt.Errorf("failed to marshal event attrs: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO events (id, news_id, type, title, ts, attrs, is_anchor, confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			ev.ID, ev.NewsID, ev.Type, ev.Title, ev.TS, attrsJSON, ev.IsAnchor, ev.Confidence)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}

	if err := insertOutboxTx(ctx, tx, res.Outbox); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit enrichment: %w", err)
	}
	return nil
}

// MarkFailed returns the item to pending while retries remain, or parks it as
// failed once the budget is exhausted. Exhaustion also appends a news.failed
// outbox row, in the same transaction as the status flip.
func (r *newsRepo) MarkFailed(ctx context.Context, id uuid.UUID, maxRetries int, cause string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE news SET
			enrichment_retries = enrichment_retries + 1,
			enrichment_error = $3,
			enrichment_status = CASE
				WHEN enrichment_retries + 1 >= $2 THEN 'failed'
				ELSE 'pending'
			END
		WHERE id = $1
		RETURNING enrichment_status`

	var status domain.EnrichmentStatus
	if err := tx.QueryRowxContext(ctx, query, id, maxRetries, cause).Scan(&status); err != nil {
		if err == sql.ErrNoRows {
			return apperr.Newf(apperr.KindNotFound, "news %s not found", id)
		}
		return fmt.Errorf("failed to mark news failed: %w", err)
	}

	if status == domain.EnrichmentFailed {
		ob, err := domain.NewOutboxEvent(domain.TopicNewsFailed, map[string]string{
			"news_id": id.String(),
			"error":   cause,
		})
		if err != nil {
			return fmt.Errorf("failed to build failure event: %w", err)
		}
		if err := insertOutboxTx(ctx, tx, []domain.OutboxEvent{ob}); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit failure mark: %w", err)
	}
	return nil
}

// SetAdVerdict updates the ad flags on an already-stored item
func (r *newsRepo) SetAdVerdict(ctx context.Context, id uuid.UUID, isAd bool, score float64, reasons []string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE news SET is_ad = $2, ad_score = $3, ad_reasons = $4 WHERE id = $1`,
		id, isAd, score, pq.Array(reasons))
	if err != nil {
		return fmt.Errorf("failed to set ad verdict: %w", err)
	}
	return nil
}

// CountByStatus returns queue depth per enrichment status
func (r *newsRepo) CountByStatus(ctx context.Context) (map[domain.EnrichmentStatus]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT enrichment_status, COUNT(*) FROM news GROUP BY enrichment_status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count news by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EnrichmentStatus]int64)
	for rows.Next() {
		var status domain.EnrichmentStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// Helper methods

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNews(row rowScanner) (*domain.News, error) {
	var n domain.News
	var reasons pq.StringArray

	err := row.Scan(
		&n.ID, &n.SourceID, &n.ExternalID, &n.Title, &n.Text, &n.Summary,
		&n.PublishedAt, &n.DetectedAt, &n.URL, &n.Lang, &n.ContentHash,
		&n.DedupStatus, &n.IsAd, &n.AdScore, &reasons, &n.EnrichmentStatus)
	if err != nil {
		return nil, err
	}
	n.AdReasons = reasons
	return &n, nil
}

func scanNewsRows(rows *sqlx.Rows) ([]domain.News, error) {
	var items []domain.News
	for rows.Next() {
		n, err := scanNews(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return items, nil
}

func insertOutboxTx(ctx context.Context, tx *sqlx.Tx, events []domain.OutboxEvent) error {
	for _, ob := range events {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO outbox (id, topic, payload, status, retries, next_attempt_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			ob.ID, ob.Topic, []byte(ob.Payload), ob.Status, ob.Retries, ob.NextAttemptAt, ob.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert outbox event: %w", err)
		}
	}
	return nil
}
