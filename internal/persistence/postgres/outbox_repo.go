package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

// outboxRepo implements OutboxRepo for PostgreSQL
type outboxRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOutboxRepo creates a new PostgreSQL outbox repository
func NewOutboxRepo(db *sqlx.DB, timeout time.Duration) persistence.OutboxRepo {
	return &outboxRepo{db: db, timeout: timeout}
}

// ClaimBatch flips up to limit due rows to in_flight and returns them.
// The status flip happens in the same statement as the lock, so a claim
// survives past the statement and competing relays never see each other's
// rows, whether the locks are still held or not.
func (r *outboxRepo) ClaimBatch(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE outbox SET status = 'in_flight'
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status IN ('pending', 'failed') AND next_attempt_at <= NOW()
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, payload, status, retries, next_attempt_at, created_at`

	rows, err := r.db.QueryxContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox batch: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var ev domain.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.Topic, &payload, &ev.Status, &ev.Retries,
			&ev.NextAttemptAt, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkSent finalizes delivered rows
func (r *outboxRepo) MarkSent(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox SET status = 'sent', sent_at = NOW() WHERE id = ANY($1)`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to mark outbox sent: %w", err)
	}
	return nil
}

// MarkFailed bumps retries and schedules the next attempt; rows past
// maxRetries are dead-lettered instead.
func (r *outboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, nextAttempt time.Time, maxRetries int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		UPDATE outbox SET
			retries = retries + 1,
			next_attempt_at = $2,
			status = CASE
				WHEN retries + 1 >= $3 THEN 'dead_lettered'
				ELSE 'failed'
			END
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, id, nextAttempt, maxRetries)
	if err != nil {
		return fmt.Errorf("failed to mark outbox failed: %w", err)
	}
	return nil
}

// PurgeSent deletes sent rows older than the cutoff
func (r *outboxRepo) PurgeSent(ctx context.Context, olderThan time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE status = 'sent' AND sent_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge outbox: %w", err)
	}
	return result.RowsAffected()
}

// CountByStatus returns outbox depth per status
func (r *outboxRepo) CountByStatus(ctx context.Context) (map[domain.OutboxStatus]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	rows, err := r.db.QueryxContext(ctx, `
		SELECT status, COUNT(*) FROM outbox GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.OutboxStatus]int64)
	for rows.Next() {
		var status domain.OutboxStatus
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan outbox count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}
