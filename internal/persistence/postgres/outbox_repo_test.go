package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/domain"
)

func TestClaimBatchFlipsDueRowsToInFlight(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db, time.Second)

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "topic", "payload", "status", "retries", "next_attempt_at", "created_at"}).
		AddRow(id.String(), domain.TopicNewsCreated, []byte(`{"k":"v"}`), "in_flight", 0, now, now)

	// the claim is an UPDATE over the locked id set, not a bare SELECT:
	// the flip to in_flight is what keeps a second relay off these rows
	// after the locks are released
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE outbox SET status = 'in_flight'")).
		WithArgs(100).
		WillReturnRows(rows)

	batch, err := repo.ClaimBatch(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, id, batch[0].ID)
	assert.Equal(t, domain.TopicNewsCreated, batch[0].Topic)
	assert.Equal(t, domain.OutboxInFlight, batch[0].Status)
	assert.JSONEq(t, `{"k":"v"}`, string(batch[0].Payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentEmptyBatchIsNoop(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db, time.Second)

	assert.NoError(t, repo.MarkSent(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedDeadLettersPastBudget(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db, time.Second)

	id := uuid.New()
	next := time.Now().Add(2 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta("dead_lettered")).
		WithArgs(id, next, 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkFailed(context.Background(), id, next, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeSentReturnsCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOutboxRepo(db, time.Second)

	cutoff := time.Now().AddDate(0, 0, -7)
	mock.ExpectExec("DELETE FROM outbox").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.PurgeSent(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
}
