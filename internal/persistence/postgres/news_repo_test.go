package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/domain"
	"github.com/radarlab/radar/internal/persistence"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

func sampleNews() domain.News {
	return domain.News{
		ID:               uuid.New(),
		SourceID:         uuid.New(),
		ExternalID:       "msg-1001",
		Title:            "ЦБ повысил ставку",
		Text:             "Банк России повысил ключевую ставку до 16%.",
		PublishedAt:      time.Now().Add(-time.Hour),
		DetectedAt:       time.Now(),
		Lang:             "ru",
		ContentHash:      domain.ContentHash("ЦБ повысил ставку", "Банк России повысил ключевую ставку до 16%."),
		DedupStatus:      domain.DedupWinner,
		EnrichmentStatus: domain.EnrichmentPending,
	}
}

func TestTryInsertDuplicateHash(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO news").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "news_content_hash_key"})
	mock.ExpectRollback()

	err := repo.TryInsert(context.Background(), sampleNews(), nil, nil)
	assert.Equal(t, apperr.KindDuplicateOnHash, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryInsertDuplicateExternalID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO news").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "news_source_id_external_id_key"})
	mock.ExpectRollback()

	err := repo.TryInsert(context.Background(), sampleNews(), nil, nil)
	assert.Equal(t, apperr.KindDuplicateOnExternalID, apperr.KindOf(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTryInsertWithImagesAndOutbox(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	news := sampleNews()
	img := domain.Image{ID: uuid.New(), SHA256: "abc", MimeType: "image/jpeg", Bytes: []byte{1}}
	ob, err := domain.NewOutboxEvent(domain.TopicNewsCreated, map[string]string{"id": news.ID.String()})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO news").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO images").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(img.ID.String()))
	mock.ExpectExec("INSERT INTO news_images").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.TryInsert(context.Background(), news, []domain.Image{img}, []domain.OutboxEvent{ob})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimPendingUsesSkipLocked(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	news := sampleNews()
	rows := sqlmock.NewRows([]string{
		"id", "source_id", "external_id", "title", "text", "summary", "published_at",
		"detected_at", "url", "lang", "content_hash", "dedup_status", "is_ad",
		"ad_score", "ad_reasons", "enrichment_status",
	}).AddRow(
		news.ID.String(), news.SourceID.String(), news.ExternalID, news.Title, news.Text,
		nil, news.PublishedAt, news.DetectedAt, nil, news.Lang, news.ContentHash,
		string(news.DedupStatus), false, 0.0, "{}", "in_progress")

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE SKIP LOCKED")).
		WithArgs(10).
		WillReturnRows(rows)

	claimed, err := repo.ClaimPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, news.ID, claimed[0].ID)
	assert.Equal(t, domain.EnrichmentInProgress, claimed[0].EnrichmentStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	id := uuid.New()
	mock.ExpectQuery("SELECT .* FROM news").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), id)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestMarkFailedRespectsRetryBudget(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	// retries remain: the item goes back to pending and no outbox row is written
	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE news SET").
		WithArgs(id, 3, "extractor timeout").
		WillReturnRows(sqlmock.NewRows([]string{"enrichment_status"}).AddRow("pending"))
	mock.ExpectCommit()

	err := repo.MarkFailed(context.Background(), id, 3, "extractor timeout")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedEmitsFailureEventWhenExhausted(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE news SET").
		WithArgs(id, 3, "extractor timeout").
		WillReturnRows(sqlmock.NewRows([]string{"enrichment_status"}).AddRow("failed"))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkFailed(context.Background(), id, 3, "extractor timeout")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveEnrichmentCommitsAtomically(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNewsRepo(db, time.Second)

	newsID := uuid.New()
	ev := domain.Event{
		ID: uuid.New(), NewsID: newsID, Type: domain.EventRateHike,
		Title: "ЦБ повысил ставку", TS: time.Now(), IsAnchor: true, Confidence: 0.8,
	}
	ob, err := domain.NewOutboxEvent(domain.TopicEventCreated, ev)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE news SET enrichment_status = 'done'").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM entities").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM linked_companies").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM news_topics").WillReturnResult(sqlmock.NewResult(0, 0))
	// re-enrichment replaces prior events instead of accumulating them
	mock.ExpectExec("DELETE FROM events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO events").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = repo.SaveEnrichment(context.Background(), persistence.EnrichmentResult{
		NewsID: newsID,
		Events: []domain.Event{ev},
		Outbox: []domain.OutboxEvent{ob},
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
