package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radarlab/radar/internal/config"
	"github.com/radarlab/radar/internal/domain"
)

type fakeOutboxRepo struct {
	rows       []domain.OutboxEvent
	sent       []uuid.UUID
	failed     map[uuid.UUID]time.Time
	maxRetries int
	purgedAt   *time.Time
}

func newFakeOutboxRepo(rows ...domain.OutboxEvent) *fakeOutboxRepo {
	return &fakeOutboxRepo{rows: rows, failed: make(map[uuid.UUID]time.Time)}
}

func (f *fakeOutboxRepo) ClaimBatch(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	if len(f.rows) > limit {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func (f *fakeOutboxRepo) MarkSent(_ context.Context, ids []uuid.UUID) error {
	f.sent = append(f.sent, ids...)
	return nil
}

func (f *fakeOutboxRepo) MarkFailed(_ context.Context, id uuid.UUID, next time.Time, maxRetries int) error {
	f.failed[id] = next
	f.maxRetries = maxRetries
	return nil
}

func (f *fakeOutboxRepo) PurgeSent(_ context.Context, olderThan time.Time) (int64, error) {
	f.purgedAt = &olderThan
	return 3, nil
}

func (f *fakeOutboxRepo) CountByStatus(context.Context) (map[domain.OutboxStatus]int64, error) {
	return nil, nil
}

type fakePublisher struct {
	published map[string][][]byte
	failTopic string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: make(map[string][][]byte)}
}

func (f *fakePublisher) Publish(_ context.Context, topic string, body []byte) error {
	if topic == f.failTopic {
		return errors.New("broker unavailable")
	}
	f.published[topic] = append(f.published[topic], body)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func relayConfig() config.OutboxConfig {
	return config.OutboxConfig{
		BatchSize: 100, BaseRetrySeconds: 60, MaxRetries: 3, KeepDays: 7, PollIntervalSecs: 5,
	}
}

func row(topic string, retries int) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:        uuid.New(),
		Topic:     topic,
		Payload:   json.RawMessage(`{"news_id":"x"}`),
		Status:    domain.OutboxPending,
		Retries:   retries,
		CreatedAt: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
	}
}

func TestDrainPublishesEnvelopes(t *testing.T) {
	r1 := row(domain.TopicNewsCreated, 0)
	r2 := row(domain.TopicEventCaused, 0)
	repo := newFakeOutboxRepo(r1, r2)
	pub := newFakePublisher()

	relay := NewRelay(repo, pub, relayConfig())
	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []uuid.UUID{r1.ID, r2.ID}, repo.sent)

	require.Len(t, pub.published[domain.TopicNewsCreated], 1)
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(pub.published[domain.TopicNewsCreated][0], &env))
	assert.Equal(t, domain.TopicNewsCreated, env.Type)
	assert.Equal(t, r1.CreatedAt, env.OccurredAt)
	assert.JSONEq(t, `{"news_id":"x"}`, string(env.Payload))
}

func TestDrainSchedulesExponentialBackoff(t *testing.T) {
	bad := row(domain.TopicNewsEnriched, 2)
	repo := newFakeOutboxRepo(bad)
	pub := newFakePublisher()
	pub.failTopic = domain.TopicNewsEnriched

	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	relay := NewRelay(repo, pub, relayConfig())
	relay.now = func() time.Time { return now }

	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, repo.sent)

	// third retry: 60s * 2^2
	next, ok := repo.failed[bad.ID]
	require.True(t, ok)
	assert.Equal(t, now.Add(4*time.Minute), next)
	assert.Equal(t, 3, repo.maxRetries)
}

func TestDrainPartialFailureKeepsGoodRows(t *testing.T) {
	good := row(domain.TopicNewsCreated, 0)
	bad := row(domain.TopicEventCreated, 0)
	repo := newFakeOutboxRepo(good, bad)
	pub := newFakePublisher()
	pub.failTopic = domain.TopicEventCreated

	relay := NewRelay(repo, pub, relayConfig())
	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{good.ID}, repo.sent)
	assert.Contains(t, repo.failed, bad.ID)
}

func TestDrainRespectsBatchSize(t *testing.T) {
	var rows []domain.OutboxEvent
	for i := 0; i < 150; i++ {
		rows = append(rows, row(domain.TopicNewsCreated, 0))
	}
	repo := newFakeOutboxRepo(rows...)

	relay := NewRelay(repo, newFakePublisher(), relayConfig())
	n, err := relay.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, n)
}

func TestPurgeUsesKeepDays(t *testing.T) {
	repo := newFakeOutboxRepo()
	now := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	relay := NewRelay(repo, newFakePublisher(), relayConfig())
	relay.now = func() time.Time { return now }
	relay.purge(context.Background())

	require.NotNil(t, repo.purgedAt)
	assert.Equal(t, now.AddDate(0, 0, -7), *repo.purgedAt)
}
