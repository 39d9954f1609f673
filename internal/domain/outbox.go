package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Outbox topics published to the broker.
const (
	TopicNewsCreated  = "news.created"
	TopicNewsEnriched = "news.enriched"
	TopicNewsFailed   = "news.failed"
	TopicEventCreated = "event.created"
	TopicEventCaused  = "event.caused"
	TopicEventImpacts = "event.impacts"
)

// OutboxStatus is the delivery state of an outbox row.
type OutboxStatus string

const (
	OutboxPending      OutboxStatus = "pending"
	OutboxInFlight     OutboxStatus = "in_flight"
	OutboxSent         OutboxStatus = "sent"
	OutboxFailed       OutboxStatus = "failed"
	OutboxDeadLettered OutboxStatus = "dead_lettered"
)

// OutboxEvent is a row in the transactional outbox, co-written with the
// originating domain state in one transaction.
type OutboxEvent struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Topic         string          `json:"topic" db:"topic"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Status        OutboxStatus    `json:"status" db:"status"`
	Retries       int             `json:"retries" db:"retries"`
	NextAttemptAt time.Time       `json:"next_attempt_at" db:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// Envelope is the broker wire format. Publish and consume must round-trip
// byte-identically, so payload stays raw.
type Envelope struct {
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewOutboxEvent builds a pending outbox row for the given topic.
func NewOutboxEvent(topic string, payload interface{}) (OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	now := time.Now().UTC()
	return OutboxEvent{
		ID:            uuid.New(),
		Topic:         topic,
		Payload:       raw,
		Status:        OutboxPending,
		NextAttemptAt: now,
		CreatedAt:     now,
	}, nil
}
