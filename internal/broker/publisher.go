// Package broker delivers domain events to the message exchange with
// persistent delivery.
package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/radarlab/radar/internal/apperr"
	"github.com/radarlab/radar/internal/config"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, body []byte) error
	Close() error
}

// amqpPublisher is the AMQP 0.9.1 implementation over a topic exchange.
type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Connect dials the broker and declares the durable topic exchange.
func Connect(cfg config.BrokerConfig) (Publisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, apperr.New(apperr.KindDownstreamFailure, fmt.Errorf("failed to dial broker: %w", err))
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, apperr.New(apperr.KindDownstreamFailure, fmt.Errorf("failed to open channel: %w", err))
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, apperr.New(apperr.KindDownstreamFailure, fmt.Errorf("failed to declare exchange: %w", err))
	}
	log.Info().Str("exchange", cfg.Exchange).Msg("broker connected")
	return &amqpPublisher{conn: conn, ch: ch, exchange: cfg.Exchange}, nil
}

// Publish sends body to topic with persistent delivery.
func (p *amqpPublisher) Publish(ctx context.Context, topic string, body []byte) error {
	err := p.ch.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		return apperr.New(apperr.KindDownstreamFailure, fmt.Errorf("failed to publish to %s: %w", topic, err))
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	if err := p.ch.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}
