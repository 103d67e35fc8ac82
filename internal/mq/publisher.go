package mq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urbanflow/water-telemetry-worker/internal/alert"
	"go.uber.org/zap"
)

// Publisher publishes alerts and accepted-reading events to the outbound
// topic exchange.
type Publisher struct {
	conn            *Connection
	channel         *amqp.Channel
	exchange        string
	alertRoutingKey string
	eventRoutingKey string
	logger          *zap.Logger
}

// NewPublisher creates a publisher bound to the given exchange.
func NewPublisher(conn *Connection, exchange, alertRoutingKey, eventRoutingKey string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:            conn,
		channel:         ch,
		exchange:        exchange,
		alertRoutingKey: alertRoutingKey,
		eventRoutingKey: eventRoutingKey,
		logger:          logger,
	}, nil
}

// ReadingAcceptedEvent is published after a meter reading is persisted so
// downstream consumers (billing, anomaly dashboards) can react.
type ReadingAcceptedEvent struct {
	DeviceID       string  `json:"device_id"`
	ConnectionID   string  `json:"connection_id,omitempty"`
	CurrentReading float64 `json:"current_reading"`
	ReadingDate    string  `json:"reading_date"`
	Status         string  `json:"status"`
	Reliability    string  `json:"reliability"`
}

// PublishAlert publishes an alert record on the alert routing key.
func (p *Publisher) PublishAlert(ctx context.Context, a alert.Alert) error {
	return p.publish(ctx, p.alertRoutingKey, a)
}

// PublishReadingAccepted publishes an accepted-reading event.
func (p *Publisher) PublishReadingAccepted(ctx context.Context, event ReadingAcceptedEvent) error {
	return p.publish(ctx, p.eventRoutingKey, event)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, err)
	}

	p.logger.Debug("published message",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
