// ABOUTME: RabbitMQ-backed Notifier publishing assignment events to a topic exchange
// ABOUTME: Persistent JSON messages keyed by event kind, confirmed channel setup

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

const (
	routingKeyAssigned = "warren.conversation.assigned"
	routingKeyQueued   = "warren.conversation.queued"
)

// AMQPNotifier publishes assignment events to a RabbitMQ topic exchange.
type AMQPNotifier struct {
	conn     *amqp091.Connection
	exchange string
	logger   *slog.Logger
}

// NewAMQPNotifier dials the broker and declares the topic exchange.
// Pass nil logger for default.
func NewAMQPNotifier(url, exchange string, logger *slog.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dialing broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declaring exchange: %w", err)
	}

	return &AMQPNotifier{
		conn:     conn,
		exchange: exchange,
		logger:   logger.With("component", "notify"),
	}, nil
}

// AssignmentChanged publishes the event as a persistent JSON message. The
// routing key distinguishes successful assignment from pending-queued.
func (n *AMQPNotifier) AssignmentChanged(ctx context.Context, event AssignmentEvent) error {
	ch, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	key := routingKeyAssigned
	if event.Queued {
		key = routingKeyQueued
	}

	err = ch.PublishWithContext(
		ctx, n.exchange, key, false, false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	n.logger.Debug("published assignment event",
		"key", key,
		"conversation_id", event.ConversationID)
	return nil
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	return n.conn.Close()
}
