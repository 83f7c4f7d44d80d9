// Package notification delivers booking notifications. Delivery is fire and
// forget: a failed notification is logged and counted, never surfaced to the
// operation that triggered it.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/interfaces"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
)

// Message is the body published for every notification
type Message struct {
	ID        string                      `json:"id"`
	Kind      interfaces.NotificationKind `json:"kind"`
	Recipient interfaces.Recipient        `json:"recipient"`
	Payload   map[string]string           `json:"payload"`
	CreatedAt time.Time                   `json:"created_at"`
}

func newMessage(to interfaces.Recipient, kind interfaces.NotificationKind, payload map[string]string) Message {
	return Message{
		ID:        uuid.New().String(),
		Kind:      kind,
		Recipient: to,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Publisher is the part of an AMQP channel the sink needs
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// RabbitSink publishes notifications to a durable RabbitMQ queue consumed by
// the mail and push workers
type RabbitSink struct {
	publisher Publisher
	queue     string
	channel   *amqp091.Channel
}

// NewRabbitSink opens a channel on conn and declares the notification queue
func NewRabbitSink(conn *amqp091.Connection, queue string) (*RabbitSink, error) {
	channel, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	return &RabbitSink{publisher: channel, queue: queue, channel: channel}, nil
}

// NewPublisherSink creates a sink over an already prepared publisher
func NewPublisherSink(publisher Publisher, queue string) *RabbitSink {
	return &RabbitSink{publisher: publisher, queue: queue}
}

// Notify implements interfaces.NotificationSink
func (s *RabbitSink) Notify(ctx context.Context, to interfaces.Recipient, kind interfaces.NotificationKind, payload map[string]string) error {
	msg := newMessage(to, kind, payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	err = s.publisher.PublishWithContext(ctx, "", s.queue, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Type:         string(kind),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// Close closes the channel opened by NewRabbitSink
func (s *RabbitSink) Close() error {
	if s.channel == nil {
		return nil
	}
	return s.channel.Close()
}

// LogSink writes notifications to the log. It stands in for the broker when
// RabbitMQ is disabled.
type LogSink struct {
	logger *logger.Logger
}

// NewLogSink creates a LogSink
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{logger: log}
}

// Notify implements interfaces.NotificationSink
func (s *LogSink) Notify(ctx context.Context, to interfaces.Recipient, kind interfaces.NotificationKind, payload map[string]string) error {
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"kind":         kind,
		"recipient_id": to.UserID,
		"role":         to.Role,
		"payload":      payload,
	}).Info("Notification")
	return nil
}
