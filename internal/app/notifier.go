/**
 * @description
 * RabbitMQ-backed Notifier. Outbound chat messages are published to the events
 * exchange and delivered by the chat transport service; delivery is
 * fire-and-forget from settlement's point of view.
 */

package app

import (
	"context"
	"time"

	"github.com/kudipay/chatpay-service/internal/domain"
	"github.com/kudipay/chatpay-service/pkg/rabbitmq"
)

// EventNotifier publishes chat notifications over RabbitMQ.
type EventNotifier struct {
	producer rabbitmq.Publisher
}

// NewEventNotifier wraps a RabbitMQ publisher as a Notifier.
func NewEventNotifier(producer rabbitmq.Publisher) *EventNotifier {
	return &EventNotifier{producer: producer}
}

// NotifyUser publishes one outbound chat message.
func (n *EventNotifier) NotifyUser(ctx context.Context, chatID, message string) error {
	return n.producer.PublishChatNotification(ctx, domain.ChatNotification{
		ChatID:    chatID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}
