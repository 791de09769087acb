package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/pushauth/core"
	"github.com/layer-3/pushauth/ports"
)

// NotificationTopic carries challenges from the API to the push dispatcher
const NotificationTopic = "pushauth.notification"

// WatermillNotifier implements the Notifier interface using Watermill
type WatermillNotifier struct {
	publisher message.Publisher
	topic     string
}

// NewWatermillNotifier creates a new Watermill notifier
func NewWatermillNotifier(publisher message.Publisher) ports.Notifier {
	return &WatermillNotifier{
		publisher: publisher,
		topic:     NotificationTopic,
	}
}

// Notify publishes the notification keyed by its transaction id. The message
// outlives ctx, so ctx is not attached to it.
func (n *WatermillNotifier) Notify(ctx context.Context, notification core.Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	msg := message.NewMessage(notification.TransactionID, payload)
	if err := n.publisher.Publish(n.topic, msg); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	return nil
}
