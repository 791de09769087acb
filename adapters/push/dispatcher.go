// Package push delivers queued challenges to devices. Delivery is best
// effort: failures are logged and the message is acknowledged, since the
// stored transaction stays the source of truth.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/pushauth/core"
	"github.com/rs/zerolog"
)

// Sender delivers an opaque payload to a device token
type Sender interface {
	Send(ctx context.Context, deviceToken string, payload []byte) error
}

type alert struct {
	Alert string `json:"alert"`
}

// apnsPayload is the body pushed to the device
type apnsPayload struct {
	APS             alert  `json:"aps"`
	ApplicationName string `json:"ApplicationName"`
	TransactionID   string `json:"TransactionId"`
	ClientIP        string `json:"ClientIp"`
	GeoLocation     string `json:"GeoLocation"`
	UserName        string `json:"UserName"`
	Timestamp       int64  `json:"Timestamp"`
}

// Payload renders the push body for a notification
func Payload(n core.Notification) ([]byte, error) {
	body, err := json.Marshal(apnsPayload{
		APS:             alert{Alert: core.NotificationAlert},
		ApplicationName: n.ApplicationName,
		TransactionID:   n.TransactionID,
		ClientIP:        n.ClientIP,
		GeoLocation:     n.GeoLocation,
		UserName:        n.UserName,
		Timestamp:       n.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push payload: %w", err)
	}
	return body, nil
}

// Dispatcher consumes notifications and hands them to a Sender
type Dispatcher struct {
	sender Sender
	log    zerolog.Logger
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(sender Sender, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		log:    log.With().Str("component", "push").Logger(),
	}
}

// AddTo registers the dispatcher on router for topic
func (d *Dispatcher) AddTo(router *message.Router, topic string, subscriber message.Subscriber) {
	router.AddNoPublisherHandler("push-dispatcher", topic, subscriber, d.Handle)
}

// Handle delivers one notification message. It never returns an error, so
// undeliverable messages are not redelivered.
func (d *Dispatcher) Handle(msg *message.Message) error {
	var n core.Notification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		d.log.Error().Err(err).Str("message_id", msg.UUID).Msg("dropping malformed notification")
		return nil
	}

	log := d.log.With().Str("transaction_id", n.TransactionID).Logger()

	if n.DeviceToken == "" {
		log.Warn().Msg("notification has no device token")
		return nil
	}

	payload, err := Payload(n)
	if err != nil {
		log.Error().Err(err).Msg("failed to build push payload")
		return nil
	}

	if err := d.sender.Send(msg.Context(), n.DeviceToken, payload); err != nil {
		log.Warn().Err(err).Msg("push delivery failed")
		return nil
	}

	log.Debug().Msg("push delivered")
	return nil
}

// LogSender logs pushes instead of delivering them
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a sender that only logs
func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, deviceToken string, payload []byte) error {
	s.log.Info().Str("device_token", deviceToken).RawJSON("payload", payload).Msg("push notification")
	return nil
}
