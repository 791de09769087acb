package ports

import (
	"context"

	"github.com/layer-3/pushauth/core"
)

// Notifier hands a challenge to the push dispatcher. Delivery happens
// asynchronously; a nil error only means the notification was queued.
type Notifier interface {
	Notify(ctx context.Context, notification core.Notification) error
}
