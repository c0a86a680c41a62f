package interfaces

import (
	"context"

	"github.com/ternarybob/narro/internal/models"
)

// Notifier delivers a notification to users. Rendering and transport (email,
// SMS, push) are implemented outside this module; a noop notifier is used
// when nothing is configured.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// NotificationService turns job lifecycle events into outbound notifications
type NotificationService interface {
	// Start subscribes to job events on the bus
	Start() error

	// Close stops delivery; subsequent events are ignored
	Close() error
}
