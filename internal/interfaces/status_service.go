package interfaces

import (
	"github.com/ternarybob/narro/internal/models"
)

// StatusService maintains a live snapshot of service activity from published
// job events. The snapshot is the read surface for external status queries.
type StatusService interface {
	// Start subscribes to job events on the bus
	Start() error

	// GetStatus returns the current snapshot
	GetStatus() models.AppStatus

	// Close stops snapshot updates; subsequent events are ignored
	Close() error
}
