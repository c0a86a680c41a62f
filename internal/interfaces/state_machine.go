package interfaces

import (
	"context"

	"github.com/ternarybob/narro/internal/models"
)

// PermissionChecker answers whether an actor may take a permission-gated
// transition. Implemented by the auth layer outside this module; a nil
// checker denies every gated transition.
type PermissionChecker interface {
	Allowed(ctx context.Context, actor, entityType, from, to string) bool
}

// StateMachineService manages data-driven entity lifecycles. Entity type
// tables are validated eagerly at registration; transitions for a given
// entity are expected to be serialized by the caller.
type StateMachineService interface {
	// RegisterEntityType validates and installs a lifecycle table.
	// Invalid tables return a ConfigurationError.
	RegisterEntityType(def *models.EntityTypeDefinition) error

	// EntityTypes returns the names of registered entity types, sorted
	EntityTypes() []string

	// Definition returns the registered table for an entity type
	Definition(entityType string) (*models.EntityTypeDefinition, error)

	// InitEntity records the initial state for an entity. Idempotent: an
	// already-initialized entity keeps its recorded state.
	InitEntity(ctx context.Context, entityType, entityID string) (string, error)

	// CurrentState returns the recorded state, or NotFoundError when the
	// entity was never initialized
	CurrentState(ctx context.Context, entityType, entityID string) (string, error)

	// Transition moves an entity to toState after validating the edge and,
	// for permission-gated edges, the actor's clearance
	Transition(ctx context.Context, entityType, entityID, toState, actor string) error

	// ValidTransitionsFrom returns legal target states from a declared state,
	// sorted by sort_order then key. Terminal states return an empty slice.
	ValidTransitionsFrom(entityType, stateKey string) ([]models.StateDefinition, error)
}
