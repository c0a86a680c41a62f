package models

import (
	"time"
)

// StateDefinition describes a single state in an entity type's lifecycle
type StateDefinition struct {
	Key        string `toml:"key" yaml:"key" json:"key"`
	Label      string `toml:"label" yaml:"label" json:"label"`
	IsInitial  bool   `toml:"is_initial" yaml:"is_initial" json:"is_initial"`
	IsTerminal bool   `toml:"is_terminal" yaml:"is_terminal" json:"is_terminal"`
	SortOrder  int    `toml:"sort_order" yaml:"sort_order" json:"sort_order"` // display ordering for valid-transition listings
}

// TransitionDefinition describes a directed edge between two declared states
type TransitionDefinition struct {
	From               string `toml:"from" yaml:"from" json:"from"`
	To                 string `toml:"to" yaml:"to" json:"to"`
	Label              string `toml:"label" yaml:"label" json:"label"`
	RequiresPermission bool   `toml:"requires_permission" yaml:"requires_permission" json:"requires_permission"`
}

// EntityTypeDefinition is the complete data-driven lifecycle table for one
// entity type. Definitions are validated eagerly at registration: exactly one
// initial state, declared endpoints on every transition, no outgoing edges
// from terminal states, every state reachable from the initial state.
// Cycles between non-terminal states are legal (revision loops).
type EntityTypeDefinition struct {
	Name        string                 `toml:"name" yaml:"name" json:"name"`
	Description string                 `toml:"description" yaml:"description" json:"description"`
	States      []StateDefinition      `toml:"states" yaml:"states" json:"states"`
	Transitions []TransitionDefinition `toml:"transitions" yaml:"transitions" json:"transitions"`
}

// InitialState returns the state marked is_initial, or nil when the table is
// malformed. Registration validation guarantees exactly one for registered types.
func (d *EntityTypeDefinition) InitialState() *StateDefinition {
	for i := range d.States {
		if d.States[i].IsInitial {
			return &d.States[i]
		}
	}
	return nil
}

// State returns the declared state with the given key, or nil
func (d *EntityTypeDefinition) State(key string) *StateDefinition {
	for i := range d.States {
		if d.States[i].Key == key {
			return &d.States[i]
		}
	}
	return nil
}

// EntityStateRecord is the persisted current state of one entity instance
type EntityStateRecord struct {
	ID         string    `json:"id"` // entityType/entityID
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	State      string    `json:"state"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EntityStateKey builds the storage key for an entity's state record
func EntityStateKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}
