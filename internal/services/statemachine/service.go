package statemachine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

// Service implements StateMachineService over declarative lifecycle tables.
// Tables are validated when registered, so transition-time checks only deal
// with the entity's recorded state and the actor's clearance.
type Service struct {
	definitions map[string]*models.EntityTypeDefinition
	storage     interfaces.EntityStateStorage
	permissions interfaces.PermissionChecker
	logger      arbor.ILogger
	mu          sync.RWMutex
}

// NewService creates a state machine service. permissions may be nil, in which
// case every permission-gated transition is denied.
func NewService(storage interfaces.EntityStateStorage, permissions interfaces.PermissionChecker, logger arbor.ILogger) interfaces.StateMachineService {
	return &Service{
		definitions: make(map[string]*models.EntityTypeDefinition),
		storage:     storage,
		permissions: permissions,
		logger:      logger,
	}
}

// RegisterEntityType validates and installs a lifecycle table. Re-registering
// an entity type replaces its table.
func (s *Service) RegisterEntityType(def *models.EntityTypeDefinition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.definitions[def.Name] = def

	s.logger.Info().
		Str("entity_type", def.Name).
		Int("states", len(def.States)).
		Int("transitions", len(def.Transitions)).
		Msg("Entity type registered")

	return nil
}

// validateDefinition enforces the structural rules for a lifecycle table:
// exactly one initial state, unique non-empty state keys, declared endpoints
// on every transition, no outgoing edges from terminal states, and every
// state reachable from the initial state. Cycles between non-terminal states
// are allowed.
func validateDefinition(def *models.EntityTypeDefinition) error {
	if def == nil {
		return models.NewConfigurationError("statemachine", "definition cannot be nil")
	}
	if def.Name == "" {
		return models.NewConfigurationError("statemachine", "entity type name cannot be empty")
	}
	if len(def.States) == 0 {
		return models.NewConfigurationError("statemachine", "entity type %s declares no states", def.Name)
	}

	states := make(map[string]*models.StateDefinition, len(def.States))
	initialCount := 0
	var initial string
	for i := range def.States {
		state := &def.States[i]
		if state.Key == "" {
			return models.NewConfigurationError("statemachine", "entity type %s has a state with an empty key", def.Name)
		}
		if _, exists := states[state.Key]; exists {
			return models.NewConfigurationError("statemachine", "entity type %s declares state %s more than once", def.Name, state.Key)
		}
		states[state.Key] = state
		if state.IsInitial {
			initialCount++
			initial = state.Key
		}
	}
	if initialCount != 1 {
		return models.NewConfigurationError("statemachine", "entity type %s must declare exactly one initial state, found %d", def.Name, initialCount)
	}

	edges := make(map[string][]string, len(def.States))
	seen := make(map[string]bool, len(def.Transitions))
	for _, tr := range def.Transitions {
		fromState, ok := states[tr.From]
		if !ok {
			return models.NewConfigurationError("statemachine", "entity type %s transition references undeclared state %s", def.Name, tr.From)
		}
		if _, ok := states[tr.To]; !ok {
			return models.NewConfigurationError("statemachine", "entity type %s transition references undeclared state %s", def.Name, tr.To)
		}
		if fromState.IsTerminal {
			return models.NewConfigurationError("statemachine", "entity type %s has an outgoing transition from terminal state %s", def.Name, tr.From)
		}
		edgeKey := tr.From + "->" + tr.To
		if seen[edgeKey] {
			return models.NewConfigurationError("statemachine", "entity type %s declares transition %s more than once", def.Name, edgeKey)
		}
		seen[edgeKey] = true
		edges[tr.From] = append(edges[tr.From], tr.To)
	}

	// Breadth-first walk from the initial state; anything not visited is dead
	visited := map[string]bool{initial: true}
	queue := []string{initial}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range edges[current] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	for key := range states {
		if !visited[key] {
			return models.NewConfigurationError("statemachine", "entity type %s state %s is unreachable from initial state %s", def.Name, key, initial)
		}
	}

	return nil
}

// EntityTypes returns the names of registered entity types, sorted
func (s *Service) EntityTypes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.definitions))
	for name := range s.definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definition returns the registered table for an entity type
func (s *Service) Definition(entityType string) (*models.EntityTypeDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[entityType]
	if !ok {
		return nil, &models.NotFoundError{Resource: "entity type", Key: entityType}
	}
	return def, nil
}

// InitEntity records the initial state for an entity. Idempotent: if the
// entity already has a recorded state, that state is returned unchanged.
func (s *Service) InitEntity(ctx context.Context, entityType, entityID string) (string, error) {
	def, err := s.Definition(entityType)
	if err != nil {
		return "", err
	}
	if entityID == "" {
		return "", fmt.Errorf("entity id cannot be empty")
	}

	existing, err := s.storage.GetState(ctx, entityType, entityID)
	if err == nil && existing != nil {
		return existing.State, nil
	}
	if err != nil && !models.IsNotFound(err) {
		return "", fmt.Errorf("failed to read entity state: %w", err)
	}

	initial := def.InitialState()
	record := &models.EntityStateRecord{
		ID:         models.EntityStateKey(entityType, entityID),
		EntityType: entityType,
		EntityID:   entityID,
		State:      initial.Key,
		UpdatedAt:  time.Now(),
	}
	if err := s.storage.SetState(ctx, record); err != nil {
		return "", fmt.Errorf("failed to record initial state: %w", err)
	}

	s.logger.Debug().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("state", initial.Key).
		Msg("Entity initialized")

	return initial.Key, nil
}

// CurrentState returns the recorded state for an entity, or a NotFoundError
// when the entity was never initialized
func (s *Service) CurrentState(ctx context.Context, entityType, entityID string) (string, error) {
	if _, err := s.Definition(entityType); err != nil {
		return "", err
	}

	record, err := s.storage.GetState(ctx, entityType, entityID)
	if err != nil {
		return "", err
	}
	return record.State, nil
}

// Transition moves an entity to toState. The edge must be declared from the
// entity's current state, and permission-gated edges require clearance from
// the permission checker for the acting user.
func (s *Service) Transition(ctx context.Context, entityType, entityID, toState, actor string) error {
	def, err := s.Definition(entityType)
	if err != nil {
		return err
	}
	if def.State(toState) == nil {
		return &models.NotFoundError{Resource: "state", Key: entityType + "/" + toState}
	}

	current, err := s.CurrentState(ctx, entityType, entityID)
	if err != nil {
		return err
	}

	var edge *models.TransitionDefinition
	for i := range def.Transitions {
		if def.Transitions[i].From == current && def.Transitions[i].To == toState {
			edge = &def.Transitions[i]
			break
		}
	}
	if edge == nil {
		return &models.TransitionError{EntityType: entityType, EntityID: entityID, From: current, To: toState}
	}

	if edge.RequiresPermission {
		if s.permissions == nil || !s.permissions.Allowed(ctx, actor, entityType, current, toState) {
			return &models.PermissionError{EntityType: entityType, EntityID: entityID, From: current, To: toState}
		}
	}

	record := &models.EntityStateRecord{
		ID:         models.EntityStateKey(entityType, entityID),
		EntityType: entityType,
		EntityID:   entityID,
		State:      toState,
		UpdatedAt:  time.Now(),
	}
	if err := s.storage.SetState(ctx, record); err != nil {
		return fmt.Errorf("failed to record state transition: %w", err)
	}

	s.logger.Info().
		Str("entity_type", entityType).
		Str("entity_id", entityID).
		Str("from", current).
		Str("to", toState).
		Msg("Entity transitioned")

	return nil
}

// ValidTransitionsFrom returns the declared target states from a state, sorted
// by sort order then key. Pure table lookup; the entity store is not consulted.
// Terminal states return an empty slice.
func (s *Service) ValidTransitionsFrom(entityType, stateKey string) ([]models.StateDefinition, error) {
	def, err := s.Definition(entityType)
	if err != nil {
		return nil, err
	}
	if def.State(stateKey) == nil {
		return nil, &models.NotFoundError{Resource: "state", Key: entityType + "/" + stateKey}
	}

	targets := make([]models.StateDefinition, 0, 4)
	for _, tr := range def.Transitions {
		if tr.From != stateKey {
			continue
		}
		if target := def.State(tr.To); target != nil {
			targets = append(targets, *target)
		}
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].SortOrder != targets[j].SortOrder {
			return targets[i].SortOrder < targets[j].SortOrder
		}
		return targets[i].Key < targets[j].Key
	})

	return targets, nil
}
