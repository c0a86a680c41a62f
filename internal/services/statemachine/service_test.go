package statemachine

import (
	"context"
	"sync"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/narro/internal/interfaces"
	"github.com/ternarybob/narro/internal/models"
)

// memStateStorage is an in-memory EntityStateStorage for tests
type memStateStorage struct {
	mu      sync.Mutex
	records map[string]*models.EntityStateRecord
}

func newMemStateStorage() *memStateStorage {
	return &memStateStorage{records: make(map[string]*models.EntityStateRecord)}
}

func (m *memStateStorage) GetState(ctx context.Context, entityType, entityID string) (*models.EntityStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[models.EntityStateKey(entityType, entityID)]
	if !ok {
		return nil, &models.NotFoundError{Resource: "entity state", Key: models.EntityStateKey(entityType, entityID)}
	}
	clone := *record
	return &clone, nil
}

func (m *memStateStorage) SetState(ctx context.Context, record *models.EntityStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *record
	m.records[record.ID] = &clone
	return nil
}

func (m *memStateStorage) DeleteState(ctx context.Context, entityType, entityID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, models.EntityStateKey(entityType, entityID))
	return nil
}

func (m *memStateStorage) ListStates(ctx context.Context, entityType string) ([]*models.EntityStateRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.EntityStateRecord
	for _, record := range m.records {
		if record.EntityType == entityType {
			clone := *record
			result = append(result, &clone)
		}
	}
	return result, nil
}

// allowAllChecker grants every permission-gated transition
type allowAllChecker struct{}

func (allowAllChecker) Allowed(ctx context.Context, actor, entityType, from, to string) bool {
	return true
}

// denyAllChecker refuses every permission-gated transition
type denyAllChecker struct{}

func (denyAllChecker) Allowed(ctx context.Context, actor, entityType, from, to string) bool {
	return false
}

// storyDefinition builds the lifecycle table used across these tests:
// draft -> review -> published, with a revision loop back to draft and an
// archived terminal reached from review
func storyDefinition() *models.EntityTypeDefinition {
	return &models.EntityTypeDefinition{
		Name:        "story",
		Description: "Story publication lifecycle",
		States: []models.StateDefinition{
			{Key: "draft", Label: "Draft", IsInitial: true, SortOrder: 1},
			{Key: "review", Label: "In Review", SortOrder: 2},
			{Key: "published", Label: "Published", IsTerminal: true, SortOrder: 3},
			{Key: "archived", Label: "Archived", IsTerminal: true, SortOrder: 4},
		},
		Transitions: []models.TransitionDefinition{
			{From: "draft", To: "review", Label: "Submit"},
			{From: "review", To: "draft", Label: "Request changes"},
			{From: "review", To: "published", Label: "Approve", RequiresPermission: true},
			{From: "review", To: "archived", Label: "Reject"},
		},
	}
}

func newTestService(t *testing.T, permissions interfaces.PermissionChecker) interfaces.StateMachineService {
	t.Helper()
	svc := NewService(newMemStateStorage(), permissions, arbor.NewLogger())
	if err := svc.RegisterEntityType(storyDefinition()); err != nil {
		t.Fatalf("Failed to register story definition: %v", err)
	}
	return svc
}

// TestRegisterEntityType verifies a valid table registers and is listed
func TestRegisterEntityType(t *testing.T) {
	svc := newTestService(t, nil)

	types := svc.EntityTypes()
	if len(types) != 1 || types[0] != "story" {
		t.Errorf("Expected entity types [story], got %v", types)
	}

	def, err := svc.Definition("story")
	if err != nil {
		t.Fatalf("Definition failed: %v", err)
	}
	if def.Name != "story" || len(def.States) != 4 {
		t.Errorf("Unexpected definition: %+v", def)
	}

	if _, err := svc.Definition("unknown"); !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for unknown type, got: %v", err)
	}
}

// TestRegisterEntityTypeValidation verifies malformed tables are rejected
// with configuration errors
func TestRegisterEntityTypeValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.EntityTypeDefinition)
	}{
		{"no initial state", func(d *models.EntityTypeDefinition) {
			d.States[0].IsInitial = false
		}},
		{"two initial states", func(d *models.EntityTypeDefinition) {
			d.States[1].IsInitial = true
		}},
		{"empty name", func(d *models.EntityTypeDefinition) {
			d.Name = ""
		}},
		{"no states", func(d *models.EntityTypeDefinition) {
			d.States = nil
			d.Transitions = nil
		}},
		{"empty state key", func(d *models.EntityTypeDefinition) {
			d.States[1].Key = ""
		}},
		{"duplicate state key", func(d *models.EntityTypeDefinition) {
			d.States[1].Key = "draft"
		}},
		{"transition from undeclared state", func(d *models.EntityTypeDefinition) {
			d.Transitions = append(d.Transitions, models.TransitionDefinition{From: "ghost", To: "draft"})
		}},
		{"transition to undeclared state", func(d *models.EntityTypeDefinition) {
			d.Transitions = append(d.Transitions, models.TransitionDefinition{From: "draft", To: "ghost"})
		}},
		{"outgoing edge from terminal state", func(d *models.EntityTypeDefinition) {
			d.Transitions = append(d.Transitions, models.TransitionDefinition{From: "published", To: "draft"})
		}},
		{"duplicate transition", func(d *models.EntityTypeDefinition) {
			d.Transitions = append(d.Transitions, models.TransitionDefinition{From: "draft", To: "review"})
		}},
		{"unreachable state", func(d *models.EntityTypeDefinition) {
			d.States = append(d.States, models.StateDefinition{Key: "orphan", Label: "Orphan"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newMemStateStorage(), nil, arbor.NewLogger())
			def := storyDefinition()
			tt.mutate(def)

			err := svc.RegisterEntityType(def)
			if err == nil {
				t.Fatal("Expected registration to fail")
			}
			if !models.IsConfigurationError(err) {
				t.Errorf("Expected ConfigurationError, got: %v", err)
			}
		})
	}

	svc := NewService(newMemStateStorage(), nil, arbor.NewLogger())
	if err := svc.RegisterEntityType(nil); !models.IsConfigurationError(err) {
		t.Errorf("Expected ConfigurationError for nil definition, got: %v", err)
	}
}

// TestInitEntity verifies initialization lands on the initial state and is idempotent
func TestInitEntity(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	state, err := svc.InitEntity(ctx, "story", "story-1")
	if err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}
	if state != "draft" {
		t.Errorf("Expected initial state draft, got %s", state)
	}

	if err := svc.Transition(ctx, "story", "story-1", "review", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// Re-initializing keeps the recorded state
	state, err = svc.InitEntity(ctx, "story", "story-1")
	if err != nil {
		t.Fatalf("Second InitEntity failed: %v", err)
	}
	if state != "review" {
		t.Errorf("Expected recorded state review after re-init, got %s", state)
	}

	if _, err := svc.InitEntity(ctx, "unknown", "x"); !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for unknown entity type, got: %v", err)
	}
}

// TestCurrentStateUninitialized verifies uninitialized entities report NotFound
func TestCurrentStateUninitialized(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.CurrentState(context.Background(), "story", "never-seen")
	if !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got: %v", err)
	}
}

// TestTransition verifies declared edges move the entity and undeclared edges fail
func TestTransition(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.InitEntity(ctx, "story", "story-1"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}

	if err := svc.Transition(ctx, "story", "story-1", "review", ""); err != nil {
		t.Fatalf("Transition draft->review failed: %v", err)
	}
	state, err := svc.CurrentState(ctx, "story", "story-1")
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state != "review" {
		t.Errorf("Expected state review, got %s", state)
	}

	// review -> archived is declared and ungated
	if err := svc.Transition(ctx, "story", "story-1", "archived", ""); err != nil {
		t.Fatalf("Transition review->archived failed: %v", err)
	}
}

// TestTransitionUndeclaredEdge verifies undeclared edges return TransitionError
func TestTransitionUndeclaredEdge(t *testing.T) {
	svc := newTestService(t, allowAllChecker{})
	ctx := context.Background()

	if _, err := svc.InitEntity(ctx, "story", "story-1"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}

	// draft -> published skips review and is not declared
	err := svc.Transition(ctx, "story", "story-1", "published", "editor-1")
	if !models.IsInvalidTransition(err) {
		t.Errorf("Expected TransitionError, got: %v", err)
	}

	// Target state must be declared
	err = svc.Transition(ctx, "story", "story-1", "ghost", "")
	if !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for undeclared target, got: %v", err)
	}

	// Uninitialized entities cannot transition
	err = svc.Transition(ctx, "story", "story-9", "review", "")
	if !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for uninitialized entity, got: %v", err)
	}

	// Terminal states have no exits
	if err := svc.Transition(ctx, "story", "story-1", "review", ""); err != nil {
		t.Fatalf("draft->review failed: %v", err)
	}
	if err := svc.Transition(ctx, "story", "story-1", "archived", ""); err != nil {
		t.Fatalf("review->archived failed: %v", err)
	}
	err = svc.Transition(ctx, "story", "story-1", "draft", "")
	if !models.IsInvalidTransition(err) {
		t.Errorf("Expected TransitionError out of terminal state, got: %v", err)
	}
	state, err := svc.CurrentState(ctx, "story", "story-1")
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state != "archived" {
		t.Errorf("Expected entity to stay archived, got %s", state)
	}
}

// TestTransitionRevisionLoop verifies cycles between non-terminal states work
func TestTransitionRevisionLoop(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.InitEntity(ctx, "story", "story-1"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Transition(ctx, "story", "story-1", "review", ""); err != nil {
			t.Fatalf("Round %d draft->review failed: %v", i, err)
		}
		if err := svc.Transition(ctx, "story", "story-1", "draft", ""); err != nil {
			t.Fatalf("Round %d review->draft failed: %v", i, err)
		}
	}
}

// TestTransitionPermissionGated verifies gated edges consult the checker and
// that a missing checker denies
func TestTransitionPermissionGated(t *testing.T) {
	ctx := context.Background()

	// Nil checker denies
	svc := newTestService(t, nil)
	if _, err := svc.InitEntity(ctx, "story", "story-1"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}
	if err := svc.Transition(ctx, "story", "story-1", "review", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	err := svc.Transition(ctx, "story", "story-1", "published", "editor-1")
	if !models.IsPermissionDenied(err) {
		t.Errorf("Expected PermissionError with nil checker, got: %v", err)
	}

	// Denying checker refuses, state unchanged
	svc = newTestService(t, denyAllChecker{})
	if _, err := svc.InitEntity(ctx, "story", "story-2"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}
	if err := svc.Transition(ctx, "story", "story-2", "review", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	err = svc.Transition(ctx, "story", "story-2", "published", "editor-1")
	if !models.IsPermissionDenied(err) {
		t.Errorf("Expected PermissionError from denying checker, got: %v", err)
	}
	state, err := svc.CurrentState(ctx, "story", "story-2")
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if state != "review" {
		t.Errorf("Expected state unchanged at review after denial, got %s", state)
	}

	// Allowing checker clears the gate
	svc = newTestService(t, allowAllChecker{})
	if _, err := svc.InitEntity(ctx, "story", "story-3"); err != nil {
		t.Fatalf("InitEntity failed: %v", err)
	}
	if err := svc.Transition(ctx, "story", "story-3", "review", ""); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := svc.Transition(ctx, "story", "story-3", "published", "editor-1"); err != nil {
		t.Errorf("Expected gated transition to succeed, got: %v", err)
	}
}

// TestValidTransitionsFrom verifies target listings are sorted and terminal
// states list nothing
func TestValidTransitionsFrom(t *testing.T) {
	svc := newTestService(t, nil)

	targets, err := svc.ValidTransitionsFrom("story", "review")
	if err != nil {
		t.Fatalf("ValidTransitionsFrom failed: %v", err)
	}
	keys := make([]string, len(targets))
	for i, target := range targets {
		keys[i] = target.Key
	}
	want := []string{"draft", "published", "archived"}
	if len(keys) != len(want) {
		t.Fatalf("Expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Target %d: expected %s, got %s", i, want[i], keys[i])
		}
	}

	// Terminal state has no outgoing transitions
	targets, err = svc.ValidTransitionsFrom("story", "published")
	if err != nil {
		t.Fatalf("ValidTransitionsFrom failed: %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("Expected no targets from terminal state, got %v", targets)
	}

	if _, err := svc.ValidTransitionsFrom("story", "ghost"); !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for undeclared state, got: %v", err)
	}
	if _, err := svc.ValidTransitionsFrom("unknown", "draft"); !models.IsNotFound(err) {
		t.Errorf("Expected NotFoundError for unknown type, got: %v", err)
	}
}

// TestValidTransitionsFromIsPure verifies the listing never touches entity storage
func TestValidTransitionsFromIsPure(t *testing.T) {
	// A nil store would panic on any storage access
	svc := NewService(nil, nil, arbor.NewLogger())
	if err := svc.RegisterEntityType(storyDefinition()); err != nil {
		t.Fatalf("Failed to register definition: %v", err)
	}

	if _, err := svc.ValidTransitionsFrom("story", "draft"); err != nil {
		t.Errorf("Expected pure lookup to succeed, got: %v", err)
	}
}
