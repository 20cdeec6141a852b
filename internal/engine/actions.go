package engine

import (
	"sync"

	"scenario-trader/internal/models"
)

// ActionKind tags an ActionKey.
type ActionKind string

const (
	ActionEntered      ActionKind = "entered"
	ActionExited       ActionKind = "exited"
	ActionApproached   ActionKind = "approached"
	ActionTriggered    ActionKind = "triggered"
	ActionChaosAdvised ActionKind = "chaos_advised"
	ActionLevelReached ActionKind = "level_reached"
)

// ActionKey identifies a state-changing or advisory action on a plan.
// Each key fires at most once per plan until cleared.
type ActionKey struct {
	Kind     ActionKind
	Scenario models.ScenarioType
	Reason   models.ExitReason
}

// Entered is the key for opening a position on scenario t.
func Entered(t models.ScenarioType) ActionKey {
	return ActionKey{Kind: ActionEntered, Scenario: t}
}

// Exited is the key for closing the plan's position for reason r.
func Exited(r models.ExitReason) ActionKey {
	return ActionKey{Kind: ActionExited, Reason: r}
}

// Approached is the key for the approach alert of scenario t.
func Approached(t models.ScenarioType) ActionKey {
	return ActionKey{Kind: ActionApproached, Scenario: t}
}

// Triggered is the key for an entry zone reached while auto-execute is off.
func Triggered(t models.ScenarioType) ActionKey {
	return ActionKey{Kind: ActionTriggered, Scenario: t}
}

// ChaosAdvised is the key for the "C playing out" advisory.
func ChaosAdvised() ActionKey {
	return ActionKey{Kind: ActionChaosAdvised, Scenario: models.ScenarioC}
}

// LevelReached is the key for a stop or target reached without closing.
func LevelReached(r models.ExitReason) ActionKey {
	return ActionKey{Kind: ActionLevelReached, Reason: r}
}

func (k ActionKey) String() string {
	s := string(k.Kind)
	if k.Scenario != "" {
		s += ":" + string(k.Scenario)
	}
	if k.Reason != "" {
		s += ":" + string(k.Reason)
	}
	return s
}

// ActionSet records fired action keys per plan. Safe for concurrent use.
type ActionSet struct {
	mu    sync.Mutex
	fired map[string]map[ActionKey]struct{}
}

// NewActionSet creates an empty ActionSet.
func NewActionSet() *ActionSet {
	return &ActionSet{fired: make(map[string]map[ActionKey]struct{})}
}

// Fire marks key as fired for planID. It returns true only the first time.
func (s *ActionSet) Fire(planID string, key ActionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys, ok := s.fired[planID]
	if !ok {
		keys = make(map[ActionKey]struct{})
		s.fired[planID] = keys
	}
	if _, done := keys[key]; done {
		return false
	}
	keys[key] = struct{}{}
	return true
}

// has reports whether key already fired for planID.
func (s *ActionSet) has(planID string, key ActionKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.fired[planID][key]
	return ok
}

// Keys returns the fired keys of planID.
func (s *ActionSet) Keys(planID string) []ActionKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ActionKey, 0, len(s.fired[planID]))
	for k := range s.fired[planID] {
		out = append(out, k)
	}
	return out
}

// Forget drops every key of planID.
func (s *ActionSet) Forget(planID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fired, planID)
}

// Retain drops the keys of every plan not in ids.
func (s *ActionSet) Retain(ids []string) {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.fired {
		if _, ok := keep[id]; !ok {
			delete(s.fired, id)
		}
	}
}

// ResetExits clears the exit and level keys of planID so a new position
// can be closed and alerted on.
func (s *ActionSet) ResetExits(planID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.fired[planID] {
		if k.Kind == ActionExited || k.Kind == ActionLevelReached {
			delete(s.fired[planID], k)
		}
	}
}

// Len returns the number of plans with at least one key.
func (s *ActionSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}
