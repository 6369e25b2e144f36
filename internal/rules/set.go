package rules

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aegisflow/aegis/internal/fault"
)

// Set holds the active rule configuration. Mutations rebuild the sorted
// slice and swap it atomically, so concurrent Match calls never observe
// a partially updated list.
type Set struct {
	mu     sync.Mutex // serializes writers only
	active atomic.Pointer[[]Rule]
	all    atomic.Pointer[[]Rule]
}

// NewSet builds a rule set from the initial configuration.
func NewSet(initial []Rule) (*Set, error) {
	s := &Set{}
	for _, r := range initial {
		if err := validateRule(r); err != nil {
			return nil, err
		}
	}
	s.publish(append([]Rule(nil), initial...))
	return s, nil
}

// Active returns the enabled rules sorted by descending priority.
func (s *Set) Active() []Rule {
	if p := s.active.Load(); p != nil {
		return *p
	}
	return nil
}

// All returns every rule, including disabled ones, for inspection.
func (s *Set) All() []Rule {
	if p := s.all.Load(); p != nil {
		return *p
	}
	return nil
}

// Match walks active rules in priority order and returns the first one
// whose condition matches the payload.
func (s *Set) Match(payload map[string]any) (*Rule, bool) {
	for _, r := range s.Active() {
		if r.Condition.Matches(payload) {
			matched := r
			return &matched, true
		}
	}
	return nil, false
}

// Add inserts a new rule and re-sorts the active set.
func (s *Set) Add(rule Rule) error {
	if err := validateRule(rule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.All()
	for _, existing := range current {
		if existing.ID == rule.ID {
			return fault.Validation("rules.add", fmt.Sprintf("rule %s already exists", rule.ID)).WithRule(rule.ID)
		}
	}
	next := append(append([]Rule(nil), current...), rule)
	s.publish(next)
	return nil
}

// Update patches an existing rule and re-sorts the active set.
func (s *Set) Update(id string, patch Patch) (Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.All()
	next := append([]Rule(nil), current...)
	for i := range next {
		if next[i].ID != id {
			continue
		}
		if patch.Name != nil {
			next[i].Name = *patch.Name
		}
		if patch.Condition != nil {
			next[i].Condition = *patch.Condition
		}
		if patch.Action != nil {
			next[i].Action = *patch.Action
		}
		if patch.Priority != nil {
			next[i].Priority = *patch.Priority
		}
		if patch.Enabled != nil {
			next[i].Enabled = *patch.Enabled
		}
		if err := validateRule(next[i]); err != nil {
			return Rule{}, err
		}
		s.publish(next)
		return next[i], nil
	}
	return Rule{}, fault.NotFound("rules.update", fmt.Sprintf("unknown rule %s", id)).WithRule(id)
}

// publish rebuilds both views and swaps them. Callers must hold mu
// except during construction.
func (s *Set) publish(all []Rule) {
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Priority > all[j].Priority
	})
	active := make([]Rule, 0, len(all))
	for _, r := range all {
		if r.Enabled {
			active = append(active, r)
		}
	}
	s.all.Store(&all)
	s.active.Store(&active)
}

func validateRule(r Rule) error {
	if strings.TrimSpace(r.ID) == "" {
		return fault.Validation("rules.validate", "rule id is required")
	}
	if !knownActions[r.Action] {
		return fault.Validation("rules.validate", fmt.Sprintf("unknown action %q", r.Action)).WithRule(r.ID)
	}
	if err := r.Condition.Validate(); err != nil {
		return fault.Validation("rules.validate", err.Error()).WithRule(r.ID)
	}
	return nil
}
