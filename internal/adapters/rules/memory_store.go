package rules

import (
	"context"
	"sort"
	"sync"

	"github.com/hadlow/llm-mail-labeler/internal/core"
	"go.uber.org/zap"
)

// MemoryStore is an in-memory implementation of the RuleStore interface.
// Rules are authored through an outer surface; this store holds the
// in-process read view the orchestrator consumes.
type MemoryStore struct {
	mu     sync.RWMutex
	rules  map[string][]*core.Rule
	logger *zap.Logger
}

// NewMemoryStore creates a new in-memory rule store
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		rules:  make(map[string][]*core.Rule),
		logger: logger,
	}
}

// Put adds or replaces a rule by id
func (s *MemoryStore) Put(rule *core.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.rules[rule.Owner]
	for i, existing := range owned {
		if existing.ID == rule.ID {
			owned[i] = rule
			return
		}
	}
	s.rules[rule.Owner] = append(owned, rule)
}

// Deactivate marks a rule inactive without removing it
func (s *MemoryStore) Deactivate(owner, ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rule := range s.rules[owner] {
		if rule.ID == ruleID {
			rule.Active = false
			return true
		}
	}
	return false
}

// ListActiveRules returns active rules for a direction, ordered by priority
// descending then creation order for ties.
func (s *MemoryStore) ListActiveRules(ctx context.Context, owner string, direction core.Direction) ([]*core.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*core.Rule
	for _, rule := range s.rules[owner] {
		if rule.Active && rule.Direction == direction {
			out = append(out, rule)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
