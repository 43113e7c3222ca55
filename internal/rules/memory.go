package rules

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// MemoryRepository keeps rules in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	rules   map[string]Rule
	queries int
	failErr error
}

// NewMemoryRepository builds an empty repository.
func NewMemoryRepository(initial ...Rule) *MemoryRepository {
	m := &MemoryRepository{rules: make(map[string]Rule)}
	for _, rule := range initial {
		m.rules[rule.ID] = rule
	}
	return m
}

// Queries reports how many QueryRules calls were served.
func (m *MemoryRepository) Queries() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.queries
}

// FailWith makes QueryRules return err until reset with nil.
func (m *MemoryRepository) FailWith(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *MemoryRepository) QueryRules(_ context.Context, roleIDs []string, _ string) ([]Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	if m.failErr != nil {
		return nil, m.failErr
	}
	var out []Rule
	for _, rule := range m.sorted() {
		if slices.Contains(roleIDs, rule.TargetRoleID) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListRules(_ context.Context) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sorted(), nil
}

func (m *MemoryRepository) UpsertRule(_ context.Context, rule Rule) (Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.rules[rule.ID]; ok {
		rule.CreatedAt = existing.CreatedAt
	} else {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	m.rules[rule.ID] = rule
	return rule, nil
}

func (m *MemoryRepository) DeleteRule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return &shared.NotFoundError{Resource: "rule", ID: id}
	}
	delete(m.rules, id)
	return nil
}

func (m *MemoryRepository) sorted() []Rule {
	out := make([]Rule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
