package roles

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// MemoryRepository keeps roles in process memory. It backs tests and
// single-node setups without Postgres.
type MemoryRepository struct {
	mu      sync.RWMutex
	roles   map[string]Role
	actors  map[string]string
	members map[string]map[string]struct{}
	calls   int
}

// NewMemoryRepository builds an empty repository holding only the guest role.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:   map[string]Role{GuestRoleID: Guest()},
		actors:  make(map[string]string),
		members: make(map[string]map[string]struct{}),
	}
}

// Calls reports how many read queries were served.
func (m *MemoryRepository) Calls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls
}

func (m *MemoryRepository) GetActorRole(_ context.Context, actorID string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	roleID, ok := m.actors[actorID]
	if !ok {
		return Role{}, &shared.NotFoundError{Resource: "actor", ID: actorID}
	}
	role, ok := m.roles[roleID]
	if !ok {
		return Role{}, &shared.NotFoundError{Resource: "role", ID: roleID}
	}
	return role, nil
}

func (m *MemoryRepository) GetRolesByWeight(_ context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]Role, 0, len(m.roles))
	for _, role := range m.roles {
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight < out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) GetRoleMembers(_ context.Context, roleID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	out := make([]string, 0, len(m.members[roleID]))
	for actor := range m.members[roleID] {
		out = append(out, actor)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRepository) UpsertRole(_ context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := m.roles[role.ID]; ok {
		role.CreatedAt = existing.CreatedAt
	} else {
		role.CreatedAt = now
	}
	role.UpdatedAt = now
	m.roles[role.ID] = role
	return role, nil
}

func (m *MemoryRepository) DeleteRole(_ context.Context, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return &shared.NotFoundError{Resource: "role", ID: roleID}
	}
	delete(m.roles, roleID)
	delete(m.members, roleID)
	return nil
}

func (m *MemoryRepository) SetActorRole(_ context.Context, actorID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return &shared.NotFoundError{Resource: "role", ID: roleID}
	}
	m.actors[actorID] = roleID
	return nil
}

func (m *MemoryRepository) AddMember(_ context.Context, roleID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[roleID]; !ok {
		return &shared.NotFoundError{Resource: "role", ID: roleID}
	}
	set, ok := m.members[roleID]
	if !ok {
		set = make(map[string]struct{})
		m.members[roleID] = set
	}
	set[actorID] = struct{}{}
	return nil
}

func (m *MemoryRepository) RemoveMember(_ context.Context, roleID, actorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.members[roleID], actorID)
	return nil
}
