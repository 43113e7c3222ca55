package roles

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

// RepositoryPort defines data access methods for roles and memberships.
type RepositoryPort interface {
	// GetActorRole returns the main role of an actor, or a NotFoundError
	// when the actor does not exist.
	GetActorRole(ctx context.Context, actorID string) (Role, error)
	GetRolesByWeight(ctx context.Context) ([]Role, error)
	GetRoleMembers(ctx context.Context, roleID string) ([]string, error)

	UpsertRole(ctx context.Context, role Role) (Role, error)
	DeleteRole(ctx context.Context, roleID string) error
	SetActorRole(ctx context.Context, actorID, roleID string) error
	AddMember(ctx context.Context, roleID, actorID string) error
	RemoveMember(ctx context.Context, roleID, actorID string) error
}

// MembershipLister is an optional fast path: repositories that can answer the
// reverse membership lookup in one query implement it.
type MembershipLister interface {
	GetActorMemberships(ctx context.Context, actorID string) ([]string, error)
}

// CacheInvalidator drops cached authorization decisions. An empty actor id
// clears everything.
type CacheInvalidator interface {
	ClearCache(actorID string)
}

// Service resolves weighted roles and manages role data.
type Service struct {
	repo        RepositoryPort
	invalidator CacheInvalidator
	logger      *slog.Logger
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// SetInvalidator registers the cache that must be cleared on mutation.
func (s *Service) SetInvalidator(inv CacheInvalidator) {
	s.invalidator = inv
}

// ResolveRoles returns the roles an actor holds ordered by ascending weight.
// Guest is always included; anonymous callers get guest only.
func (s *Service) ResolveRoles(ctx context.Context, actorID string) ([]Role, error) {
	all, err := s.repo.GetRolesByWeight(ctx)
	if err != nil {
		return nil, shared.Transient("roles: list", err)
	}
	byID := make(map[string]Role, len(all))
	for _, role := range all {
		byID[role.ID] = role
	}
	guest, ok := byID[GuestRoleID]
	if !ok {
		guest = Guest()
	}
	resolved := []Role{guest}
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return resolved, nil
	}

	main, err := s.repo.GetActorRole(ctx, actorID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, err
		}
		return nil, shared.Transient("roles: actor role", err)
	}
	seen := map[string]struct{}{GuestRoleID: {}}
	if _, dup := seen[main.ID]; !dup {
		if known, ok := byID[main.ID]; ok {
			main = known
		}
		resolved = append(resolved, main)
		seen[main.ID] = struct{}{}
	}

	memberships, err := s.memberships(ctx, actorID, all)
	if err != nil {
		return nil, err
	}
	for _, roleID := range memberships {
		if _, dup := seen[roleID]; dup {
			continue
		}
		role, ok := byID[roleID]
		if !ok {
			continue
		}
		resolved = append(resolved, role)
		seen[roleID] = struct{}{}
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Weight != resolved[j].Weight {
			return resolved[i].Weight < resolved[j].Weight
		}
		return resolved[i].ID < resolved[j].ID
	})
	return resolved, nil
}

func (s *Service) memberships(ctx context.Context, actorID string, all []Role) ([]string, error) {
	if lister, ok := s.repo.(MembershipLister); ok {
		ids, err := lister.GetActorMemberships(ctx, actorID)
		if err != nil {
			return nil, shared.Transient("roles: memberships", err)
		}
		return ids, nil
	}
	var ids []string
	for _, role := range all {
		members, err := s.repo.GetRoleMembers(ctx, role.ID)
		if err != nil {
			return nil, shared.Transient("roles: members", err)
		}
		for _, member := range members {
			if member == actorID {
				ids = append(ids, role.ID)
				break
			}
		}
	}
	return ids, nil
}

// ListRoles returns all roles ordered by weight.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.GetRolesByWeight(ctx)
}

// Members returns the actors holding a role as an additional role.
func (s *Service) Members(ctx context.Context, roleID string) ([]string, error) {
	return s.repo.GetRoleMembers(ctx, roleID)
}

// UpsertRole creates or updates a role. Weights change merge order for every
// actor, so the whole cache is cleared.
func (s *Service) UpsertRole(ctx context.Context, role Role) (Role, error) {
	role.ID = strings.TrimSpace(role.ID)
	if role.ID == "" {
		return Role{}, shared.NewValidationError("id", "required")
	}
	if role.Weight < 0 {
		return Role{}, shared.NewValidationError("weight", "must be non-negative")
	}
	if role.ParentID == role.ID {
		return Role{}, shared.NewValidationError("parent_id", "role cannot be its own parent")
	}
	saved, err := s.repo.UpsertRole(ctx, role)
	if err != nil {
		return Role{}, err
	}
	s.invalidate("")
	return saved, nil
}

// DeleteRole removes a role.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	if roleID == GuestRoleID {
		return shared.NewValidationError("id", "guest role cannot be deleted")
	}
	if err := s.repo.DeleteRole(ctx, roleID); err != nil {
		return err
	}
	s.invalidate("")
	return nil
}

// AssignMainRole sets the main role of an actor.
func (s *Service) AssignMainRole(ctx context.Context, actorID, roleID string) error {
	if err := s.repo.SetActorRole(ctx, actorID, roleID); err != nil {
		return err
	}
	s.invalidate(actorID)
	return nil
}

// AddMember grants an additional role to an actor.
func (s *Service) AddMember(ctx context.Context, roleID, actorID string) error {
	if err := s.repo.AddMember(ctx, roleID, actorID); err != nil {
		return err
	}
	s.invalidate(actorID)
	return nil
}

// RemoveMember revokes an additional role.
func (s *Service) RemoveMember(ctx context.Context, roleID, actorID string) error {
	if err := s.repo.RemoveMember(ctx, roleID, actorID); err != nil {
		return err
	}
	s.invalidate(actorID)
	return nil
}

func (s *Service) invalidate(actorID string) {
	if s.invalidator == nil {
		return
	}
	s.invalidator.ClearCache(actorID)
	s.logger.Debug("acl cache invalidated", slog.String("actor", actorID))
}
