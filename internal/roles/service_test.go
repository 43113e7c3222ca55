package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-feed/odyssey-feed/internal/shared"
)

type recordingInvalidator struct {
	cleared []string
}

func (r *recordingInvalidator) ClearCache(actorID string) {
	r.cleared = append(r.cleared, actorID)
}

func seededService(t *testing.T) (*Service, *MemoryRepository) {
	t.Helper()
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(repo, nil)
	_, err := svc.UpsertRole(ctx, Role{ID: "user", Weight: 100})
	require.NoError(t, err)
	_, err = svc.UpsertRole(ctx, Role{ID: "moderator", ParentID: "user", Weight: 200})
	require.NoError(t, err)
	_, err = svc.UpsertRole(ctx, Role{ID: "beta", Weight: 50})
	require.NoError(t, err)
	require.NoError(t, svc.AssignMainRole(ctx, "alice", "user"))
	require.NoError(t, svc.AssignMainRole(ctx, "bob", "user"))
	require.NoError(t, svc.AddMember(ctx, "moderator", "alice"))
	require.NoError(t, svc.AddMember(ctx, "beta", "alice"))
	require.NoError(t, svc.AddMember(ctx, "user", "alice"))
	return svc, repo
}

func ids(roles []Role) []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.ID
	}
	return out
}

func TestResolveRolesAnonymousIsGuestOnly(t *testing.T) {
	svc, _ := seededService(t)
	got, err := svc.ResolveRoles(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{GuestRoleID}, ids(got))
}

func TestResolveRolesOrdersByWeightAndDeduplicatesMainRole(t *testing.T) {
	svc, _ := seededService(t)
	got, err := svc.ResolveRoles(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{GuestRoleID, "beta", "user", "moderator"}, ids(got))
}

func TestResolveRolesUnknownActor(t *testing.T) {
	svc, _ := seededService(t)
	_, err := svc.ResolveRoles(context.Background(), "mallory")
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNotFound))
}

func TestMutationsInvalidateCache(t *testing.T) {
	svc, _ := seededService(t)
	inv := &recordingInvalidator{}
	svc.SetInvalidator(inv)
	ctx := context.Background()

	require.NoError(t, svc.AddMember(ctx, "beta", "bob"))
	require.NoError(t, svc.RemoveMember(ctx, "beta", "bob"))
	_, err := svc.UpsertRole(ctx, Role{ID: "beta", Weight: 300})
	require.NoError(t, err)

	assert.Equal(t, []string{"bob", "bob", ""}, inv.cleared)
}

func TestUpsertRoleValidation(t *testing.T) {
	svc, _ := seededService(t)
	_, err := svc.UpsertRole(context.Background(), Role{ID: "neg", Weight: -1})
	assert.True(t, errors.Is(err, shared.ErrValidation))

	err = svc.DeleteRole(context.Background(), GuestRoleID)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}
