package identity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedPrincipal(t *testing.T, s *MemoryStore, email, name string, at time.Time) Principal {
	t.Helper()
	p, err := s.CreatePrincipal(context.Background(), NewPrincipal{
		Email:        email,
		DisplayName:  name,
		PasswordHash: "$argon2id$placeholder",
		Now:          at,
	})
	require.NoError(t, err)
	return p
}

func TestMemoryStore_CreatePrincipal_NormalizesAndRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	p := seedPrincipal(t, s, "  Alice@Example.COM ", "Alice", time.Now())
	assert.Equal(t, "alice@example.com", p.Email)
	assert.Len(t, p.ID, 26)

	got, err := s.PrincipalByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.CreatePrincipal(ctx, NewPrincipal{Email: "alice@EXAMPLE.com", PasswordHash: "h"})
	require.Error(t, err)
	assert.True(t, IsConflict(err))

	var ce ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "email_already_exists", ce.Code())
}

func TestMemoryStore_LookupMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.PrincipalByEmail(ctx, "nobody@example.com")
	assert.True(t, IsNotFound(err))

	_, err = s.PrincipalByID(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, IsNotFound(err))

	_, err = s.Permissions(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_PermissionsAreDeduplicatedUnion(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	p := seedPrincipal(t, s, "bob@example.com", "Bob", now)
	viewer, err := s.CreateRole(ctx, "viewer", []string{"admin:read", "report:read"}, now)
	require.NoError(t, err)
	editor, err := s.CreateRole(ctx, "editor", []string{"admin:read", "admin:write"}, now)
	require.NoError(t, err)

	perms, err := s.Permissions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	require.NoError(t, s.SetPrincipalRoles(ctx, p.ID, []string{viewer.ID, editor.ID, viewer.ID}, now))

	perms, err = s.Permissions(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin:read", "admin:write", "report:read"}, perms)

	got, err := s.PrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{viewer.ID, editor.ID}, got.RoleIDs)
}

func TestMemoryStore_SetPrincipalRoles_Replaces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	p := seedPrincipal(t, s, "carol@example.com", "Carol", now)
	admin, err := s.CreateRole(ctx, "admin", []string{"admin:read", "admin:write"}, now)
	require.NoError(t, err)

	require.NoError(t, s.SetPrincipalRoles(ctx, p.ID, []string{admin.ID}, now))
	require.NoError(t, s.SetPrincipalRoles(ctx, p.ID, nil, now))

	perms, err := s.Permissions(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, perms)

	err = s.SetPrincipalRoles(ctx, p.ID, []string{"01HZZZZZZZZZZZZZZZZZZZZZZZ"}, now)
	assert.True(t, IsNotFound(err))

	err = s.SetPrincipalRoles(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ", nil, now)
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_CreateRole_DuplicateName(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.CreateRole(ctx, "Admin", nil, time.Now())
	require.NoError(t, err)
	_, err = s.CreateRole(ctx, "admin", nil, time.Now())
	assert.True(t, IsConflict(err))
}

func TestMemoryStore_ListPrincipals(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	seedPrincipal(t, s, "ann@example.com", "Ann", base)
	seedPrincipal(t, s, "ben@corp.io", "Ben", base.Add(24*time.Hour))
	seedPrincipal(t, s, "cat@example.com", "Cat", base.Add(48*time.Hour))

	role, err := s.CreateRole(ctx, "auditor", []string{"admin:read"}, base)
	require.NoError(t, err)
	ben, err := s.PrincipalByEmail(ctx, "ben@corp.io")
	require.NoError(t, err)
	require.NoError(t, s.SetPrincipalRoles(ctx, ben.ID, []string{role.ID}, time.Time{}))

	t.Run("default order is creation order", func(t *testing.T) {
		page, total, err := s.ListPrincipals(ctx, DefaultListQuery())
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 3)
		assert.Equal(t, "ann@example.com", page[0].Email)
		assert.Equal(t, []string{"auditor"}, page[1].Roles)
	})

	t.Run("window and sort", func(t *testing.T) {
		page, total, err := s.ListPrincipals(ctx, ListQuery{Offset: 1, Limit: 1, SortField: "name", SortDesc: true})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, "Ben", page[0].DisplayName)
	})

	t.Run("filters", func(t *testing.T) {
		q := DefaultListQuery()
		q.Filters = []Filter{
			{Field: "email", Op: OpEndsWith, Value: "EXAMPLE.COM"},
			{Field: "createdAt", Op: OpGte, Time: base.Add(time.Hour)},
		}
		page, total, err := s.ListPrincipals(ctx, q)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		require.Len(t, page, 1)
		assert.Equal(t, "Cat", page[0].DisplayName)
	})

	t.Run("offset past end", func(t *testing.T) {
		page, total, err := s.ListPrincipals(ctx, ListQuery{Offset: 10, Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Empty(t, page)
	})
}
