package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeRole(t *testing.T) {
	cases := map[string]string{
		"":              "viewer",
		"  Admin ":      "admin",
		"administrator": "admin",
		"member":        "member",
		"contributor":   "member",
		"superhero":     "viewer",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRole(in), in)
	}
}

func TestNormalizeSegment(t *testing.T) {
	assert.Equal(t, "employee", NormalizeSegment(""))
	assert.Equal(t, "new_joiner", NormalizeSegment("New-Joiner"))
	assert.Equal(t, "platform_admin", NormalizeSegment("platform_admin"))
}

func TestReadResult(t *testing.T) {
	store := NewMemoryStore()
	res := ReadResult(context.Background(), store, "missing")
	assert.True(t, res.NotFound())
	assert.False(t, res.Found())

	store.Put(Row{ID: "abc", Role: "member"})
	res = ReadResult(context.Background(), store, "abc")
	require.True(t, res.Found())
	assert.Equal(t, "member", res.Row.Role)
}

func TestMemoryStoreUpsertKeepsRoleAndSegment(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Upsert(ctx, Row{ID: "u1", Email: "a@example.com", Name: "A"}))
	row, err := store.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, DefaultRole, row.Role)
	assert.Equal(t, DefaultSegment, row.Segment)

	store.Put(Row{ID: "u1", Email: "a@example.com", Name: "A", Role: "admin", Segment: "platform_admin"})
	require.NoError(t, store.Upsert(ctx, Row{ID: "u1", Email: "", Name: "A. Person", Username: "a"}))

	row, err = store.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", row.Role)
	assert.Equal(t, "platform_admin", row.Segment)
	assert.Equal(t, "a@example.com", row.Email)
	assert.Equal(t, "A. Person", row.Name)
	assert.Equal(t, 1, store.Len())
}

func TestUpsertRequiresID(t *testing.T) {
	err := NewMemoryStore().Upsert(context.Background(), Row{Email: "x@example.com"})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestMemoryStoreAccess(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	assert.ErrorIs(t, m.GrantResponsibility(ctx, "u1", "moderator"), ErrNotFound)
	require.NoError(t, m.Upsert(ctx, Row{ID: "u1", Email: "a@b.c"}))

	require.NoError(t, m.GrantResponsibility(ctx, "u1", " Moderator "))
	require.NoError(t, m.GrantResponsibility(ctx, "u1", "moderator"))
	roles, err := m.ResponsibilityRoles(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderator"}, roles)

	require.NoError(t, m.RevokeResponsibility(ctx, "u1", "moderator"))
	assert.ErrorIs(t, m.RevokeResponsibility(ctx, "u1", "moderator"), ErrNotFound)

	assert.ErrorIs(t, m.SetAccess(ctx, "u1", "wizard", ""), ErrInvalidInput)
	assert.ErrorIs(t, m.SetAccess(ctx, "nobody", "admin", ""), ErrNotFound)
	require.NoError(t, m.SetAccess(ctx, "u1", "Administrator", "Platform-Admin"))
	row, err := m.Read(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "admin", row.Role)
	assert.Equal(t, "platform_admin", row.Segment)
}
