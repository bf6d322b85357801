package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

func documentSystem(t *testing.T) *System {
	t.Helper()
	sys, err := NewSystem(SystemDefinition{
		Name:      "documents",
		Resources: []string{"document", "comment"},
		Actions:   []string{"read", "write", "delete"},
		Roles: []Role{
			NewRole("viewer", []string{"document:read"}),
			NewRole("commenter", []string{"comment:write"}, "viewer"),
			NewRole("editor", []string{"document:write"}, "commenter"),
			NewRole("admin", []string{"document:*", "comment:*"}, "editor"),
		},
	})
	require.NoError(t, err)
	return sys
}

func TestParsePermission(t *testing.T) {
	t.Parallel()

	p, err := ParsePermission("document:read")
	require.NoError(t, err)
	assert.Equal(t, Permission{Resource: "document", Action: "read"}, p)
	assert.False(t, p.IsWildcard())
	assert.Equal(t, "document:read", p.String())

	w := MustPermission("document:*")
	assert.True(t, w.IsWildcard())
	assert.True(t, w.Covers(p))
	assert.False(t, p.Covers(w))
	assert.False(t, w.Covers(MustPermission("comment:read")))

	for _, bad := range []string{"", "document", ":read", "document:", "a:b:c", "*:read"} {
		_, err := ParsePermission(bad)
		assert.ErrorIs(t, err, errspkg.ErrInvalidPermission, bad)
	}
}

func TestHasPermission(t *testing.T) {
	t.Parallel()
	ac := New(documentSystem(t))

	viewer := NewActor("u1", "user", "viewer")
	assert.True(t, ac.HasPermission(viewer, "document:read"))
	assert.False(t, ac.HasPermission(viewer, "document:write"))

	editor := NewActor("u2", "user", "editor")
	assert.True(t, ac.HasPermission(editor, "document:read"), "inherited through commenter -> viewer")
	assert.True(t, ac.HasPermission(editor, "comment:write"))
	assert.False(t, ac.HasPermission(editor, "document:delete"))

	admin := NewActor("u3", "user", "admin")
	assert.True(t, ac.HasPermission(admin, "document:delete"), "wildcard")
	assert.True(t, ac.HasPermission(admin, "comment:delete"))

	direct := NewActor("svc", "service").WithPermissions("report:*")
	assert.True(t, ac.HasPermission(direct, "report:generate"))
	assert.False(t, ac.HasPermission(direct, "document:read"))

	assert.False(t, ac.HasPermission(viewer, "not-a-permission"))
	assert.False(t, ac.HasPermission(NewActor("u4", "user", "ghost"), "document:read"))
}

func TestHasRoleIsTransitive(t *testing.T) {
	t.Parallel()
	ac := New(documentSystem(t))

	admin := NewActor("u1", "user", "admin")
	for _, role := range []string{"admin", "editor", "commenter", "viewer"} {
		assert.True(t, ac.HasRole(admin, role), role)
	}

	viewer := NewActor("u2", "user", "viewer")
	assert.True(t, ac.HasRole(viewer, "viewer"))
	assert.False(t, ac.HasRole(viewer, "editor"))
}

func TestInheritanceMonotonicity(t *testing.T) {
	t.Parallel()
	sys := documentSystem(t)
	ac := New(sys)

	for _, name := range sys.RoleNames() {
		role, ok := sys.Role(name)
		require.True(t, ok)
		child := ac.Permissions(NewActor("c", "user", name))
		for _, parent := range role.Extends {
			for _, p := range ac.Permissions(NewActor("p", "user", parent)) {
				assert.Contains(t, child, p, "%s extends %s", name, parent)
			}
			assert.True(t, ac.HasRole(NewActor("c", "user", name), parent))
		}
	}
}

func TestPermissionsAndRolesClosure(t *testing.T) {
	t.Parallel()
	ac := New(documentSystem(t))

	editor := NewActor("u1", "user", "editor", "viewer").WithPermissions("report:read", "report:read")
	assert.Equal(t, []string{"comment:write", "document:read", "document:write", "report:read"}, ac.Permissions(editor))
	assert.Equal(t, []string{"commenter", "editor", "viewer"}, ac.Roles(editor))

	assert.True(t, ac.HasAllPermissions(editor, "document:read", "comment:write"))
	assert.False(t, ac.HasAllPermissions(editor, "document:read", "document:delete"))
	assert.True(t, ac.HasAnyPermission(editor, "document:delete", "report:read"))
}

func TestNewSystemValidation(t *testing.T) {
	t.Parallel()

	t.Run("unknown parent", func(t *testing.T) {
		_, err := NewSystem(SystemDefinition{Roles: []Role{NewRole("editor", nil, "missing")}})
		assert.ErrorIs(t, err, errspkg.ErrUnknownRole)
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := NewSystem(SystemDefinition{Roles: []Role{
			NewRole("a", nil, "b"),
			NewRole("b", nil, "c"),
			NewRole("c", nil, "a"),
		}})
		assert.ErrorIs(t, err, errspkg.ErrRoleCycle)
	})

	t.Run("self extension", func(t *testing.T) {
		_, err := NewSystem(SystemDefinition{Roles: []Role{NewRole("a", nil, "a")}})
		assert.ErrorIs(t, err, errspkg.ErrRoleCycle)
	})

	t.Run("duplicate role", func(t *testing.T) {
		_, err := NewSystem(SystemDefinition{Roles: []Role{NewRole("a", nil), NewRole("a", nil)}})
		assert.ErrorIs(t, err, errspkg.ErrDuplicateRole)
	})

	t.Run("malformed permission", func(t *testing.T) {
		_, err := NewSystem(SystemDefinition{Roles: []Role{NewRole("a", []string{"broken"})}})
		assert.ErrorIs(t, err, errspkg.ErrInvalidPermission)
	})

	t.Run("diamond resolves once", func(t *testing.T) {
		sys, err := NewSystem(SystemDefinition{Roles: []Role{
			NewRole("base", []string{"doc:read"}),
			NewRole("left", nil, "base"),
			NewRole("right", nil, "base"),
			NewRole("top", nil, "left", "right"),
		}})
		require.NoError(t, err)
		ac := New(sys)
		assert.Equal(t, []string{"doc:read"}, ac.Permissions(NewActor("u", "user", "top")))
		assert.Equal(t, []string{"base", "left", "right", "top"}, ac.Roles(NewActor("u", "user", "top")))
	})
}

func TestDeepInheritanceTerminates(t *testing.T) {
	t.Parallel()

	roles := make([]Role, 0, 200)
	roles = append(roles, NewRole("r0", []string{"res:act0"}))
	for i := 1; i < 200; i++ {
		roles = append(roles, NewRole(roleName(i), nil, roleName(i-1)))
	}
	sys, err := NewSystem(SystemDefinition{Roles: roles})
	require.NoError(t, err)

	ac := New(sys)
	top := NewActor("u", "user", roleName(199))
	assert.True(t, ac.HasPermission(top, "res:act0"))
	assert.True(t, ac.HasRole(top, "r0"))
	assert.Len(t, ac.Roles(top), 200)
}

func roleName(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "r0"
	}
	out := ""
	for i > 0 {
		out = string(digits[i%10]) + out
		i /= 10
	}
	return "r" + out
}

func TestSystemAccessors(t *testing.T) {
	t.Parallel()
	sys := documentSystem(t)

	assert.Equal(t, "documents", sys.Name())
	assert.Equal(t, []string{"document", "comment"}, sys.Resources())
	assert.Equal(t, []string{"read", "write", "delete"}, sys.Actions())
	assert.Equal(t, []string{"viewer", "commenter", "editor", "admin"}, sys.RoleNames())
	_, ok := sys.Role("nobody")
	assert.False(t, ok)
	assert.Same(t, sys, New(sys).System())
}
