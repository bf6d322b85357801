// Package access implements the role/permission model used to authorise
// requests: systems define the vocabulary and roles, actors hold roles and
// direct permissions, and Control answers permission and role queries.
//
// Role inheritance is resolved once when the System is built. Queries are
// pure functions of (actor, system) and safe for concurrent use.
package access

import (
	"fmt"
	"sort"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

// Role is a named bundle of permissions that may extend other roles.
type Role struct {
	Name        string   `json:"name" yaml:"name"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Extends     []string `json:"extends,omitempty" yaml:"extends,omitempty"`
}

// NewRole builds a Role definition.
func NewRole(name string, permissions []string, extends ...string) Role {
	return Role{Name: name, Permissions: permissions, Extends: extends}
}

// Actor is the identity performing an action.
type Actor struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// NewActor builds an Actor holding the given roles.
func NewActor(id, actorType string, roles ...string) Actor {
	return Actor{ID: id, Type: actorType, Roles: roles}
}

// Clone returns a deep copy of the actor.
func (a Actor) Clone() Actor {
	return a.WithPermissions()
}

// WithPermissions returns a copy of the actor with additional direct permissions.
func (a Actor) WithPermissions(permissions ...string) Actor {
	out := a
	out.Roles = append([]string(nil), a.Roles...)
	out.Permissions = append(append([]string(nil), a.Permissions...), permissions...)
	return out
}

// SystemDefinition describes a security domain before resolution.
type SystemDefinition struct {
	Name      string   `json:"name" yaml:"name"`
	Resources []string `json:"resources,omitempty" yaml:"resources,omitempty"`
	Actions   []string `json:"actions,omitempty" yaml:"actions,omitempty"`
	Roles     []Role   `json:"roles,omitempty" yaml:"roles,omitempty"`
}

type resolvedRole struct {
	role        Role
	ancestors   []string
	permissions []Permission
}

// System is a resolved, immutable security domain.
type System struct {
	name      string
	resources []string
	actions   []string
	roles     map[string]*resolvedRole
	order     []string
}

// NewSystem validates the definition and resolves role inheritance. Duplicate
// roles, malformed permissions, unknown parents and inheritance cycles are
// reported here rather than at query time.
func NewSystem(def SystemDefinition) (*System, error) {
	s := &System{
		name:      def.Name,
		resources: append([]string(nil), def.Resources...),
		actions:   append([]string(nil), def.Actions...),
		roles:     make(map[string]*resolvedRole, len(def.Roles)),
	}

	direct := make(map[string][]Permission, len(def.Roles))
	for _, role := range def.Roles {
		if role.Name == "" {
			return nil, fmt.Errorf("%w: role name is empty", errspkg.ErrUnknownRole)
		}
		if _, dup := s.roles[role.Name]; dup {
			return nil, fmt.Errorf("%w: %q", errspkg.ErrDuplicateRole, role.Name)
		}
		perms, err := parsePermissions(role.Permissions)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", role.Name, err)
		}
		direct[role.Name] = perms
		s.roles[role.Name] = &resolvedRole{role: role}
		s.order = append(s.order, role.Name)
	}

	for _, name := range s.order {
		for _, parent := range s.roles[name].role.Extends {
			if _, ok := s.roles[parent]; !ok {
				return nil, fmt.Errorf("%w: role %q extends %q", errspkg.ErrUnknownRole, name, parent)
			}
		}
	}

	if err := s.checkCycles(); err != nil {
		return nil, err
	}

	for _, name := range s.order {
		ancestors := s.closure(name)
		rr := s.roles[name]
		rr.ancestors = ancestors
		seen := make(map[Permission]struct{})
		for _, a := range ancestors {
			for _, p := range direct[a] {
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				rr.permissions = append(rr.permissions, p)
			}
		}
	}
	return s, nil
}

// MustSystem is NewSystem that panics on error.
func MustSystem(def SystemDefinition) *System {
	s, err := NewSystem(def)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *System) checkCycles() error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(s.roles))
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("%w: %v", errspkg.ErrRoleCycle, append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		for _, parent := range s.roles[name].role.Extends {
			if err := visit(parent, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}
	for _, name := range s.order {
		if err := visit(name, nil); err != nil {
			return err
		}
	}
	return nil
}

// closure returns the role itself followed by every transitively extended role.
func (s *System) closure(name string) []string {
	seen := map[string]struct{}{name: {}}
	out := []string{name}
	queue := []string{name}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, parent := range s.roles[current].role.Extends {
			if _, ok := seen[parent]; ok {
				continue
			}
			seen[parent] = struct{}{}
			out = append(out, parent)
			queue = append(queue, parent)
		}
	}
	return out
}

// Name returns the system name.
func (s *System) Name() string { return s.name }

// Resources returns the protectable nouns declared by the system.
func (s *System) Resources() []string { return append([]string(nil), s.resources...) }

// Actions returns the verbs declared by the system.
func (s *System) Actions() []string { return append([]string(nil), s.actions...) }

// Role returns the definition of a role.
func (s *System) Role(name string) (Role, bool) {
	rr, ok := s.roles[name]
	if !ok {
		return Role{}, false
	}
	return rr.role, true
}

// RoleNames lists roles in definition order.
func (s *System) RoleNames() []string { return append([]string(nil), s.order...) }

// Control answers authorisation queries against a System.
type Control struct {
	system *System
}

// New creates an access Control for the system.
func New(system *System) *Control {
	return &Control{system: system}
}

// System returns the underlying system.
func (c *Control) System() *System { return c.system }

// HasPermission reports whether the actor holds the permission directly, via
// a resource wildcard, or through any role reached by inheritance.
func (c *Control) HasPermission(actor Actor, permission string) bool {
	want, err := ParsePermission(permission)
	if err != nil {
		return false
	}
	for _, raw := range actor.Permissions {
		if held, err := ParsePermission(raw); err == nil && held.Covers(want) {
			return true
		}
	}
	for _, roleName := range actor.Roles {
		rr, ok := c.system.roles[roleName]
		if !ok {
			continue
		}
		for _, held := range rr.permissions {
			if held.Covers(want) {
				return true
			}
		}
	}
	return false
}

// HasAnyPermission reports whether at least one permission is held.
func (c *Control) HasAnyPermission(actor Actor, permissions ...string) bool {
	for _, p := range permissions {
		if c.HasPermission(actor, p) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every permission is held.
func (c *Control) HasAllPermissions(actor Actor, permissions ...string) bool {
	for _, p := range permissions {
		if !c.HasPermission(actor, p) {
			return false
		}
	}
	return true
}

// HasRole reports whether the actor holds the role directly or through a role
// that transitively extends it.
func (c *Control) HasRole(actor Actor, role string) bool {
	for _, held := range actor.Roles {
		rr, ok := c.system.roles[held]
		if !ok {
			if held == role {
				return true
			}
			continue
		}
		for _, a := range rr.ancestors {
			if a == role {
				return true
			}
		}
	}
	return false
}

// Roles returns the de-duplicated, sorted transitive role set of the actor.
func (c *Control) Roles(actor Actor) []string {
	seen := make(map[string]struct{})
	for _, held := range actor.Roles {
		rr, ok := c.system.roles[held]
		if !ok {
			seen[held] = struct{}{}
			continue
		}
		for _, a := range rr.ancestors {
			seen[a] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

// Permissions returns the de-duplicated, sorted permission closure of the actor.
func (c *Control) Permissions(actor Actor) []string {
	seen := make(map[string]struct{})
	for _, raw := range actor.Permissions {
		if p, err := ParsePermission(raw); err == nil {
			seen[p.String()] = struct{}{}
		}
	}
	for _, held := range actor.Roles {
		rr, ok := c.system.roles[held]
		if !ok {
			continue
		}
		for _, p := range rr.permissions {
			seen[p.String()] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
