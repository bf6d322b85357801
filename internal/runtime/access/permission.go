package access

import (
	"fmt"
	"strings"

	errspkg "github.com/drblury/contractflow/internal/runtime/errors"
)

// Wildcard grants every action on a resource when used as the action part of
// a permission ("document:*").
const Wildcard = "*"

// Permission is a parsed resource:action pair.
type Permission struct {
	Resource string
	Action   string
}

// ParsePermission splits "resource:action". Both parts must be non-empty and
// the resource may not itself be a wildcard.
func ParsePermission(raw string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || resource == "" || action == "" || strings.Contains(action, ":") {
		return Permission{}, fmt.Errorf("%w: %q", errspkg.ErrInvalidPermission, raw)
	}
	if resource == Wildcard {
		return Permission{}, fmt.Errorf("%w: %q (resource wildcard)", errspkg.ErrInvalidPermission, raw)
	}
	return Permission{Resource: resource, Action: action}, nil
}

// MustPermission is ParsePermission that panics on malformed input.
func MustPermission(raw string) Permission {
	p, err := ParsePermission(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// IsWildcard reports whether the permission grants every action on its resource.
func (p Permission) IsWildcard() bool {
	return p.Action == Wildcard
}

// Covers reports whether holding p is enough to perform q.
func (p Permission) Covers(q Permission) bool {
	if p.Resource != q.Resource {
		return false
	}
	return p.IsWildcard() || p.Action == q.Action
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

func parsePermissions(raw []string) ([]Permission, error) {
	out := make([]Permission, 0, len(raw))
	for _, r := range raw {
		p, err := ParsePermission(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
