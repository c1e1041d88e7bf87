package rbac

import (
	"context"
	"slices"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Principal is the authenticated user an authorization decision is made for.
type Principal struct {
	UserID int64
	Email  string
	Roles  []Role
}

// GetID returns the user id, or 0 for a nil principal.
func (p *Principal) GetID() int64 {
	if p == nil {
		return 0
	}
	return p.UserID
}

// EffectivePermissions returns the sorted, de-duplicated union of permission
// names across the principal's roles.
func (p *Principal) EffectivePermissions() []string {
	if p == nil {
		return []string{}
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, role := range p.Roles {
		for _, perm := range role.Permissions {
			if _, ok := seen[perm.Name]; ok {
				continue
			}
			seen[perm.Name] = struct{}{}
			out = append(out, perm.Name)
		}
	}
	slices.Sort(out)
	return out
}

// HasPermission reports whether any of the principal's roles grants name.
// Matching is exact; a nil principal holds nothing.
func HasPermission(p *Principal, name string) bool {
	if p == nil || name == "" {
		return false
	}
	for _, role := range p.Roles {
		for _, perm := range role.Permissions {
			if perm.Name == name {
				return true
			}
		}
	}
	return false
}

// RoleSource loads a user's roles with permissions. *Service satisfies it.
type RoleSource interface {
	UserRoles(ctx context.Context, userID int64) ([]Role, error)
}

// PrincipalLoader builds principals from the current committed role state.
// Concurrent loads for the same user share one query; results are never cached
// so revocations apply to the next request.
type PrincipalLoader struct {
	source RoleSource
	group  singleflight.Group
}

// NewPrincipalLoader constructs a PrincipalLoader.
func NewPrincipalLoader(source RoleSource) *PrincipalLoader {
	return &PrincipalLoader{source: source}
}

// Load returns a fresh principal for userID.
func (l *PrincipalLoader) Load(ctx context.Context, userID int64, email string) (*Principal, error) {
	key := strconv.FormatInt(userID, 10)
	resultChan := l.group.DoChan(key, func() (interface{}, error) {
		return l.source.UserRoles(context.WithoutCancel(ctx), userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		roles, _ := res.Val.([]Role)
		return &Principal{UserID: userID, Email: email, Roles: roles}, nil
	}
}
