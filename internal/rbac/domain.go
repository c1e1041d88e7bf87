package rbac

import "time"

// Permission represents an atomic named capability.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Role represents a named, reusable bundle of permissions.
type Role struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RoleRef is the {id, name} projection returned for user role listings.
type RoleRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// PermissionIDs returns the ids of the role's permissions.
func (r Role) PermissionIDs() []int64 {
	ids := make([]int64, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		ids = append(ids, p.ID)
	}
	return ids
}

// PermissionNames returns the names of the role's permissions in stored order.
func (r Role) PermissionNames() []string {
	names := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		names = append(names, p.Name)
	}
	return names
}

// Ref projects the role down to its id and name.
func (r Role) Ref() RoleRef {
	return RoleRef{ID: r.ID, Name: r.Name}
}

// PermissionPatch carries optional permission fields; nil means unchanged.
type PermissionPatch struct {
	Name *string
}

func (p PermissionPatch) apply(perm Permission) Permission {
	if p.Name != nil {
		perm.Name = *p.Name
	}
	return perm
}

// RolePatch carries optional role fields; nil means unchanged.
// A non-nil PermissionIDs replaces the permission set.
type RolePatch struct {
	Name          *string
	PermissionIDs *[]int64
}

func (p RolePatch) apply(name string) string {
	if p.Name != nil {
		return *p.Name
	}
	return name
}
