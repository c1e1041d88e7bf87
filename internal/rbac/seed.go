package rbac

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/edu-platform/edu-platform/internal/shared"
)

//go:embed defaults.yaml
var defaultManifest []byte

// AllPermissions in a role manifest grants every known permission.
const AllPermissions = "*"

// Manifest declares permissions and roles to provision.
type Manifest struct {
	Permissions []string       `yaml:"permissions"`
	Roles       []RoleManifest `yaml:"roles"`
}

// RoleManifest declares a role by permission names.
type RoleManifest struct {
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// DefaultManifest returns the built-in manifest.
func DefaultManifest() (Manifest, error) {
	return ParseManifest(defaultManifest)
}

// LoadManifest reads a manifest from path, or the built-in one when path is empty.
func LoadManifest(path string) (Manifest, error) {
	if path == "" {
		return DefaultManifest()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("rbac: read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates manifest YAML. Unknown keys are rejected.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("%w: manifest: %v", shared.ErrValidation, err)
	}
	for _, name := range m.Permissions {
		if _, _, err := normalizeName("permission", name); err != nil {
			return Manifest{}, err
		}
	}
	for _, role := range m.Roles {
		if _, _, err := normalizeName("role", role.Name); err != nil {
			return Manifest{}, err
		}
	}
	return m, nil
}

// SeedResult summarises what Seed changed.
type SeedResult struct {
	CreatedPermissions []string `json:"created_permissions"`
	CreatedRoles       []string `json:"created_roles"`
	Roles              []Role   `json:"roles"`
}

// Seed provisions the manifest. It is idempotent: existing permissions are
// kept and existing roles have their permission set replaced with the declared one.
func (s *Service) Seed(ctx context.Context, m Manifest) (SeedResult, error) {
	result := SeedResult{CreatedPermissions: []string{}, CreatedRoles: []string{}, Roles: []Role{}}
	for _, name := range m.Permissions {
		perm, created, err := s.EnsurePermission(ctx, name)
		if err != nil {
			return result, fmt.Errorf("seed permission %q: %w", name, err)
		}
		if created {
			result.CreatedPermissions = append(result.CreatedPermissions, perm.Name)
		}
	}

	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return result, err
	}
	byName := make(map[string]int64, len(perms))
	all := make([]int64, 0, len(perms))
	for _, p := range perms {
		byName[p.Name] = p.ID
		all = append(all, p.ID)
	}

	for _, rm := range m.Roles {
		ids := []int64{}
		for _, name := range rm.Permissions {
			if name == AllPermissions {
				ids = append(ids, all...)
				continue
			}
			id, ok := byName[name]
			if !ok {
				return result, fmt.Errorf("%w: role %q references unknown permission %q", shared.ErrValidation, rm.Name, name)
			}
			ids = append(ids, id)
		}

		role, err := s.RoleByName(ctx, rm.Name)
		switch {
		case err == nil:
			role, err = s.ReplaceRolePermissions(ctx, role.ID, ids)
		case isNotFound(err):
			role, err = s.CreateRole(ctx, rm.Name, ids)
			if err == nil {
				result.CreatedRoles = append(result.CreatedRoles, role.Name)
			}
		}
		if err != nil {
			return result, fmt.Errorf("seed role %q: %w", rm.Name, err)
		}
		result.Roles = append(result.Roles, role)
	}
	return result, nil
}
