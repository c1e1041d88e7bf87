package rbac

import (
	"context"
	"time"
)

// RoleSummary describes one role in an integrity report.
type RoleSummary struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	PermissionCount int    `json:"permission_count"`
	UserCount       int    `json:"user_count"`
}

// IntegrityReport flags RBAC data that is probably a mistake: roles granting
// nothing, roles nobody holds, and permissions no role grants.
type IntegrityReport struct {
	GeneratedAt         time.Time     `json:"generated_at"`
	TotalRoles          int           `json:"total_roles"`
	TotalPermissions    int           `json:"total_permissions"`
	Roles               []RoleSummary `json:"roles"`
	EmptyRoles          []RoleRef     `json:"empty_roles"`
	UnassignedRoles     []RoleRef     `json:"unassigned_roles"`
	OrphanedPermissions []Permission  `json:"orphaned_permissions"`
}

// Clean reports whether the scan found nothing to flag.
func (r IntegrityReport) Clean() bool {
	return len(r.EmptyRoles) == 0 && len(r.UnassignedRoles) == 0 && len(r.OrphanedPermissions) == 0
}

// IntegrityReport scans roles and permissions.
func (s *Service) IntegrityReport(ctx context.Context) (IntegrityReport, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	counts, err := s.repo.RoleAssignmentCounts(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}

	report := IntegrityReport{
		GeneratedAt:         time.Now().UTC(),
		TotalRoles:          len(roles),
		TotalPermissions:    len(perms),
		Roles:               make([]RoleSummary, 0, len(roles)),
		EmptyRoles:          []RoleRef{},
		UnassignedRoles:     []RoleRef{},
		OrphanedPermissions: []Permission{},
	}
	granted := map[int64]struct{}{}
	for _, role := range roles {
		report.Roles = append(report.Roles, RoleSummary{
			ID:              role.ID,
			Name:            role.Name,
			PermissionCount: len(role.Permissions),
			UserCount:       counts[role.ID],
		})
		if len(role.Permissions) == 0 {
			report.EmptyRoles = append(report.EmptyRoles, role.Ref())
		}
		if counts[role.ID] == 0 {
			report.UnassignedRoles = append(report.UnassignedRoles, role.Ref())
		}
		for _, p := range role.Permissions {
			granted[p.ID] = struct{}{}
		}
	}
	for _, p := range perms {
		if _, ok := granted[p.ID]; !ok {
			report.OrphanedPermissions = append(report.OrphanedPermissions, p)
		}
	}
	return report, nil
}
