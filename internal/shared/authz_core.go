package shared

// Core platform permissions.
const (
	PermReadUsers   = "read_users"
	PermCreateUsers = "create_users"
	PermUpdateUsers = "update_users"
	PermDeleteUsers = "delete_users"

	PermManageRoles       = "manage_roles"
	PermManagePermissions = "manage_permissions"

	PermViewReports = "view_reports"
	PermSystemAdmin = "system_admin"
)

// Learning content permissions. The content routes live outside this service
// but the names are provisioned here so roles can carry them.
const (
	PermManageCourses  = "manage_courses"
	PermManageChapters = "manage_chapters"
	PermManageLectures = "manage_lectures"
)

// CoreScopes lists every permission provisioned by default.
func CoreScopes() []string {
	return []string{
		PermReadUsers,
		PermCreateUsers,
		PermUpdateUsers,
		PermDeleteUsers,
		PermManageRoles,
		PermManagePermissions,
		PermViewReports,
		PermSystemAdmin,
		PermManageCourses,
		PermManageChapters,
		PermManageLectures,
	}
}
