package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/users"
)

// RBACAdmin is the slice of rbac.Service the admin commands use.
type RBACAdmin interface {
	Seed(ctx context.Context, m rbac.Manifest) (rbac.SeedResult, error)
	RoleByName(ctx context.Context, name string) (rbac.Role, error)
	AddRoles(ctx context.Context, userID int64, roleIDs []int64) ([]rbac.RoleRef, error)
	IntegrityReport(ctx context.Context) (rbac.IntegrityReport, error)
}

// UserAdmin is the slice of users.Service the admin commands use.
type UserAdmin interface {
	GetByEmail(ctx context.Context, email string) (users.User, error)
	Create(ctx context.Context, actorID int64, in users.NewUser) (users.User, error)
}

// AdminCLI bundles the RBAC provisioning commands.
type AdminCLI struct {
	rbac  RBACAdmin
	users UserAdmin
}

// NewAdminCLI constructs the helper.
func NewAdminCLI(rbacAdmin RBACAdmin, userAdmin UserAdmin) (*AdminCLI, error) {
	if rbacAdmin == nil || userAdmin == nil {
		return nil, errors.New("admin cli: services required")
	}
	return &AdminCLI{rbac: rbacAdmin, users: userAdmin}, nil
}

// Output selects where and how results are printed.
type Output struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

func (o *Output) defaults() {
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

func (o Output) json(v any) int {
	enc := json.NewEncoder(o.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(o.Stderr, "encode output: %v\n", err)
		return 1
	}
	return 0
}

// SeedOptions configures the seed command.
type SeedOptions struct {
	Output
	// Manifest is a YAML file path; empty selects the embedded defaults.
	Manifest string
}

// SeedCommand provisions the permissions and roles of a manifest.
func (c *AdminCLI) SeedCommand(ctx context.Context, opts SeedOptions) int {
	opts.defaults()
	manifest, err := rbac.LoadManifest(opts.Manifest)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	result, err := c.rbac.Seed(ctx, manifest)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "seed: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return opts.json(result)
	}
	fmt.Fprintf(opts.Stdout, "created %d permission(s), %d role(s)\n", len(result.CreatedPermissions), len(result.CreatedRoles))
	for _, role := range result.Roles {
		fmt.Fprintf(opts.Stdout, "  %s: %d permission(s)\n", role.Name, len(role.Permissions))
	}
	return 0
}

// AssignRoleOptions configures the assign-role command.
type AssignRoleOptions struct {
	Output
	Email string
	Role  string
}

// AssignRoleCommand grants a role to the user with the given email. Roles the
// user already holds are kept.
func (c *AdminCLI) AssignRoleCommand(ctx context.Context, opts AssignRoleOptions) int {
	opts.defaults()
	email := strings.TrimSpace(opts.Email)
	roleName := strings.TrimSpace(opts.Role)
	if email == "" || roleName == "" {
		fmt.Fprintln(opts.Stderr, "assign-role: -email and -role are required")
		return 2
	}
	user, err := c.users.GetByEmail(ctx, email)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "assign-role: user %s: %v\n", email, err)
		return 1
	}
	role, err := c.rbac.RoleByName(ctx, roleName)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "assign-role: role %s: %v\n", roleName, err)
		return 1
	}
	roles, err := c.rbac.AddRoles(ctx, user.ID, []int64{role.ID})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "assign-role: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return opts.json(map[string]any{"user_id": user.ID, "roles": roles})
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	fmt.Fprintf(opts.Stdout, "%s now holds: %s\n", user.Email, strings.Join(names, ", "))
	return 0
}

// CreateUserOptions configures the create-user command.
type CreateUserOptions struct {
	Output
	Email    string
	Password string
}

// CreateUserCommand registers an active user, typically the first administrator.
func (c *AdminCLI) CreateUserCommand(ctx context.Context, opts CreateUserOptions) int {
	opts.defaults()
	if strings.TrimSpace(opts.Email) == "" || opts.Password == "" {
		fmt.Fprintln(opts.Stderr, "create-user: -email and -password are required")
		return 2
	}
	user, err := c.users.Create(ctx, 0, users.NewUser{Email: opts.Email, Password: opts.Password, IsActive: true})
	if err != nil {
		fmt.Fprintf(opts.Stderr, "create-user: %v\n", err)
		return 1
	}
	if opts.JSONOutput {
		return opts.json(user)
	}
	fmt.Fprintf(opts.Stdout, "created user %d (%s)\n", user.ID, user.Email)
	return 0
}

// StatusCommand prints the RBAC integrity report. The exit code is 3 when the
// report has findings so scripts can alert on it.
func (c *AdminCLI) StatusCommand(ctx context.Context, opts Output) int {
	opts.defaults()
	report, err := c.rbac.IntegrityReport(ctx)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "status: %v\n", err)
		return 1
	}
	code := 0
	if !report.Clean() {
		code = 3
	}
	if opts.JSONOutput {
		if rc := opts.json(report); rc != 0 {
			return rc
		}
		return code
	}

	fmt.Fprintf(opts.Stdout, "roles: %d  permissions: %d\n\n", report.TotalRoles, report.TotalPermissions)
	tw := tabwriter.NewWriter(opts.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROLE\tPERMISSIONS\tUSERS")
	for _, r := range report.Roles {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", r.ID, r.Name, r.PermissionCount, r.UserCount)
	}
	_ = tw.Flush()

	if report.Clean() {
		fmt.Fprintln(opts.Stdout, "\nno findings")
		return code
	}
	for _, r := range report.EmptyRoles {
		fmt.Fprintf(opts.Stdout, "empty role: %s (%d)\n", r.Name, r.ID)
	}
	for _, r := range report.UnassignedRoles {
		fmt.Fprintf(opts.Stdout, "unassigned role: %s (%d)\n", r.Name, r.ID)
	}
	for _, p := range report.OrphanedPermissions {
		fmt.Fprintf(opts.Stdout, "orphaned permission: %s (%d)\n", p.Name, p.ID)
	}
	return code
}
