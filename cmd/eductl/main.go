// Command eductl provisions and inspects the RBAC data of an edu-platform
// deployment.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/edu-platform/edu-platform/cmd/eductl/cli"
	"github.com/edu-platform/edu-platform/internal/app"
	"github.com/edu-platform/edu-platform/internal/platform/db"
	"github.com/edu-platform/edu-platform/internal/rbac"
	"github.com/edu-platform/edu-platform/internal/shared"
	"github.com/edu-platform/edu-platform/internal/users"
)

const usage = `usage: eductl <command> [flags]

commands:
  migrate                       apply the database schema
  seed [-manifest file]         provision default permissions and roles
  create-user -email -password  create an active user
  assign-role -email -role      grant a role to a user
  status                        print the RBAC integrity report
  scan                          enqueue an integrity scan on the worker
  queue                         show job queue depth
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	cmd, args := args[0], args[1:]

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOut := fs.Bool("json", false, "print JSON")
	manifest := fs.String("manifest", "", "seed manifest (YAML); defaults to SEED_MANIFEST or the built-in set")
	email := fs.String("email", "", "user email")
	password := fs.String("password", "", "user password")
	role := fs.String("role", "", "role name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	out := cli.Output{JSONOutput: *jsonOut, Stdout: stdout, Stderr: stderr}

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	switch cmd {
	case "scan", "queue":
		return runJobs(ctx, cmd, cfg, out)
	case "migrate", "seed", "create-user", "assign-role", "status":
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if cmd == "migrate" {
		if err := db.Migrate(ctx, pool); err != nil {
			fmt.Fprintf(stderr, "migrate: %v\n", err)
			return 1
		}
		fmt.Fprintln(stdout, "schema applied")
		return 0
	}

	auditLogger := shared.NewAuditLogger(pool)
	admin, err := cli.NewAdminCLI(
		rbac.NewService(rbac.NewRepository(pool), auditLogger, logger),
		users.NewService(users.NewRepository(pool), cfg.BcryptCost, auditLogger, logger),
	)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	switch cmd {
	case "seed":
		path := *manifest
		if path == "" {
			path = cfg.SeedManifest
		}
		return admin.SeedCommand(ctx, cli.SeedOptions{Output: out, Manifest: path})
	case "create-user":
		return admin.CreateUserCommand(ctx, cli.CreateUserOptions{Output: out, Email: *email, Password: *password})
	case "assign-role":
		return admin.AssignRoleCommand(ctx, cli.AssignRoleOptions{Output: out, Email: *email, Role: *role})
	default:
		return admin.StatusCommand(ctx, out)
	}
}

func runJobs(ctx context.Context, cmd string, cfg *app.Config, out cli.Output) int {
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	var result any
	switch cmd {
	case "scan":
		info, err := jobsCLI.TriggerScan(ctx)
		if err != nil {
			fmt.Fprintf(out.Stderr, "scan: %v\n", err)
			return 1
		}
		result = map[string]string{"task_id": info.ID, "queue": info.Queue}
	default:
		stats, err := jobsCLI.InspectQueue()
		if err != nil {
			fmt.Fprintf(out.Stderr, "queue: %v\n", err)
			return 1
		}
		result = stats
	}
	if out.JSONOutput {
		enc := json.NewEncoder(out.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
		return 0
	}
	fmt.Fprintf(out.Stdout, "%+v\n", result)
	return 0
}
