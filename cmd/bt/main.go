package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"bugtrail/internal/app"
	"bugtrail/internal/config"
	"bugtrail/internal/db"
	"bugtrail/internal/domain"
	"bugtrail/internal/engine"
	"bugtrail/internal/migrate"
	"bugtrail/internal/repo"
	"bugtrail/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bt",
	Short: "Bugtrail CLI",
	Long: `Bugtrail is a role-gated bug tracker.
Bugs move Open -> In Progress -> Resolved -> Closed. Testers report and
validate fixes, developers work and resolve, admins can do everything
including touching closed bugs. A resolved bug must be validated by a
tester (or admin) before it can be closed, and every change lands in an
append-only activity feed.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUGTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-admin", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(sprintCmd())
	rootCmd.AddCommand(bugCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace with a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg := config.Default(projectID)
			if err := app.Bootstrap(cmd.Context(), cfg, repo.Repo{DB: conn}); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace for project %s\n  config:   %s\n  database: %s\n", projectID, path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id")
	_ = cmd.MarkFlagRequired("project-id")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				name = id
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p := domain.Project{
					ID:          id,
					Name:        name,
					Description: desc,
					CreatedAt:   time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertProject(ctx, p); err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				target, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.Repo.GetProject(ctx, target)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage users"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userAPIKeyCmd())
	return usr
}

func userAPIKeyCmd() *cobra.Command {
	var userID, email, name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Mint an API key for a user",
		Long:  "Generates a key, stores its hash, and prints the key once. It cannot be recovered later.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" && email == "" {
				return fmt.Errorf("one of --user or --email is required")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				var u domain.User
				var err error
				if userID != "" {
					u, err = r.GetUser(ctx, userID)
				} else {
					u, err = r.GetUserByEmail(ctx, email)
				}
				if err != nil {
					return err
				}
				raw := make([]byte, 32)
				if _, err := rand.Read(raw); err != nil {
					return err
				}
				key := "btk_" + hex.EncodeToString(raw)
				err = r.InsertAPIKey(ctx, domain.APIKey{
					ID:        uuid.New().String(),
					ActorID:   u.ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(key),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"user_id": u.ID, "api_key": key})
				}
				fmt.Printf("API key for %s (%s):\n%s\n", u.Name, u.ID, key)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&email, "email", "", "user email (alternative to --user)")
	cmd.Flags().StringVar(&name, "name", "", "key label (optional)")
	return cmd
}

func userCreateCmd() *cobra.Command {
	var id, name, email, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.Role(role).Valid() {
				return fmt.Errorf("unknown role %q (want tester, developer, or admin)", role)
			}
			if id == "" {
				id = uuid.New().String()
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u := domain.User{
					ID:        id,
					Name:      name,
					Email:     email,
					Role:      domain.Role(role),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "user id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&role, "role", "", "role (tester, developer, admin)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				users, err := r.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email", "Role"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func sprintCmd() *cobra.Command {
	spr := &cobra.Command{Use: "sprint", Short: "Manage sprints"}
	spr.AddCommand(sprintCreateCmd())
	spr.AddCommand(sprintListCmd())
	return spr
}

func sprintCreateCmd() *cobra.Command {
	var id, name, startsAt, endsAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create sprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = uuid.New().String()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
					return fmt.Errorf("project %s: %w", projectID, err)
				}
				s := domain.Sprint{
					ID:        id,
					ProjectID: projectID,
					Name:      name,
					StartsAt:  startsAt,
					EndsAt:    endsAt,
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertSprint(ctx, s); err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "sprint id (optional)")
	cmd.Flags().StringVar(&name, "name", "", "sprint name")
	cmd.Flags().StringVar(&startsAt, "starts-at", "", "start (RFC3339)")
	cmd.Flags().StringVar(&endsAt, "ends-at", "", "end (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sprintListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := viper.GetString("project")
				sprints, err := e.Repo.ListSprints(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(sprints)
			})
		},
	}
}

func bugCmd() *cobra.Command {
	bug := &cobra.Command{
		Use:   "bug",
		Short: "Manage bugs",
		Long:  "Bugs flow Open -> In Progress -> Resolved -> Closed. Closing requires validation first; only testers and admins validate or close, and closed bugs are frozen for everyone but admins.",
	}
	bug.AddCommand(bugCreateCmd())
	bug.AddCommand(bugListCmd())
	bug.AddCommand(bugShowCmd())
	bug.AddCommand(bugStatusCmd())
	bug.AddCommand(bugAssignCmd())
	bug.AddCommand(bugTagsCmd())
	bug.AddCommand(bugValidateCmd())
	bug.AddCommand(bugCommentCmd())
	return bug
}

func bugCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Report a bug",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				if opts.ProjectID == "" {
					projectID, err := resolveProject(ctx, e)
					if err != nil {
						return err
					}
					opts.ProjectID = projectID
				}
				opts.ActorID = actorID
				opts.ActorRole = role
				b, err := e.Create(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "bug id (optional)")
	cmd.Flags().StringVar(&opts.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee-id", "", "assignee id")
	cmd.Flags().StringVar(&opts.SprintID, "sprint", "", "sprint id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (Low, Medium, High, Critical)")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "severity (Minor, Major, Critical)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "type (defect, task, epic, suggestion)")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", []string{}, "tag (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func bugListCmd() *cobra.Command {
	var f repo.BugFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List bugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.ProjectID == "" {
					f.ProjectID = viper.GetString("project")
				}
				bugs, err := e.Repo.ListBugs(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bugs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Validated", "Assignee", "Priority"})
				for _, b := range bugs {
					assignee := ""
					if b.AssignedTo != nil {
						assignee = *b.AssignedTo
					}
					tw.AppendRow(table.Row{b.ID, b.Title, b.Status, b.Validated, assignee, b.Priority})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee-id", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func bugShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.Repo.GetBug(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bugStatusCmd() *cobra.Command {
	var status string
	var expectedVersion int64
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Move a bug to a new status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				opts := engine.UpdateStatusOptions{
					BugID:     args[0],
					NewStatus: domain.Status(status),
					ActorID:   actorID,
					ActorRole: role,
				}
				if cmd.Flags().Changed("expected-version") {
					opts.ExpectedVersion = &expectedVersion
				}
				b, err := e.UpdateStatus(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&status, "to", "", `target status ("Open", "In Progress", "Resolved", "Closed")`)
	cmd.Flags().Int64Var(&expectedVersion, "expected-version", 0, "fail with a conflict unless the bug is still at this version")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func bugAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				b, err := e.Assign(ctx, engine.AssignOptions{
					BugID:      args[0],
					AssigneeID: assignee,
					ActorID:    actorID,
					ActorRole:  role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "to", "", "assignee user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func bugTagsCmd() *cobra.Command {
	var tags []string
	cmd := &cobra.Command{
		Use:   "tags <id>",
		Short: "Replace a bug's tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				b, err := e.UpdateTags(ctx, engine.UpdateTagsOptions{
					BugID:     args[0],
					Tags:      tags,
					ActorID:   actorID,
					ActorRole: role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
	cmd.Flags().StringArrayVar(&tags, "tag", []string{}, "tag (repeatable; the full set replaces existing tags)")
	return cmd
}

func bugValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <id>",
		Short: "Validate a resolved bug's fix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				b, err := e.Validate(ctx, engine.ValidateOptions{
					BugID:     args[0],
					ActorID:   actorID,
					ActorRole: role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func bugCommentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Comment on a bug",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actorID string, role domain.Role) error {
				c, err := e.Comment(ctx, engine.CommentOptions{
					BugID:     args[0],
					Message:   message,
					ActorID:   actorID,
					ActorRole: role,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "comment text")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Browse the activity feed"}
	act.AddCommand(activityListCmd())
	return act
}

func activityListCmd() *cobra.Command {
	var bugID string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var (
					entries []domain.Activity
					err     error
				)
				if bugID != "" {
					entries, err = e.Log.ListByBug(ctx, bugID)
				} else {
					entries, err = e.Log.ListRecent(ctx, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Bug", "Action", "Detail", "Actor"})
				for _, a := range entries {
					detail := ""
					switch {
					case a.NewStatus != nil:
						detail = string(*a.NewStatus)
					case a.AssigneeID != nil:
						detail = *a.AssigneeID
					}
					tw.AppendRow(table.Row{a.TS, a.BugID, a.Action, detail, a.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&bugID, "bug", "", "narrow to one bug")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			if err := app.Bootstrap(cmd.Context(), cfg, r); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              cfg.Auth.JWTSecret,
				AllowLegacyActorHeader: cfg.Auth.AllowLegacyActorHeader,
			}
			if secret := os.Getenv("BUGTRAIL_JWT_SECRET"); secret != "" {
				authCfg.JWTSecret = secret
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Bugtrail API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg != nil {
		if err := app.Bootstrap(ctx, cfg, repo.Repo{DB: conn}); err != nil {
			return err
		}
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

// withActor resolves the acting user's role from the directory before handing
// control to the command body. Engine calls always carry identity plus role.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, string, domain.Role) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actorID := viper.GetString("actor-id")
		role, err := e.ResolveRole(ctx, actorID)
		if err != nil {
			return err
		}
		return fn(ctx, e, actorID, role)
	})
}

func resolveProject(ctx context.Context, e engine.Engine) (string, error) {
	return app.ResolveProject(ctx, e.Config, viper.GetString("project"), e.Repo)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
