package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"

	auth "github.com/goliatone/go-church-auth"
)

// ErrPermissionDenied is returned by "can" when a permission is missing.
var ErrPermissionDenied = errors.New("permission denied")

type options struct {
	configPath string
	envFiles   []string
	apiURL     string
	store      string
	storePath  string
	logLevel   string
	strict     bool
}

type runner struct {
	opts options
	app  *App
}

// NewRootCommand returns the churchadmin command tree.
func NewRootCommand() *cobra.Command {
	r := &runner{}

	root := &cobra.Command{
		Use:   "churchadmin",
		Short: "Church admin session tool",
		Long: `churchadmin signs in to the church admin API, keeps the session
in the configured credential store and answers permission questions
for the signed in user.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&r.opts.configPath, "config", "", "YAML config file")
	flags.StringSliceVar(&r.opts.envFiles, "env-file", []string{".env"}, ".env files to load")
	flags.StringVar(&r.opts.apiURL, "api", "", "API base URL (overrides config)")
	flags.StringVar(&r.opts.store, "store", "", "credential store: file, sqlite, redis or memory")
	flags.StringVar(&r.opts.storePath, "store-path", "", "credential file or database path")
	flags.StringVar(&r.opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.BoolVar(&r.opts.strict, "strict", false, "verify stored sessions before trusting them")

	root.AddCommand(
		r.loginCmd(),
		r.logoutCmd(),
		r.whoamiCmd(),
		r.statusCmd(),
		r.refreshCmd(),
		r.canCmd(),
		rolesCmd(),
	)

	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (r *runner) config() (auth.Config, error) {
	cfg, err := auth.LoadConfig(r.opts.configPath, r.opts.envFiles...)
	if err != nil {
		return cfg, err
	}

	if r.opts.apiURL != "" {
		cfg.APIBaseURL = r.opts.apiURL
	}
	if r.opts.store != "" {
		cfg.Store = r.opts.store
	}
	if r.opts.storePath != "" {
		cfg.StorePath = r.opts.storePath
	}
	if r.opts.logLevel != "" {
		cfg.LogLevel = r.opts.logLevel
	}
	if r.opts.strict {
		cfg.StrictHydration = true
	}

	return cfg, cfg.Validate()
}

// session builds the app and hydrates the session. Background
// verification is awaited so commands report a settled state.
func (r *runner) session(cmd *cobra.Command) (*App, auth.Snapshot, error) {
	cfg, err := r.config()
	if err != nil {
		return nil, auth.Snapshot{}, err
	}

	app, err := Build(cmd.Context(), cfg, cmd.ErrOrStderr())
	if err != nil {
		return nil, auth.Snapshot{}, err
	}
	r.app = app

	if _, err := app.Manager.Hydrate(cmd.Context()); err != nil {
		return app, auth.Snapshot{}, err
	}
	app.Manager.Wait()

	return app, app.Manager.Snapshot(), nil
}

func (r *runner) close() {
	if r.app != nil {
		_ = r.app.Close()
		r.app = nil
	}
}

func printJSON(w io.Writer, v any) {
	fmt.Fprintln(w, print.MaybePrettyJSON(v))
}

func (r *runner) loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		Long: `Sign in to the admin API. The password may also be supplied with
CHURCH_ADMIN_PASSWORD.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			if password == "" {
				password = os.Getenv("CHURCH_ADMIN_PASSWORD")
			}
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}

			app, snap, err := r.session(cmd)
			if err != nil {
				return err
			}

			if snap.IsAuthenticated {
				if _, err := app.Manager.Logout(cmd.Context()); err != nil {
					return err
				}
			}

			snap, err = app.Manager.Login(cmd.Context(), email, password)
			if err != nil {
				if snap.Error != "" {
					return errors.New(snap.Error)
				}
				return err
			}

			printJSON(cmd.OutOrStdout(), snap)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	return cmd
}

func (r *runner) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			app, _, err := r.session(cmd)
			if err != nil {
				return err
			}

			snap, err := app.Manager.Logout(cmd.Context())
			if err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), snap)
			return nil
		},
	}
}

func (r *runner) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			_, snap, err := r.session(cmd)
			if err != nil {
				return err
			}
			if !snap.IsAuthenticated || snap.User == nil {
				return auth.ErrNotAuthenticated
			}

			printJSON(cmd.OutOrStdout(), map[string]any{
				"user":        snap.User,
				"verified":    snap.Verified,
				"permissions": snap.Permissions().Granted(),
				"source":      snap.Permissions().Source(),
			})
			return nil
		},
	}
}

func (r *runner) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the session state and the route guard decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			app, snap, err := r.session(cmd)
			if err != nil {
				return err
			}

			printJSON(cmd.OutOrStdout(), map[string]any{
				"session":  snap,
				"decision": app.Guard.Decide(snap).String(),
				"store":    app.Config.Store,
			})
			return nil
		},
	}
}

func (r *runner) refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Trade the stored refresh token for a new pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			app, snap, err := r.session(cmd)
			if err != nil {
				return err
			}
			if !snap.IsAuthenticated {
				return auth.ErrNotAuthenticated
			}

			if err := app.Manager.Refresh(cmd.Context()); err != nil {
				return err
			}
			printJSON(cmd.OutOrStdout(), app.Manager.Snapshot())
			return nil
		},
	}
}

func (r *runner) canCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "can <permission>...",
		Short: "Check permissions for the signed in user",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer r.close()

			perms := make([]auth.Permission, 0, len(args))
			for _, arg := range args {
				p, ok := auth.ParsePermission(arg)
				if !ok {
					return fmt.Errorf("unknown permission %q", arg)
				}
				perms = append(perms, p)
			}

			_, snap, err := r.session(cmd)
			if err != nil {
				return err
			}

			engine := snap.Permissions()
			result := make(map[string]bool, len(perms))
			var missing []auth.Permission
			for _, p := range perms {
				result[string(p)] = engine.Can(p)
				if !result[string(p)] {
					missing = append(missing, p)
				}
			}
			printJSON(cmd.OutOrStdout(), result)

			if len(missing) > 0 {
				return fmt.Errorf("%w: %s", ErrPermissionDenied, joinPermissions(missing))
			}
			return nil
		},
	}
}

func rolesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "roles [role]",
		Short: "Print the role to permission catalogue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := auth.GetAllRoles()
			if len(args) == 1 {
				role, err := auth.ParseRole(args[0])
				if err != nil {
					return err
				}
				roles = []auth.Role{role}
			}

			out := make(map[string][]string, len(roles))
			for _, role := range roles {
				perms := auth.RolePermissions(role)
				names := make([]string, 0, len(perms))
				for _, p := range perms {
					names = append(names, string(p))
				}
				sort.Strings(names)
				out[string(role)] = names
			}

			printJSON(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

// joinPermissions renders permissions for error output.
func joinPermissions(perms []auth.Permission) string {
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}
