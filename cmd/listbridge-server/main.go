package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aspect-build/listbridge/internal/account"
	"github.com/aspect-build/listbridge/internal/logx"
	"github.com/aspect-build/listbridge/internal/server"
	"github.com/aspect-build/listbridge/internal/server/db"
	"github.com/aspect-build/listbridge/internal/version"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// devCommands is populated by dev.go (build tag "dev") with dev-only subcommands.
var devCommands []*cobra.Command

const sessionPurgeInterval = 10 * time.Minute

func main() {
	var (
		envFile  string
		logLevel string
		verbose  bool
	)

	rootCmd := &cobra.Command{
		Use:   "listbridge-server",
		Short: "Listbridge server holds eBay credentials for multi-user seller accounts",
		Long: `Listbridge server stores each account's eBay credentials encrypted at rest,
connects accounts to eBay through OAuth, refreshes access tokens before they
expire and decides per request which credential a user may act with.

Environment variables:
  LISTBRIDGE_MASTER_SECRET  Vault master secret (min 16 chars, required)
  LISTBRIDGE_ADMIN_TOKEN    Bearer token for bootstrap APIs (min 16 chars, required)
  LISTBRIDGE_DB_PATH        SQLite database path (default: listbridge.db)
  LISTBRIDGE_LISTEN_ADDR    Listen address (default: :8080)
  LISTBRIDGE_CONFIG_PAGE    Redirect target after OAuth (default: /settings)
  LISTBRIDGE_CORS_ORIGINS   Comma separated allowed origins
  LISTBRIDGE_COOKIE_SECURE  Mark the session cookie Secure (default: true)
  LISTBRIDGE_SESSION_TTL    Session lifetime (default: 168h)
  LISTBRIDGE_REDIS_ADDR     Redis address for the application token cache
  LISTBRIDGE_LOG_LEVEL      debug|info|warn|error (default: info)
  EBAY_CLIENT_ID            eBay application client id
  EBAY_CLIENT_SECRET        eBay application client secret
  EBAY_REDIRECT_URI         eBay redirect identifier (RuName)
  EBAY_ENVIRONMENT          production|sandbox (default: production)
  EBAY_HTTP_TIMEOUT         Timeout for eBay token calls (default: 10s)`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadEnvFile(envFile, cmd.Flags().Changed("env-file")); err != nil {
				return err
			}
			return logx.Configure(logLevel, verbose)
		},
	}
	rootCmd.SetVersionTemplate(version.String("listbridge-server") + "\n")

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file (skipped if not found and not explicitly set)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error (or LISTBRIDGE_LOG_LEVEL)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose debug logs (same as --log-level debug)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCreateAccountCmd())
	rootCmd.AddCommand(newAddUserCmd())
	rootCmd.AddCommand(newListUsersCmd())
	rootCmd.AddCommand(newKeygenCmd())
	for _, cmd := range devCommands {
		rootCmd.AddCommand(cmd)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "listbridge-server: %v\n", err)
		os.Exit(1)
	}
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is only an error when explicit.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("env file %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	logx.Debugf("loaded environment from %s", path)
	return nil
}

func dbPath() string {
	if v := os.Getenv("LISTBRIDGE_DB_PATH"); v != "" {
		return v
	}
	return "listbridge.db"
}

func openStore() (*db.Store, error) {
	store, err := db.NewStore(dbPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := server.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logx.SetSecrets(cfg.MasterSecret, cfg.AdminToken, cfg.Ebay.ClientSecret, cfg.RedisPassword)

			store, err := db.NewStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := server.NewServices(ctx, store, cfg, &http.Client{})
			if err != nil {
				return err
			}
			defer svc.Close()

			go server.PurgeSessions(ctx, store, sessionPurgeInterval)

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           server.NewRouter(svc, cfg),
				ReadHeaderTimeout: 10 * time.Second,
			}
			logx.Infof("server config: db=%s ebay_env=%s cookie_secure=%v config_page=%s",
				cfg.DBPath, cfg.Ebay.Environment, cfg.CookieSecure, cfg.ConfigPage)
			if cfg.Ebay.ClientID == "" || cfg.Ebay.RedirectURI == "" {
				logx.Warnf("eBay OAuth is not configured; initiate and callback will report a configuration error")
			}

			errCh := make(chan error, 1)
			go func() {
				logx.Infof("listbridge-server listening on %s", cfg.ListenAddr)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			logx.Infof("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func newCreateAccountCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "create-account",
		Short: "Create an account and its owner (admin) user",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			id := uuid.NewString()
			owner := &db.User{
				ID:          id,
				AccountID:   id,
				Email:       strings.ToLower(strings.TrimSpace(email)),
				DisplayName: name,
				Role:        string(account.RoleAdmin),
			}
			if err := store.CreateUser(cmd.Context(), owner); err != nil {
				return fmt.Errorf("create account: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Created account for %s\n", owner.Email)
			fmt.Println(id)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Owner display name")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newAddUserCmd() *cobra.Command {
	var accountID, email, name, role string

	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Add a user to an existing account",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := account.ParseRole(role)
			if !ok {
				return fmt.Errorf("invalid role %q (expected admin|publisher|operator)", role)
			}

			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			owner, err := store.GetUser(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			if owner == nil || !owner.IsOwner() {
				return fmt.Errorf("account %s not found", accountID)
			}

			user := &db.User{
				ID:          uuid.NewString(),
				AccountID:   accountID,
				Email:       strings.ToLower(strings.TrimSpace(email)),
				DisplayName: name,
				Role:        string(r),
			}
			if err := store.CreateUser(cmd.Context(), user); err != nil {
				return fmt.Errorf("add user: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Added %s as %s\n", user.Email, user.Role)
			fmt.Println(user.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account id (required)")
	cmd.Flags().StringVar(&email, "email", "", "User email (required)")
	cmd.Flags().StringVar(&name, "name", "", "User display name")
	cmd.Flags().StringVar(&role, "role", string(account.RoleOperator), "Role: admin|publisher|operator")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("email")
	return cmd
}

func newListUsersCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "list-users",
		Short: "List the users of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			users, err := store.ListAccountUsers(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			if len(users) == 0 {
				return fmt.Errorf("account %s not found", accountID)
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Owner", "eBay OAuth"})
			for _, u := range users {
				oauth := ""
				if u.IsOwner() {
					oauth = "disconnected"
					if u.OAuthAccessToken != "" {
						oauth = "connected"
						if u.OAuthUsername != "" {
							oauth += " (" + u.OAuthUsername + ")"
						}
					}
				}
				t.AppendRow(table.Row{u.ID, u.Email, u.DisplayName, u.Role, u.IsOwner(), oauth})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account id (required)")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Print a random master secret for LISTBRIDGE_MASTER_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			var b [32]byte
			if _, err := rand.Read(b[:]); err != nil {
				return fmt.Errorf("generate random secret: %w", err)
			}
			fmt.Println(base64.RawURLEncoding.EncodeToString(b[:]))
			fmt.Fprintf(os.Stderr, "Changing the master secret later makes every stored credential unreadable.\n")
			return nil
		},
	}
}
