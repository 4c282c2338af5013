package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/sitevault/sitevault/internal/config"
	"github.com/sitevault/sitevault/internal/graph"
	"github.com/sitevault/sitevault/internal/state"
)

// version is set at build time via ldflags.
var version = "dev"

// graphBaseURL is the Graph API endpoint all commands talk to.
const graphBaseURL = "https://graph.microsoft.com/v1.0"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE,
// available to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// logger is the process-wide structured logger, built alongside cfg.
var logger *slog.Logger

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sitevault",
		Short:   "Incremental backup for Graph-hosted document libraries",
		Long:    "sitevault pulls document libraries and drive items from the Microsoft Graph API into local, verifiable backups.",
		Version: version,
		// Silence Cobra's default error/usage printing — main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newBackupCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newResolveCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// and builds the process logger from the result.
func loadConfig() error {
	env := config.ReadEnvOverrides()
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	resolved, err := config.Resolve(env, cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg = resolved
	logger = buildLogger(cfg)

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level is the baseline; --verbose and --quiet
// override it because CLI flags always win. Format "auto" picks text on a
// terminal and JSON otherwise, so piped output stays machine-readable.
func buildLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.Logging.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	format := cfg.Logging.LogFormat
	if format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newGraphClient builds an authenticated Graph client from config.
// ctx must outlive the client; token refreshes are bound to it.
func newGraphClient(ctx context.Context) (*graph.Client, error) {
	if err := config.ValidateAuth(&cfg.Auth); err != nil {
		return nil, err
	}

	token := graph.NewAppTokenSource(ctx, cfg.Auth.TenantID, cfg.Auth.ClientID, cfg.Auth.ClientSecret, logger)

	client := graph.NewClient(graphBaseURL, newHTTPClient(), token, cfg.Network.MaxInflight, logger)
	client.SetUserAgent(cfg.Network.UserAgent)

	return client, nil
}

// newHTTPClient returns an HTTP client with a connect timeout but no
// overall request deadline — downloads of large files can legitimately
// run for a long time, and the transport layer handles stalls via retry.
func newHTTPClient() *http.Client {
	connectTimeout, err := time.ParseDuration(cfg.Network.ConnectTimeout)
	if err != nil {
		connectTimeout = 10 * time.Second
	}

	return &http.Client{
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: connectTimeout}).DialContext,
			TLSHandshakeTimeout: connectTimeout,
			Proxy:               http.ProxyFromEnvironment,
		},
	}
}

// openStateStore opens the persistent sync state at the configured path.
func openStateStore() (*state.Store, error) {
	store, err := state.Open(cfg.Backup.StateFile, logger)
	if err != nil {
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	return store, nil
}
