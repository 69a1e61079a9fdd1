package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ayusman/openusage/internal/app"
	"github.com/ayusman/openusage/internal/config"
	"github.com/ayusman/openusage/internal/logging"
	"github.com/ayusman/openusage/internal/store"
)

// env is the state shared by every subcommand.
type env struct {
	version    string
	configPath string
	logLevel   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	store     *store.Store
}

func newRootCommand(version, commit, date string) *cobra.Command {
	e := &env{version: version}

	rootCmd := &cobra.Command{
		Use:   "openusage",
		Short: "OpenUsage - usage and quota tracking for AI coding tools",
		Long: `OpenUsage runs provider plugins in a sandbox and reports usage and quota
metrics for AI command-line tools such as Claude, Codex, Gemini and Kimi.

Plugins can read credentials locally or from a CLIProxyAPI account store.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&e.configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(
		newServeCommand(e),
		newProbeCommand(e),
		newPluginsCommand(e),
		newCLIProxyCommand(e),
	)

	return rootCmd
}

func (e *env) setup(logOut io.Writer) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if e.logLevel != "" {
		cfg.Logging.Level = e.logLevel
	}
	e.cfg = cfg

	e.logger, e.logCloser = logging.New(cfg.LoggerConfig(), logOut)
	slog.SetDefault(e.logger)

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	e.store = st
	return nil
}

func (e *env) close() error {
	var err error
	if e.store != nil {
		err = e.store.Close()
		e.store = nil
	}
	if e.logCloser != nil {
		e.logCloser.Close()
		e.logCloser = nil
	}
	return err
}

// newApp builds the application and discovers plugins.
func (e *env) newApp() (*app.App, error) {
	a := app.New(app.Config{
		PluginDir:       e.cfg.PluginDir,
		AppDataDir:      e.cfg.AppDataDir,
		AppVersion:      e.version,
		Store:           e.store,
		CLIProxy:        e.cfg.CLIProxy,
		HTTPTimeout:     e.cfg.HTTPTimeout(),
		RefreshInterval: e.cfg.RefreshInterval(),
		Logger:          e.logger,
	})
	if err := a.DiscoverPlugins(); err != nil {
		return nil, fmt.Errorf("failed to discover plugins: %w", err)
	}
	return a, nil
}
