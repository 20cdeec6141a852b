// Package cli provides the command-line interface for the scenario trader.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"scenario-trader/internal/config"
	"scenario-trader/internal/engine"
	"scenario-trader/internal/logging"
	"scenario-trader/internal/notify"
	"scenario-trader/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies.
type App struct {
	Config    *config.Config
	ConfigDir string
	Logger    zerolog.Logger
	Settings  *config.Settings

	store store.Store
}

// Store opens the configured store on first use.
func (a *App) Store() (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	s, err := store.Open(a.Config.Store)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.Config.Store.Driver, err)
	}
	a.Logger.Debug().Str("driver", a.Config.Store.Driver).Msg("Store opened")
	a.store = s
	return s, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// newEngine builds an engine over s and resumes its state.
func (a *App) newEngine(ctx context.Context, s store.Store, n notify.Notifier) (*engine.Engine, error) {
	e := engine.New(s, s, s, a.Settings, n, a.Logger)
	if err := e.Load(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	app := &App{Logger: logger}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Scenario Trader - battle-card trigger engine",
		Long: `Scenario Trader watches live prices against battle cards.

A battle card describes a trade idea as four scenarios: A (primary),
B (secondary), C (chaos, no trade) and D (invalidation). When price reaches
a scenario's entry band a simulated position opens; stops, targets and the
invalidation level close it and every close lands in the journal.

Use 'trader <command> --help' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			cfg, err := config.Load(dir)
			if err != nil {
				return err
			}
			app.Config = cfg
			app.ConfigDir = dir
			app.Settings = config.NewSettings(cfg.Engine)

			logCfg := logging.DefaultLogConfig()
			logCfg.Level = cfg.Logging.Level
			logCfg.Console = cfg.Logging.Console
			logCfg.File = cfg.Logging.File
			logCfg.FilePath = cfg.Logging.Path
			app.Logger = logging.NewLoggerWithConfig(logCfg)

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/scenario-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addPlanCommands(rootCmd, app)
	addPositionCommands(rootCmd, app)
	addJournalCommands(rootCmd, app)
	addRunCommands(rootCmd, app)

	return rootCmd
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Scenario Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.ConfigDir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Engine")
	output.Printf("  Auto execute:     %v\n", cfg.Engine.AutoExecuteOnTrigger)
	output.Printf("  Auto exit target: %v\n", cfg.Engine.AutoExitOnTarget)
	output.Printf("  Auto exit stop:   %v\n", cfg.Engine.AutoExitOnStop)
	output.Printf("  Position size:    %.2f\n", cfg.Engine.DefaultPositionSize)
	output.Printf("  Leverage:         %.1fx\n", cfg.Engine.Leverage)
	output.Printf("  Workers:          %d\n", cfg.Engine.Workers)
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver:           %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == "sqlite3" {
		output.Printf("  Path:             %s\n", cfg.Store.DSN)
	}
	output.Println()

	output.Bold("Feed")
	url := cfg.Feed.URL
	if url == "" {
		url = "(not configured)"
	}
	output.Printf("  URL:              %s\n", url)
	output.Printf("  Extra symbols:    %v\n", cfg.Feed.Symbols)
	output.Println()

	output.Bold("Notifications")
	output.Printf("  Enabled:          %v\n", cfg.Notifications.Enabled)
	output.Printf("  Min severity:     %s\n", cfg.Notifications.MinSeverity)
	output.Printf("  Terminal:         %v\n", cfg.Notifications.Terminal.Enabled)
	output.Printf("  Webhook:          %v\n", cfg.Notifications.Webhook.Enabled)
	output.Printf("  Telegram:         %v\n", cfg.Notifications.Telegram.Enabled)
}
