package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/runger/storykit/internal/app"
	"github.com/runger/storykit/internal/config"
	"github.com/runger/storykit/internal/logging"
	"github.com/runger/storykit/internal/telemetry"
)

const (
	groupCore  = "core"
	groupSetup = "setup"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "storykit",
	Short: "offline-first reader for generated picture books",
	Long: `storykit - offline-first reader for generated picture books
  - read books page by page from the local cache while the backend catches up
  - dress the mascot with items unlocked by finishing a book
  - submit and follow story generation jobs`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applyColorMode()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, cancelled on shutdown.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is the XDG config path)")
	rootCmd.PersistentFlags().StringVar(&colorMode, "color", "auto", "color output: auto, always, or never")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Reading:"},
		&cobra.Group{ID: groupSetup, Title: "Setup:"},
	)

	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, *config.Paths, error) {
	paths := config.DefaultPaths()
	path := configPath
	if path == "" {
		path = paths.ConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, paths, nil
}

// openApp loads configuration and builds the App with logging and tracing
// set up. The returned cleanup releases everything and is never nil.
func openApp(ctx context.Context) (*app.App, func(), error) {
	cfg, paths, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logger, closeLog, err := logging.Open(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	shutdown, err := telemetry.Setup(ctx, "storykit", cfg.Telemetry.Endpoint)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
	}

	a, err := app.New(app.Options{Config: cfg, Paths: paths, Logger: logger})
	if err != nil {
		_ = shutdown(context.Background())
		_ = closeLog()
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
		_ = shutdown(context.Background())
		_ = closeLog()
	}
	return a, cleanup, nil
}
