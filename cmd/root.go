// Package cmd implements the taskshell command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/taskshell/internal/api"
	"github.com/JakeFAU/taskshell/internal/app"
	"github.com/JakeFAU/taskshell/internal/config"
	"github.com/JakeFAU/taskshell/internal/lifecycle"
	"github.com/JakeFAU/taskshell/internal/logging"
	"github.com/JakeFAU/taskshell/internal/poller"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what subcommands need from the application container. Tests swap
// in their own implementation through newApp. Host and Server connect the
// cache backend on first use.
type App interface {
	Close()
	Logger() *zap.Logger
	Config() config.Config
	Host(ctx context.Context) (*lifecycle.Host, error)
	Server(ctx context.Context) (*api.Server, error)
	NewPoller(taskID string, view poller.View) (*poller.Poller, error)
}

// rootOptions holds persistent flag values.
type rootOptions struct {
	configPath string
	logLevel   string
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "taskshell",
		Short: "Task progress poller and offline app shell cache.",
		Long: `taskshell follows long running export tasks to completion and serves an
app shell from a versioned offline cache that is installed, activated and
purged as a unit.`,
		SilenceUsage: true,

		// Builds the application after flags are parsed and injects it into
		// the context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.Logging.Level
			if opts.logLevel != "" {
				level = opts.logLevel
			}
			logger, err := logging.Build(logging.Options{
				Development: cfg.Logging.Development,
				Level:       level,
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// resolveApp returns the App injected by PersistentPreRunE.
func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "taskshell: %v\n", err)
		os.Exit(1)
	}
}
