// Package cmd defines and implements the CLI commands for the polmsg executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/polmsg-collector/internal/app"
	"github.com/JakeFAU/polmsg-collector/internal/config"
	"github.com/JakeFAU/polmsg-collector/internal/logging"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	app     *app.App
	restore func()
}

func (r *runtime) close() {
	if r.app != nil {
		r.app.Close()
	}
	// Sync fails on stderr/stdout under some terminals; nothing useful to do with it.
	_ = r.logger.Sync()
	r.restore()
}

// buildApp is a variable so tests can swap it.
var buildApp = app.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "polmsg",
		Short: "Collects public political messages and delivers them to storage.",
		Long: `polmsg drives a browser through social feeds, ad libraries and campaign
sites, extracts each post into a canonical message and delivers the
messages in batches to the storage boundary.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, restore: logging.Install(logger)}

			rt.app, err = buildApp(cmd.Context(), cfg, logger)
			if err != nil {
				rt.close()
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKeyType{}, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, err := resolveRuntime(cmd.Context()); err == nil {
				rt.close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newScrapeCmd(), newServeCmd())
	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKeyType{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("application services not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
