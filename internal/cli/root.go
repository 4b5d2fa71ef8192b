// Package cli implements regdeskctl, the maintenance command line for
// migrations, tournaments, admin bootstrap, statistics and data purges.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regdesk/internal/app"
	"regdesk/internal/platform/config"
	"regdesk/internal/platform/logger"
)

type options struct {
	configPath  string
	driver      string
	databaseURL string
	verbose     bool
}

// NewRootCmd builds the command tree. Output goes to the command's writer so
// tests can capture it.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "regdeskctl",
		Short:         "Maintenance tool for the tournament registration service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("REGDESK_CONFIG"), "path to YAML configuration")
	root.PersistentFlags().StringVar(&opts.driver, "driver", "", "override database.driver (postgres or sqlite)")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "override database.url")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newMigrateCmd(opts),
		newEventsCmd(opts),
		newAdminsCmd(opts),
		newStatsCmd(opts),
		newRegistrationsCmd(opts),
		newPurgeCmd(opts),
	)
	return root
}

// Execute runs the CLI and reports errors on stderr.
func Execute() int {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.driver != "" {
		cfg.Database.Driver = o.driver
	}
	if o.databaseURL != "" {
		cfg.Database.URL = o.databaseURL
	}
	if cfg.Database.Driver == config.DriverMemory {
		return nil, nil, fmt.Errorf("regdeskctl needs a persistent database; driver %q keeps nothing", cfg.Database.Driver)
	}
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database.url is required")
	}
	level := "warn"
	if o.verbose {
		level = "debug"
	}
	log, err := logger.New(level, "console")
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openStores loads configuration and connects with auto-migration applied.
func (o *options) openStores(cmd *cobra.Command) (*config.Config, *app.Stores, error) {
	cfg, log, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	stores, err := app.OpenStores(cmd.Context(), cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, stores, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
