// taxiflow fetches the NYC yellow taxi trip dataset, reduces it to a trip
// sample and an hourly summary, and serves both to a small dashboard.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/taxiflow/taxiflow/pkg/config"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	verbose    bool
	logFormat  string
)

// Populated by the root command before any subcommand runs.
var (
	cfgManager = config.NewManager()
	cfg        *config.Config
	logger     *slog.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "taxiflow",
	Short: "taxiflow - NYC taxi trip sample and hourly summary",
	Long: `taxiflow turns the NYC yellow taxi trip dataset into two artifacts:

  data.json     the first rows of the input, required columns only
  summary.json  average distance, average amount and trip count per pickup hour

Run "taxiflow run" to fetch the dataset when missing and regenerate the
artifacts, then "taxiflow serve" to browse them.`,
	Version:           fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (overrides the default search path)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console, json)")
}

// setup loads the configuration and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	if err := cfgManager.Load(configFile); err != nil {
		return err
	}
	cfg = cfgManager.Get()

	if verbose {
		cfg.Log.Level = "debug"
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if err := applyFlagOverrides(cmd); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	l, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return err
	}
	logger = l
	slog.SetDefault(logger)

	logger.Debug("configuration loaded", "paths", cfgManager.GetPaths())
	return nil
}
