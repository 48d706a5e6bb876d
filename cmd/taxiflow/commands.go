package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/taxiflow/taxiflow/pkg/artifact"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ledger"
	"github.com/taxiflow/taxiflow/pkg/report"
	"github.com/taxiflow/taxiflow/pkg/schema"
	"github.com/taxiflow/taxiflow/pkg/transform"
	"github.com/taxiflow/taxiflow/pkg/tui"
)

// Command flags. Only flags the user set override the configuration.
var (
	inputDir    string
	outputDir   string
	inputFile   string
	engineName  string
	sampleSize  int
	errorPolicy string
	exportPath  string
	runsLimit   int
	configForce bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch the dataset when missing, then regenerate the artifacts",
	Long: `Make sure the input directory holds a dataset (downloading it from the
configured source otherwise), then write data.json and summary.json.

Examples:
  taxiflow run
  taxiflow run --engine duckdb --sample-size 500
  taxiflow run --input trips.parquet --output-dir results`,
	RunE: runRun,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the dataset into the input directory when missing",
	RunE:  runFetch,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Regenerate the artifacts from a local dataset",
	RunE:  runProcess,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print summary.json as a table",
	RunE:  runSummary,
}

var schemaCmd = &cobra.Command{
	Use:   "schema [file]",
	Short: "Show how an input file binds to the required columns",
	Long: `Inspect an input file with DuckDB: its header, the inferred column types
and which required columns are found. Without an argument the file the
pipeline would select is inspected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSchema,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the artifacts to an Excel workbook",
	RunE:  runExport,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	RunE:  runRuns,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the effective configuration to a file",
	Long: `Write the configuration taxiflow would run with (defaults, config files,
environment and flags merged) to path, taxiflow.yaml by default. Credentials
taken from the environment are written too; the file is created with mode
0600.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	for _, cmd := range []*cobra.Command{runCmd, fetchCmd, processCmd, schemaCmd} {
		cmd.Flags().StringVar(&inputDir, "input-dir", "", "Dataset directory")
	}
	for _, cmd := range []*cobra.Command{runCmd, processCmd, summaryCmd, exportCmd} {
		cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "Artifact directory")
	}
	for _, cmd := range []*cobra.Command{runCmd, processCmd} {
		cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input file (skips directory selection)")
		cmd.Flags().StringVar(&engineName, "engine", "", "Transformation engine (native, duckdb)")
		cmd.Flags().IntVar(&sampleSize, "sample-size", 0, "Rows kept in data.json")
		cmd.Flags().StringVar(&errorPolicy, "error-policy", "", "Row error policy (skip, strict)")
	}
	exportCmd.Flags().StringVar(&exportPath, "file", "taxiflow.xlsx", "Workbook path")
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(runCmd, fetchCmd, processCmd, summaryCmd, schemaCmd, exportCmd, runsCmd, configCmd)
}

// applyFlagOverrides copies explicitly set flags over the configuration.
func applyFlagOverrides(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("input-dir") {
		cfg.Data.InputDir = inputDir
	}
	if flags.Changed("output-dir") {
		cfg.Data.OutputDir = outputDir
	}
	if flags.Changed("input") {
		cfg.Pipeline.Input = inputFile
	}
	if flags.Changed("engine") {
		cfg.Engine.Default = engineName
	}
	if flags.Changed("sample-size") {
		cfg.Pipeline.SampleSize = sampleSize
	}
	if flags.Changed("error-policy") {
		cfg.Pipeline.ErrorPolicy = errorPolicy
	}
	if flags.Changed("port") {
		cfg.Server.Port = servePort
	}
	if flags.Changed("host") {
		cfg.Server.Host = serveHost
	}
	if flags.Changed("mode") {
		cfg.Server.RegenerateMode = serveMode
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	return pipelineCommand(cmd.OutOrStdout(), func(ctx context.Context, r *PipelineRunner) (*transform.Result, error) {
		return r.Run(ctx)
	})
}

func runProcess(cmd *cobra.Command, args []string) error {
	return pipelineCommand(cmd.OutOrStdout(), func(ctx context.Context, r *PipelineRunner) (*transform.Result, error) {
		return r.Process(ctx)
	})
}

func pipelineCommand(w io.Writer, fn func(context.Context, *PipelineRunner) (*transform.Result, error)) error {
	ctx, cancel := signalContext()
	defer cancel()
	defer initTelemetry(ctx, cfg.Telemetry, logger)()

	if tui.IsTerminal(os.Stdout) {
		tui.PrintHeader(w, version)
	}
	res, err := fn(ctx, NewPipelineRunner(cfg, logger))
	if err != nil {
		return err
	}
	tui.PrintRunReport(w, runReport(res))
	return nil
}

func runFetch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	if err := NewPipelineRunner(cfg, logger).Fetch(ctx); err != nil {
		return err
	}
	tui.PrintNotice(cmd.OutOrStdout(), "dataset ready in "+cfg.Data.InputDir)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	rows, err := artifact.LoadSummary(cfg.Data.OutputDir)
	if errors.Is(err, artifact.ErrNoData) {
		tui.PrintNotice(cmd.OutOrStdout(), "no summary yet, run \"taxiflow run\" first")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderSummary(rows))
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	path := cfg.Pipeline.Input
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		var err error
		if path, err = transform.SelectInput(cfg.Data.InputDir); err != nil {
			return err
		}
	}

	insp, err := schema.NewInspector()
	if err != nil {
		return err
	}
	defer insp.Close()

	ctx, cancel := signalContext()
	defer cancel()
	res, err := insp.Inspect(ctx, path, schema.Trips(), cfg.Pipeline.Aliases)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderInspection(res))
	if len(res.Missing) > 0 {
		return tferrors.Newf(tferrors.CodeSchema, "%d required column(s) missing", len(res.Missing)).
			WithContext("path", path)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	sample, err := artifact.LoadSample(cfg.Data.OutputDir)
	if err != nil {
		return noData(err)
	}
	summary, err := artifact.LoadSummary(cfg.Data.OutputDir)
	if err != nil {
		return noData(err)
	}
	if err := report.WriteWorkbook(exportPath, sample, summary); err != nil {
		return err
	}
	abs, _ := filepath.Abs(exportPath)
	tui.PrintNotice(cmd.OutOrStdout(), fmt.Sprintf("wrote %d sample rows and %d hours to %s", len(sample), len(summary), abs))
	return nil
}

func noData(err error) error {
	if errors.Is(err, artifact.ErrNoData) {
		return tferrors.Wrap(err, tferrors.CodeInputNotFound, "artifacts missing, run \"taxiflow run\" first").
			WithContext("dir", cfg.Data.OutputDir)
	}
	return err
}

func runRuns(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	led, err := ledger.Open(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer led.Close()

	runs, err := led.List(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		tui.PrintNotice(cmd.OutOrStdout(), "no runs recorded ("+led.Name()+" ledger)")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.RenderRuns(runs))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := "taxiflow.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return tferrors.New(tferrors.CodeConfig, "config file already exists, use --force to overwrite").
			WithContext("path", path)
	}
	if err := cfgManager.Save(path); err != nil {
		return err
	}
	tui.PrintNotice(cmd.OutOrStdout(), "wrote configuration to "+path)
	return nil
}
