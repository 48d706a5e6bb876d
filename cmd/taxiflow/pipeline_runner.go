package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/taxiflow/taxiflow/pkg/acquire"
	"github.com/taxiflow/taxiflow/pkg/artifact"
	"github.com/taxiflow/taxiflow/pkg/config"
	"github.com/taxiflow/taxiflow/pkg/docstore"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/ledger"
	"github.com/taxiflow/taxiflow/pkg/storage/s3"
	"github.com/taxiflow/taxiflow/pkg/telemetry"
	"github.com/taxiflow/taxiflow/pkg/transform"
	"github.com/taxiflow/taxiflow/pkg/tui"
)

// PipelineRunner wires the configured components into fetch and process
// steps.
type PipelineRunner struct {
	cfg      *config.Config
	logger   *slog.Logger
	progress acquire.ProgressFunc
}

// NewPipelineRunner creates a runner from the loaded configuration.
func NewPipelineRunner(cfg *config.Config, logger *slog.Logger) *PipelineRunner {
	r := &PipelineRunner{cfg: cfg, logger: logger}
	if tui.IsTerminal(os.Stderr) {
		r.progress = func(total int64, label string) io.Writer { return tui.DownloadBar(total, label) }
	}
	return r
}

// Fetch makes sure the input directory holds a dataset.
func (r *PipelineRunner) Fetch(ctx context.Context) error {
	acq, err := acquire.FromConfig(ctx, r.cfg.Acquire, r.progress, r.logger)
	if err != nil {
		return err
	}
	return acq.EnsureDataset(ctx, r.cfg.Data.InputDir)
}

// Process regenerates the artifacts from the input directory.
func (r *PipelineRunner) Process(ctx context.Context) (*transform.Result, error) {
	policy, err := ingest.ParseErrorPolicy(r.cfg.Pipeline.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	engine, err := transform.NewEngine(r.cfg.Engine.Default, transform.DuckDBConfig{
		Threads:     r.cfg.Engine.Threads,
		MemoryLimit: r.cfg.Engine.MemoryLimit,
	}, r.logger)
	if err != nil {
		return nil, err
	}
	defer engine.Close()

	led := r.openLedger(ctx)
	defer led.Close()

	opts := []transform.Option{transform.WithLedger(led), transform.WithLogger(r.logger)}
	if up := r.mirror(ctx); up != nil {
		opts = append(opts, transform.WithMirror(up, r.cfg.Publish.S3.Prefix))
	}

	p := transform.New(transform.Config{
		InputPath:  r.cfg.Pipeline.Input,
		SampleSize: r.cfg.Pipeline.SampleSize,
		Policy:     policy,
		Aliases:    r.cfg.Pipeline.Aliases,
	}, engine, opts...)

	res, err := p.Run(ctx, r.cfg.Data.InputDir, r.cfg.Data.OutputDir)
	if err != nil {
		return nil, err
	}
	r.syncDocStore(ctx, res)
	return res, nil
}

// Run fetches when needed, then processes.
func (r *PipelineRunner) Run(ctx context.Context) (*transform.Result, error) {
	if r.cfg.Pipeline.Input == "" {
		if err := r.Fetch(ctx); err != nil {
			return nil, err
		}
	}
	return r.Process(ctx)
}

// openLedger falls back to no recording when the backend is unavailable.
func (r *PipelineRunner) openLedger(ctx context.Context) ledger.Backend {
	led, err := ledger.Open(ctx, r.cfg.Ledger)
	if err != nil {
		r.logger.Warn("run ledger unavailable, runs will not be recorded",
			"backend", r.cfg.Ledger.Backend, "error", err)
		return ledger.Nop{}
	}
	return led
}

func (r *PipelineRunner) mirror(ctx context.Context) artifact.Uploader {
	pc := r.cfg.Publish.S3
	if pc.Bucket == "" {
		return nil
	}
	client, err := s3.NewClient(ctx, s3Config(pc))
	if err != nil {
		r.logger.Warn("artifact mirror disabled", "bucket", pc.Bucket, "error", err)
		return nil
	}
	return client
}

// syncDocStore copies the new summary into the document store, when one
// is configured. Failures do not fail the run.
func (r *PipelineRunner) syncDocStore(ctx context.Context, res *transform.Result) {
	dc := r.cfg.DocStore
	if dc.URI == "" {
		return
	}
	rows, err := artifact.LoadSummary(res.OutputDir)
	if err != nil {
		r.logger.Warn("docstore sync skipped", "error", err)
		return
	}
	store, err := docstore.Open(ctx, docstore.Config{
		URI:        dc.URI,
		Database:   dc.Database,
		Collection: dc.Collection,
		Timeout:    dc.Timeout,
	})
	if err != nil {
		r.logger.Warn("docstore sync skipped", "error", err)
		return
	}
	defer store.Close(context.WithoutCancel(ctx))

	if err := store.ReplaceSummaries(ctx, res.RunID, rows); err != nil {
		r.logger.Warn("docstore sync failed", "run_id", res.RunID, "error", err)
		return
	}
	r.logger.Info("docstore synced", "run_id", res.RunID, "hour_count", len(rows))
}

func s3Config(c config.S3Config) s3.Config {
	sc := s3.DefaultConfig(c.Bucket, c.Region)
	sc.Endpoint = c.Endpoint
	sc.UsePathStyle = c.UsePathStyle
	sc.AccessKeyID = c.AccessKeyID
	sc.SecretAccessKey = c.SecretAccessKey
	return sc
}

// initTelemetry installs the tracer provider for the lifetime of a command.
func initTelemetry(ctx context.Context, c config.TelemetryConfig, logger *slog.Logger) func() {
	shutdown, err := telemetry.Init(ctx, telemetry.FromConfig(c, version))
	if err != nil {
		logger.Warn("tracing disabled", "endpoint", c.Endpoint, "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("trace export shutdown failed", "error", err)
		}
	}
}

// runReport converts a pipeline result for display.
func runReport(res *transform.Result) *tui.RunReport {
	rep := &tui.RunReport{
		RunID:        res.RunID,
		Engine:       res.Engine,
		InputPath:    res.InputPath,
		OutputDir:    res.OutputDir,
		RowsRead:     res.RowsRead,
		RowsRejected: res.RowsRejected,
		SampleSize:   res.SampleSize,
		HourCount:    res.HourCount,
		Duration:     res.Duration,
	}
	if fi, err := os.Stat(res.InputPath); err == nil {
		rep.InputSize = fi.Size()
	}
	return rep
}
