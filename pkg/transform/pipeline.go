package transform

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/artifact"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/ledger"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/schema"
	"github.com/taxiflow/taxiflow/pkg/telemetry"
)

// Config holds the pipeline settings.
type Config struct {
	// InputPath, when set, is used instead of scanning the input directory.
	InputPath  string
	SampleSize int
	Policy     ingest.ErrorPolicy
	Aliases    map[string]string
}

// DefaultSampleSize is the number of rows kept in the sample artifact.
const DefaultSampleSize = 1000

// Result describes a successful run.
type Result struct {
	RunID     string
	InputPath string
	OutputDir string
	Engine    string

	RowsRead       int64
	RowsRejected   int64
	RowsAggregated int64
	SampleSize     int
	HourCount      int
	Duration       time.Duration

	Published *artifact.Published
}

// Pipeline runs one input file through an Engine and publishes the
// artifacts.
type Pipeline struct {
	cfg    Config
	engine Engine
	ledger ledger.Backend
	logger *slog.Logger
	tracer trace.Tracer

	mirror       artifact.Uploader
	mirrorPrefix string

	now   func() time.Time
	newID func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLedger records every run in b.
func WithLedger(b ledger.Backend) Option {
	return func(p *Pipeline) { p.ledger = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = logging.OrDiscard(l) }
}

// WithMirror uploads the artifacts under prefix after each publish.
func WithMirror(up artifact.Uploader, prefix string) Option {
	return func(p *Pipeline) {
		p.mirror = up
		p.mirrorPrefix = prefix
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline.
func New(cfg Config, engine Engine, opts ...Option) *Pipeline {
	if cfg.SampleSize < 0 {
		cfg.SampleSize = 0
	}
	p := &Pipeline{
		cfg:    cfg,
		engine: engine,
		ledger: ledger.Nop{},
		logger: logging.Discard(),
		tracer: telemetry.Tracer("github.com/taxiflow/taxiflow/pkg/transform"),
		now:    time.Now,
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SelectInput returns the first supported input file in dir in lexical
// order. Subdirectories and other files are ignored.
func SelectInput(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", tferrors.InputNotFound(dir)
		}
		return "", tferrors.WrapFS(err, "list input directory").WithContext("dir", dir)
	}
	// os.ReadDir returns entries sorted by filename.
	for _, entry := range entries {
		if entry.Type().IsRegular() && ingest.IsInputFile(entry.Name()) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", tferrors.InputNotFound(dir)
}

// Run selects the input (the configured path, or the first file in
// inputDir) and processes it into outputDir. Selection happens after the
// output directory has been prepared, so a run without input still leaves
// an emptied output directory behind.
func (p *Pipeline) Run(ctx context.Context, inputDir, outputDir string) (*Result, error) {
	return p.run(ctx, inputDir, p.cfg.InputPath, outputDir)
}

// RunFile processes inputPath into outputDir: lock, prepare the directory,
// transform, publish both artifacts atomically, then mirror.
func (p *Pipeline) RunFile(ctx context.Context, inputPath, outputDir string) (*Result, error) {
	return p.run(ctx, "", inputPath, outputDir)
}

func (p *Pipeline) run(ctx context.Context, inputDir, inputPath, outputDir string) (res *Result, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("input_path", inputPath),
		attribute.String("output_dir", outputDir),
		attribute.String("engine", p.engine.Name()),
	))
	defer span.End()

	started := p.now()
	rec := &model.RunRecord{
		ID:        p.newID(),
		InputPath: inputPath,
		OutputDir: outputDir,
		Engine:    p.engine.Name(),
		Status:    model.RunRunning,
		StartedAt: started.UTC(),
	}
	span.SetAttributes(attribute.String("run_id", rec.ID))
	log := p.logger.With("run_id", rec.ID)
	p.saveRecord(ctx, log, rec)

	defer func() {
		ended := p.now().UTC()
		rec.EndedAt = &ended
		if err != nil {
			rec.Status = model.RunFailed
			rec.ErrorCode = string(tferrors.GetCode(err))
			rec.ErrorMessage = err.Error()
			span.RecordError(err)
			log.Error("run failed", "code", rec.ErrorCode, "error", err, "duration", ended.Sub(started))
		} else {
			rec.Status = model.RunSucceeded
			res.Duration = ended.Sub(started)
			log.Info("run succeeded",
				"input", inputPath,
				"rows", rec.RowsRead,
				"rejected", rec.RowsRejected,
				"hour_count", rec.HourCount,
				"duration", res.Duration)
		}
		p.saveRecord(context.WithoutCancel(ctx), log, rec)
	}()

	if err := ctx.Err(); err != nil {
		return nil, tferrors.Canceled("run", err)
	}

	lock, err := artifact.Acquire(outputDir)
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			log.Warn("failed to release output lock", "path", lock.Path(), "error", rerr)
		}
	}()

	if err := telemetry.Stage(ctx, p.tracer, "prepare", func(context.Context) error {
		return artifact.PrepareOutputDir(outputDir)
	}); err != nil {
		return nil, err
	}

	if inputPath == "" {
		if err := telemetry.Stage(ctx, p.tracer, "select", func(context.Context) error {
			var err error
			inputPath, err = SelectInput(inputDir)
			return err
		}, attribute.String("input_dir", inputDir)); err != nil {
			return nil, err
		}
		rec.InputPath = inputPath
		span.SetAttributes(attribute.String("input_path", inputPath))
	}

	var out *Output
	if err := telemetry.Stage(ctx, p.tracer, "transform", func(ctx context.Context) error {
		var err error
		out, err = p.engine.Process(ctx, inputPath, Options{
			Schema:     schema.Trips(),
			Aliases:    p.cfg.Aliases,
			Policy:     p.cfg.Policy,
			SampleSize: p.cfg.SampleSize,
		})
		if err == nil {
			telemetry.SetAttributes(ctx,
				attribute.Int64("rows_read", out.RowsRead),
				attribute.Int64("rows_rejected", out.RowsRejected),
				attribute.Int("hour_count", len(out.Summary)))
		}
		return err
	}); err != nil {
		return nil, err
	}
	rec.RowsRead = out.RowsRead
	rec.RowsRejected = out.RowsRejected
	rec.RowsAggregated = out.RowsAggregated
	rec.SampleSize = len(out.Sample)
	rec.HourCount = len(out.Summary)
	if out.RowsRejected > 0 {
		log.Warn("rows with unusable fields", "rejected", out.RowsRejected, "policy", p.cfg.Policy.String())
	}

	var pub *artifact.Published
	if err := telemetry.Stage(ctx, p.tracer, "publish", func(context.Context) error {
		var err error
		pub, err = artifact.Publish(outputDir, &artifact.Set{Sample: out.Sample, Summary: out.Summary})
		return err
	}); err != nil {
		return nil, err
	}
	log.Debug("artifacts published", "sample", pub.SamplePath, "summary", pub.SummaryPath)

	if p.mirror != nil {
		if merr := telemetry.Stage(ctx, p.tracer, "mirror", func(ctx context.Context) error {
			return artifact.Mirror(ctx, p.mirror, p.mirrorPrefix, pub)
		}); merr != nil {
			log.Warn("artifact mirror failed", "prefix", p.mirrorPrefix, "error", merr)
		}
	}

	return &Result{
		RunID:          rec.ID,
		InputPath:      inputPath,
		OutputDir:      outputDir,
		Engine:         p.engine.Name(),
		RowsRead:       out.RowsRead,
		RowsRejected:   out.RowsRejected,
		RowsAggregated: out.RowsAggregated,
		SampleSize:     len(out.Sample),
		HourCount:      len(out.Summary),
		Published:      pub,
	}, nil
}

func (p *Pipeline) saveRecord(ctx context.Context, log *slog.Logger, rec *model.RunRecord) {
	if err := p.ledger.Save(ctx, rec); err != nil {
		log.Warn("failed to record run", "ledger", p.ledger.Name(), "status", string(rec.Status), "error", err)
	}
}
