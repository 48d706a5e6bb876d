// Package transform turns one input file into the sample and hourly
// summary artifacts.
package transform

import (
	"context"
	"log/slog"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// Options are the per-run knobs shared by every engine.
type Options struct {
	Schema     *schema.Schema
	Aliases    map[string]string
	Policy     ingest.ErrorPolicy
	SampleSize int
}

// Output is what an engine computes from one input file.
type Output struct {
	Header  []string
	Sample  []model.SampleRow
	Summary []model.HourlySummary

	RowsRead       int64
	RowsRejected   int64
	RowsAggregated int64
	Errors         []ingest.ErrorRecord
}

// Engine computes the artifacts for one input file. Both the sample and
// the summary come from a single read of the file.
type Engine interface {
	Name() string
	Process(ctx context.Context, path string, opts Options) (*Output, error)
	Close() error
}

// NewEngine returns the engine registered under name. duck is only used by
// the duckdb engine.
func NewEngine(name string, duck DuckDBConfig, logger *slog.Logger) (Engine, error) {
	switch name {
	case "", "native":
		return NewNativeEngine(logger), nil
	case "duckdb":
		return NewDuckDBEngine(duck, logger)
	default:
		return nil, tferrors.Newf(tferrors.CodeConfig, "unknown engine %q", name)
	}
}

// NativeEngine streams the file through pkg/ingest in one pass.
type NativeEngine struct {
	logger *slog.Logger
}

// NewNativeEngine creates the streaming engine.
func NewNativeEngine(logger *slog.Logger) *NativeEngine {
	return &NativeEngine{logger: logging.OrDiscard(logger)}
}

// Name returns "native".
func (e *NativeEngine) Name() string { return "native" }

// Close is a no-op.
func (e *NativeEngine) Close() error { return nil }

// Process reads path once, feeding the head sampler and the aggregator.
func (e *NativeEngine) Process(ctx context.Context, path string, opts Options) (*Output, error) {
	sampler := NewHeadSampler(opts.SampleSize)
	agg := NewHourlyAggregator()

	stats, err := ingest.Scan(ctx, path, ingest.Options{
		Schema:  opts.Schema,
		Aliases: opts.Aliases,
		Policy:  opts.Policy,
		Logger:  e.logger,
		OnError: func(rec ingest.ErrorRecord) {
			e.logger.Debug("row rejected", "path", path, "row", rec.Row, "column", rec.Column, "reason", rec.Message)
		},
	}, func(row *ingest.Row) error {
		if sampler.Wants() {
			sampler.Add(row.SampleRow())
		}
		agg.Add(&row.Record)
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("native processed input",
		"path", path,
		"rows", stats.RowsRead,
		"rejected", stats.RowsRejected,
		"left_out_of_summary", agg.Skipped())

	return &Output{
		Header:         stats.Header,
		Sample:         sampler.Rows(),
		Summary:        agg.Summaries(),
		RowsRead:       stats.RowsRead,
		RowsRejected:   stats.RowsRejected,
		RowsAggregated: agg.Aggregated(),
		Errors:         stats.Errors,
	}, nil
}
