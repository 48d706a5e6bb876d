// Package ingest streams trip records out of CSV and Parquet files using the
// declared trip schema. Only the required columns are materialised.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// Format is an input file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// DetectFormat returns the format implied by the file extension.
func DetectFormat(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, true
	case ".parquet":
		return FormatParquet, true
	default:
		return "", false
	}
}

// IsInputFile reports whether name has a supported input extension.
func IsInputFile(name string) bool {
	_, ok := DetectFormat(name)
	return ok
}

// Options configures a scan.
type Options struct {
	Schema  *schema.Schema
	Aliases map[string]string
	Policy  ErrorPolicy
	OnError func(ErrorRecord)
	Logger  *slog.Logger
}

// Row is one record read from the input.
type Row struct {
	Record model.TripRecord
	// Values holds the parsed value of each schema column, nil when the
	// field was unusable. Timestamps are time.Time, numbers float64.
	Values []interface{}
	names  []string
}

// SampleRow converts the row to its sample-artifact form: schema order,
// timestamps as epoch milliseconds.
func (r *Row) SampleRow() model.SampleRow {
	out := make(model.SampleRow, len(r.names))
	for i, name := range r.names {
		var v interface{}
		switch val := r.Values[i].(type) {
		case time.Time:
			v = val.UnixMilli()
		default:
			v = val
		}
		out[i] = model.Field{Name: name, Value: v}
	}
	return out
}

// Stats summarises a completed scan.
type Stats struct {
	Path         string
	Format       Format
	Header       []string
	RowsRead     int64
	RowsRejected int64 // rows with at least one unusable field
	Errors       []ErrorRecord
}

// Scan reads path and calls fn for every data row in file order. fn may
// return ErrStop to end the scan early without error.
func Scan(ctx context.Context, path string, opts Options, fn func(*Row) error) (*Stats, error) {
	if opts.Schema == nil {
		opts.Schema = schema.Trips()
	}
	opts.Logger = logging.OrDiscard(opts.Logger)

	format, ok := DetectFormat(path)
	if !ok {
		return nil, tferrors.New(tferrors.CodeParse, "unsupported input format").WithContext("path", path)
	}

	handler := NewErrorHandler(opts.Policy)
	if opts.OnError != nil {
		handler.WithOnError(opts.OnError)
	}
	b := &rowBuilder{
		schema:  opts.Schema,
		names:   opts.Schema.Names(),
		handler: handler,
		path:    path,
	}

	stats := &Stats{Path: path, Format: format}
	var err error
	switch format {
	case FormatParquet:
		err = scanParquet(ctx, path, opts, b, stats, fn)
	default:
		err = scanCSV(ctx, path, opts, b, stats, fn)
	}
	if errors.Is(err, ErrStop) {
		err = nil
	}
	stats.Errors = handler.Errors()
	if err != nil {
		return stats, err
	}

	opts.Logger.Debug("input scanned",
		"path", path,
		"format", string(format),
		"rows", stats.RowsRead,
		"rejected", stats.RowsRejected)
	return stats, nil
}

// ErrStop ends a scan early.
var ErrStop = errors.New("stop scan")

const cancelCheckInterval = 4096

func checkCanceled(ctx context.Context, row int64) error {
	if row%cancelCheckInterval != 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return tferrors.Canceled("scan", err)
	}
	return nil
}

// rowBuilder turns per-column cell accessors into a Row, routing every
// unusable field through the error handler.
type rowBuilder struct {
	schema  *schema.Schema
	names   []string
	handler *ErrorHandler
	path    string
}

// cell returns the parsed value of schema column i for the current row.
// raw is used for error reporting only.
type cell func(i int, typ schema.Type) (value interface{}, raw string, err error)

func (b *rowBuilder) build(rowNum int64, get cell) (*Row, bool, error) {
	row := &Row{
		Record: model.TripRecord{Row: rowNum},
		Values: make([]interface{}, len(b.schema.Columns)),
		names:  b.names,
	}
	rejected := false

	for i, col := range b.schema.Columns {
		value, raw, err := get(i, col.Type)
		if err != nil {
			rejected = true
			if herr := b.handler.Handle(ErrorRecord{
				Row:        rowNum,
				Column:     col.Name,
				Value:      raw,
				Type:       classify(col.Type, err),
				Message:    err.Error(),
				SourceFile: b.path,
			}); herr != nil {
				return nil, true, herr
			}
			continue
		}
		row.Values[i] = value
		assign(&row.Record, col.Name, value)
	}
	return row, rejected, nil
}

// malformed reports a row that could not be split into fields at all.
func (b *rowBuilder) malformed(rowNum int64, msg string) (*Row, error) {
	if err := b.handler.Handle(ErrorRecord{
		Row:        rowNum,
		Type:       ErrorTypeMalformedRow,
		Message:    msg,
		SourceFile: b.path,
	}); err != nil {
		return nil, err
	}
	return &Row{
		Record: model.TripRecord{Row: rowNum},
		Values: make([]interface{}, len(b.schema.Columns)),
		names:  b.names,
	}, nil
}

func assign(rec *model.TripRecord, column string, value interface{}) {
	switch column {
	case schema.PickupColumn:
		rec.PickupAt, rec.PickupOK = value.(time.Time)
	case schema.DropoffColumn:
		rec.DropoffAt, rec.DropoffOK = value.(time.Time)
	case schema.DistanceColumn:
		rec.Distance, rec.DistanceOK = value.(float64)
	case schema.AmountColumn:
		rec.Amount, rec.AmountOK = value.(float64)
	}
}

func classify(typ schema.Type, err error) ErrorType {
	if errors.Is(err, schema.ErrEmptyValue) {
		return ErrorTypeMissingValue
	}
	if typ == schema.TypeTimestamp {
		return ErrorTypeInvalidTimestamp
	}
	return ErrorTypeInvalidNumber
}

func parseText(typ schema.Type, s string) (interface{}, error) {
	if typ == schema.TypeTimestamp {
		return schema.ParseTimestamp(s)
	}
	return schema.ParseFloat(s)
}
