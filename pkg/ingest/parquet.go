package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

const parquetBatchSize = 64 * 1024

func scanParquet(ctx context.Context, path string, opts Options, b *rowBuilder, stats *Stats, fn func(*Row) error) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return tferrors.InputNotFound(path)
		}
		return tferrors.WrapFS(err, "open input")
	}

	pqReader, err := file.OpenParquetFile(path, false)
	if err != nil {
		return tferrors.ParseError(path, 0, fmt.Errorf("failed to create parquet reader: %w", err))
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		Parallel:  true,
		BatchSize: parquetBatchSize,
	}, memory.DefaultAllocator)
	if err != nil {
		return tferrors.ParseError(path, 0, fmt.Errorf("failed to create arrow reader: %w", err))
	}

	arrowSchema, err := arrowReader.Schema()
	if err != nil {
		return tferrors.ParseError(path, 0, err)
	}
	header := make([]string, arrowSchema.NumFields())
	for i, f := range arrowSchema.Fields() {
		header[i] = f.Name
	}
	stats.Header = header

	binding, err := b.schema.Resolve(header, opts.Aliases)
	if err != nil {
		return err
	}

	// Project to the bound leaf columns only.
	leafSet := make(map[int]struct{})
	for _, idx := range binding.Index {
		leaf := pqReader.MetaData().Schema.ColumnIndexByName(header[idx])
		if leaf < 0 {
			return tferrors.ParseError(path, 0, fmt.Errorf("column %q is not a flat leaf column", header[idx]))
		}
		leafSet[leaf] = struct{}{}
	}
	leaves := make([]int, 0, len(leafSet))
	for leaf := range leafSet {
		leaves = append(leaves, leaf)
	}
	sort.Ints(leaves)

	rr, err := arrowReader.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		return tferrors.ParseError(path, 0, err)
	}
	defer rr.Release()

	var rowNum int64
	for rr.Next() {
		rec := rr.Record()
		cols := make([]arrow.Array, len(binding.Index))
		for i, idx := range binding.Index {
			found := rec.Schema().FieldIndices(header[idx])
			if len(found) == 0 {
				return tferrors.ParseError(path, rowNum, fmt.Errorf("column %q missing from record batch", header[idx]))
			}
			cols[i] = rec.Column(found[0])
		}

		n := int(rec.NumRows())
		for r := 0; r < n; r++ {
			rowNum++
			if err := checkCanceled(ctx, rowNum); err != nil {
				return err
			}
			row, rejected, err := b.build(rowNum, func(i int, typ schema.Type) (interface{}, string, error) {
				return arrowValue(cols[i], r, typ)
			})
			if err != nil {
				return err
			}
			stats.RowsRead++
			if rejected {
				stats.RowsRejected++
			}
			if err := fn(row); err != nil {
				return err
			}
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return tferrors.ParseError(path, rowNum, err)
	}
	return nil
}

var errUnsupportedType = errors.New("unsupported column type")

// arrowValue converts one Arrow cell to the declared type.
func arrowValue(arr arrow.Array, i int, typ schema.Type) (interface{}, string, error) {
	if arr.IsNull(i) {
		return nil, "", schema.ErrEmptyValue
	}

	switch a := arr.(type) {
	case *array.String:
		s := a.Value(i)
		v, err := parseText(typ, s)
		return v, s, err
	case *array.LargeString:
		s := a.Value(i)
		v, err := parseText(typ, s)
		return v, s, err
	case *array.Timestamp:
		if typ != schema.TypeTimestamp {
			return nil, arr.DataType().String(), errUnsupportedType
		}
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit).UTC(), "", nil
	case *array.Float64:
		return numeric(typ, a.Value(i))
	case *array.Float32:
		return numeric(typ, float64(a.Value(i)))
	case *array.Int64:
		return numeric(typ, float64(a.Value(i)))
	case *array.Int32:
		return numeric(typ, float64(a.Value(i)))
	}
	return nil, arr.DataType().String(), errUnsupportedType
}

func numeric(typ schema.Type, f float64) (interface{}, string, error) {
	if typ != schema.TypeFloat {
		return nil, fmt.Sprint(f), errUnsupportedType
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Sprint(f), schema.ErrInvalidNumber
	}
	return f, "", nil
}
