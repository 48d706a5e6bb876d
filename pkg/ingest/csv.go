package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

const csvBufferSize = 1 << 20

func scanCSV(ctx context.Context, path string, opts Options, b *rowBuilder, stats *Stats, fn func(*Row) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return tferrors.InputNotFound(path)
		}
		return tferrors.WrapFS(err, "open input")
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReaderSize(f, csvBufferSize))
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return tferrors.ParseError(path, 0, fmt.Errorf("empty input: no header row"))
		}
		return tferrors.ParseError(path, 0, err)
	}
	stats.Header = append([]string(nil), header...)

	binding, err := b.schema.Resolve(stats.Header, opts.Aliases)
	if err != nil {
		return err
	}
	maxIdx := binding.MaxIndex()

	var rowNum int64
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		rowNum++
		if cerr := checkCanceled(ctx, rowNum); cerr != nil {
			return cerr
		}

		var row *Row
		rejected := false
		switch {
		case err != nil:
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return tferrors.ParseError(path, rowNum, err)
			}
			row, err = b.malformed(rowNum, perr.Err.Error())
			rejected = true
		case len(record) <= maxIdx:
			row, err = b.malformed(rowNum, fmt.Sprintf("expected at least %d fields, got %d", maxIdx+1, len(record)))
			rejected = true
		default:
			row, rejected, err = b.build(rowNum, func(i int, typ schema.Type) (interface{}, string, error) {
				raw := record[binding.Index[i]]
				v, err := parseText(typ, raw)
				return v, raw, err
			})
		}
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
