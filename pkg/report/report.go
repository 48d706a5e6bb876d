// Package report exports the published artifacts to an Excel workbook.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// Sheet names.
const (
	SampleSheet  = "Sample"
	SummarySheet = "Summary"
)

var summaryHeader = []interface{}{"pickup_hour", "avg_distance", "avg_amount", "total_trips"}

// WriteWorkbook writes the sample and the summary to an xlsx file at path.
// Timestamp columns of the sample are written as date cells.
func WriteWorkbook(path string, sample []model.SampleRow, summary []model.HourlySummary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SampleSheet); err != nil {
		return fmt.Errorf("failed to rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	if err := writeSample(f, sample); err != nil {
		return err
	}
	if err := writeSummary(f, summary); err != nil {
		return err
	}

	if err := f.SaveAs(path); err != nil {
		return tferrors.WrapFS(err, "write workbook").WithContext("path", path)
	}
	return nil
}

func writeSample(f *excelize.File, sample []model.SampleRow) error {
	names := schema.Trips().Names()
	if len(sample) > 0 {
		names = sample[0].Names()
	}
	header := make([]interface{}, len(names))
	for i, n := range names {
		header[i] = n
	}
	if err := f.SetSheetRow(SampleSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write sample header: %w", err)
	}

	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22}) // m/d/yy h:mm
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	trips := schema.Trips()
	for i, row := range sample {
		values := make([]interface{}, len(row))
		for j, field := range row {
			col, _ := trips.Lookup(field.Name)
			values[j] = cellValue(col.Type, field.Value)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SampleSheet, cell, &values); err != nil {
			return fmt.Errorf("failed to write sample row %d: %w", i+1, err)
		}
	}

	for j, name := range names {
		col, ok := trips.Lookup(name)
		if !ok || col.Type != schema.TypeTimestamp || len(sample) == 0 {
			continue
		}
		top, _ := excelize.CoordinatesToCellName(j+1, 2)
		bottom, _ := excelize.CoordinatesToCellName(j+1, len(sample)+1)
		if err := f.SetCellStyle(SampleSheet, top, bottom, dateStyle); err != nil {
			return fmt.Errorf("failed to style %s: %w", name, err)
		}
	}
	return nil
}

// cellValue converts a sample value (from an engine or from the decoded
// artifact) to an excelize cell value.
func cellValue(typ schema.Type, v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case json.Number:
		if typ == schema.TypeTimestamp {
			if ms, err := val.Int64(); err == nil {
				return time.UnixMilli(ms).UTC()
			}
		}
		if fv, err := val.Float64(); err == nil {
			return fv
		}
		return val.String()
	case int64:
		if typ == schema.TypeTimestamp {
			return time.UnixMilli(val).UTC()
		}
		return val
	default:
		return val
	}
}

func writeSummary(f *excelize.File, summary []model.HourlySummary) error {
	if err := f.SetSheetRow(SummarySheet, "A1", &summaryHeader); err != nil {
		return fmt.Errorf("failed to write summary header: %w", err)
	}
	for i, s := range summary {
		row := []interface{}{s.PickupHour, s.AvgDistance, s.AvgAmount, s.TotalTrips}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(SummarySheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write summary row %d: %w", i+1, err)
		}
	}
	return nil
}
