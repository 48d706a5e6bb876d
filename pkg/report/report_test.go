package report

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

func TestWriteWorkbook(t *testing.T) {
	pickup := time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC)
	sample := []model.SampleRow{
		{
			{Name: schema.PickupColumn, Value: pickup.UnixMilli()},
			{Name: schema.DropoffColumn, Value: nil},
			{Name: schema.DistanceColumn, Value: 2.5},
			{Name: schema.AmountColumn, Value: json.Number("10.25")},
		},
	}
	summary := []model.HourlySummary{{PickupHour: 8, AvgDistance: 2.5, AvgAmount: 10.25, TotalTrips: 1}}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	require.NoError(t, WriteWorkbook(path, sample, summary))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SampleSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(SampleSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{schema.PickupColumn, schema.DropoffColumn, schema.DistanceColumn, schema.AmountColumn}, rows[0])
	assert.Equal(t, "2.5", rows[1][2])
	assert.Equal(t, "", rows[1][1])

	raw, err := f.GetCellValue(SampleSheet, "A2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	assert.NotEmpty(t, raw)

	rows, err = f.GetRows(SummarySheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"pickup_hour", "avg_distance", "avg_amount", "total_trips"}, rows[0])
	assert.Equal(t, []string{"8", "2.5", "10.25", "1"}, rows[1])
}

func TestWriteWorkbook_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, WriteWorkbook(path, nil, nil))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SampleSheet)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Len(t, rows[0], 4)
}

func TestCellValue(t *testing.T) {
	ts := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	assert.Equal(t, ts, cellValue(schema.TypeTimestamp, ts.UnixMilli()))
	assert.Equal(t, ts, cellValue(schema.TypeTimestamp, json.Number("1704096000000")))
	assert.Equal(t, 3.5, cellValue(schema.TypeFloat, json.Number("3.5")))
	assert.Nil(t, cellValue(schema.TypeFloat, nil))
}
