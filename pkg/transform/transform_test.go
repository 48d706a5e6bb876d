package transform

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/artifact"
	"github.com/taxiflow/taxiflow/pkg/config"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/ledger"
)

const header = "VendorID,tpep_pickup_datetime,tpep_dropoff_datetime,passenger_count,trip_distance,total_amount,store_and_fwd_flag\n"

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func listNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func engines(t *testing.T) []Engine {
	t.Helper()
	duck, err := NewDuckDBEngine(DuckDBConfig{Threads: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { duck.Close() })
	return []Engine{NewNativeEngine(nil), duck}
}

func TestHourlyAggregator(t *testing.T) {
	agg := NewHourlyAggregator()
	at := func(h, m int) time.Time { return time.Date(2024, 1, 1, h, m, 0, 0, time.UTC) }

	assert.True(t, agg.Add(&model.TripRecord{PickupAt: at(8, 15), PickupOK: true, Distance: 2, DistanceOK: true, Amount: 10, AmountOK: true}))
	assert.True(t, agg.Add(&model.TripRecord{PickupAt: at(8, 45), PickupOK: true, Distance: 4, DistanceOK: true, Amount: 20, AmountOK: true}))
	assert.True(t, agg.Add(&model.TripRecord{PickupAt: at(23, 59), PickupOK: true, Distance: 1, DistanceOK: true, Amount: 5, AmountOK: true}))
	assert.False(t, agg.Add(&model.TripRecord{PickupAt: at(3, 0), PickupOK: true, DistanceOK: false, Amount: 5, AmountOK: true}))

	assert.Equal(t, []model.HourlySummary{
		{PickupHour: 8, AvgDistance: 3, AvgAmount: 15, TotalTrips: 2},
		{PickupHour: 23, AvgDistance: 1, AvgAmount: 5, TotalTrips: 1},
	}, agg.Summaries())
	assert.Equal(t, int64(3), agg.Aggregated())
	assert.Equal(t, int64(1), agg.Skipped())
}

func TestHeadSampler(t *testing.T) {
	s := NewHeadSampler(2)
	for i := 0; i < 5; i++ {
		if s.Wants() {
			s.Add(model.SampleRow{{Name: "i", Value: i}})
		}
	}
	require.Len(t, s.Rows(), 2)
	assert.Equal(t, 1, s.Rows()[1][0].Value)

	assert.False(t, NewHeadSampler(-1).Wants())
}

func TestEngines_WorkedExample(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n"+
		"2,2024-01-01 08:45:00,2024-01-01 09:05:00,1,4.0,20.0,N\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 1000})
			require.NoError(t, err)
			assert.Equal(t, []model.HourlySummary{{PickupHour: 8, AvgDistance: 3, AvgAmount: 15, TotalTrips: 2}}, out.Summary)
			require.Len(t, out.Sample, 2)
			assert.Equal(t, []string{"tpep_pickup_datetime", "tpep_dropoff_datetime", "trip_distance", "total_amount"},
				out.Sample[0].Names())
			v, _ := out.Sample[0].Get("tpep_pickup_datetime")
			assert.Equal(t, time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC).UnixMilli(), v)
			assert.Equal(t, int64(2), out.RowsRead)
		})
	}
}

func TestEngines_SampleIsHeadOfFile(t *testing.T) {
	content := header
	for i := 0; i < 30; i++ {
		content += "1,2024-03-05 " + twoDigits(i%24) + ":10:00,2024-03-05 " + twoDigits(i%24) + ":20:00,1,1.5,9.0,N\n"
	}
	path := writeInput(t, t.TempDir(), "trips.csv", content)

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.NoError(t, err)
			require.Len(t, out.Sample, 10)
			for i, row := range out.Sample {
				v, _ := row.Get("tpep_pickup_datetime")
				assert.Equal(t, time.Date(2024, 3, 5, i, 10, 0, 0, time.UTC).UnixMilli(), v)
			}

			out, err = eng.Process(context.Background(), path, Options{SampleSize: 1000})
			require.NoError(t, err)
			assert.Len(t, out.Sample, 30)
			require.Len(t, out.Summary, 24)
			for i, s := range out.Summary {
				assert.Equal(t, i, s.PickupHour)
			}
			assert.Equal(t, int64(2), out.Summary[0].TotalTrips)
			assert.Equal(t, int64(1), out.Summary[23].TotalTrips)
		})
	}
}

func twoDigits(n int) string {
	return string([]byte{byte('0' + n/10), byte('0' + n%10)})
}

func TestEngines_SkipPolicy(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header+
		"1,garbage,2024-01-01 08:30:00,1,2.0,10.0,N\n"+
		"1,2024-01-01 09:00:00,2024-01-01 09:10:00,1,abc,5.0,N\n"+
		"1,2024-01-01 09:30:00,,1,3.0,6.0,N\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10, Policy: ingest.PolicySkip})
			require.NoError(t, err)
			assert.Equal(t, int64(3), out.RowsRead)
			assert.Equal(t, int64(3), out.RowsRejected)
			assert.Equal(t, int64(1), out.RowsAggregated)
			require.Len(t, out.Sample, 3)

			v, ok := out.Sample[0].Get("tpep_pickup_datetime")
			assert.True(t, ok)
			assert.Nil(t, v)

			// a missing dropoff does not keep the trip out of the summary
			assert.Equal(t, []model.HourlySummary{{PickupHour: 9, AvgDistance: 3, AvgAmount: 6, TotalTrips: 1}}, out.Summary)
		})
	}
}

func TestEngines_StrictPolicy(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n"+
		"1,2024-01-01 09:00:00,2024-01-01 09:10:00,1,abc,5.0,N\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			_, err := eng.Process(context.Background(), path, Options{SampleSize: 10, Policy: ingest.PolicyStrict})
			require.Error(t, err)
			assert.True(t, tferrors.IsCode(err, tferrors.CodeParse))
			assert.Contains(t, err.Error(), "row=2")
			assert.Contains(t, err.Error(), "column=trip_distance")
		})
	}
}

func TestEngines_MissingColumn(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv",
		"tpep_pickup_datetime,tpep_dropoff_datetime,trip_distance\n2024-01-01 08:15:00,2024-01-01 08:30:00,2.0\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			_, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.Error(t, err)
			assert.True(t, tferrors.IsCode(err, tferrors.CodeSchema))
			assert.Contains(t, err.Error(), "total_amount")
		})
	}
}

func TestEngines_HeaderOnly(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header)

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.NoError(t, err)
			assert.Empty(t, out.Sample)
			assert.Empty(t, out.Summary)
		})
	}
}

func TestEngines_MixedTimestampFormats(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header+
		"1,01/02/2024 08:15:00,,1,1.0,10.0,N\n"+
		"1,2024/01/02 09:15:00,,1,2.0,20.0,N\n"+
		"1,2024-01-02T12:15:00+02:00,,1,3.0,30.0,N\n"+
		"1,2024-01-02 11:15,,1,4.0,40.0,N\n"+
		"1,01/02/2024 01:15:00 PM,,1,5.0,50.0,N\n"+
		"1,2024-01-02,,1,6.0,60.0,N\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.NoError(t, err)
			assert.Equal(t, []model.HourlySummary{
				{PickupHour: 8, AvgDistance: 1, AvgAmount: 10, TotalTrips: 1},
				{PickupHour: 9, AvgDistance: 2, AvgAmount: 20, TotalTrips: 1},
				{PickupHour: 10, AvgDistance: 3, AvgAmount: 30, TotalTrips: 1},
				{PickupHour: 11, AvgDistance: 4, AvgAmount: 40, TotalTrips: 1},
				{PickupHour: 13, AvgDistance: 5, AvgAmount: 50, TotalTrips: 1},
			}, out.Summary)

			require.Len(t, out.Sample, 6)
			v, _ := out.Sample[1].Get("tpep_pickup_datetime")
			assert.Equal(t, time.Date(2024, 1, 2, 9, 15, 0, 0, time.UTC).UnixMilli(), v)
			v, _ = out.Sample[5].Get("tpep_pickup_datetime")
			assert.Nil(t, v, "date without time is rejected")
		})
	}
}

func TestEngines_UnparseableMeasuresLeaveTotalTrips(t *testing.T) {
	path := writeInput(t, t.TempDir(), "trips.csv", header+
		"1,2024-01-01 08:15:00,,1,2.0,10.0,N\n"+
		"1,2024-01-01 08:20:00,,1,two,12.0,N\n"+
		"1,2024-01-01 08:25:00,,1,3.0,NaN,N\n"+
		"1,2024-01-01 08:30:00,,1,inf,9.0,N\n")

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.NoError(t, err)
			assert.Equal(t, []model.HourlySummary{{PickupHour: 8, AvgDistance: 2, AvgAmount: 10, TotalTrips: 1}}, out.Summary)
			assert.Equal(t, int64(4), out.RowsRead)
			assert.Equal(t, int64(1), out.RowsAggregated)
		})
	}
}

func TestEngines_DefaultSampleCap(t *testing.T) {
	require.Equal(t, DefaultSampleSize, config.Default().Pipeline.SampleSize)

	content := header
	for i := 0; i < 1500; i++ {
		content += "1,2024-01-01 " + twoDigits(i%24) + ":00:00,,1,1.0,2.0,N\n"
	}
	path := writeInput(t, t.TempDir(), "trips.csv", content)

	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: config.Default().Pipeline.SampleSize})
			require.NoError(t, err)
			assert.Equal(t, int64(1500), out.RowsRead)
			require.Len(t, out.Sample, DefaultSampleSize)
			last, _ := out.Sample[DefaultSampleSize-1].Get("tpep_pickup_datetime")
			assert.Equal(t, time.Date(2024, 1, 1, (DefaultSampleSize-1)%24, 0, 0, 0, time.UTC).UnixMilli(), last)

			var trips int64
			for _, s := range out.Summary {
				trips += s.TotalTrips
			}
			assert.Equal(t, int64(1500), trips)
		})
	}
}

func writeParquet(t *testing.T, dir string) string {
	t.Helper()
	tsType := &arrow.TimestampType{Unit: arrow.Millisecond}
	sc := arrow.NewSchema([]arrow.Field{
		{Name: "VendorID", Type: arrow.PrimitiveTypes.Int64},
		{Name: "tpep_pickup_datetime", Type: tsType, Nullable: true},
		{Name: "tpep_dropoff_datetime", Type: tsType, Nullable: true},
		{Name: "trip_distance", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "total_amount", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)

	b := array.NewRecordBuilder(memory.DefaultAllocator, sc)
	defer b.Release()

	pickup := time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC)
	b.Field(0).(*array.Int64Builder).AppendValues([]int64{1, 2, 2}, nil)
	b.Field(1).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{
		arrow.Timestamp(pickup.UnixMilli()),
		arrow.Timestamp(pickup.Add(30 * time.Minute).UnixMilli()),
		arrow.Timestamp(pickup.Add(5 * time.Hour).UnixMilli()),
	}, nil)
	b.Field(2).(*array.TimestampBuilder).AppendValues([]arrow.Timestamp{
		arrow.Timestamp(pickup.Add(10 * time.Minute).UnixMilli()),
		0,
		arrow.Timestamp(pickup.Add(5*time.Hour + 20*time.Minute).UnixMilli()),
	}, []bool{true, false, true})
	b.Field(3).(*array.Float64Builder).AppendValues([]float64{2.0, 4.0, 1.5}, []bool{true, true, true})
	b.Field(4).(*array.Float64Builder).AppendValues([]float64{10.0, 20.0, 0}, []bool{true, true, false})

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(sc, []arrow.Record{rec})
	defer tbl.Release()

	path := filepath.Join(dir, "trips.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	// WriteTable closes f.
	require.NoError(t, pqarrow.WriteTable(tbl, f, 1024, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps()))
	return path
}

func TestEngines_Parquet(t *testing.T) {
	path := writeParquet(t, t.TempDir())

	var samples []string
	for _, eng := range engines(t) {
		t.Run(eng.Name(), func(t *testing.T) {
			out, err := eng.Process(context.Background(), path, Options{SampleSize: 10})
			require.NoError(t, err)
			assert.Equal(t, int64(3), out.RowsRead)
			assert.Equal(t, int64(2), out.RowsAggregated)
			assert.Equal(t, []model.HourlySummary{{PickupHour: 8, AvgDistance: 3, AvgAmount: 15, TotalTrips: 2}}, out.Summary)

			require.Len(t, out.Sample, 3)
			v, _ := out.Sample[0].Get("tpep_pickup_datetime")
			assert.Equal(t, time.Date(2024, 1, 1, 8, 15, 0, 0, time.UTC).UnixMilli(), v)
			v, _ = out.Sample[1].Get("tpep_dropoff_datetime")
			assert.Nil(t, v)
			data, err := artifact.Encode(out.Sample)
			require.NoError(t, err)
			samples = append(samples, string(data))
		})
	}
	require.Len(t, samples, 2)
	assert.JSONEq(t, samples[0], samples[1])
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine("", DuckDBConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "native", eng.Name())

	_, err = NewEngine("spark", DuckDBConfig{}, nil)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeConfig))
}

func TestSelectInput(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "notes.txt", "x")
	writeInput(t, dir, "b.csv", header)
	writeInput(t, dir, "a.parquet", "")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0.csv"), 0o755))

	path, err := SelectInput(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.parquet"), path)

	_, err = SelectInput(t.TempDir())
	assert.True(t, tferrors.IsCode(err, tferrors.CodeInputNotFound))

	_, err = SelectInput(filepath.Join(dir, "absent"))
	assert.True(t, tferrors.IsCode(err, tferrors.CodeInputNotFound))
}

type memLedger struct {
	saved []model.RunRecord
}

func (m *memLedger) Save(_ context.Context, rec *model.RunRecord) error {
	m.saved = append(m.saved, *rec)
	return nil
}

func (m *memLedger) List(context.Context, int) ([]model.RunRecord, error) { return m.saved, nil }
func (m *memLedger) Name() string                                         { return "memory" }
func (m *memLedger) Close() error                                         { return nil }

var _ ledger.Backend = (*memLedger)(nil)

func TestPipeline_RunPublishesExactlyTwoFiles(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "data")
	out := filepath.Join(root, "results")
	writeInput(t, in, "yellow_tripdata.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n"+
		"2,2024-01-01 08:45:00,2024-01-01 09:05:00,1,4.0,20.0,N\n")
	writeInput(t, out, "stale.json", "{}")

	led := &memLedger{}
	p := New(Config{SampleSize: DefaultSampleSize}, NewNativeEngine(nil), WithLedger(led))
	res, err := p.Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, []string{artifact.SampleFile, artifact.SummaryFile}, listNames(t, out))
	assert.Equal(t, 1, res.HourCount)
	assert.Equal(t, 2, res.SampleSize)

	summary, err := artifact.LoadSummary(out)
	require.NoError(t, err)
	assert.Equal(t, []model.HourlySummary{{PickupHour: 8, AvgDistance: 3, AvgAmount: 15, TotalTrips: 2}}, summary)

	require.Len(t, led.saved, 2)
	assert.Equal(t, model.RunRunning, led.saved[0].Status)
	assert.Equal(t, model.RunSucceeded, led.saved[1].Status)
	assert.Equal(t, res.RunID, led.saved[1].ID)
	assert.Equal(t, int64(2), led.saved[1].RowsRead)
	assert.NotNil(t, led.saved[1].EndedAt)
}

func TestPipeline_Idempotent(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "data")
	out := filepath.Join(root, "results")
	writeInput(t, in, "trips.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.1,10.3,N\n"+
		"1,2024-01-01 13:45:00,2024-01-01 14:05:00,1,0.7,7.7,N\n"+
		"1,2024-01-01 13:50:00,2024-01-01 14:15:00,1,5.3,31.15,N\n")

	p := New(Config{SampleSize: 2}, NewNativeEngine(nil))
	first, err := p.Run(context.Background(), in, out)
	require.NoError(t, err)
	second, err := p.Run(context.Background(), in, out)
	require.NoError(t, err)

	assert.Equal(t, first.Published.SampleData, second.Published.SampleData)
	assert.Equal(t, first.Published.SummaryData, second.Published.SummaryData)
}

func TestPipeline_EnginesAgree(t *testing.T) {
	root := t.TempDir()
	in := writeInput(t, filepath.Join(root, "data"), "trips.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n"+
		"1,01/01/2024 01:05:00 PM,01/01/2024 01:25:00 PM,1,1.0,8.5,N\n"+
		"1,2024-01-01 13:30:00,,1,3.0,12.5,N\n"+
		"1,2024-01-01 22:00:00,2024-01-01 22:10:00,1,,4.0,N\n")

	var published [][]byte
	for _, eng := range engines(t) {
		p := New(Config{SampleSize: 3}, eng)
		res, err := p.RunFile(context.Background(), in, filepath.Join(root, eng.Name()))
		require.NoError(t, err, eng.Name())
		published = append(published, res.Published.SampleData, res.Published.SummaryData)
	}
	assert.JSONEq(t, string(published[0]), string(published[2]))
	assert.JSONEq(t, string(published[1]), string(published[3]))
}

func TestPipeline_MissingColumnWritesNothing(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "data")
	out := filepath.Join(root, "results")
	writeInput(t, in, "trips.csv",
		"tpep_pickup_datetime,tpep_dropoff_datetime,trip_distance\n2024-01-01 08:15:00,2024-01-01 08:30:00,2.0\n")

	led := &memLedger{}
	p := New(Config{SampleSize: 10}, NewNativeEngine(nil), WithLedger(led))
	_, err := p.Run(context.Background(), in, out)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeSchema))
	assert.Empty(t, listNames(t, out))

	last := led.saved[len(led.saved)-1]
	assert.Equal(t, model.RunFailed, last.Status)
	assert.Equal(t, string(tferrors.CodeSchema), last.ErrorCode)
}

func TestPipeline_NoInputLeavesEmptiedOutput(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "data")
	out := filepath.Join(root, "results")
	require.NoError(t, os.MkdirAll(in, 0o755))
	writeInput(t, out, artifact.SampleFile, "[]")
	writeInput(t, out, "stale.json", "{}")

	led := &memLedger{}
	p := New(Config{SampleSize: 10}, NewNativeEngine(nil), WithLedger(led))
	_, err := p.Run(context.Background(), in, out)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeInputNotFound))
	assert.Empty(t, listNames(t, out))

	last := led.saved[len(led.saved)-1]
	assert.Equal(t, model.RunFailed, last.Status)
	assert.Equal(t, string(tferrors.CodeInputNotFound), last.ErrorCode)
}

func TestPipeline_ExplicitInputWins(t *testing.T) {
	root := t.TempDir()
	in := filepath.Join(root, "data")
	writeInput(t, in, "a.csv", "broken\n")
	chosen := writeInput(t, filepath.Join(root, "elsewhere"), "z.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n")

	p := New(Config{InputPath: chosen, SampleSize: 10}, NewNativeEngine(nil))
	res, err := p.Run(context.Background(), in, filepath.Join(root, "results"))
	require.NoError(t, err)
	assert.Equal(t, chosen, res.InputPath)
}

func TestPipeline_LockedOutput(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "results")
	in := writeInput(t, filepath.Join(root, "data"), "trips.csv", header)

	lock, err := artifact.Acquire(out)
	require.NoError(t, err)
	defer lock.Release()

	p := New(Config{SampleSize: 10}, NewNativeEngine(nil))
	_, err = p.RunFile(context.Background(), in, out)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeLocked))
}

type failingUploader struct{ calls int }

func (f *failingUploader) Put(context.Context, string, []byte, string) error {
	f.calls++
	return tferrors.New(tferrors.CodeNetwork, "unreachable")
}

func TestPipeline_MirrorFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	in := writeInput(t, filepath.Join(root, "data"), "trips.csv", header+
		"1,2024-01-01 08:15:00,2024-01-01 08:30:00,1,2.0,10.0,N\n")

	up := &failingUploader{}
	p := New(Config{SampleSize: 10}, NewNativeEngine(nil), WithMirror(up, "runs/latest"))
	_, err := p.RunFile(context.Background(), in, filepath.Join(root, "results"))
	require.NoError(t, err)
	assert.Positive(t, up.calls)
}

func TestPipeline_CanceledContext(t *testing.T) {
	root := t.TempDir()
	in := writeInput(t, filepath.Join(root, "data"), "trips.csv", header)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := New(Config{}, NewNativeEngine(nil))
	_, err := p.RunFile(ctx, in, filepath.Join(root, "results"))
	assert.True(t, tferrors.IsCode(err, tferrors.CodeCanceled))
}
