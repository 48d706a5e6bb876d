package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

func listDir(t *testing.T, dir string) []string {
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

func TestPrepareOutputDir_CreatesMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "results")

	require.NoError(t, PrepareOutputDir(dir))
	require.NoError(t, PrepareOutputDir(dir))

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Empty(t, listDir(t, dir))
}

func TestPrepareOutputDir_RemovesFilesNotSubdirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.json"), []byte("[]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.csv"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "keep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "keep", "nested.json"), []byte("{}"), 0o644))

	require.NoError(t, PrepareOutputDir(dir))

	assert.Equal(t, []string{"keep"}, listDir(t, dir))
	_, err := os.Stat(filepath.Join(dir, "keep", "nested.json"))
	assert.NoError(t, err)
}

func TestPrepareOutputDir_PathIsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	err := PrepareOutputDir(path)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeIO))
}

func testSet() *Set {
	return &Set{
		Sample: []model.SampleRow{{
			{Name: "tpep_pickup_datetime", Value: int64(1704096900000)},
			{Name: "trip_distance", Value: 2.0},
		}},
		Summary: []model.HourlySummary{{PickupHour: 8, AvgDistance: 3, AvgAmount: 15, TotalTrips: 2}},
	}
}

func TestPublish_WritesExactlyTwoFiles(t *testing.T) {
	dir := t.TempDir()

	pub, err := Publish(dir, testSet())
	require.NoError(t, err)

	assert.Equal(t, []string{SampleFile, SummaryFile}, listDir(t, dir))
	onDisk, err := os.ReadFile(pub.SummaryPath)
	require.NoError(t, err)
	assert.Equal(t, pub.SummaryData, onDisk)
	assert.Equal(t, "[\n  {\n    \"pickup_hour\": 8,\n    \"avg_distance\": 3,\n    \"avg_amount\": 15,\n    \"total_trips\": 2\n  }\n]\n", string(onDisk))
}

func TestPublish_EmptySetIsEmptyArrays(t *testing.T) {
	dir := t.TempDir()

	_, err := Publish(dir, &Set{})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, SampleFile))
	require.NoError(t, err)
	assert.Equal(t, "[]\n", string(data))
}

func TestPublish_FailureLeavesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")

	_, err := Publish(dir, testSet())
	require.Error(t, err)
	_, statErr := os.Stat(dir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPublish_SummaryRenameFailureRemovesSample(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory in the way makes the summary rename fail.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, SummaryFile, "x"), 0o755))

	_, err := Publish(dir, testSet())
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, SampleFile))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temporary files are cleaned up")
	assert.Equal(t, SummaryFile, entries[0].Name())
}

func TestLoad_RoundTripAndNoData(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadSummary(dir)
	assert.ErrorIs(t, err, ErrNoData)
	_, err = LoadSample(dir)
	assert.ErrorIs(t, err, ErrNoData)

	_, err = Publish(dir, testSet())
	require.NoError(t, err)

	summary, err := LoadSummary(dir)
	require.NoError(t, err)
	assert.Equal(t, testSet().Summary, summary)

	sample, err := LoadSample(dir)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	assert.Equal(t, []string{"tpep_pickup_datetime", "trip_distance"}, sample[0].Names())
}

func TestLoad_CorruptArtifact(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, SummaryFile), []byte("{half"), 0o644))

	_, err := LoadSummary(dir)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeParse))
}

func TestAcquire_SecondHolderIsLocked(t *testing.T) {
	out := filepath.Join(t.TempDir(), "results")

	first, err := Acquire(out)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(out), ".results.lock"), first.Path())

	_, err = Acquire(out)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeLocked))

	require.NoError(t, first.Release())
	again, err := Acquire(out)
	require.NoError(t, err)
	require.NoError(t, again.Release())
}

type recordingUploader struct {
	keys []string
}

func (r *recordingUploader) Put(_ context.Context, key string, _ []byte, contentType string) error {
	r.keys = append(r.keys, key+"|"+contentType)
	return nil
}

func TestMirror(t *testing.T) {
	pub, err := Publish(t.TempDir(), testSet())
	require.NoError(t, err)

	up := &recordingUploader{}
	require.NoError(t, Mirror(context.Background(), up, "taxi/latest", pub))
	assert.Equal(t, []string{
		"taxi/latest/data.json|application/json",
		"taxi/latest/summary.json|application/json",
	}, up.keys)
}
