package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// ErrNoData is returned by the loaders when an artifact has not been
// generated yet.
var ErrNoData = errors.New("artifact not generated yet")

// Set is the pair of artifacts produced by one run.
type Set struct {
	Sample  []model.SampleRow
	Summary []model.HourlySummary
}

// Published describes the files written by Publish.
type Published struct {
	SamplePath  string
	SummaryPath string
	SampleData  []byte
	SummaryData []byte
}

// Encode renders v as the artifact JSON: two-space indent and a trailing
// newline.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Publish writes both artifacts into dir. Each is first written to a
// temporary file in dir; the renames happen only after both writes
// succeeded, so a failed run never leaves a new artifact behind.
func Publish(dir string, set *Set) (*Published, error) {
	sample := set.Sample
	if sample == nil {
		sample = []model.SampleRow{}
	}
	summary := set.Summary
	if summary == nil {
		summary = []model.HourlySummary{}
	}

	sampleData, err := Encode(sample)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeIO, "encode sample artifact")
	}
	summaryData, err := Encode(summary)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeIO, "encode summary artifact")
	}

	sampleTmp, err := writeTemp(dir, SampleFile, sampleData)
	if err != nil {
		return nil, err
	}
	summaryTmp, err := writeTemp(dir, SummaryFile, summaryData)
	if err != nil {
		os.Remove(sampleTmp)
		return nil, err
	}

	out := &Published{
		SamplePath:  filepath.Join(dir, SampleFile),
		SummaryPath: filepath.Join(dir, SummaryFile),
		SampleData:  sampleData,
		SummaryData: summaryData,
	}
	if err := os.Rename(sampleTmp, out.SamplePath); err != nil {
		os.Remove(sampleTmp)
		os.Remove(summaryTmp)
		return nil, tferrors.WrapFS(err, "publish sample artifact").WithContext("path", out.SamplePath)
	}
	if err := os.Rename(summaryTmp, out.SummaryPath); err != nil {
		os.Remove(summaryTmp)
		// Never leave a sample without its summary.
		os.Remove(out.SamplePath)
		return nil, tferrors.WrapFS(err, "publish summary artifact").WithContext("path", out.SummaryPath)
	}
	return out, nil
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return "", tferrors.WrapFS(err, "create temporary artifact").WithContext("dir", dir)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", tferrors.WrapFS(err, "write temporary artifact").WithContext("path", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", tferrors.WrapFS(err, "sync temporary artifact").WithContext("path", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", tferrors.WrapFS(err, "close temporary artifact").WithContext("path", tmp)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", tferrors.WrapFS(err, "chmod temporary artifact").WithContext("path", tmp)
	}
	return tmp, nil
}

// LoadSample reads the sample artifact from dir.
func LoadSample(dir string) ([]model.SampleRow, error) {
	var rows []model.SampleRow
	if err := load(filepath.Join(dir, SampleFile), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// LoadSummary reads the summary artifact from dir.
func LoadSummary(dir string) ([]model.HourlySummary, error) {
	var rows []model.HourlySummary
	if err := load(filepath.Join(dir, SummaryFile), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNoData
		}
		return tferrors.WrapFS(err, "read artifact").WithContext("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return tferrors.ParseError(path, 0, err)
	}
	return nil
}
