package main

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taxiflow/taxiflow/pkg/artifact"
	"github.com/taxiflow/taxiflow/pkg/config"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/logging"
)

const tripsCSV = "tpep_pickup_datetime,tpep_dropoff_datetime,trip_distance,total_amount\n" +
	"2024-01-01 08:15:00,2024-01-01 08:30:00,2.0,10.0\n" +
	"2024-01-01 08:45:00,2024-01-01 09:05:00,4.0,20.0\n"

func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "taxiflow.yaml")
	body := "log:\n  level: error\n"
	if extra == "" {
		body += "ledger:\n  backend: none\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(body+extra), 0o644))
	return path
}

// execute runs the root command with fresh flag values and returns what it
// printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	in := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(in, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(in, "trips.csv"), []byte(tripsCSV), 0o644))
	return in
}

func TestProcessCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeDataset(t, dir)
	out := filepath.Join(dir, "results")

	_, err := execute(t, "process", "--config", writeConfig(t, dir, ""), "--input-dir", in, "--output-dir", out)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "summary.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"pickup_hour":8,"avg_distance":3,"avg_amount":15,"total_trips":2}]`, string(data))
	assert.Equal(t, out, cfg.Data.OutputDir)
}

func TestInvalidEngineFlag(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "process", "--config", writeConfig(t, dir, ""), "--engine", "spark", "--input-dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.default")
	assert.True(t, tferrors.IsCode(err, tferrors.CodeConfig))
}

func TestRunCommand_FetchesOverHTTP(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		io.WriteString(w, tripsCSV)
	}))
	defer srv.Close()

	dir := t.TempDir()
	in := filepath.Join(dir, "data")
	out := filepath.Join(dir, "results")
	conf := writeConfig(t, dir, "ledger:\n  backend: none\nacquire:\n  source: http\n  url: "+srv.URL+"/exports/trips.csv\n")

	_, err := execute(t, "run", "--config", conf, "--input-dir", in, "--output-dir", out, "--engine", "duckdb")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(in, "trips.csv"))
	assert.Equal(t, []string{artifact.SampleFile, artifact.SummaryFile}, listDir(t, out))

	// A second run finds the dataset and does not download again.
	_, err = execute(t, "run", "--config", conf, "--input-dir", in, "--output-dir", out)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestFetchCommand_DatasetPresent(t *testing.T) {
	dir := t.TempDir()
	in := writeDataset(t, dir)
	conf := writeConfig(t, dir, "ledger:\n  backend: none\nacquire:\n  source: http\n  url: http://127.0.0.1:1/trips.csv\n")

	printed, err := execute(t, "fetch", "--config", conf, "--input-dir", in)
	require.NoError(t, err)
	assert.Contains(t, printed, "dataset ready in "+in)
}

func TestFetchCommand_Unreachable(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir, "ledger:\n  backend: none\nacquire:\n  source: http\n  url: http://127.0.0.1:1/trips.csv\n")

	_, err := execute(t, "fetch", "--config", conf, "--input-dir", filepath.Join(dir, "data"))
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeNetwork), err.Error())
}

func TestSummaryCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "results")
	conf := writeConfig(t, dir, "")

	printed, err := execute(t, "summary", "--config", conf, "--output-dir", out)
	require.NoError(t, err)
	assert.Contains(t, printed, "no summary yet")

	_, err = execute(t, "process", "--config", conf, "--input-dir", writeDataset(t, dir), "--output-dir", out)
	require.NoError(t, err)

	printed, err = execute(t, "summary", "--config", conf, "--output-dir", out)
	require.NoError(t, err)
	assert.Contains(t, printed, "08:00")
	assert.Contains(t, printed, "15.00")
}

func TestSchemaCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeDataset(t, dir)
	conf := writeConfig(t, dir, "")

	printed, err := execute(t, "schema", "--config", conf, "--input-dir", in)
	require.NoError(t, err)
	assert.Contains(t, printed, "tpep_pickup_datetime")

	partial := filepath.Join(dir, "partial.csv")
	require.NoError(t, os.WriteFile(partial, []byte("tpep_pickup_datetime,trip_distance\n2024-01-01 08:15:00,2.0\n"), 0o644))
	_, err = execute(t, "schema", "--config", conf, partial)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeSchema))
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "results")
	book := filepath.Join(dir, "trips.xlsx")
	conf := writeConfig(t, dir, "")

	_, err := execute(t, "export", "--config", conf, "--output-dir", out, "--file", book)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeInputNotFound))

	_, err = execute(t, "process", "--config", conf, "--input-dir", writeDataset(t, dir), "--output-dir", out)
	require.NoError(t, err)

	printed, err := execute(t, "export", "--config", conf, "--output-dir", out, "--file", book)
	require.NoError(t, err)
	assert.FileExists(t, book)
	assert.Contains(t, printed, "wrote 2 sample rows and 1 hours")
}

func TestRunsCommand(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir, "ledger:\n  backend: file\n  path: "+filepath.Join(dir, "runs.jsonl")+"\n")

	printed, err := execute(t, "runs", "--config", conf)
	require.NoError(t, err)
	assert.Contains(t, printed, "no runs recorded (file ledger)")

	_, err = execute(t, "process", "--config", conf, "--input-dir", writeDataset(t, dir), "--output-dir", filepath.Join(dir, "results"))
	require.NoError(t, err)

	printed, err = execute(t, "runs", "--config", conf)
	require.NoError(t, err)
	assert.Contains(t, printed, "succeeded")
	assert.Contains(t, printed, "native")
}

func TestConfigInitCommand(t *testing.T) {
	dir := t.TempDir()
	conf := writeConfig(t, dir, "")
	target := filepath.Join(dir, "nested", "effective.yaml")

	printed, err := execute(t, "config", "init", target, "--config", conf)
	require.NoError(t, err)
	assert.Contains(t, printed, "wrote configuration to "+target)

	m := config.NewManager()
	require.NoError(t, m.Load(target))
	assert.Equal(t, "none", m.Get().Ledger.Backend)

	_, err = execute(t, "config", "init", target, "--config", conf)
	require.Error(t, err)
	assert.True(t, tferrors.IsCode(err, tferrors.CodeConfig))

	_, err = execute(t, "config", "init", target, "--config", conf, "--force")
	require.NoError(t, err)
}

func TestServe_ShutsDownWithOpenEventStream(t *testing.T) {
	dir := t.TempDir()
	cfg = config.Default()
	cfg.Data.OutputDir = filepath.Join(dir, "results")
	cfg.Ledger.Backend = "none"
	cfg.Server.RegenerateMode = "local"
	logger = logging.Discard()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	base := "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var printed bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, &printed) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/api/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Get(base + "/api/summary")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	stream, err := http.Get(base + "/api/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	line, err := bufio.NewReader(stream.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: ready\n", line)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return with an event stream open")
	}
	assert.Contains(t, printed.String(), "serving "+cfg.Data.OutputDir)
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
