// Package acquire makes sure a raw trip dataset exists locally, fetching it
// from Kaggle, a plain URL or S3 when the input directory has none.
package acquire

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/taxiflow/taxiflow/pkg/config"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/storage/s3"
)

// Fetcher downloads a dataset into a directory.
type Fetcher interface {
	// Name identifies the source in logs.
	Name() string
	// Fetch writes the dataset into dir and returns the files it created.
	Fetch(ctx context.Context, dir string) ([]string, error)
}

// ProgressFunc returns a writer that tracks a download of total bytes
// (-1 when unknown).
type ProgressFunc func(total int64, label string) io.Writer

// Acquirer ensures the input directory holds a dataset.
type Acquirer struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// New creates an Acquirer for fetcher.
func New(fetcher Fetcher, logger *slog.Logger) *Acquirer {
	return &Acquirer{fetcher: fetcher, logger: logging.OrDiscard(logger)}
}

// FromConfig builds the fetcher selected by cfg.Source.
func FromConfig(ctx context.Context, cfg config.AcquireConfig, progress ProgressFunc, logger *slog.Logger) (*Acquirer, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	dl := &downloader{timeout: timeout, progress: progress}

	var f Fetcher
	switch cfg.Source {
	case "", "kaggle":
		f = &KaggleFetcher{
			BaseURL:  cfg.Kaggle.BaseURL,
			Dataset:  cfg.Dataset,
			Username: cfg.Kaggle.Username,
			Key:      cfg.Kaggle.Key,
			dl:       dl,
		}
	case "http":
		f = &HTTPFetcher{URL: cfg.URL, Token: cfg.Token, dl: dl}
	case "s3":
		bucket, key, err := s3.ParseURI(cfg.URL)
		if err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodeConfig, "acquire.url")
		}
		s3cfg := s3.DefaultConfig(bucket, cfg.S3.Region)
		s3cfg.Endpoint = cfg.S3.Endpoint
		s3cfg.UsePathStyle = cfg.S3.UsePathStyle
		s3cfg.AccessKeyID = cfg.S3.AccessKeyID
		s3cfg.SecretAccessKey = cfg.S3.SecretAccessKey
		s3cfg.DownloadTimeout = timeout
		client, err := s3.NewClient(ctx, s3cfg)
		if err != nil {
			return nil, err
		}
		f = &S3Fetcher{Client: client, Bucket: bucket, Key: key, progress: progress}
	default:
		return nil, tferrors.Newf(tferrors.CodeConfig, "unknown acquire source %q", cfg.Source)
	}
	return New(f, logger), nil
}

// HasDataset reports whether dir directly contains a CSV or Parquet file.
func HasDataset(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, tferrors.WrapFS(err, "list input directory").WithContext("dir", dir)
	}
	for _, e := range entries {
		if e.Type().IsRegular() && ingest.IsInputFile(e.Name()) {
			return true, nil
		}
	}
	return false, nil
}

// EnsureDataset fetches the dataset into dir unless a qualifying file is
// already there. Nothing is retried.
func (a *Acquirer) EnsureDataset(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tferrors.WrapFS(err, "create input directory").WithContext("dir", dir)
	}

	ok, err := HasDataset(dir)
	if err != nil {
		return err
	}
	if ok {
		a.logger.Info("dataset already present", "dir", dir)
		return nil
	}

	a.logger.Info("fetching dataset", "source", a.fetcher.Name(), "dir", dir)
	start := time.Now()
	files, err := a.fetcher.Fetch(ctx, dir)
	if err != nil {
		return err
	}
	a.logger.Info("dataset fetched", "source", a.fetcher.Name(), "files", len(files), "duration", time.Since(start))

	if ok, err := HasDataset(dir); err != nil {
		return err
	} else if !ok {
		return tferrors.New(tferrors.CodeInputNotFound, "fetched dataset contains no csv or parquet file").
			WithContext("source", a.fetcher.Name()).
			WithContext("files", files)
	}
	return nil
}
