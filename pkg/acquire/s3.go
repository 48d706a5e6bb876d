package acquire

import (
	"context"
	"errors"
	"io"
	"path"

	"github.com/taxiflow/taxiflow/pkg/storage/s3"
)

// S3Fetcher downloads a single object. Zip objects are extracted.
type S3Fetcher struct {
	Client *s3.Client
	Bucket string
	Key    string

	progress ProgressFunc
}

// Name returns the object URI.
func (f *S3Fetcher) Name() string {
	return "s3://" + f.Bucket + "/" + f.Key
}

// Fetch downloads the object into dir.
func (f *S3Fetcher) Fetch(ctx context.Context, dir string) ([]string, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := f.Client.Download(ctx, f.Bucket, f.Key, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	name := path.Base(f.Key)
	tmp, err := saveTemp(dir, pr, -1, name, f.progress)
	pr.Close()
	derr := <-done
	if err != nil {
		// A failed download surfaces in saveTemp too; report the classified cause.
		if derr != nil && !errors.Is(derr, io.ErrClosedPipe) {
			return nil, derr
		}
		return nil, err
	}
	return place(tmp, dir, name)
}
