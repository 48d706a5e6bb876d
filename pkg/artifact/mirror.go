package artifact

import (
	"context"
	"path"
)

// Uploader stores an object under key.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// Mirror uploads both published artifacts under prefix. The local copies
// are authoritative; a mirror failure does not undo the publish.
func Mirror(ctx context.Context, up Uploader, prefix string, pub *Published) error {
	if err := up.Put(ctx, path.Join(prefix, SampleFile), pub.SampleData, "application/json"); err != nil {
		return err
	}
	return up.Put(ctx, path.Join(prefix, SummaryFile), pub.SummaryData, "application/json")
}
