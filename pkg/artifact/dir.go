// Package artifact manages the output directory: preparing it, locking it
// against concurrent runs, publishing the two artifacts atomically and
// loading them back for the viewer.
package artifact

import (
	"os"
	"path/filepath"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// Artifact file names inside the output directory.
const (
	SampleFile  = "data.json"
	SummaryFile = "summary.json"
)

// PrepareOutputDir creates path if needed and removes every non-directory
// entry directly inside it. Subdirectories are left alone.
func PrepareOutputDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return tferrors.WrapFS(err, "create output directory").WithContext("path", path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return tferrors.WrapFS(err, "list output directory").WithContext("path", path)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		target := filepath.Join(path, entry.Name())
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return tferrors.WrapFS(err, "remove stale output").WithContext("path", target)
		}
	}
	return nil
}
