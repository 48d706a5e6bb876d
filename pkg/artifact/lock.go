package artifact

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// Lock is an advisory lock guarding one output directory.
type Lock struct {
	path string
	lock *flock.Flock
}

// LockPath returns the lock file used for outputDir. It sits beside the
// directory so that PrepareOutputDir never removes it.
func LockPath(outputDir string) string {
	clean := filepath.Clean(outputDir)
	return filepath.Join(filepath.Dir(clean), "."+filepath.Base(clean)+".lock")
}

// Acquire takes the lock for outputDir without blocking. A lock held by
// another process yields a LOCKED error.
func Acquire(outputDir string) (*Lock, error) {
	path := LockPath(outputDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, tferrors.WrapFS(err, "create lock directory").WithContext("path", path)
	}
	l := &Lock{path: path, lock: flock.New(path)}

	ok, err := l.lock.TryLock()
	if err != nil {
		return nil, tferrors.WrapFS(err, "acquire output lock").WithContext("path", path)
	}
	if !ok {
		return nil, tferrors.New(tferrors.CodeLocked, "output directory is in use by another run").
			WithContext("path", path)
	}
	return l, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. The lock file itself is kept.
func (l *Lock) Release() error {
	return l.lock.Unlock()
}
