package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// FileBackend appends run records as JSON lines. Reading replays the file
// and keeps the last record seen for each run ID. Writers in other
// processes are kept out by an flock on "<path>.lock".
type FileBackend struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
}

const lockRetry = 10 * time.Millisecond

// NewFileBackend creates the ledger file's directory if needed.
func NewFileBackend(path string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, tferrors.WrapFS(err, "create ledger directory").WithContext("path", path)
	}
	return &FileBackend{path: path, lock: flock.New(path + ".lock")}, nil
}

// withLock runs fn holding the file lock, shared for readers.
func (b *FileBackend) withLock(ctx context.Context, shared bool, fn func() error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if shared {
		_, err = b.lock.TryRLockContext(ctx, lockRetry)
	} else {
		_, err = b.lock.TryLockContext(ctx, lockRetry)
	}
	if err != nil {
		if ctx.Err() != nil {
			return tferrors.Canceled("lock ledger", ctx.Err())
		}
		return tferrors.WrapFS(err, "lock ledger").WithContext("path", b.lock.Path())
	}
	defer b.lock.Unlock()
	return fn()
}

// Save appends rec.
func (b *FileBackend) Save(ctx context.Context, rec *model.RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodeIO, "encode run record")
	}
	data = append(data, '\n')

	return b.withLock(ctx, false, func() error {
		f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return tferrors.WrapFS(err, "open ledger").WithContext("path", b.path)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return tferrors.WrapFS(err, "append ledger").WithContext("path", b.path)
		}
		return f.Close()
	})
}

// List replays the ledger.
func (b *FileBackend) List(ctx context.Context, limit int) ([]model.RunRecord, error) {
	var recs []model.RunRecord
	err := b.withLock(ctx, true, func() error {
		var err error
		recs, err = b.replay()
		return err
	})
	if err != nil {
		return nil, err
	}
	newestFirst(recs)
	return truncate(recs, limit), nil
}

func (b *FileBackend) replay() ([]model.RunRecord, error) {
	f, err := os.Open(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, tferrors.WrapFS(err, "open ledger").WithContext("path", b.path)
	}
	defer f.Close()

	latest := make(map[string]int)
	var recs []model.RunRecord

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var rec model.RunRecord
		// A torn final line from a crashed writer is skipped.
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.ID == "" {
			continue
		}
		if idx, ok := latest[rec.ID]; ok {
			recs[idx] = rec
			continue
		}
		latest[rec.ID] = len(recs)
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, tferrors.WrapFS(err, "read ledger").WithContext("path", b.path)
	}
	return recs, nil
}

// Name returns "file".
func (b *FileBackend) Name() string {
	return "file"
}

// Path returns the ledger file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Close is a no-op; the file is opened per call.
func (b *FileBackend) Close() error {
	return nil
}
