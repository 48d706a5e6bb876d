// Package ledger records pipeline runs so the CLI and the viewer can show
// what ran, when, and how it ended.
package ledger

import (
	"context"
	"sort"

	"github.com/taxiflow/taxiflow/internal/model"
)

// Backend stores run records. Save is called when a run starts and again
// when it finishes; the later record replaces the earlier one.
type Backend interface {
	Save(ctx context.Context, rec *model.RunRecord) error

	// List returns up to limit records, most recent start first.
	List(ctx context.Context, limit int) ([]model.RunRecord, error)

	// Name returns the backend name for logging.
	Name() string

	Close() error
}

// Nop discards every record.
type Nop struct{}

func (Nop) Save(context.Context, *model.RunRecord) error { return nil }

func (Nop) List(context.Context, int) ([]model.RunRecord, error) { return nil, nil }

func (Nop) Name() string { return "none" }

func (Nop) Close() error { return nil }

// newestFirst sorts records by start time descending, breaking ties by ID
// so the order is stable.
func newestFirst(recs []model.RunRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].StartedAt.After(recs[j].StartedAt)
	})
}

func truncate(recs []model.RunRecord, limit int) []model.RunRecord {
	if limit > 0 && len(recs) > limit {
		return recs[:limit]
	}
	return recs
}
