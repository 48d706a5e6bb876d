package transform

import (
	"github.com/taxiflow/taxiflow/internal/model"
)

// HeadSampler keeps the first k rows it sees, in arrival order.
type HeadSampler struct {
	rows []model.SampleRow
	k    int
}

// NewHeadSampler creates a sampler for k rows. k <= 0 keeps nothing.
func NewHeadSampler(k int) *HeadSampler {
	if k < 0 {
		k = 0
	}
	capHint := k
	if capHint > 4096 {
		capHint = 4096
	}
	return &HeadSampler{rows: make([]model.SampleRow, 0, capHint), k: k}
}

// Wants reports whether the next row would be kept. Callers use it to
// avoid building sample rows once the sampler is full.
func (s *HeadSampler) Wants() bool {
	return len(s.rows) < s.k
}

// Add offers a row to the sampler.
func (s *HeadSampler) Add(row model.SampleRow) {
	if len(s.rows) < s.k {
		s.rows = append(s.rows, row)
	}
}

// Rows returns the kept rows.
func (s *HeadSampler) Rows() []model.SampleRow {
	return s.rows
}

