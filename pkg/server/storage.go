package server

import (
	"errors"
	"sync"
	"time"

	"github.com/taxiflow/taxiflow/internal/model"
	"github.com/taxiflow/taxiflow/pkg/artifact"
)

// ArtifactStore caches the published artifacts of one output directory.
// Reload replaces the cached copy; readers never see a half-loaded pair.
type ArtifactStore struct {
	mu  sync.RWMutex
	dir string

	sample     []model.SampleRow
	summary    []model.HourlySummary
	hasSample  bool
	hasSummary bool
	loadErr    error
	loadedAt   time.Time
}

// NewArtifactStore creates a store for dir. Call Reload to populate it.
func NewArtifactStore(dir string) *ArtifactStore {
	return &ArtifactStore{dir: dir}
}

// Reload reads both artifacts from disk. A missing artifact is not an
// error; a corrupt one is remembered and returned.
func (s *ArtifactStore) Reload() error {
	sample, sampleErr := artifact.LoadSample(s.dir)
	summary, summaryErr := artifact.LoadSummary(s.dir)

	var loadErr error
	for _, err := range []error{sampleErr, summaryErr} {
		if err != nil && !errors.Is(err, artifact.ErrNoData) {
			loadErr = err
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sample, s.hasSample = sample, sampleErr == nil
	s.summary, s.hasSummary = summary, summaryErr == nil
	s.loadErr = loadErr
	s.loadedAt = time.Now()
	return loadErr
}

// Sample returns the cached sample and whether it exists.
func (s *ArtifactStore) Sample() ([]model.SampleRow, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sample, s.hasSample, s.loadErr
}

// Summary returns the cached summary and whether it exists.
func (s *ArtifactStore) Summary() ([]model.HourlySummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, s.hasSummary, s.loadErr
}

// LoadedAt returns when the store was last reloaded.
func (s *ArtifactStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}
