package signals

import (
	"context"
	"sync"

	"github.com/astrokiran/guiderank/internal/ranking"
)

// MemorySource serves a fixed aggregate list. It is used for tests and dry runs.
type MemorySource struct {
	mu         sync.RWMutex
	aggregates []ranking.GuideAggregate
	testIDs    map[int64]bool
	err        error
}

// NewMemorySource creates a MemorySource holding a copy of aggs.
func NewMemorySource(aggs ...ranking.GuideAggregate) *MemorySource {
	s := &MemorySource{testIDs: make(map[int64]bool)}
	s.Set(aggs...)
	return s
}

// Name returns "memory".
func (s *MemorySource) Name() string { return "memory" }

// Set replaces the stored aggregates.
func (s *MemorySource) Set(aggs ...ranking.GuideAggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregates = append([]ranking.GuideAggregate(nil), aggs...)
}

// MarkTestAccount flags a guide as an internal test account.
func (s *MemorySource) MarkTestAccount(guideID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testIDs[guideID] = true
}

// FailWith makes subsequent fetches return err wrapped in ErrSourceUnavailable.
// A nil err clears the failure.
func (s *MemorySource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchAggregates returns the stored aggregates minus test and excluded guides.
func (s *MemorySource) FetchAggregates(ctx context.Context, req Request) ([]ranking.GuideAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.err != nil {
		return nil, wrapUnavailable("memory fetch", s.err)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapUnavailable("memory fetch", err)
	}

	out := make([]ranking.GuideAggregate, 0, len(s.aggregates))
	for _, a := range s.aggregates {
		if s.testIDs[a.GuideID] || req.excluded(a.GuideID) {
			continue
		}
		out = append(out, a)
	}
	if err := CheckAggregates(out); err != nil {
		return nil, err
	}
	return out, nil
}
