package history

import (
	"context"
	"fmt"
	"sync"
)

type historyKey struct {
	runID   string
	guideID int64
}

// MemorySink is an in-memory AtomicSink and Reader. Failures can be injected
// per operation for tests.
type MemorySink struct {
	mu      sync.RWMutex
	rows    []Record
	index   map[historyKey]struct{}
	current map[int64]float64

	appendErr error
	updateErr error
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		index:   make(map[historyKey]struct{}),
		current: make(map[int64]float64),
	}
}

// FailAppend makes AppendHistory and PersistRun fail with err. Nil clears it.
func (s *MemorySink) FailAppend(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendErr = err
}

// FailUpdate makes SetCurrentScores and PersistRun fail with err. Nil clears it.
func (s *MemorySink) FailUpdate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateErr = err
}

// AppendHistory implements Sink.
func (s *MemorySink) AppendHistory(ctx context.Context, records []Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, fmt.Errorf("%w: insert history: %w", ErrPersistenceFailure, s.appendErr)
	}
	return s.appendLocked(records), nil
}

// SetCurrentScores implements Sink. Every listed guide counts as updated.
func (s *MemorySink) SetCurrentScores(ctx context.Context, scores []CurrentScore) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, fmt.Errorf("%w: update current scores: %w", ErrPersistenceFailure, s.updateErr)
	}
	return s.setLocked(scores), nil
}

// PersistRun implements AtomicSink.
func (s *MemorySink) PersistRun(ctx context.Context, records []Record, scores []CurrentScore) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return 0, 0, fmt.Errorf("%w: insert history: %w", ErrPersistenceFailure, s.appendErr)
	}
	if s.updateErr != nil {
		return 0, 0, fmt.Errorf("%w: update current scores: %w", ErrPersistenceFailure, s.updateErr)
	}
	return s.appendLocked(records), s.setLocked(scores), nil
}

// RunRecords implements Reader.
func (s *MemorySink) RunRecords(ctx context.Context, runID string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return out, nil
}

// Rows returns a copy of all history rows in insertion order.
func (s *MemorySink) Rows() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Record(nil), s.rows...)
}

// RowsForGuide returns a copy of the history rows of one guide.
func (s *MemorySink) RowsForGuide(guideID int64) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, r := range s.rows {
		if r.GuideID == guideID {
			out = append(out, r)
		}
	}
	return out
}

// Current returns the live score of a guide.
func (s *MemorySink) Current(guideID int64) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.current[guideID]
	return v, ok
}

func (s *MemorySink) appendLocked(records []Record) int {
	inserted := 0
	for _, r := range records {
		k := historyKey{runID: r.RunID, guideID: r.GuideID}
		if _, exists := s.index[k]; exists {
			continue
		}
		s.index[k] = struct{}{}
		s.rows = append(s.rows, r)
		inserted++
	}
	return inserted
}

func (s *MemorySink) setLocked(scores []CurrentScore) int {
	for _, sc := range scores {
		s.current[sc.GuideID] = sc.Score
	}
	return len(scores)
}
