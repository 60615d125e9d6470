package runner

import (
	"errors"
	"fmt"
)

// ErrRunInProgress is returned when a run is requested while another run
// holds the run lock.
var ErrRunInProgress = errors.New("ranking run already in progress")

// Outcome describes what a failed run left behind in the store.
type Outcome string

const (
	// OutcomeNothingWritten means neither history nor current scores changed.
	OutcomeNothingWritten Outcome = "nothing_written"
	// OutcomeHistoryOnly means history rows were written but the current
	// scores were not updated. Replaying the run's history recovers it.
	OutcomeHistoryOnly Outcome = "history_written_scores_not_updated"
)

// RunError reports the stage at which a run failed and what it left behind.
type RunError struct {
	Stage   State
	Outcome Outcome
	RunID   string
	Err     error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("ranking run %s failed while %s (%s): %v", e.RunID, e.Stage, e.Outcome, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}
