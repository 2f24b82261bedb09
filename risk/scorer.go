package risk

import (
	"errors"
	"fmt"
)

// Scorer maps a feature vector in canonical order to a failure probability.
type Scorer interface {
	PredictProbability(features []float64) (float64, error)
}

// Identified scorers report an identity that changes whenever their
// predictions may change. Rankings are only cached for such scorers.
type Identified interface {
	Identity() string
}

// ErrNoScorer is returned when ranking is requested without a loaded scorer.
var ErrNoScorer = errors.New("no scorer loaded")

// ScoringError reports a scorer failure for one machine.
type ScoringError struct {
	MachineID string
	Err       error
}

func (e *ScoringError) Error() string {
	if e.MachineID == "" {
		return fmt.Sprintf("scoring failed: %v", e.Err)
	}
	return fmt.Sprintf("scoring machine %s failed: %v", e.MachineID, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }
