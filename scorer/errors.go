package scorer

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned by models used before Fit or Load.
	ErrNotTrained = errors.New("model is not trained")
	// ErrUnknownModel is returned for names absent from the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrNotTrainable is returned by scorers that cannot be fit locally.
	ErrNotTrainable = errors.New("model cannot be trained locally")
)

// DimensionError reports a feature vector of the wrong length.
type DimensionError struct {
	Got  int
	Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("feature vector has %d values, expected %d", e.Got, e.Want)
}

func validateTrainingSet(X [][]float64, y []int) error {
	if len(X) == 0 {
		return errors.New("training set is empty")
	}
	if len(X) != len(y) {
		return fmt.Errorf("training set has %d samples but %d labels", len(X), len(y))
	}
	for i, label := range y {
		if label != 0 && label != 1 {
			return fmt.Errorf("label %d at sample %d is not 0 or 1", label, i)
		}
	}
	return nil
}
