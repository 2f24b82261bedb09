package scorer

// Feature scaling
//
// Raw sensor features live on very different scales (rotational speed in the
// thousands, torque in tens, temperatures around 300). Without standardisation
// the speed column dominates every euclidean distance and every gradient step,
// so both the KNN and the logistic model score on z-scores.

import (
	"errors"
	"math"
)

// FeatureScaler standardizes features using z-score normalization.
// Each feature dimension is transformed to have mean=0 and std=1.
type FeatureScaler struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// NewFeatureScaler computes scaling parameters from a training matrix.
func NewFeatureScaler(X [][]float64) (*FeatureScaler, error) {
	if len(X) == 0 {
		return nil, errors.New("no samples provided")
	}

	featureCount := len(X[0])
	if featureCount == 0 {
		return nil, errors.New("samples have no features")
	}

	mean := make([]float64, featureCount)
	for _, row := range X {
		if len(row) != featureCount {
			return nil, errors.New("inconsistent feature dimensions")
		}
		for i, val := range row {
			mean[i] += val
		}
	}
	for i := range mean {
		mean[i] /= float64(len(X))
	}

	stddev := make([]float64, featureCount)
	for _, row := range X {
		for i, val := range row {
			diff := val - mean[i]
			stddev[i] += diff * diff
		}
	}
	for i := range stddev {
		stddev[i] = math.Sqrt(stddev[i] / float64(len(X)))
		// Prevent division by zero for constant features
		if stddev[i] < 1e-10 {
			stddev[i] = 1.0
		}
	}

	return &FeatureScaler{Mean: mean, Stddev: stddev}, nil
}

// Transform applies z-score standardization to a feature vector.
func (fs *FeatureScaler) Transform(features []float64) ([]float64, error) {
	if len(features) != len(fs.Mean) {
		return nil, &DimensionError{Got: len(features), Want: len(fs.Mean)}
	}

	scaled := make([]float64, len(features))
	for i, val := range features {
		scaled[i] = (val - fs.Mean[i]) / fs.Stddev[i]
	}
	return scaled, nil
}
