package scorer

import (
	"math"
	"sync"
)

// Logistic is a class-balanced logistic regression on standardised features.
type Logistic struct {
	mu           sync.RWMutex
	epochs       int
	learningRate float64
	l2           float64

	weights []float64
	bias    float64
	scaler  *FeatureScaler
}

type logisticState struct {
	Weights []float64      `json:"weights"`
	Bias    float64        `json:"bias"`
	Scaler  *FeatureScaler `json:"scaler"`
}

// NewLogistic returns an untrained model with default optimiser settings.
func NewLogistic() *Logistic {
	return &Logistic{epochs: 500, learningRate: 0.1, l2: 1e-4}
}

// Fit trains by batch gradient descent. Each class contributes equally to the
// loss regardless of how rare failures are.
func (m *Logistic) Fit(X [][]float64, y []int) error {
	if err := validateTrainingSet(X, y); err != nil {
		return err
	}
	scaler, err := NewFeatureScaler(X)
	if err != nil {
		return err
	}

	scaled := make([][]float64, len(X))
	positives := 0
	for i, row := range X {
		if scaled[i], err = scaler.Transform(row); err != nil {
			return err
		}
		positives += y[i]
	}
	negatives := len(y) - positives

	classWeight := [2]float64{1, 1}
	if positives > 0 && negatives > 0 {
		n := float64(len(y))
		classWeight[0] = n / (2 * float64(negatives))
		classWeight[1] = n / (2 * float64(positives))
	}

	dims := len(scaler.Mean)
	weights := make([]float64, dims)
	var bias float64
	grad := make([]float64, dims)
	n := float64(len(y))

	for epoch := 0; epoch < m.epochs; epoch++ {
		for j := range grad {
			grad[j] = 0
		}
		var gradBias float64
		for i, row := range scaled {
			residual := (sigmoid(dot(weights, row)+bias) - float64(y[i])) * classWeight[y[i]]
			for j, v := range row {
				grad[j] += residual * v
			}
			gradBias += residual
		}
		for j := range weights {
			weights[j] -= m.learningRate * (grad[j]/n + m.l2*weights[j])
		}
		bias -= m.learningRate * gradBias / n
	}

	m.mu.Lock()
	m.weights = weights
	m.bias = bias
	m.scaler = scaler
	m.mu.Unlock()
	return nil
}

// PredictProbability returns the sigmoid of the linear score.
func (m *Logistic) PredictProbability(features []float64) (float64, error) {
	m.mu.RLock()
	weights, bias, scaler := m.weights, m.bias, m.scaler
	m.mu.RUnlock()

	if scaler == nil {
		return 0, ErrNotTrained
	}
	scaled, err := scaler.Transform(features)
	if err != nil {
		return 0, err
	}
	return sigmoid(dot(weights, scaled) + bias), nil
}

func (m *Logistic) state() logisticState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return logisticState{Weights: m.weights, Bias: m.bias, Scaler: m.scaler}
}

func (m *Logistic) restore(s logisticState) error {
	if s.Scaler == nil {
		return ErrNotTrained
	}
	if len(s.Weights) != len(s.Scaler.Mean) {
		return &DimensionError{Got: len(s.Weights), Want: len(s.Scaler.Mean)}
	}
	m.mu.Lock()
	m.weights = s.Weights
	m.bias = s.Bias
	m.scaler = s.Scaler
	m.mu.Unlock()
	return nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
