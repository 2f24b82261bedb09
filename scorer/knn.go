package scorer

// K-Nearest Neighbours failure scorer
//
// Every training sample becomes a labelled prototype. At prediction time the
// input is standardised with the training scaler, the k closest prototypes by
// euclidean distance are selected and each votes with weight 1/(d+eps). The
// failure probability is the weight share of failure-labelled neighbours, so
// it always lies in [0, 1].

import (
	"math"
	"sort"
	"sync"
)

// DefaultNeighbours is the k used when none is configured.
const DefaultNeighbours = 5

// Prototype is one labelled, scaled training sample.
type Prototype struct {
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

// KNN is a distance-weighted k-nearest-neighbour classifier.
type KNN struct {
	mu         sync.RWMutex
	k          int
	prototypes []Prototype
	scaler     *FeatureScaler
}

type knnState struct {
	K          int            `json:"k"`
	Prototypes []Prototype    `json:"prototypes"`
	Scaler     *FeatureScaler `json:"scaler"`
}

type distancePair struct {
	index    int
	distance float64
}

// NewKNN returns an untrained classifier using k neighbours.
func NewKNN(k int) *KNN {
	if k <= 0 {
		k = DefaultNeighbours
	}
	return &KNN{k: k}
}

// Fit stores the scaled training samples as prototypes.
func (m *KNN) Fit(X [][]float64, y []int) error {
	if err := validateTrainingSet(X, y); err != nil {
		return err
	}
	scaler, err := NewFeatureScaler(X)
	if err != nil {
		return err
	}

	prototypes := make([]Prototype, len(X))
	for i, row := range X {
		scaled, err := scaler.Transform(row)
		if err != nil {
			return err
		}
		prototypes[i] = Prototype{Features: scaled, Label: y[i]}
	}

	m.mu.Lock()
	m.prototypes = prototypes
	m.scaler = scaler
	m.mu.Unlock()
	return nil
}

// PredictProbability returns the weight share of failure neighbours.
func (m *KNN) PredictProbability(features []float64) (float64, error) {
	m.mu.RLock()
	k, prototypes, scaler := m.k, m.prototypes, m.scaler
	m.mu.RUnlock()

	if scaler == nil || len(prototypes) == 0 {
		return 0, ErrNotTrained
	}
	scaled, err := scaler.Transform(features)
	if err != nil {
		return 0, err
	}
	if k > len(prototypes) {
		k = len(prototypes)
	}

	distances := make([]distancePair, len(prototypes))
	for i := range prototypes {
		distances[i] = distancePair{index: i, distance: euclidean(scaled, prototypes[i].Features)}
	}
	// ties resolve by prototype order so predictions are repeatable
	sort.SliceStable(distances, func(i, j int) bool {
		return distances[i].distance < distances[j].distance
	})

	var failureWeight, totalWeight float64
	for _, neighbor := range distances[:k] {
		weight := 1.0 / (neighbor.distance + 1e-9) // Add a small epsilon to avoid division by zero
		if prototypes[neighbor.index].Label == 1 {
			failureWeight += weight
		}
		totalWeight += weight
	}
	if totalWeight == 0 {
		return 0, nil
	}
	return math.Min(1, failureWeight/totalWeight), nil
}

func euclidean(a, b []float64) float64 {
	var sum float64
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return math.Sqrt(sum)
}

func (m *KNN) state() knnState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return knnState{K: m.k, Prototypes: m.prototypes, Scaler: m.scaler}
}

func (m *KNN) restore(s knnState) error {
	if s.Scaler == nil || len(s.Prototypes) == 0 {
		return ErrNotTrained
	}
	for _, p := range s.Prototypes {
		if len(p.Features) != len(s.Scaler.Mean) {
			return &DimensionError{Got: len(p.Features), Want: len(s.Scaler.Mean)}
		}
	}
	if s.K <= 0 {
		s.K = DefaultNeighbours
	}

	m.mu.Lock()
	m.k = s.K
	m.prototypes = s.Prototypes
	m.scaler = s.Scaler
	m.mu.Unlock()
	return nil
}
