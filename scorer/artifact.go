package scorer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"predictive-maintenance/machine"
	"predictive-maintenance/utils"
)

// Kind names a model family.
type Kind string

const (
	KindKNN      Kind = "knn"
	KindLogistic Kind = "logistic"
	KindRemote   Kind = "remote"
)

// Model is a scorer that can be trained locally and saved as an artifact.
type Model interface {
	Fit(X [][]float64, y []int) error
	PredictProbability(features []float64) (float64, error)
}

// NewModel returns an untrained model of kind.
func NewModel(kind Kind) (Model, error) {
	switch kind {
	case KindKNN:
		return NewKNN(DefaultNeighbours), nil
	case KindLogistic:
		return NewLogistic(), nil
	case KindRemote:
		return nil, fmt.Errorf("%w: %s", ErrNotTrainable, kind)
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownModel, kind)
	}
}

// Artifact is the on-disk form of a trained model.
type Artifact struct {
	Name         string          `json:"name"`
	Kind         Kind            `json:"kind"`
	TrainedAt    time.Time       `json:"trained_at"`
	FeatureNames []string        `json:"feature_names"`
	Metrics      *Metrics        `json:"metrics,omitempty"`
	Model        json.RawMessage `json:"model"`
}

// ArtifactPath returns the file a model named name is stored in.
func ArtifactPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

// SaveModel writes a trained model to <dir>/<name>.json atomically.
func SaveModel(dir, name string, model Model, metrics *Metrics) (string, error) {
	var (
		kind  Kind
		state any
	)
	switch m := model.(type) {
	case *KNN:
		kind, state = KindKNN, m.state()
	case *Logistic:
		kind, state = KindLogistic, m.state()
	default:
		return "", fmt.Errorf("%w: %T", ErrNotTrainable, model)
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode model: %w", err)
	}
	artifact := Artifact{
		Name:         name,
		Kind:         kind,
		TrainedAt:    time.Now().UTC(),
		FeatureNames: machine.NumericFeatures,
		Metrics:      metrics,
		Model:        raw,
	}
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	path := ArtifactPath(dir, name)
	if err := utils.WriteFileAtomic(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadArtifact reads an artifact file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model artifact: %w", err)
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("unable to parse model artifact %s: %w", path, err)
	}
	if len(artifact.FeatureNames) > 0 && !sameNames(artifact.FeatureNames, machine.NumericFeatures) {
		return nil, fmt.Errorf("artifact %s was trained on features %v, expected %v",
			path, artifact.FeatureNames, machine.NumericFeatures)
	}
	return &artifact, nil
}

// Build restores the trained model held by the artifact.
func (a *Artifact) Build() (Model, error) {
	switch a.Kind {
	case KindKNN:
		var state knnState
		if err := json.Unmarshal(a.Model, &state); err != nil {
			return nil, fmt.Errorf("unable to parse knn model: %w", err)
		}
		m := NewKNN(state.K)
		if err := m.restore(state); err != nil {
			return nil, err
		}
		return m, nil
	case KindLogistic:
		var state logisticState
		if err := json.Unmarshal(a.Model, &state); err != nil {
			return nil, fmt.Errorf("unable to parse logistic model: %w", err)
		}
		m := NewLogistic()
		if err := m.restore(state); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: kind %q", ErrUnknownModel, a.Kind)
	}
}

func sameNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
