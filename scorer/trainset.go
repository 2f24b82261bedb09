package scorer

import (
	"fmt"
	"strconv"
	"strings"

	"predictive-maintenance/ingest"
	"predictive-maintenance/machine"
)

// LoadTrainingSet reads a processed dataset into a feature matrix in
// canonical order and the failure labels.
func LoadTrainingSet(path string) ([][]float64, []int, error) {
	ds, err := ingest.ReadCSV(path)
	if err != nil {
		return nil, nil, err
	}
	header, err := ingest.NormalizeHeader(ds.Header)
	if err != nil {
		return nil, nil, err
	}
	ds.Header = header

	cols := make([]int, len(machine.FeatureNames))
	for i, name := range machine.FeatureNames {
		cols[i] = ds.Column(name)
	}

	X := make([][]float64, 0, len(ds.Rows))
	y := make([]int, 0, len(ds.Rows))
	for n, cells := range ds.Rows {
		if len(cells) != len(header) {
			return nil, nil, fmt.Errorf("line %d has %d fields, expected %d", n+2, len(cells), len(header))
		}
		raw := make(map[string]any, len(cols))
		for i, name := range machine.FeatureNames {
			raw[name] = strings.TrimSpace(cells[cols[i]])
		}
		// Normalize accepts "1" but not "1.0" for the flag
		if f, err := strconv.ParseFloat(raw[machine.FeatureFailure].(string), 64); err == nil {
			raw[machine.FeatureFailure] = f
		}
		features, err := machine.Normalize(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", n+2, err)
		}
		X = append(X, features.Vector())
		y = append(y, features.Failure)
	}
	if len(X) == 0 {
		return nil, nil, fmt.Errorf("training set %s is empty", path)
	}
	return X, y, nil
}
