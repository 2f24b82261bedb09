package ingest

import (
	"fmt"
	"strings"

	"predictive-maintenance/machine"
)

// Identity columns of the raw dataset.
const (
	ColumnProductID = "Product ID"
	ColumnType      = "Type"
)

// CanonicalColumns maps cleaned AI4I column names to feature names.
var CanonicalColumns = map[string]string{
	"Air temperature K":     machine.FeatureAirTemp,
	"Process temperature K": machine.FeatureProcessTemp,
	"Rotational speed rpm":  machine.FeatureRotationalSpeed,
	"Torque Nm":             machine.FeatureTorque,
	"Tool wear min":         machine.FeatureToolWear,
	"Machine failure":       machine.FeatureFailure,
}

// RequiredColumns must all be present after renaming.
var RequiredColumns = append([]string{ColumnProductID, ColumnType}, machine.FeatureNames...)

// SchemaError reports required columns absent from the dataset.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("dataset is missing required columns: %s", strings.Join(e.Missing, ", "))
}

// CleanColumnName removes square brackets and surrounding whitespace.
func CleanColumnName(name string) string {
	name = strings.ReplaceAll(name, "[", "")
	name = strings.ReplaceAll(name, "]", "")
	return strings.TrimSpace(name)
}

// NormalizeHeader cleans every column name, renames the known ones and checks
// that the required columns exist.
func NormalizeHeader(header []string) ([]string, error) {
	normalized := make([]string, len(header))
	present := make(map[string]bool, len(header))
	for i, col := range header {
		name := CleanColumnName(col)
		if canonical, ok := CanonicalColumns[name]; ok {
			name = canonical
		}
		normalized[i] = name
		present[name] = true
	}

	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}
	return normalized, nil
}
