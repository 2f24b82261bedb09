package machine

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeCoercesAllKeys(t *testing.T) {
	t.Parallel()

	features, err := Normalize(map[string]any{
		"air_temp":         "298.1",
		"process_temp":     308.6,
		"rotational_speed": 1551,
		"torque":           json.Number("42.8"),
		"tool_wear":        int64(108),
		"failure":          1.0,
	})
	require.NoError(t, err)

	assert.Equal(t, Features{
		AirTemp:         298.1,
		ProcessTemp:     308.6,
		RotationalSpeed: 1551,
		Torque:          42.8,
		ToolWear:        108,
		Failure:         1,
	}, features)
	assert.Len(t, features.Map(), len(FeatureNames))
}

func TestNormalizeMissingKeysDefaultToZero(t *testing.T) {
	t.Parallel()

	features, err := Normalize(map[string]any{"torque": 12.5})
	require.NoError(t, err)
	assert.Equal(t, Features{Torque: 12.5}, features)

	empty, err := Normalize(nil)
	require.NoError(t, err)
	assert.Equal(t, Features{}, empty)
}

func TestNormalizeRejectsMalformedValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		raw     map[string]any
		feature string
	}{
		{name: "text", raw: map[string]any{"air_temp": "hot"}, feature: "air_temp"},
		{name: "nil", raw: map[string]any{"torque": nil}, feature: "torque"},
		{name: "nan", raw: map[string]any{"tool_wear": math.NaN()}, feature: "tool_wear"},
		{name: "slice", raw: map[string]any{"process_temp": []float64{1}}, feature: "process_temp"},
		{name: "failure out of range", raw: map[string]any{"failure": 2}, feature: "failure"},
		{name: "failure text float", raw: map[string]any{"failure": "1.0"}, feature: "failure"},
		{name: "unknown key", raw: map[string]any{"tool_waer": 150}, feature: "tool_waer"},
		{name: "unknown beside valid", raw: map[string]any{"torque": 40.0, "Product ID": "M14860"}, feature: "Product ID"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.raw)
			require.Error(t, err)

			var invalid *InvalidFeatureError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tc.feature, invalid.Feature)
		})
	}
}

func TestNormalizeTruncatesFailureFloat(t *testing.T) {
	t.Parallel()

	features, err := Normalize(map[string]any{"failure": 1.7})
	require.NoError(t, err)
	assert.Equal(t, 1, features.Failure)
}

func TestFeatureVectorOrder(t *testing.T) {
	t.Parallel()

	f := Features{AirTemp: 1, ProcessTemp: 2, RotationalSpeed: 3, Torque: 4, ToolWear: 5, Failure: 1}
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, f.Vector())
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateID("M14860"))
	for _, id := range []string{"", "  ", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidMachineID, id)
	}
}
