package machine

// Machine profiles
//
// A profile is the persisted state of one machine: identity, categorical type,
// the six sensor-derived features and two timestamps. Features are a fixed
// struct rather than a map, so every profile carries exactly the six keys the
// scorers expect. Raw input (CSV rows, JSON bodies, legacy records) is coerced
// through Normalize at every boundary.

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Canonical feature names.
const (
	FeatureAirTemp         = "air_temp"
	FeatureProcessTemp     = "process_temp"
	FeatureRotationalSpeed = "rotational_speed"
	FeatureTorque          = "torque"
	FeatureToolWear        = "tool_wear"
	FeatureFailure         = "failure"
)

// NumericFeatures lists the scored features in canonical vector order.
var NumericFeatures = []string{
	FeatureAirTemp,
	FeatureProcessTemp,
	FeatureRotationalSpeed,
	FeatureTorque,
	FeatureToolWear,
}

// FeatureNames lists every feature key, the failure flag last.
var FeatureNames = append(append([]string(nil), NumericFeatures...), FeatureFailure)

// Features holds the sensor-derived values of a machine.
type Features struct {
	AirTemp         float64 `json:"air_temp"`
	ProcessTemp     float64 `json:"process_temp"`
	RotationalSpeed float64 `json:"rotational_speed"`
	Torque          float64 `json:"torque"`
	ToolWear        float64 `json:"tool_wear"`
	Failure         int     `json:"failure"`
}

// Vector returns the five numeric features in canonical order.
func (f Features) Vector() []float64 {
	return []float64{f.AirTemp, f.ProcessTemp, f.RotationalSpeed, f.Torque, f.ToolWear}
}

// Map returns the features keyed by canonical name.
func (f Features) Map() map[string]any {
	return map[string]any{
		FeatureAirTemp:         f.AirTemp,
		FeatureProcessTemp:     f.ProcessTemp,
		FeatureRotationalSpeed: f.RotationalSpeed,
		FeatureTorque:          f.Torque,
		FeatureToolWear:        f.ToolWear,
		FeatureFailure:         f.Failure,
	}
}

// Profile is one machine of the managed population.
type Profile struct {
	MachineID   string    `json:"machine_id"`
	MachineType string    `json:"machine_type"`
	Features    Features  `json:"features"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// ValidateID checks that id can key a durable record.
func ValidateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidMachineID)
	}
	if id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidMachineID, id)
	}
	return nil
}

// Normalize coerces raw feature values into Features. Missing keys default to
// zero; a key outside FeatureNames or a present value that is not numeric
// fails with *InvalidFeatureError.
func Normalize(raw map[string]any) (Features, error) {
	if unknown := unknownKeys(raw); len(unknown) > 0 {
		return Features{}, &InvalidFeatureError{Feature: unknown[0], Value: raw[unknown[0]], Reason: "unknown feature"}
	}

	var f Features
	targets := []*float64{&f.AirTemp, &f.ProcessTemp, &f.RotationalSpeed, &f.Torque, &f.ToolWear}
	for i, name := range NumericFeatures {
		value, ok := raw[name]
		if !ok {
			continue
		}
		parsed, err := toFloat(name, value)
		if err != nil {
			return Features{}, err
		}
		*targets[i] = parsed
	}

	if value, ok := raw[FeatureFailure]; ok {
		flag, err := toFlag(value)
		if err != nil {
			return Features{}, err
		}
		f.Failure = flag
	}
	return f, nil
}

func unknownKeys(raw map[string]any) []string {
	var unknown []string
	for key := range raw {
		if !slices.Contains(FeatureNames, key) {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	return unknown
}

func toFloat(name string, value any) (float64, error) {
	var parsed float64
	switch v := value.(type) {
	case float64:
		parsed = v
	case float32:
		parsed = float64(v)
	case int:
		parsed = float64(v)
	case int32:
		parsed = float64(v)
	case int64:
		parsed = float64(v)
	case uint:
		parsed = float64(v)
	case uint64:
		parsed = float64(v)
	case bool:
		if v {
			parsed = 1
		}
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &InvalidFeatureError{Feature: name, Value: value, Reason: "not a number"}
		}
		parsed = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &InvalidFeatureError{Feature: name, Value: value, Reason: "not a number"}
		}
		parsed = f
	default:
		return 0, &InvalidFeatureError{Feature: name, Value: value, Reason: fmt.Sprintf("unsupported type %T", value)}
	}

	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, &InvalidFeatureError{Feature: name, Value: value, Reason: "not finite"}
	}
	return parsed, nil
}

// toFlag follows int() semantics: floats truncate, strings must be integers.
func toFlag(value any) (int, error) {
	var flag int
	switch v := value.(type) {
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, &InvalidFeatureError{Feature: FeatureFailure, Value: value, Reason: "not an integer"}
		}
		flag = parsed
	case json.Number:
		if parsed, err := v.Int64(); err == nil {
			flag = int(parsed)
			break
		}
		f, err := toFloat(FeatureFailure, v)
		if err != nil {
			return 0, err
		}
		flag = int(f)
	default:
		f, err := toFloat(FeatureFailure, value)
		if err != nil {
			return 0, err
		}
		flag = int(f)
	}

	if flag != 0 && flag != 1 {
		return 0, &InvalidFeatureError{Feature: FeatureFailure, Value: value, Reason: "must be 0 or 1"}
	}
	return flag, nil
}
