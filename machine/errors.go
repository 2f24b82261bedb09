package machine

import (
	"errors"
	"fmt"
)

// ErrInvalidMachineID is returned for ids that cannot key a durable record.
var ErrInvalidMachineID = errors.New("invalid machine id")

// InvalidFeatureError reports a feature value that cannot be coerced to its
// required numeric type.
type InvalidFeatureError struct {
	Feature string
	Value   any
	Reason  string
}

func (e *InvalidFeatureError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid value %v for feature %s: %s", e.Value, e.Feature, e.Reason)
	}
	return fmt.Sprintf("invalid value %v for feature %s", e.Value, e.Feature)
}

// CorruptRecordError reports a durable record that cannot be turned back into a profile.
type CorruptRecordError struct {
	Key string
	Err error
}

func (e *CorruptRecordError) Error() string {
	return fmt.Sprintf("corrupt profile record %q: %v", e.Key, e.Err)
}

func (e *CorruptRecordError) Unwrap() error { return e.Err }

// UnknownMachineError is returned when an operation names a machine that is not registered.
type UnknownMachineError struct {
	ID string
}

func (e *UnknownMachineError) Error() string {
	return fmt.Sprintf("unknown machine %q", e.ID)
}
