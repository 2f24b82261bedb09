package machine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// legacyTimeLayout is the timestamp layout of records written by earlier tooling.
const legacyTimeLayout = "2006-01-02 15:04:05"

type record struct {
	MachineID   *string         `json:"machine_id"`
	MachineType *string         `json:"machine_type"`
	Features    map[string]any  `json:"features"`
	CreatedAt   json.RawMessage `json:"created_at"`
	LastUpdated json.RawMessage `json:"last_updated"`
}

// Marshal dumps a profile into its durable record form.
func Marshal(p Profile) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile %s: %w", p.MachineID, err)
	}
	return append(data, '\n'), nil
}

// Unmarshal restores a profile from its durable record. key names the record
// for error reporting.
func Unmarshal(key string, data []byte) (Profile, error) {
	corrupt := func(err error) (Profile, error) {
		return Profile{}, &CorruptRecordError{Key: key, Err: err}
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()

	var rec record
	if err := decoder.Decode(&rec); err != nil {
		return corrupt(err)
	}

	var missing []string
	if rec.MachineID == nil {
		missing = append(missing, "machine_id")
	}
	if rec.MachineType == nil {
		missing = append(missing, "machine_type")
	}
	if rec.Features == nil {
		missing = append(missing, "features")
	}
	if len(rec.CreatedAt) == 0 {
		missing = append(missing, "created_at")
	}
	if len(rec.LastUpdated) == 0 {
		missing = append(missing, "last_updated")
	}
	if len(missing) > 0 {
		return corrupt(fmt.Errorf("missing keys %v", missing))
	}

	if err := ValidateID(*rec.MachineID); err != nil {
		return corrupt(err)
	}

	features, err := Normalize(rec.Features)
	if err != nil {
		return corrupt(err)
	}

	createdAt, err := parseTimestamp(rec.CreatedAt)
	if err != nil {
		return corrupt(fmt.Errorf("created_at: %w", err))
	}
	lastUpdated, err := parseTimestamp(rec.LastUpdated)
	if err != nil {
		return corrupt(fmt.Errorf("last_updated: %w", err))
	}

	return Profile{
		MachineID:   *rec.MachineID,
		MachineType: *rec.MachineType,
		Features:    features,
		CreatedAt:   createdAt,
		LastUpdated: lastUpdated,
	}, nil
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return time.Time{}, err
	}
	if text == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return ts, nil
	}
	ts, err := time.ParseInLocation(legacyTimeLayout, text, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", text)
	}
	return ts, nil
}
