package exports

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"predictive-maintenance/utils"
)

// Record describes one written risk report.
type Record struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Page      int       `json:"page"`
	Entries   int       `json:"entries"`
	Model     string    `json:"model,omitempty"`
	Version   uint64    `json:"registry_version"`
}

// Log is a JSON file listing every export.
type Log struct {
	path string
	mu   sync.RWMutex
}

func NewLog(path string) *Log {
	return &Log{path: path}
}

// loadInternal reads all records (without lock).
func (l *Log) loadInternal() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading export log: %w", err)
	}
	if len(data) == 0 {
		return []Record{}, nil
	}

	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("error unmarshaling export log: %w", err)
	}
	return records, nil
}

// List returns every record, newest first.
func (l *Log) List() ([]Record, error) {
	l.mu.RLock()
	records, err := l.loadInternal()
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp.After(records[j].Timestamp) })
	return records, nil
}

// Append stores record, filling in its id and timestamp when unset.
func (l *Log) Append(record *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.loadInternal()
	if err != nil {
		return err
	}

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	records = append(records, *record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling export log: %w", err)
	}
	return utils.WriteFileAtomic(l.path, data, 0644)
}
