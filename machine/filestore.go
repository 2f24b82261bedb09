package machine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"predictive-maintenance/utils"
)

const recordExt = ".json"

// FileStore keeps one JSON file per machine under a directory.
type FileStore struct {
	dir string
}

// NewFileStore returns a store rooted at dir, creating it when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := utils.CreateFolder(dir); err != nil {
		return nil, &utils.IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &FileStore{dir: filepath.Clean(dir)}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	return filepath.Join(s.dir, key+recordExt)
}

func (s *FileStore) Put(_ context.Context, key string, data []byte) error {
	if err := ValidateID(key); err != nil {
		return err
	}
	return utils.WriteFileAtomic(s.path(key), data, 0644)
}

func (s *FileStore) List(_ context.Context) ([]StoredRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading profile directory: %w", err)
	}

	var records []StoredRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || filepath.Ext(name) != recordExt {
			continue
		}
		key := strings.TrimSuffix(name, recordExt)
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		records = append(records, StoredRecord{Key: key, Data: data, Err: err})
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}

// ReplaceAll writes records into a sibling staging directory and swaps it in
// with renames, so a failure while writing leaves the current directory intact.
func (s *FileStore) ReplaceAll(_ context.Context, records []StoredRecord) error {
	stamp := time.Now().UnixNano()
	staging := fmt.Sprintf("%s.staging-%d", s.dir, stamp)
	if err := utils.CreateFolder(staging); err != nil {
		return &utils.IOError{Op: "mkdir", Path: staging, Err: err}
	}

	for _, rec := range records {
		if err := ValidateID(rec.Key); err != nil {
			os.RemoveAll(staging)
			return err
		}
		if err := os.WriteFile(filepath.Join(staging, rec.Key+recordExt), rec.Data, 0644); err != nil {
			os.RemoveAll(staging)
			return &utils.IOError{Op: "write", Path: staging, Err: err}
		}
	}

	retired := fmt.Sprintf("%s.old-%d", s.dir, stamp)
	hadCurrent := true
	if err := os.Rename(s.dir, retired); err != nil {
		if !os.IsNotExist(err) {
			os.RemoveAll(staging)
			return &utils.IOError{Op: "rename", Path: s.dir, Err: err}
		}
		hadCurrent = false
	}

	if err := os.Rename(staging, s.dir); err != nil {
		if hadCurrent {
			os.Rename(retired, s.dir)
		}
		os.RemoveAll(staging)
		return &utils.IOError{Op: "rename", Path: staging, Err: err}
	}

	if hadCurrent {
		if err := os.RemoveAll(retired); err != nil {
			utils.GetLogger().Warn("failed to remove retired profile directory", "path", retired, "error", err)
		}
	}
	return nil
}
