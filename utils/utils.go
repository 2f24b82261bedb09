package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetEnv returns the value of key or fallback when it is unset or empty.
func GetEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// CreateFolder creates folderPath and any missing parents.
func CreateFolder(folderPath string) error {
	return os.MkdirAll(folderPath, 0755)
}

// IOError reports a failed write to a durable destination. The destination is
// left as it was before the operation started.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// ErrUnsafeName is returned for client supplied file names that are not a
// bare file name.
var ErrUnsafeName = errors.New("file name must not contain a directory")

// JoinBaseName resolves name inside dir. name must be a plain file name: no
// separators, no parent references and not absolute.
func JoinBaseName(dir, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) ||
		filepath.IsAbs(name) || filepath.Base(name) != name || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return filepath.Join(dir, name), nil
}

// StagedFile is data written next to its destination but not yet visible
// there. Commit renames it into place; Discard removes it.
type StagedFile struct {
	path string
	temp string
}

// Path is the destination the file is committed to.
func (s *StagedFile) Path() string { return s.path }

// StageFile writes data to a temporary file beside path. A destination that is
// a directory fails here, before anything is committed.
func StageFile(path string, data []byte, perm os.FileMode) (*StagedFile, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := CreateFolder(dir); err != nil {
			return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, &IOError{Op: "create", Path: path, Err: errors.New("destination is a directory")}
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, &IOError{Op: "create", Path: path, Err: err}
	}
	tempPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tempPath)
		return nil, &IOError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tempPath)
		return nil, &IOError{Op: "close", Path: path, Err: err}
	}
	if err := os.Chmod(tempPath, perm); err != nil {
		os.Remove(tempPath)
		return nil, &IOError{Op: "chmod", Path: path, Err: err}
	}
	return &StagedFile{path: path, temp: tempPath}, nil
}

// Commit atomically replaces the destination with the staged data.
func (s *StagedFile) Commit() error {
	if err := os.Rename(s.temp, s.path); err != nil {
		os.Remove(s.temp)
		return &IOError{Op: "rename", Path: s.path, Err: err}
	}
	return nil
}

// Discard drops the staged data. The destination is left untouched.
func (s *StagedFile) Discard() {
	os.Remove(s.temp)
}

// WriteFileAtomic writes data next to path and renames it into place so
// readers never observe a partially written file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	staged, err := StageFile(path, data, perm)
	if err != nil {
		return err
	}
	return staged.Commit()
}
