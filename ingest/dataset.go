package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"predictive-maintenance/utils"
)

// Dataset is a CSV table held as text cells. Numeric columns are parsed
// separately so unrelated columns pass through untouched.
type Dataset struct {
	Header []string
	Rows   [][]string
}

// ReadCSV loads a CSV file with a header row.
func ReadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &utils.IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	return readCSV(f)
}

func readCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dataset is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	ds := &Dataset{Header: header}
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(ds.Rows)+2, err)
		}
		ds.Rows = append(ds.Rows, record)
	}
	return ds, nil
}

// Column returns the index of name in the header, or -1.
func (d *Dataset) Column(name string) int {
	for i, col := range d.Header {
		if col == name {
			return i
		}
	}
	return -1
}

// Encode renders the dataset as CSV text.
func (d *Dataset) Encode() ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(d.Header); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	if err := writer.WriteAll(d.Rows); err != nil {
		return nil, fmt.Errorf("failed to encode rows: %w", err)
	}
	return buf.Bytes(), nil
}
