package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"

	"predictive-maintenance/machine"
	"predictive-maintenance/risk"
	"predictive-maintenance/utils"
)

// utf8BOM lets spreadsheet tools detect the encoding.
const utf8BOM = "\ufeff"

// Header is the column order of exported reports.
var Header = append(append([]string{"machine_id", "type"}, machine.FeatureNames...), "risk_score")

// Exporter writes ranked entries as CSV.
type Exporter struct {
	// Decimals is the precision of float columns.
	Decimals int
	// BOM prefixes the file with a UTF-8 byte order mark.
	BOM bool
}

// NewExporter returns an exporter with two-decimal floats and a BOM.
func NewExporter() *Exporter {
	return &Exporter{Decimals: 2, BOM: true}
}

// Encode renders entries as CSV in the order given.
func (e *Exporter) Encode(entries []risk.Entry) ([]byte, error) {
	var buf bytes.Buffer
	if e.BOM {
		buf.WriteString(utf8BOM)
	}

	w := csv.NewWriter(&buf)
	if err := w.Write(Header); err != nil {
		return nil, fmt.Errorf("failed to encode header: %w", err)
	}
	for _, entry := range entries {
		f := entry.Features
		record := []string{
			entry.MachineID,
			entry.MachineType,
			e.float(f.AirTemp),
			e.float(f.ProcessTemp),
			e.float(f.RotationalSpeed),
			e.float(f.Torque),
			e.float(f.ToolWear),
			strconv.Itoa(f.Failure),
			e.float(entry.Score),
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", entry.MachineID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return buf.Bytes(), nil
}

// Export writes entries to dest atomically. On failure dest is left as it
// was and the error is a *utils.IOError.
func (e *Exporter) Export(entries []risk.Entry, dest string) error {
	data, err := e.Encode(entries)
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(dest, data, 0644)
}

func (e *Exporter) float(v float64) string {
	return strconv.FormatFloat(v, 'f', e.Decimals, 64)
}
