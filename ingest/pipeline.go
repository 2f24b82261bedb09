package ingest

// Ingestion pipeline
//
// Run turns a raw AI4I-style CSV into the live machine population:
//
//  1. column names are cleaned and the known ones renamed to feature names
//  2. rows whose numeric cells do not parse are dropped
//  3. each scored feature is clipped into its quantile fence
//  4. duplicate product ids keep their last row
//  5. the cleaned table is staged beside the processed path
//  6. the registry is fully replaced, one profile per staged row
//  7. the staged table is renamed into place
//
// Any failure up to step 6 leaves the registry and the processed file
// untouched. A failed rename after the swap is logged and reported through an
// empty ProcessedPath, since the new population is already live.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"

	"predictive-maintenance/machine"
	"predictive-maintenance/utils"
)

// DefaultProcessedPath is where the cleaned dataset is written.
const DefaultProcessedPath = "data/processed_data.csv"

// ErrNoUsableRows is returned when no row survives parsing and validation.
var ErrNoUsableRows = errors.New("dataset has no usable rows")

// Result summarises one ingestion run.
type Result struct {
	RunID         string           `json:"run_id"`
	Source        string           `json:"source"`
	Rows          int              `json:"rows"`
	Dropped       int              `json:"dropped"`
	Duplicates    int              `json:"duplicates"`
	Rejected      int              `json:"rejected"`
	Clipped       map[string]int   `json:"clipped"`
	Fences        map[string]Fence `json:"fences"`
	Profiles      int              `json:"profiles"`
	ProcessedPath string           `json:"processed_path"`
	Summary       []ColumnSummary  `json:"summary"`
	Duration      time.Duration    `json:"duration"`
}

// Pipeline loads datasets into a registry.
type Pipeline struct {
	registry      *machine.Registry
	processedPath string
	logger        *slog.Logger
}

// NewPipeline returns a pipeline writing the cleaned dataset to processedPath.
func NewPipeline(registry *machine.Registry, processedPath string, logger *slog.Logger) *Pipeline {
	if processedPath == "" {
		processedPath = DefaultProcessedPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{registry: registry, processedPath: processedPath, logger: logger}
}

type parsedRow struct {
	cells  []string
	values []float64 // machine.FeatureNames order
}

// Run ingests the CSV at path.
func (p *Pipeline) Run(ctx context.Context, path string) (Result, error) {
	start := time.Now()
	result := Result{
		RunID:         uuid.New().String(),
		Source:        path,
		Clipped:       make(map[string]int),
		Fences:        make(map[string]Fence),
		ProcessedPath: p.processedPath,
	}
	logger := p.logger.With(slog.String("run_id", result.RunID))

	ds, err := ReadCSV(path)
	if err != nil {
		return result, err
	}
	result.Rows = len(ds.Rows)

	header, err := NormalizeHeader(ds.Header)
	if err != nil {
		return result, err
	}
	ds.Header = header

	idCol := ds.Column(ColumnProductID)
	typeCol := ds.Column(ColumnType)
	featureCols := make([]int, len(machine.FeatureNames))
	for i, name := range machine.FeatureNames {
		featureCols[i] = ds.Column(name)
	}

	rows := make([]parsedRow, 0, len(ds.Rows))
	for i, cells := range ds.Rows {
		row, err := parseRow(cells, len(header), featureCols)
		if err != nil {
			logger.WarnContext(ctx, "dropping malformed row",
				slog.Int("line", i+2),
				slog.Any("error", xerrors.New(err)))
			result.Dropped++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return result, ErrNoUsableRows
	}

	columns := make(map[string][]float64, len(machine.NumericFeatures))
	for f, name := range machine.NumericFeatures {
		values := make([]float64, len(rows))
		for i, row := range rows {
			values[i] = row.values[f]
		}
		fence := OutlierFence(values)
		clipped := fence.Clip(values)
		for i := range rows {
			rows[i].values[f] = values[i]
		}
		result.Fences[name] = fence
		result.Clipped[name] = clipped
		columns[name] = values

		logger.InfoContext(ctx, "clipped outliers",
			slog.String("column", name),
			slog.Float64("low", fence.Low),
			slog.Float64("high", fence.High),
			slog.Int("clipped", clipped))
	}

	keep, duplicates := DropDuplicates(len(rows), func(i int) string {
		return strings.TrimSpace(rows[i].cells[idCol])
	})
	result.Duplicates = duplicates

	entries := make([]machine.NewProfile, 0, len(keep))
	processed := &Dataset{Header: header, Rows: make([][]string, 0, len(keep))}
	var firstRejection error
	for _, idx := range keep {
		row := rows[idx]
		id := strings.TrimSpace(row.cells[idCol])
		features := make(map[string]any, len(machine.FeatureNames))
		for f, name := range machine.FeatureNames {
			features[name] = row.values[f]
		}
		if err := validateEntry(id, features); err != nil {
			logger.WarnContext(ctx, "rejecting row",
				slog.String("machine_id", id),
				slog.Any("error", xerrors.New(err)))
			if firstRejection == nil {
				firstRejection = err
			}
			result.Rejected++
			continue
		}
		entries = append(entries, machine.NewProfile{
			ID:       id,
			Type:     strings.TrimSpace(row.cells[typeCol]),
			Features: features,
		})

		cells := append([]string(nil), row.cells...)
		for f, col := range featureCols {
			cells[col] = strconv.FormatFloat(row.values[f], 'f', -1, 64)
		}
		processed.Rows = append(processed.Rows, cells)
	}
	if len(entries) == 0 {
		return result, errors.Join(ErrNoUsableRows, firstRejection)
	}

	data, err := processed.Encode()
	if err != nil {
		return result, err
	}
	staged, err := utils.StageFile(p.processedPath, data, 0644)
	if err != nil {
		return result, fmt.Errorf("failed to stage processed dataset: %w", err)
	}

	report, err := p.registry.ReplaceAll(ctx, entries)
	if err != nil {
		staged.Discard()
		return result, fmt.Errorf("failed to replace machine profiles: %w", err)
	}
	result.Profiles = report.Profiles
	result.Rejected += len(report.Rejected)

	if err := staged.Commit(); err != nil {
		logger.WarnContext(ctx, "processed dataset not written",
			slog.String("path", p.processedPath),
			slog.Any("error", xerrors.New(err)))
		result.ProcessedPath = ""
	}

	result.Summary = Summarize(machine.NumericFeatures, columns)
	for _, s := range result.Summary {
		logger.DebugContext(ctx, "column summary", slog.String("column", s.Column), slog.Any("stats", s))
	}

	result.Duration = time.Since(start)
	logger.InfoContext(ctx, "ingestion complete",
		slog.String("source", path),
		slog.Int("rows", result.Rows),
		slog.Int("dropped", result.Dropped),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("profiles", result.Profiles),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// validateEntry applies the checks the registry makes on every new profile.
func validateEntry(id string, features map[string]any) error {
	if err := machine.ValidateID(id); err != nil {
		return err
	}
	_, err := machine.Normalize(features)
	return err
}

func parseRow(cells []string, width int, featureCols []int) (parsedRow, error) {
	if len(cells) != width {
		return parsedRow{}, fmt.Errorf("row has %d fields, expected %d", len(cells), width)
	}
	values := make([]float64, len(featureCols))
	for i, col := range featureCols {
		v, err := strconv.ParseFloat(strings.TrimSpace(cells[col]), 64)
		if err != nil {
			return parsedRow{}, fmt.Errorf("column %s: %w", machine.FeatureNames[i], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return parsedRow{}, fmt.Errorf("column %s: value %q is not finite", machine.FeatureNames[i], cells[col])
		}
		values[i] = v
	}
	return parsedRow{cells: cells, values: values}, nil
}
