package ingest

import (
	"log/slog"
	"math"
)

// ColumnSummary describes the distribution of one numeric column.
type ColumnSummary struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
}

// Summarize computes count, min, max, mean and population std per column.
func Summarize(columns []string, values map[string][]float64) []ColumnSummary {
	summaries := make([]ColumnSummary, 0, len(columns))
	for _, name := range columns {
		data := values[name]
		summary := ColumnSummary{Column: name, Count: len(data)}
		if len(data) == 0 {
			summaries = append(summaries, summary)
			continue
		}

		summary.Min = math.Inf(1)
		summary.Max = math.Inf(-1)
		var sum float64
		for _, v := range data {
			sum += v
			summary.Min = math.Min(summary.Min, v)
			summary.Max = math.Max(summary.Max, v)
		}
		summary.Mean = sum / float64(len(data))

		var variance float64
		for _, v := range data {
			diff := v - summary.Mean
			variance += diff * diff
		}
		summary.Std = math.Sqrt(variance / float64(len(data)))
		summaries = append(summaries, summary)
	}
	return summaries
}

// LogValue renders the summary as a log group.
func (s ColumnSummary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("count", s.Count),
		slog.Float64("min", s.Min),
		slog.Float64("max", s.Max),
		slog.Float64("mean", s.Mean),
		slog.Float64("std", s.Std),
	)
}
