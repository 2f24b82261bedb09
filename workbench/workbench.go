package workbench

// Workbench
//
// The workbench is what the HTTP handlers, the socket controller and the CLI
// talk to. It owns one registry, one scorer manager and one ranker, and
// serializes every mutation (ingest, create, update, model selection) so at
// most one is in flight. Reads go through registry snapshots and never block
// on a running mutation.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"

	"predictive-maintenance/advisor"
	"predictive-maintenance/exports"
	"predictive-maintenance/ingest"
	"predictive-maintenance/machine"
	"predictive-maintenance/metrics"
	"predictive-maintenance/report"
	"predictive-maintenance/risk"
	"predictive-maintenance/scorer"
	"predictive-maintenance/utils"
)

var (
	// ErrAdvisorDisabled is returned by Advice when no generator is configured.
	ErrAdvisorDisabled = errors.New("maintenance advisor is not configured")
	// ErrNothingToExport is returned when the requested page holds no entries.
	ErrNothingToExport = errors.New("no ranked entries to export")
)

// EventKind names a change pushed to subscribers.
type EventKind string

const (
	EventMachineUpdated EventKind = "machineUpdated"
	EventMachineCreated EventKind = "machineCreated"
	EventIngested       EventKind = "ingested"
	EventModelChanged   EventKind = "modelChanged"
)

// Event describes a completed mutation.
type Event struct {
	Kind      EventKind `json:"kind"`
	MachineID string    `json:"machine_id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Version   uint64    `json:"registry_version"`
}

// Options wires a Workbench.
type Options struct {
	Registry  *machine.Registry
	Pipeline  *ingest.Pipeline
	Models    *scorer.Manager
	Exporter  *report.Exporter
	ExportLog *exports.Log
	ExportDir string
	Advisor   *advisor.Advisor
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Workbench struct {
	registry  *machine.Registry
	pipeline  *ingest.Pipeline
	models    *scorer.Manager
	ranker    *risk.Ranker
	exporter  *report.Exporter
	exportLog *exports.Log
	exportDir string
	advisor   *advisor.Advisor
	metrics   *metrics.Metrics
	logger    *slog.Logger

	opMu sync.Mutex

	viewMu      sync.Mutex
	currentPage int

	subMu       sync.RWMutex
	subscribers []func(Event)
}

// New returns a workbench. Registry and Models are required.
func New(opts Options) (*Workbench, error) {
	if opts.Registry == nil || opts.Models == nil {
		return nil, errors.New("workbench needs a registry and a model manager")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pipeline == nil {
		opts.Pipeline = ingest.NewPipeline(opts.Registry, "", opts.Logger)
	}
	if opts.Exporter == nil {
		opts.Exporter = report.NewExporter()
	}
	if opts.ExportDir == "" {
		opts.ExportDir = "reports"
	}

	w := &Workbench{
		registry:  opts.Registry,
		pipeline:  opts.Pipeline,
		models:    opts.Models,
		ranker:    risk.NewRanker(opts.Registry),
		exporter:  opts.Exporter,
		exportLog: opts.ExportLog,
		exportDir: opts.ExportDir,
		advisor:   opts.Advisor,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
	}

	w.models.OnChange(func(loaded *scorer.Loaded) {
		w.ranker.Invalidate()
		name := ""
		if loaded != nil {
			name = loaded.Entry.Name
		}
		w.publish(Event{Kind: EventModelChanged, Model: name, Version: w.registry.Version()})
	})
	w.recordPopulation()
	return w, nil
}

// Subscribe registers fn to receive an Event after every completed mutation.
func (w *Workbench) Subscribe(fn func(Event)) {
	w.subMu.Lock()
	w.subscribers = append(w.subscribers, fn)
	w.subMu.Unlock()
}

func (w *Workbench) publish(ev Event) {
	w.subMu.RLock()
	subs := append([]func(Event){}, w.subscribers...)
	w.subMu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// ListMachines returns the registered ids containing filter, sorted.
func (w *Workbench) ListMachines(filter string) []string {
	return w.registry.IDs(filter)
}

// Machine returns the profile of id.
func (w *Workbench) Machine(id string) (machine.Profile, error) {
	p, ok := w.registry.Get(id)
	if !ok {
		return machine.Profile{}, &machine.UnknownMachineError{ID: id}
	}
	return p, nil
}

// UpdateMachine merges raw into the features of id.
func (w *Workbench) UpdateMachine(ctx context.Context, id string, raw map[string]any) (machine.Profile, error) {
	w.opMu.Lock()
	p, err := w.registry.Update(ctx, id, raw)
	w.opMu.Unlock()
	if err != nil {
		return machine.Profile{}, err
	}

	w.countMutation("update")
	w.recordPopulation()
	w.logger.Info("machine updated", slog.String("machine_id", id))
	w.publish(Event{Kind: EventMachineUpdated, MachineID: id, Version: w.registry.Version()})
	return p, nil
}

// CreateMachine registers a new machine. An existing id is a collision
// reported to the caller: machine ids stay unique outside bulk ingestion.
func (w *Workbench) CreateMachine(ctx context.Context, id, machineType string, raw map[string]any) (machine.Profile, error) {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	if _, exists := w.registry.Get(id); exists {
		return machine.Profile{}, &CollisionError{ID: id}
	}
	p, _, err := w.registry.Create(ctx, id, machineType, raw)
	if err != nil {
		return machine.Profile{}, err
	}

	w.countMutation("create")
	w.recordPopulation()
	w.logger.Info("machine created", slog.String("machine_id", p.MachineID))
	w.publish(Event{Kind: EventMachineCreated, MachineID: p.MachineID, Version: w.registry.Version()})
	return p, nil
}

// CollisionError is returned when a create names an id already registered.
type CollisionError struct {
	ID string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("machine %q already exists", e.ID)
}

// Ingest replaces the population with the dataset at path.
func (w *Workbench) Ingest(ctx context.Context, path string) (ingest.Result, error) {
	w.opMu.Lock()
	result, err := w.pipeline.Run(ctx, path)
	w.opMu.Unlock()
	w.recordPopulation()

	if w.metrics != nil {
		if err != nil {
			w.metrics.IngestRuns.WithLabelValues("failed").Inc()
		} else {
			w.metrics.IngestRuns.WithLabelValues("ok").Inc()
			for feature, n := range result.Clipped {
				w.metrics.ClippedValues.WithLabelValues(feature).Add(float64(n))
			}
		}
	}
	if err != nil {
		return result, err
	}

	w.setCurrentPage(0)
	w.publish(Event{Kind: EventIngested, Version: w.registry.Version()})
	return result, nil
}

// SelectModel makes the named catalog model the active scorer.
func (w *Workbench) SelectModel(name string) (*scorer.Loaded, error) {
	w.opMu.Lock()
	loaded, err := w.models.Select(name)
	w.opMu.Unlock()
	if err != nil {
		return nil, err
	}
	if w.metrics != nil {
		w.metrics.ModelSelections.WithLabelValues(loaded.Entry.Name).Inc()
	}
	return loaded, nil
}

// ModelInfo describes the selectable models and the active one.
type ModelInfo struct {
	Models  []scorer.CatalogEntry `json:"models"`
	Default string                `json:"default,omitempty"`
	Current *scorer.Loaded        `json:"current,omitempty"`
}

func (w *Workbench) ModelInfo() ModelInfo {
	catalog := w.models.Catalog()
	info := ModelInfo{Models: catalog.Models, Default: catalog.Default}
	if loaded, ok := w.models.Current(); ok {
		info.Current = loaded
	}
	return info
}

// RankedEntry is an entry placed in the overall ranking.
type RankedEntry struct {
	risk.Entry
	Rank  int        `json:"rank"`
	Level risk.Level `json:"level"`
}

// PageView is one page of the live risk view.
type PageView struct {
	Page     int           `json:"page"`
	Pages    int           `json:"pages"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total"`
	Model    string        `json:"model,omitempty"`
	Version  uint64        `json:"registry_version"`
	Entries  []RankedEntry `json:"entries"`
}

func (w *Workbench) rank(ctx context.Context) ([]risk.Entry, error) {
	start := time.Now()
	entries, err := w.ranker.Rank(ctx, w.models.Scorer())
	if w.metrics != nil {
		if err != nil {
			w.metrics.RankFailures.Inc()
		} else {
			w.metrics.ObserveRank(start)
		}
	}
	if err != nil {
		w.logger.Error("ranking failed", slog.Any("error", xerrors.New(err)))
		return nil, err
	}
	return entries, nil
}

func (w *Workbench) modelName() string {
	if loaded, ok := w.models.Current(); ok {
		return loaded.Entry.Name
	}
	return ""
}

// RiskPage ranks the population and returns page index of the live view.
// The page becomes the currently displayed one.
func (w *Workbench) RiskPage(ctx context.Context, index int) (PageView, error) {
	entries, err := w.rank(ctx)
	if err != nil {
		return PageView{}, err
	}
	if index < 0 || index >= risk.LivePages {
		index = 0
	}
	w.setCurrentPage(index)
	return w.view(entries, index, risk.LivePage(entries, index)), nil
}

// CurrentPage is the page index last shown by RiskPage.
func (w *Workbench) CurrentPage() int {
	w.viewMu.Lock()
	defer w.viewMu.Unlock()
	return w.currentPage
}

func (w *Workbench) setCurrentPage(index int) {
	w.viewMu.Lock()
	w.currentPage = index
	w.viewMu.Unlock()
}

func (w *Workbench) view(all []risk.Entry, index int, page []risk.Entry) PageView {
	pages := (len(all) + risk.PageSize - 1) / risk.PageSize
	if pages > risk.LivePages {
		pages = risk.LivePages
	}
	v := PageView{
		Page:     index,
		Pages:    pages,
		PageSize: risk.PageSize,
		Total:    len(all),
		Model:    w.modelName(),
		Version:  w.registry.Version(),
		Entries:  make([]RankedEntry, len(page)),
	}
	offset := index * risk.PageSize
	for i, e := range page {
		v.Entries[i] = RankedEntry{Entry: e, Rank: offset + i + 1, Level: e.Level()}
	}
	return v
}

// ExportTarget resolves a client supplied report name inside the export
// directory. Anything but a bare file name fails with utils.ErrUnsafeName.
func (w *Workbench) ExportTarget(name string) (string, error) {
	return utils.JoinBaseName(w.exportDir, name)
}

// ExportPage writes page index of the ranking to dest. A nil index exports
// the currently displayed page; an empty dest picks a timestamped file in the
// export directory. Export reads the ranking and never mutates it.
func (w *Workbench) ExportPage(ctx context.Context, index *int, dest string) (exports.Record, error) {
	page := w.CurrentPage()
	if index != nil {
		page = *index
	}

	entries, err := w.rank(ctx)
	if err != nil {
		return exports.Record{}, err
	}
	selected := risk.Page(entries, page, risk.PageSize)
	if len(selected) == 0 {
		return exports.Record{}, ErrNothingToExport
	}

	if dest == "" {
		name := fmt.Sprintf("risk_report_page%d_%s.csv", page+1, time.Now().Format("20060102_150405"))
		dest = filepath.Join(w.exportDir, name)
	}
	if err := w.exporter.Export(selected, dest); err != nil {
		w.logger.Error("export failed", slog.String("path", dest), slog.Any("error", xerrors.New(err)))
		return exports.Record{}, err
	}

	record := exports.Record{
		Path:    dest,
		Page:    page,
		Entries: len(selected),
		Model:   w.modelName(),
		Version: w.registry.Version(),
	}
	if w.exportLog != nil {
		if err := w.exportLog.Append(&record); err != nil {
			w.logger.Warn("failed to record export", slog.Any("error", xerrors.New(err)))
		}
	}
	if w.metrics != nil {
		w.metrics.Exports.Inc()
	}
	w.logger.Info("risk report exported",
		slog.String("path", dest),
		slog.Int("page", page),
		slog.Int("entries", len(selected)))
	return record, nil
}

// Exports lists the written reports, newest first.
func (w *Workbench) Exports() ([]exports.Record, error) {
	if w.exportLog == nil {
		return []exports.Record{}, nil
	}
	return w.exportLog.List()
}

// Prediction is the failure probability of one machine.
type Prediction struct {
	MachineID   string     `json:"machine_id"`
	Probability float64    `json:"probability"`
	Percent     float64    `json:"percent"`
	Level       risk.Level `json:"level"`
	Model       string     `json:"model"`
}

// Predict scores a single machine with the active model.
func (w *Workbench) Predict(_ context.Context, id string) (Prediction, error) {
	p, err := w.Machine(id)
	if err != nil {
		return Prediction{}, err
	}
	score, err := risk.Score(p, w.models.Scorer())
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{
		MachineID:   id,
		Probability: score,
		Percent:     score * 100,
		Level:       risk.LevelOf(score),
		Model:       w.modelName(),
	}, nil
}

// Advice asks the advisor for a maintenance note on one machine.
func (w *Workbench) Advice(ctx context.Context, id string) (advisor.Note, error) {
	if w.advisor == nil {
		return advisor.Note{}, ErrAdvisorDisabled
	}
	prediction, err := w.Predict(ctx, id)
	if err != nil {
		return advisor.Note{}, err
	}
	p, err := w.Machine(id)
	if err != nil {
		return advisor.Note{}, err
	}
	return w.advisor.Advise(ctx, p, prediction.Probability)
}

// Reload rebuilds the population from the profile store.
func (w *Workbench) Reload(ctx context.Context) (machine.LoadReport, error) {
	w.opMu.Lock()
	err := w.registry.Reload(ctx)
	w.opMu.Unlock()
	w.recordPopulation()
	if err != nil {
		return machine.LoadReport{}, err
	}

	report := w.registry.LastLoad()
	w.setCurrentPage(0)
	w.publish(Event{Kind: EventIngested, Version: w.registry.Version()})
	return report, nil
}

func (w *Workbench) recordPopulation() {
	if w.metrics != nil {
		w.metrics.RegisteredProfiles.Set(float64(w.registry.Len()))
	}
}

func (w *Workbench) countMutation(op string) {
	if w.metrics != nil {
		w.metrics.ProfileUpdates.WithLabelValues(op).Inc()
	}
}
