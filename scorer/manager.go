package scorer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mdobak/go-xerrors"

	"predictive-maintenance/risk"
	"predictive-maintenance/utils"
)

// Loaded is the scorer currently held by a Manager.
type Loaded struct {
	Entry    CatalogEntry `json:"entry"`
	Path     string       `json:"path,omitempty"`
	Metrics  *Metrics     `json:"metrics,omitempty"`
	LoadedAt time.Time    `json:"loaded_at"`

	scorer   risk.Scorer
	identity string
}

func (l *Loaded) PredictProbability(features []float64) (float64, error) {
	return l.scorer.PredictProbability(features)
}

// Identity changes every time a model is (re)loaded.
func (l *Loaded) Identity() string { return l.identity }

// Manager owns the lifecycle of the selected scorer: it is loaded once on
// Select, held until replaced or invalidated, and reloaded when its artifact
// file changes on disk.
type Manager struct {
	dir     string
	catalog *Catalog
	logger  *slog.Logger
	timeout time.Duration

	loadMu sync.Mutex // serialises Select, Invalidate and watcher reloads

	mu         sync.RWMutex
	current    *Loaded
	generation uint64
	listeners  []func(*Loaded)
}

// NewManager returns a manager loading artifacts from dir.
func NewManager(dir string, catalog *Catalog, logger *slog.Logger) *Manager {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{dir: dir, catalog: catalog, logger: logger, timeout: 10 * time.Second}
}

// SetTimeout bounds each request of remote scorers loaded afterwards.
func (m *Manager) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout = d
	}
}

// Catalog returns the selectable models.
func (m *Manager) Catalog() *Catalog { return m.catalog }

// Dir is the artifact directory.
func (m *Manager) Dir() string { return m.dir }

// OnChange registers fn to be called after the held scorer changes. fn
// receives nil when the scorer was dropped. fn must not call Select or
// Invalidate.
func (m *Manager) OnChange(fn func(*Loaded)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Select loads the named model and makes it current. Selecting the model that
// is already held returns it without reloading.
func (m *Manager) Select(name string) (*Loaded, error) {
	entry, ok := m.catalog.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if current, ok := m.Current(); ok && current.Entry.Name == entry.Name {
		return current, nil
	}
	loaded, err := m.build(entry)
	if err != nil {
		return nil, err
	}
	m.install(loaded)
	return loaded, nil
}

func (m *Manager) build(entry CatalogEntry) (*Loaded, error) {
	loaded := &Loaded{Entry: entry, LoadedAt: time.Now()}

	if entry.Kind == KindRemote {
		loaded.scorer = NewRemote(entry.URL, m.timeout)
	} else {
		loaded.Path = ArtifactPath(m.dir, entry.ArtifactName())
		artifact, err := LoadArtifact(loaded.Path)
		if err != nil {
			return nil, err
		}
		if artifact.Kind != entry.Kind {
			return nil, fmt.Errorf("artifact %s holds a %s model, catalog expects %s",
				loaded.Path, artifact.Kind, entry.Kind)
		}
		model, err := artifact.Build()
		if err != nil {
			return nil, fmt.Errorf("failed to restore model %s: %w", entry.Name, err)
		}
		loaded.scorer = model
		loaded.Metrics = artifact.Metrics
	}
	return loaded, nil
}

// install makes loaded current. Callers hold loadMu.
func (m *Manager) install(loaded *Loaded) {
	entry := loaded.Entry
	m.mu.Lock()
	m.generation++
	loaded.identity = fmt.Sprintf("%s#%d", entry.Name, m.generation)
	m.current = loaded
	listeners := append([]func(*Loaded){}, m.listeners...)
	m.mu.Unlock()

	m.logger.Info("model loaded",
		slog.String("model", entry.Name),
		slog.String("kind", string(entry.Kind)),
		slog.String("identity", loaded.identity))
	for _, fn := range listeners {
		fn(loaded)
	}
}

// Current returns the held scorer, if any.
func (m *Manager) Current() (*Loaded, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current, m.current != nil
}

// Scorer returns the held scorer as a risk.Scorer, nil when none is held.
func (m *Manager) Scorer() risk.Scorer {
	if loaded, ok := m.Current(); ok {
		return loaded
	}
	return nil
}

// Invalidate drops the held scorer.
func (m *Manager) Invalidate() {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	m.drop()
}

func (m *Manager) drop() {
	m.mu.Lock()
	m.current = nil
	listeners := append([]func(*Loaded){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
}

// Watch reloads the held model whenever its artifact file is written,
// replaced or removed. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	if err := utils.CreateFolder(m.dir); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create artifact watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(m.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			m.handleEvent(event)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			err = xerrors.New(err)
			m.logger.Warn("artifact watcher error", slog.Any("error", err))
		}
	}
}

func (m *Manager) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	current, ok := m.Current()
	if !ok || current.Path == "" || filepath.Clean(event.Name) != filepath.Clean(current.Path) {
		return
	}

	m.logger.Info("model artifact changed, reloading",
		slog.String("path", event.Name),
		slog.String("op", event.Op.String()))
	m.reload(current.Identity())
}

// reload rebuilds the held model if it is still the one named by identity.
// A model selected in the meantime is left alone.
func (m *Manager) reload(identity string) {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	current, ok := m.Current()
	if !ok || current.Identity() != identity {
		m.logger.Info("held model changed before reload, skipping", slog.String("identity", identity))
		return
	}
	loaded, err := m.build(current.Entry)
	if err != nil {
		err = xerrors.New(err)
		m.logger.Warn("reload failed, dropping model", slog.String("model", current.Entry.Name), slog.Any("error", err))
		m.drop()
		return
	}
	m.install(loaded)
}
