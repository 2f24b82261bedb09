package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mdobak/go-xerrors"
)

// NewProfile is one entry of a bulk replace.
type NewProfile struct {
	ID       string
	Type     string
	Features map[string]any
}

// LoadReport summarises the last load from the durable store.
type LoadReport struct {
	Loaded  int      `json:"loaded"`
	Skipped []string `json:"skipped,omitempty"`
}

// RejectedProfile is a bulk entry that could not be turned into a profile.
type RejectedProfile struct {
	ID  string
	Err error
}

// ReplaceReport summarises a bulk replace.
type ReplaceReport struct {
	Profiles   int
	Rejected   []RejectedProfile
	Collisions []string
}

// Registry owns the live machine profiles keyed by id. Every mutation is
// written through to the store before it becomes visible to readers.
type Registry struct {
	writeMu sync.Mutex // serialises mutations including their persistence

	mu       sync.RWMutex
	profiles map[string]Profile
	version  uint64
	lastLoad LoadReport

	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry returns an empty registry backed by store.
func NewRegistry(store Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		profiles: make(map[string]Profile),
		store:    store,
		logger:   logger,
		now:      time.Now,
	}
}

// LoadRegistry builds a registry from every record in store. Records that fail
// to deserialise are skipped with a warning.
func LoadRegistry(ctx context.Context, store Store, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(store, logger)
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload discards the in-memory population and rebuilds it from the store.
func (r *Registry) Reload(ctx context.Context) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	records, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list profile records: %w", err)
	}

	profiles := make(map[string]Profile, len(records))
	report := LoadReport{}
	for _, rec := range records {
		profile, err := r.decode(rec)
		if err != nil {
			err := xerrors.New(err)
			r.logger.WarnContext(ctx, "skipping corrupt profile record",
				slog.String("key", rec.Key),
				slog.Any("error", err))
			report.Skipped = append(report.Skipped, rec.Key)
			continue
		}
		profiles[profile.MachineID] = profile
	}
	report.Loaded = len(profiles)

	r.mu.Lock()
	r.profiles = profiles
	r.version++
	r.lastLoad = report
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "loaded machine profiles",
		slog.Int("loaded", report.Loaded),
		slog.Int("skipped", len(report.Skipped)))
	return nil
}

func (r *Registry) decode(rec StoredRecord) (Profile, error) {
	if rec.Err != nil {
		return Profile{}, &CorruptRecordError{Key: rec.Key, Err: rec.Err}
	}
	profile, err := Unmarshal(rec.Key, rec.Data)
	if err != nil {
		return Profile{}, err
	}
	if profile.MachineID != rec.Key {
		return Profile{}, &CorruptRecordError{
			Key: rec.Key,
			Err: fmt.Errorf("record holds machine_id %q", profile.MachineID),
		}
	}
	return profile, nil
}

// LastLoad reports the outcome of the most recent load from the store.
func (r *Registry) LastLoad() LoadReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report := r.lastLoad
	report.Skipped = append([]string(nil), r.lastLoad.Skipped...)
	return report
}

func (r *Registry) build(id, machineType string, raw map[string]any) (Profile, error) {
	if err := ValidateID(id); err != nil {
		return Profile{}, err
	}
	features, err := Normalize(raw)
	if err != nil {
		return Profile{}, err
	}
	now := r.now()
	return Profile{
		MachineID:   id,
		MachineType: machineType,
		Features:    features,
		CreatedAt:   now,
		LastUpdated: now,
	}, nil
}

func (r *Registry) persist(ctx context.Context, p Profile) error {
	data, err := Marshal(p)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, p.MachineID, data); err != nil {
		return fmt.Errorf("failed to persist profile %s: %w", p.MachineID, err)
	}
	return nil
}

// Create registers a new profile and persists it immediately. An existing
// profile with the same id is overwritten; replaced reports that case.
func (r *Registry) Create(ctx context.Context, id, machineType string, raw map[string]any) (profile Profile, replaced bool, err error) {
	profile, err = r.build(id, machineType, raw)
	if err != nil {
		return Profile{}, false, err
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.persist(ctx, profile); err != nil {
		return Profile{}, false, err
	}

	r.mu.Lock()
	_, replaced = r.profiles[id]
	r.profiles[id] = profile
	r.version++
	r.mu.Unlock()

	if replaced {
		r.logger.WarnContext(ctx, "machine id already registered, overwriting profile",
			slog.String("machine_id", id))
	}
	return profile, replaced, nil
}

// Update re-normalises the features of an existing profile. Keys missing from
// raw keep their current values; a key outside FeatureNames fails the whole
// update.
func (r *Registry) Update(ctx context.Context, id string, raw map[string]any) (Profile, error) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	current, ok := r.Get(id)
	if !ok {
		return Profile{}, &UnknownMachineError{ID: id}
	}

	merged := current.Features.Map()
	for key, value := range raw {
		merged[key] = value
	}
	features, err := Normalize(merged)
	if err != nil {
		return Profile{}, err
	}

	updated := current
	updated.Features = features
	updated.LastUpdated = r.now()

	if err := r.persist(ctx, updated); err != nil {
		return Profile{}, err
	}

	r.mu.Lock()
	r.profiles[id] = updated
	r.version++
	r.mu.Unlock()

	return updated, nil
}

// ReplaceAll discards the whole population and repopulates it from entries.
// The new population is staged in the store before it is swapped in, so a
// failure leaves both the durable and the in-memory state untouched.
func (r *Registry) ReplaceAll(ctx context.Context, entries []NewProfile) (ReplaceReport, error) {
	report := ReplaceReport{}
	staged := make(map[string]Profile, len(entries))
	order := make([]string, 0, len(entries))

	for _, entry := range entries {
		profile, err := r.build(entry.ID, entry.Type, entry.Features)
		if err != nil {
			err := xerrors.New(err)
			r.logger.WarnContext(ctx, "skipping invalid profile",
				slog.String("machine_id", entry.ID),
				slog.Any("error", err))
			report.Rejected = append(report.Rejected, RejectedProfile{ID: entry.ID, Err: err})
			continue
		}
		if _, dup := staged[profile.MachineID]; dup {
			r.logger.WarnContext(ctx, "machine id already registered, overwriting profile",
				slog.String("machine_id", profile.MachineID))
			report.Collisions = append(report.Collisions, profile.MachineID)
		} else {
			order = append(order, profile.MachineID)
		}
		staged[profile.MachineID] = profile
	}

	if len(entries) > 0 && len(staged) == 0 {
		return report, errors.Join(errors.New("no valid profiles to register"), report.Rejected[0].Err)
	}

	records := make([]StoredRecord, 0, len(order))
	for _, id := range order {
		data, err := Marshal(staged[id])
		if err != nil {
			return report, err
		}
		records = append(records, StoredRecord{Key: id, Data: data})
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if err := r.store.ReplaceAll(ctx, records); err != nil {
		return report, fmt.Errorf("failed to replace stored profiles: %w", err)
	}

	r.mu.Lock()
	r.profiles = staged
	r.version++
	r.mu.Unlock()

	report.Profiles = len(staged)
	return report, nil
}

// Get returns the profile for id.
func (r *Registry) Get(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[id]
	return p, ok
}

// All returns every profile ordered by id.
func (r *Registry) All() []Profile {
	r.mu.RLock()
	profiles := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	r.mu.RUnlock()

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].MachineID < profiles[j].MachineID })
	return profiles
}

// Snapshot returns every profile together with the version they belong to.
func (r *Registry) Snapshot() ([]Profile, uint64) {
	r.mu.RLock()
	version := r.version
	profiles := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	r.mu.RUnlock()

	sort.Slice(profiles, func(i, j int) bool { return profiles[i].MachineID < profiles[j].MachineID })
	return profiles, version
}

// IDs returns the sorted machine ids containing filter, case-insensitively.
func (r *Registry) IDs(filter string) []string {
	needle := strings.ToLower(strings.TrimSpace(filter))

	r.mu.RLock()
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		if needle == "" || strings.Contains(strings.ToLower(id), needle) {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.profiles)
}

// Version increases on every mutation.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
