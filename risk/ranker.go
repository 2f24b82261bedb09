package risk

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"predictive-maintenance/machine"
)

// Page geometry of the live risk view.
const (
	PageSize  = 20
	LivePages = 2
)

// Level buckets a failure probability.
type Level string

const (
	LevelHigh   Level = "HIGH"
	LevelMedium Level = "MEDIUM"
	LevelLow    Level = "LOW"
)

// LevelOf returns HIGH above 0.7, MEDIUM above 0.3, LOW otherwise.
func LevelOf(score float64) Level {
	switch {
	case score > 0.7:
		return LevelHigh
	case score > 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Entry is one scored machine.
type Entry struct {
	MachineID   string           `json:"machine_id"`
	MachineType string           `json:"machine_type"`
	Features    machine.Features `json:"features"`
	Score       float64          `json:"risk_score"`
}

// Level of the entry's score.
func (e Entry) Level() Level { return LevelOf(e.Score) }

// Score returns the failure probability of p.
func Score(p machine.Profile, scorer Scorer) (float64, error) {
	if scorer == nil {
		return 0, &ScoringError{MachineID: p.MachineID, Err: ErrNoScorer}
	}
	prob, err := scorer.PredictProbability(p.Features.Vector())
	if err != nil {
		return 0, &ScoringError{MachineID: p.MachineID, Err: err}
	}
	if math.IsNaN(prob) || prob < 0 || prob > 1 {
		return 0, &ScoringError{MachineID: p.MachineID, Err: fmt.Errorf("probability %v outside [0, 1]", prob)}
	}
	return prob, nil
}

// RankAll scores every profile and orders them by descending score, ties
// broken by ascending machine id. Any scoring failure fails the ranking.
func RankAll(ctx context.Context, profiles []machine.Profile, scorer Scorer) ([]Entry, error) {
	if scorer == nil {
		return nil, &ScoringError{Err: ErrNoScorer}
	}

	entries := make([]Entry, len(profiles))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range profiles {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, err := Score(profiles[i], scorer)
			if err != nil {
				return err
			}
			entries[i] = Entry{
				MachineID:   profiles[i].MachineID,
				MachineType: profiles[i].MachineType,
				Features:    profiles[i].Features,
				Score:       score,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].MachineID < entries[j].MachineID
	})
	return entries, nil
}

// Page returns entries[index*size:(index+1)*size]. Out of range pages are
// empty.
func Page(entries []Entry, index, size int) []Entry {
	if index < 0 || size <= 0 {
		return []Entry{}
	}
	start := index * size
	if start >= len(entries) {
		return []Entry{}
	}
	end := start + size
	if end > len(entries) {
		end = len(entries)
	}
	return entries[start:end]
}

// LivePage returns one of the LivePages pages of the live view.
func LivePage(entries []Entry, index int) []Entry {
	if index >= LivePages {
		return []Entry{}
	}
	return Page(entries, index, PageSize)
}

// ProfileSource supplies a consistent snapshot of the population.
type ProfileSource interface {
	Snapshot() ([]machine.Profile, uint64)
}

// Ranker caches the last ranking under (population version, scorer identity).
type Ranker struct {
	source ProfileSource

	mu       sync.Mutex
	cached   []Entry
	version  uint64
	identity string
	valid    bool
}

func NewRanker(source ProfileSource) *Ranker {
	return &Ranker{source: source}
}

// Rank returns the full ranking, recomputing it when the population or the
// scorer changed since the cached one.
func (r *Ranker) Rank(ctx context.Context, scorer Scorer) ([]Entry, error) {
	profiles, version := r.source.Snapshot()

	identity := ""
	if id, ok := scorer.(Identified); ok {
		identity = id.Identity()
	}

	r.mu.Lock()
	if r.valid && identity != "" && r.version == version && r.identity == identity {
		entries := r.cached
		r.mu.Unlock()
		return entries, nil
	}
	r.mu.Unlock()

	entries, err := RankAll(ctx, profiles, scorer)
	if err != nil {
		return nil, err
	}

	if identity != "" {
		r.mu.Lock()
		r.cached = entries
		r.version = version
		r.identity = identity
		r.valid = true
		r.mu.Unlock()
	}
	return entries, nil
}

// Invalidate drops the cached ranking.
func (r *Ranker) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.valid = false
	r.mu.Unlock()
}
