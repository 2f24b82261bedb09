package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictive-maintenance/risk"
)

// syntheticSet builds two separable clusters: healthy machines with low
// torque and tool wear, failing ones with high values.
func syntheticSet(n int, seed int64) ([][]float64, []int) {
	rng := rand.New(rand.NewSource(seed))
	X := make([][]float64, 0, n)
	y := make([]int, 0, n)
	for i := 0; i < n; i++ {
		label := 0
		torque, wear := 30+rng.Float64()*10, 20+rng.Float64()*40
		if i%4 == 0 {
			label = 1
			torque, wear = 65+rng.Float64()*10, 200+rng.Float64()*30
		}
		X = append(X, []float64{
			298 + rng.Float64()*2,
			308 + rng.Float64()*2,
			1400 + rng.Float64()*200,
			torque,
			wear,
		})
		y = append(y, label)
	}
	return X, y
}

var (
	healthy = []float64{299, 309, 1500, 35, 40}
	failing = []float64{299, 309, 1500, 70, 215}
)

func TestModelsSeparateClasses(t *testing.T) {
	t.Parallel()

	X, y := syntheticSet(200, 1)
	for _, kind := range []Kind{KindKNN, KindLogistic} {
		model, err := NewModel(kind)
		require.NoError(t, err)
		require.NoError(t, model.Fit(X, y))

		low, err := model.PredictProbability(healthy)
		require.NoError(t, err)
		high, err := model.PredictProbability(failing)
		require.NoError(t, err)

		assert.Less(t, low, 0.3, "kind %s", kind)
		assert.Greater(t, high, 0.7, "kind %s", kind)
		assert.GreaterOrEqual(t, low, 0.0)
		assert.LessOrEqual(t, high, 1.0)
	}
}

func TestModelsRejectBadInput(t *testing.T) {
	t.Parallel()

	_, err := NewKNN(3).PredictProbability(healthy)
	assert.ErrorIs(t, err, ErrNotTrained)
	_, err = NewLogistic().PredictProbability(healthy)
	assert.ErrorIs(t, err, ErrNotTrained)

	X, y := syntheticSet(20, 2)
	knn := NewKNN(3)
	require.NoError(t, knn.Fit(X, y))
	_, err = knn.PredictProbability([]float64{1, 2})
	var dimErr *DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 5, dimErr.Want)

	assert.Error(t, knn.Fit(X, y[:3]))
	assert.Error(t, knn.Fit(X[:1], []int{2}))
	_, err = NewModel(KindRemote)
	assert.ErrorIs(t, err, ErrNotTrainable)
}

func TestKNNIsRepeatable(t *testing.T) {
	t.Parallel()

	X, y := syntheticSet(60, 3)
	knn := NewKNN(5)
	require.NoError(t, knn.Fit(X, y))

	first, err := knn.PredictProbability(X[7])
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := knn.PredictProbability(X[7])
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSaveAndLoadArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	X, y := syntheticSet(100, 4)
	for _, kind := range []Kind{KindKNN, KindLogistic} {
		model, err := NewModel(kind)
		require.NoError(t, err)
		require.NoError(t, model.Fit(X, y))
		want, err := model.PredictProbability(failing)
		require.NoError(t, err)

		path, err := SaveModel(dir, string(kind), model, &Metrics{Accuracy: 0.9})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, string(kind)+".json"), path)

		artifact, err := LoadArtifact(path)
		require.NoError(t, err)
		assert.Equal(t, kind, artifact.Kind)
		assert.Equal(t, 0.9, artifact.Metrics.Accuracy)

		restored, err := artifact.Build()
		require.NoError(t, err)
		got, err := restored.PredictProbability(failing)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-12)
	}
}

func TestLoadArtifactRejectsForeignFeatures(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "old.json")
	data, err := json.Marshal(Artifact{Name: "old", Kind: KindKNN, FeatureNames: []string{"rms", "zcr"}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = LoadArtifact(path)
	assert.Error(t, err)
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	probs := map[float64]float64{1: 0.9, 2: 0.8, 3: 0.4, 4: 0.6, 5: 0.1}
	s := scorerFunc(func(f []float64) (float64, error) { return probs[f[0]], nil })
	X := [][]float64{{1}, {2}, {3}, {4}, {5}}
	y := []int{1, 1, 1, 0, 0}

	m, err := Evaluate(s, X, y)
	require.NoError(t, err)
	assert.Equal(t, 5, m.Samples)
	assert.InDelta(t, 0.6, m.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, m.F1, 1e-9)
	assert.InDelta(t, 5.0/6.0, m.ROCAUC, 1e-9)
}

func TestROCAUCHandlesTiesAndSingleClass(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 0.5, rocAUC([]float64{0.5, 0.5}, []int{0, 1}), 1e-9)
	assert.InDelta(t, 0.5, rocAUC([]float64{0.1, 0.9}, []int{1, 1}), 1e-9)
	assert.InDelta(t, 1.0, rocAUC([]float64{0.1, 0.9}, []int{0, 1}), 1e-9)
}

func TestStratifiedSplit(t *testing.T) {
	t.Parallel()

	X, y := syntheticSet(100, 5)
	trainX, trainY, testX, testY := StratifiedSplit(X, y, 0.2, 42)

	assert.Len(t, testX, 20)
	assert.Len(t, trainX, 80)
	assert.Len(t, trainY, 80)
	positives := 0
	for _, label := range testY {
		positives += label
	}
	assert.Equal(t, 5, positives)

	_, _, again, _ := StratifiedSplit(X, y, 0.2, 42)
	assert.Equal(t, testX, again)
}

func TestCatalog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	catalog, err := LoadCatalog(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, catalog.Models, 2)

	path := filepath.Join(dir, "models.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: logistic
models:
  - name: logistic
    display: Logistic Regression
    kind: logistic
  - name: gbm
    display: Gradient Boosting
    kind: remote
    url: http://models:5002
`), 0644))

	catalog, err = LoadCatalog(path)
	require.NoError(t, err)
	entry, ok := catalog.Lookup("gradient boosting")
	require.True(t, ok)
	assert.Equal(t, KindRemote, entry.Kind)
	assert.Equal(t, "http://models:5002", entry.URL)
	assert.Equal(t, "logistic", catalog.Default)

	require.NoError(t, os.WriteFile(path, []byte("models:\n  - name: x\n    kind: remote\n"), 0644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}

func TestRemoteScorer(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/predict":
			var req predictRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Features) != 5 {
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode(map[string]float64{"probability": req.Features[3] / 100})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	remote := NewRemote(server.URL+"/", time.Second)
	require.NoError(t, remote.HealthCheck(context.Background()))

	p, err := remote.PredictProbability(failing)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, p, 1e-9)

	_, err = remote.PredictProbability([]float64{1})
	assert.Error(t, err)
}

func TestManagerLifecycle(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	X, y := syntheticSet(80, 6)
	for _, kind := range []Kind{KindKNN, KindLogistic} {
		model, err := NewModel(kind)
		require.NoError(t, err)
		require.NoError(t, model.Fit(X, y))
		_, err = SaveModel(dir, string(kind), model, nil)
		require.NoError(t, err)
	}

	manager := NewManager(dir, nil, nil)
	assert.Nil(t, manager.Scorer())

	changes := 0
	manager.OnChange(func(*Loaded) { changes++ })

	first, err := manager.Select("K-Nearest Neighbours")
	require.NoError(t, err)
	assert.Equal(t, "knn#1", first.Identity())

	same, err := manager.Select("knn")
	require.NoError(t, err)
	assert.Same(t, first, same, "selecting the held model must not reload it")

	second, err := manager.Select("logistic")
	require.NoError(t, err)
	assert.Equal(t, "logistic#2", second.Identity())

	var s risk.Scorer = manager.Scorer()
	p, err := s.PredictProbability(failing)
	require.NoError(t, err)
	assert.Greater(t, p, 0.5)

	_, err = manager.Select("xgboost")
	assert.ErrorIs(t, err, ErrUnknownModel)

	manager.Invalidate()
	assert.Nil(t, manager.Scorer())
	assert.Equal(t, 3, changes)
}

func TestManagerSelectMissingArtifact(t *testing.T) {
	t.Parallel()

	manager := NewManager(t.TempDir(), nil, nil)
	_, err := manager.Select("knn")
	assert.Error(t, err)
	_, ok := manager.Current()
	assert.False(t, ok)
}

func TestManagerWatchReloadsChangedArtifact(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	X, y := syntheticSet(80, 7)
	model := NewKNN(5)
	require.NoError(t, model.Fit(X, y))
	_, err := SaveModel(dir, "knn", model, nil)
	require.NoError(t, err)

	manager := NewManager(dir, nil, nil)
	first, err := manager.Select("knn")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	watching := make(chan error, 1)
	go func() { watching <- manager.Watch(ctx) }()

	// the watcher registers asynchronously; keep rewriting until it notices
	require.Eventually(t, func() bool {
		if _, err := SaveModel(dir, "knn", model, nil); err != nil {
			return false
		}
		current, ok := manager.Current()
		return ok && current.Identity() != first.Identity()
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.NoError(t, <-watching)
}

func TestManagerReloadKeepsNewerSelection(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	X, y := syntheticSet(80, 8)
	for _, kind := range []Kind{KindKNN, KindLogistic} {
		model, err := NewModel(kind)
		require.NoError(t, err)
		require.NoError(t, model.Fit(X, y))
		_, err = SaveModel(dir, string(kind), model, nil)
		require.NoError(t, err)
	}

	manager := NewManager(dir, nil, nil)
	knn, err := manager.Select("knn")
	require.NoError(t, err)
	logistic, err := manager.Select("logistic")
	require.NoError(t, err)

	// a reload triggered for knn lands after logistic was selected; even a
	// failing rebuild must not drop the newer selection
	require.NoError(t, os.Remove(knn.Path))
	manager.reload(knn.Identity())

	current, ok := manager.Current()
	require.True(t, ok)
	assert.Same(t, logistic, current)

	require.NoError(t, os.Remove(logistic.Path))
	manager.reload(logistic.Identity())
	_, ok = manager.Current()
	assert.False(t, ok, "a failed reload of the held model drops it")
}

type scorerFunc func([]float64) (float64, error)

func (f scorerFunc) PredictProbability(features []float64) (float64, error) { return f(features) }
