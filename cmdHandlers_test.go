package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"predictive-maintenance/exports"
	"predictive-maintenance/ingest"
	"predictive-maintenance/machine"
	"predictive-maintenance/metrics"
	"predictive-maintenance/scorer"
	"predictive-maintenance/workbench"
)

// newTestRouter serves a registry of machines M000.. with tool wear 5*i. The
// returned dir holds data/, reports/ and the profile store.
func newTestRouter(t *testing.T, machines int, selectModel bool) (http.Handler, string) {
	t.Helper()
	dir := t.TempDir()

	modelServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Features []float64 `json:"features"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Features) != 5 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(map[string]float64{"probability": req.Features[4] / 250})
	}))
	t.Cleanup(modelServer.Close)

	store, err := machine.NewFileStore(filepath.Join(dir, "profiles"))
	require.NoError(t, err)
	registry := machine.NewRegistry(store, nil)
	for i := 0; i < machines; i++ {
		_, _, err := registry.Create(context.Background(), fmt.Sprintf("M%03d", i), "M",
			map[string]any{machine.FeatureToolWear: i * 5})
		require.NoError(t, err)
	}

	catalog := &scorer.Catalog{Models: []scorer.CatalogEntry{
		{Name: "wear", Kind: scorer.KindRemote, URL: modelServer.URL},
	}}
	promRegistry := prometheus.NewRegistry()
	wb, err := workbench.New(workbench.Options{
		Registry:  registry,
		Pipeline:  ingest.NewPipeline(registry, filepath.Join(dir, "data", "processed_data.csv"), nil),
		Models:    scorer.NewManager(filepath.Join(dir, "models"), catalog, nil),
		ExportLog: exports.NewLog(filepath.Join(dir, "exports.json")),
		ExportDir: filepath.Join(dir, "reports"),
		Metrics:   metrics.New(promRegistry),
	})
	require.NoError(t, err)
	if selectModel {
		_, err := wb.SelectModel("wear")
		require.NoError(t, err)
	}

	h := newAPIHandler(wb, filepath.Join(dir, "data"), filepath.Join(dir, "data", "missing.csv"), filepath.Join(dir, "uploads"))
	return newRouter(h, nil, promRegistry, "*"), dir
}

func do(t *testing.T, router http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestMachineRoutes(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 12, true)

	rec := do(t, router, http.MethodGet, "/api/machines?q=01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Machines []string `json:"machines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"M001", "M010", "M011"}, list.Machines)

	rec = do(t, router, http.MethodGet, "/api/machines/M003", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p machine.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 15.0, p.Features.ToolWear)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodGet, "/api/machines/X1", "").Code)

	rec = do(t, router, http.MethodPatch, "/api/machines/M003", `{"tool_wear": 200}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, router, http.MethodPatch, "/api/machines/M003", `{"torque": "lots"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPatch, "/api/machines/M003", `[1]`).Code)

	rec = do(t, router, http.MethodPatch, "/api/machines/M004", `{"tool_waer": 150}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown feature")
	rec = do(t, router, http.MethodGet, "/api/machines/M004", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, 20.0, p.Features.ToolWear)

	assert.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/machines", `{"machine_id":"H1","machine_type":"H","features":{"torque":50}}`).Code)
	assert.Equal(t, http.StatusConflict,
		do(t, router, http.MethodPost, "/api/machines", `{"machine_id":"H1","machine_type":"H"}`).Code)

	rec = do(t, router, http.MethodGet, "/api/machines/M003/prediction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var prediction workbench.Prediction
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prediction))
	assert.InDelta(t, 80.0, prediction.Percent, 1e-9)

	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/api/machines/M003/advice", "").Code)
}

func TestRiskRoutes(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 25, true)

	rec := do(t, router, http.MethodGet, "/api/risk?page=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var view workbench.PageView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 1, view.Page)
	require.Len(t, view.Entries, 5)
	assert.Equal(t, "M004", view.Entries[0].MachineID)
	assert.Equal(t, 21, view.Entries[0].Rank)

	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodGet, "/api/risk?page=two", "").Code)

	rec = do(t, router, http.MethodPost, "/api/risk/export", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	var record exports.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, 1, record.Page)
	assert.Equal(t, 5, record.Entries)

	assert.Equal(t, http.StatusNotFound, do(t, router, http.MethodPost, "/api/risk/export", `{"page": 9}`).Code)

	rec = do(t, router, http.MethodGet, "/api/exports", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var records []exports.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	assert.Len(t, records, 1)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pm_exports_total 1")
}

func TestExportRouteStaysInExportDir(t *testing.T) {
	t.Parallel()

	router, dir := newTestRouter(t, 5, true)
	outside := filepath.Join(dir, "outside", "report.csv")

	rec := do(t, router, http.MethodPost, "/api/risk/export", fmt.Sprintf(`{"page":0,"path":%q}`, outside))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	for _, name := range []string{outside, "../report.csv", "nested/report.csv", ".."} {
		rec := do(t, router, http.MethodPost, "/api/risk/export", fmt.Sprintf(`{"page":0,"name":%q}`, name))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
	_, err := os.Stat(filepath.Dir(outside))
	assert.True(t, os.IsNotExist(err), "nothing may be written outside the export directory")

	rec = do(t, router, http.MethodPost, "/api/risk/export", `{"page":0,"name":"weekly.csv"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var record exports.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, filepath.Join(dir, "reports", "weekly.csv"), record.Path)
	assert.FileExists(t, record.Path)
}

func TestIngestRouteReadsOnlyDataDir(t *testing.T) {
	t.Parallel()

	router, dir := newTestRouter(t, 2, false)
	dataset := strings.Join([]string{
		"UDI,Product ID,Type,Air temperature [K],Process temperature [K],Rotational speed [rpm],Torque [Nm],Tool wear [min],Machine failure",
		"1,L1,L,298.1,308.6,1551,42.8,0,0",
		"2,L2,M,300.0,310.0,1400,55.0,200,1",
	}, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fleet.csv"), []byte(dataset), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "data"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "fleet.csv"), []byte(dataset), 0644))

	assert.Equal(t, http.StatusBadRequest,
		do(t, router, http.MethodPost, "/api/ingest", fmt.Sprintf(`{"path":%q}`, filepath.Join(dir, "fleet.csv"))).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, router, http.MethodPost, "/api/ingest", `{"dataset":"../fleet.csv"}`).Code)

	rec := do(t, router, http.MethodGet, "/api/machines", "")
	assert.Contains(t, rec.Body.String(), "M000")

	rec = do(t, router, http.MethodPost, "/api/ingest", `{"dataset":"fleet.csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var result ingest.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Profiles)

	rec = do(t, router, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), "pm_registered_profiles 2")
}

func TestReloadRoute(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 4, false)
	assert.Equal(t, http.StatusCreated,
		do(t, router, http.MethodPost, "/api/machines", `{"machine_id":"H1","machine_type":"H"}`).Code)
	rec := do(t, router, http.MethodGet, "/metrics", "")
	assert.Contains(t, rec.Body.String(), "pm_registered_profiles 5")

	rec = do(t, router, http.MethodPost, "/api/machines/reload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report machine.LoadReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 5, report.Loaded)
}

func TestRiskWithoutModel(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 3, false)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, router, http.MethodGet, "/api/risk", "").Code)

	rec := do(t, router, http.MethodPut, "/api/model", `{"name":"gbm"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, router, http.MethodPut, "/api/model", `{"name":"wear"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/risk", "").Code)

	rec = do(t, router, http.MethodGet, "/api/model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"wear"`)
}

func TestIngestRouteMissingDataset(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 2, false)
	rec := do(t, router, http.MethodPost, "/api/ingest", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, http.MethodPost, "/api/ingest", `{"path":`).Code)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	router, _ := newTestRouter(t, 1, false)
	rec := do(t, router, http.MethodOptions, "/api/machines", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
