package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	socketio "github.com/googollee/go-socket.io"
	"github.com/googollee/go-socket.io/engineio"
	"github.com/googollee/go-socket.io/engineio/transport"
	"github.com/googollee/go-socket.io/engineio/transport/polling"
	"github.com/googollee/go-socket.io/engineio/transport/websocket"
	"github.com/google/uuid"
	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"predictive-maintenance/config"
	"predictive-maintenance/ingest"
	"predictive-maintenance/machine"
	"predictive-maintenance/risk"
	"predictive-maintenance/scorer"
	"predictive-maintenance/utils"
	"predictive-maintenance/workbench"
)

type apiError struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		w.Header().Set("Access-Control-Allow-Origin", "*")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Message: message})
}

// errorStatus maps workbench errors onto HTTP statuses.
func errorStatus(err error) int {
	var (
		unknown   *machine.UnknownMachineError
		invalid   *machine.InvalidFeatureError
		schema    *ingest.SchemaError
		collision *workbench.CollisionError
		dimension *scorer.DimensionError
	)
	switch {
	case errors.Is(err, utils.ErrUnsafeName):
		return http.StatusBadRequest
	case errors.As(err, &unknown), errors.Is(err, scorer.ErrUnknownModel), errors.Is(err, workbench.ErrNothingToExport):
		return http.StatusNotFound
	case errors.As(err, &collision):
		return http.StatusConflict
	case errors.As(err, &invalid), errors.As(err, &schema), errors.As(err, &dimension),
		errors.Is(err, machine.ErrInvalidMachineID), errors.Is(err, ingest.ErrNoUsableRows):
		return http.StatusUnprocessableEntity
	case errors.Is(err, risk.ErrNoScorer), errors.Is(err, workbench.ErrAdvisorDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type apiHandler struct {
	wb          *workbench.Workbench
	dataDir     string
	datasetPath string
	uploadDir   string
	logger      *slog.Logger
}

// newAPIHandler returns the REST handlers. Datasets named by clients are
// resolved inside dataDir; datasetPath is ingested when none is named.
func newAPIHandler(wb *workbench.Workbench, dataDir, datasetPath, uploadDir string) *apiHandler {
	return &apiHandler{
		wb:          wb,
		dataDir:     dataDir,
		datasetPath: datasetPath,
		uploadDir:   uploadDir,
		logger:      utils.GetLogger(),
	}
}

func (h *apiHandler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, slog.String("path", r.URL.Path), slog.Any("error", xerrors.New(err)))
	}
	writeJSONError(w, status, err.Error())
}

func (h *apiHandler) listMachines(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"machines": h.wb.ListMachines(r.URL.Query().Get("q"))})
}

func (h *apiHandler) getMachine(w http.ResponseWriter, r *http.Request) {
	p, err := h.wb.Machine(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "failed to load machine", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createMachineRequest struct {
	MachineID   string         `json:"machine_id"`
	MachineType string         `json:"machine_type"`
	Features    map[string]any `json:"features"`
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.UseNumber()
	return dec.Decode(dst)
}

// decodeStrictBody is decodeBody for request structs: unknown fields fail.
func decodeStrictBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func (h *apiHandler) createMachine(w http.ResponseWriter, r *http.Request) {
	var req createMachineRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := h.wb.CreateMachine(r.Context(), strings.TrimSpace(req.MachineID), strings.TrimSpace(req.MachineType), req.Features)
	if err != nil {
		h.fail(w, r, "failed to create machine", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *apiHandler) updateMachine(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	if err := decodeBody(r, &raw); err != nil || len(raw) == 0 {
		writeJSONError(w, http.StatusBadRequest, "expected a JSON object of feature values")
		return
	}
	p, err := h.wb.UpdateMachine(r.Context(), chi.URLParam(r, "id"), raw)
	if err != nil {
		h.fail(w, r, "failed to update machine", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *apiHandler) predict(w http.ResponseWriter, r *http.Request) {
	prediction, err := h.wb.Predict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "prediction failed", err)
		return
	}
	writeJSON(w, http.StatusOK, prediction)
}

func (h *apiHandler) advice(w http.ResponseWriter, r *http.Request) {
	note, err := h.wb.Advice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "advice failed", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *apiHandler) riskPage(w http.ResponseWriter, r *http.Request) {
	page := 0
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "page must be an integer")
			return
		}
		page = n
	}
	view, err := h.wb.RiskPage(r.Context(), page)
	if err != nil {
		h.fail(w, r, "ranking failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// exportRequest names the page and, optionally, the report file. The file is
// always written inside the export directory.
type exportRequest struct {
	Page *int   `json:"page"`
	Name string `json:"name"`
}

func (h *apiHandler) exportPage(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if r.ContentLength != 0 {
		if err := decodeStrictBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	dest := ""
	if req.Name != "" {
		target, err := h.wb.ExportTarget(req.Name)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		dest = target
	}
	record, err := h.wb.ExportPage(r.Context(), req.Page, dest)
	if err != nil {
		h.fail(w, r, "export failed", err)
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (h *apiHandler) listExports(w http.ResponseWriter, r *http.Request) {
	records, err := h.wb.Exports()
	if err != nil {
		h.fail(w, r, "failed to load exports", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type ingestRequest struct {
	Dataset string `json:"dataset"`
}

// ingest accepts either a JSON body naming a dataset file in the data
// directory or a multipart upload in the "dataset" field.
func (h *apiHandler) ingest(w http.ResponseWriter, r *http.Request) {
	path := h.datasetPath

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		uploaded, err := h.saveUpload(r)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "failed to store uploaded dataset", slog.Any("error", xerrors.New(err)))
			writeJSONError(w, http.StatusBadRequest, "invalid dataset upload")
			return
		}
		defer os.Remove(uploaded)
		path = uploaded
	} else if r.ContentLength != 0 {
		var req ingestRequest
		if err := decodeStrictBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Dataset != "" {
			named, err := utils.JoinBaseName(h.dataDir, req.Dataset)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			path = named
		}
	}

	result, err := h.wb.Ingest(r.Context(), path)
	if err != nil {
		var ioErr *utils.IOError
		if errors.As(err, &ioErr) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.fail(w, r, "ingestion failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *apiHandler) reloadMachines(w http.ResponseWriter, r *http.Request) {
	report, err := h.wb.Reload(r.Context())
	if err != nil {
		h.fail(w, r, "failed to reload machine profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *apiHandler) saveUpload(r *http.Request) (string, error) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		return "", err
	}
	file, _, err := r.FormFile("dataset")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if err := utils.CreateFolder(h.uploadDir); err != nil {
		return "", err
	}
	dest := filepath.Join(h.uploadDir, "upload_"+uuid.New().String()+".csv")
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		os.Remove(dest)
		return "", err
	}
	return dest, out.Close()
}

func (h *apiHandler) getModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.wb.ModelInfo())
}

type selectModelRequest struct {
	Name string `json:"name"`
}

func (h *apiHandler) selectModel(w http.ResponseWriter, r *http.Request) {
	var req selectModelRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeJSONError(w, http.StatusBadRequest, "model name is required")
		return
	}
	if _, err := h.wb.SelectModel(req.Name); err != nil {
		h.fail(w, r, "failed to select model", err)
		return
	}
	writeJSON(w, http.StatusOK, h.wb.ModelInfo())
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// newRouter mounts the REST API. socketServer and gatherer may be nil.
func newRouter(h *apiHandler, socketServer *socketio.Server, gatherer prometheus.Gatherer, allowedOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Logger)
		r.Use(corsMiddleware(allowedOrigin))

		r.Get("/machines", h.listMachines)
		r.Post("/machines", h.createMachine)
		r.Post("/machines/reload", h.reloadMachines)
		r.Get("/machines/{id}", h.getMachine)
		r.Patch("/machines/{id}", h.updateMachine)
		r.Get("/machines/{id}/prediction", h.predict)
		r.Get("/machines/{id}/advice", h.advice)

		r.Get("/risk", h.riskPage)
		r.Post("/risk/export", h.exportPage)
		r.Get("/exports", h.listExports)

		r.Post("/ingest", h.ingest)
		r.Get("/model", h.getModel)
		r.Put("/model", h.selectModel)
	})

	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	if socketServer != nil {
		r.Handle("/socket.io/*", socketServer)
	}
	r.Handle("/*", http.FileServer(http.Dir("static")))
	return r
}

func serve(ctx context.Context, cfg config.Config, protocol, port string) {
	protocol = strings.ToLower(protocol)
	allowOriginFunc := func(r *http.Request) bool {
		if cfg.AllowedOrigin == "*" {
			return true
		}
		return r.Header.Get("Origin") == cfg.AllowedOrigin
	}

	app, err := newApp(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	defer app.Close()

	if cfg.WatchModels {
		go func() {
			if err := app.models.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				app.logger.Error("model watcher stopped", slog.Any("error", xerrors.New(err)))
			}
		}()
	}

	server := socketio.NewServer(&engineio.Options{
		PingTimeout:  60 * time.Second,
		PingInterval: 25 * time.Second,
		Transports: []transport.Transport{
			&websocket.Transport{
				CheckOrigin: allowOriginFunc,
			},
			&polling.Transport{
				CheckOrigin: allowOriginFunc,
			},
		},
	})
	controller := newSocketController(app.wb, server)
	controller.register()

	go func() {
		if err := server.Serve(); err != nil {
			log.Fatalf("socketio listen error: %s\n", err)
		}
	}()
	defer server.Close()

	h := newAPIHandler(app.wb, cfg.DataDir, cfg.DatasetPath, filepath.Join(cfg.DataDir, "uploads"))
	router := newRouter(h, server, prometheus.DefaultGatherer, cfg.AllowedOrigin)

	serveHTTP(server, protocol == "https", port, router)
}

func serveHTTP(socketServer *socketio.Server, serveHTTPS bool, port string, handler http.Handler) {
	if handler == nil {
		handler = socketServer
	}
	if serveHTTPS {
		httpsAddr := ":" + port
		httpsServer := &http.Server{
			Addr: httpsAddr,
			TLSConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			Handler: handler,
		}

		certKey := utils.GetEnv("CERT_KEY", "")
		certFile := utils.GetEnv("CERT_FILE", "")
		if certKey == "" || certFile == "" {
			log.Fatal("Missing cert: set CERT_KEY and CERT_FILE")
		}

		log.Printf("Starting HTTPS server on %s\n", httpsAddr)
		if err := httpsServer.ListenAndServeTLS(certFile, certKey); err != nil {
			log.Fatalf("HTTPS server ListenAndServeTLS: %v", err)
		}
	}

	log.Printf("Starting HTTP server on port %v", port)
	if err := http.ListenAndServe(":"+port, handler); err != nil {
		log.Fatalf("HTTP server ListenAndServe: %v", err)
	}
}
