package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"

	"predictive-maintenance/advisor"
	"predictive-maintenance/config"
	"predictive-maintenance/db"
	"predictive-maintenance/exports"
	"predictive-maintenance/ingest"
	"predictive-maintenance/machine"
	"predictive-maintenance/metrics"
	"predictive-maintenance/report"
	"predictive-maintenance/scorer"
	"predictive-maintenance/utils"
	"predictive-maintenance/workbench"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger := utils.GetLogger()
		logger.ErrorContext(context.Background(), "command failed", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

// app is everything one process needs, built from the configuration.
type app struct {
	cfg      config.Config
	registry *machine.Registry
	models   *scorer.Manager
	wb       *workbench.Workbench
	logger   *slog.Logger
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", slog.Any("error", xerrors.New(err)))
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (machine.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		store, err := db.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreMongo:
		store, err := db.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		store, err := machine.NewFileStore(cfg.ProfilesDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { return nil }, nil
	}
}

// newApp opens the profile store, loads the registry and selects the default
// model. A missing model artifact is not fatal: ranking reports it until a
// model is selected.
func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	logger := utils.GetLogger()

	if err := cfg.InitDirs(); err != nil {
		return nil, err
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s profile store: %w", cfg.StoreBackend, err)
	}
	a := &app{cfg: cfg, logger: logger, closers: []func() error{closeStore}}

	registry, err := machine.LoadRegistry(ctx, store, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load machine profiles: %w", err)
	}
	a.registry = registry

	catalog, err := scorer.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.models = scorer.NewManager(cfg.ModelsDir, catalog, logger)
	a.models.SetTimeout(cfg.ScoreTimeout)

	var adv *advisor.Advisor
	if cfg.GeminiAPIKey != "" {
		client, err := advisor.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("maintenance advisor disabled", slog.Any("error", xerrors.New(err)))
		} else {
			adv = advisor.New(client)
		}
	}

	wb, err := workbench.New(workbench.Options{
		Registry:  registry,
		Pipeline:  ingest.NewPipeline(registry, cfg.ProcessedPath, logger),
		Models:    a.models,
		Exporter:  report.NewExporter(),
		ExportLog: exports.NewLog(cfg.ExportLogPath),
		ExportDir: cfg.ExportDir,
		Advisor:   adv,
		Metrics:   metrics.New(reg),
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.wb = wb

	name := cfg.DefaultModel
	if name == "" {
		name = catalog.Default
	}
	if name != "" {
		if _, err := wb.SelectModel(name); err != nil {
			if errors.Is(err, scorer.ErrUnknownModel) {
				a.Close()
				return nil, err
			}
			log.Printf("WARNING: model %s not loaded: %v\n", name, err)
			log.Println("Train it with cmd/train_model or select another model through the API.")
		}
	}

	logger.Info("workbench ready",
		slog.Int("machines", registry.Len()),
		slog.String("store", cfg.StoreBackend),
		slog.String("models_dir", cfg.ModelsDir))
	return a, nil
}
