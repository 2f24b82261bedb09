package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"predictive-maintenance/utils"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMongo  = "mongo"
)

// Config is the runtime configuration, read from the environment after an
// optional .env file.
type Config struct {
	DataDir       string
	ProfilesDir   string
	ProcessedPath string
	DatasetPath   string
	ModelsDir     string
	CatalogPath   string
	DefaultModel  string
	ExportDir     string
	ExportLogPath string

	StoreBackend string
	SQLitePath   string
	MongoURI     string
	MongoDB      string

	Port          string
	WatchModels   bool
	ScoreTimeout  time.Duration
	GeminiAPIKey  string
	GeminiModel   string
	AllowedOrigin string
}

// Load reads envFiles (missing files are ignored) and the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	dataDir := utils.GetEnv("PM_DATA_DIR", "data")
	cfg := Config{
		DataDir:       dataDir,
		ProfilesDir:   utils.GetEnv("PM_PROFILES_DIR", "machine_profiles"),
		ProcessedPath: utils.GetEnv("PM_PROCESSED_PATH", filepath.Join(dataDir, "processed_data.csv")),
		DatasetPath:   utils.GetEnv("PM_DATASET_PATH", filepath.Join(dataDir, "ai4i2020.csv")),
		ModelsDir:     utils.GetEnv("PM_MODELS_DIR", filepath.Join("models", "trained_models", "classification")),
		CatalogPath:   utils.GetEnv("PM_MODEL_CATALOG", "models.yaml"),
		DefaultModel:  utils.GetEnv("PM_DEFAULT_MODEL", ""),
		ExportDir:     utils.GetEnv("PM_EXPORT_DIR", "reports"),
		ExportLogPath: utils.GetEnv("PM_EXPORT_LOG", filepath.Join(dataDir, "exports.json")),

		StoreBackend: utils.GetEnv("PM_STORE", StoreFile),
		SQLitePath:   utils.GetEnv("PM_SQLITE_PATH", filepath.Join(dataDir, "profiles.sqlite3")),
		MongoURI:     utils.GetEnv("PM_MONGO_URI", ""),
		MongoDB:      utils.GetEnv("PM_MONGO_DB", "predictive_maintenance"),

		Port:          utils.GetEnv("PM_PORT", "5000"),
		GeminiAPIKey:  utils.GetEnv("GEMINI_API_KEY", ""),
		GeminiModel:   utils.GetEnv("GEMINI_MODEL", ""),
		AllowedOrigin: utils.GetEnv("PM_ALLOWED_ORIGIN", "*"),
	}

	watch, err := strconv.ParseBool(utils.GetEnv("PM_WATCH_MODELS", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("PM_WATCH_MODELS: %w", err)
	}
	cfg.WatchModels = watch

	timeout, err := time.ParseDuration(utils.GetEnv("PM_SCORE_TIMEOUT", "10s"))
	if err != nil {
		return Config{}, fmt.Errorf("PM_SCORE_TIMEOUT: %w", err)
	}
	cfg.ScoreTimeout = timeout

	switch cfg.StoreBackend {
	case StoreFile, StoreSQLite:
	case StoreMongo:
		if cfg.MongoURI == "" {
			return Config{}, fmt.Errorf("PM_STORE=mongo requires PM_MONGO_URI")
		}
	default:
		return Config{}, fmt.Errorf("unknown PM_STORE %q", cfg.StoreBackend)
	}
	return cfg, nil
}

// InitDirs creates the working directories.
func (c Config) InitDirs() error {
	for _, dir := range []string{c.DataDir, c.ModelsDir, c.ExportDir} {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if c.StoreBackend == StoreFile {
		if err := utils.CreateFolder(c.ProfilesDir); err != nil {
			return fmt.Errorf("failed to create %s: %w", c.ProfilesDir, err)
		}
	}
	return nil
}
