package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"predictive-maintenance/scorer"
)

// Config holds training configuration
type Config struct {
	DatasetPath  string
	ModelsDir    string
	Models       []string
	Neighbours   int
	TestFraction float64
	Seed         int64
}

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== Failure Classifier Training Pipeline ===\n")
	log.Printf("Dataset: %s\n", config.DatasetPath)
	log.Printf("Models dir: %s\n", config.ModelsDir)
	log.Println()

	startTime := time.Now()

	log.Println("Step 1: Loading training data...")
	X, y, err := scorer.LoadTrainingSet(config.DatasetPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load training data: %v", err)
	}
	positives := 0
	for _, label := range y {
		positives += label
	}
	log.Printf("Loaded %d samples (%d failures, %.2f%%)\n", len(y), positives, 100*float64(positives)/float64(len(y)))
	log.Println()

	log.Println("Step 2: Splitting train/test sets...")
	trainX, trainY, testX, testY := scorer.StratifiedSplit(X, y, config.TestFraction, config.Seed)
	log.Printf("Train: %d samples, test: %d samples (seed %d)\n", len(trainY), len(testY), config.Seed)
	log.Println()

	for i, name := range config.Models {
		log.Printf("Step %d: Training %s...\n", i+3, name)
		if err := trainOne(name, config, trainX, trainY, testX, testY); err != nil {
			log.Fatalf("ERROR: %s: %v", name, err)
		}
		log.Println()
	}

	log.Printf("=== Training complete in %s ===\n", time.Since(startTime).Round(time.Millisecond))
}

func trainOne(name string, config Config, trainX [][]float64, trainY []int, testX [][]float64, testY []int) error {
	var model scorer.Model
	switch scorer.Kind(name) {
	case scorer.KindKNN:
		model = scorer.NewKNN(config.Neighbours)
	case scorer.KindLogistic:
		model = scorer.NewLogistic()
	default:
		return fmt.Errorf("unsupported model kind %q", name)
	}

	started := time.Now()
	if err := model.Fit(trainX, trainY); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	log.Printf("Trained in %s\n", time.Since(started).Round(time.Millisecond))

	metrics, err := scorer.Evaluate(model, testX, testY)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	printMetrics(metrics)

	path, err := scorer.SaveModel(config.ModelsDir, name, model, &metrics)
	if err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}
	log.Printf("Saved %s\n", path)
	return nil
}

func printMetrics(m scorer.Metrics) {
	log.Printf("  Accuracy:  %.4f\n", m.Accuracy)
	log.Printf("  Precision: %.4f\n", m.Precision)
	log.Printf("  Recall:    %.4f\n", m.Recall)
	log.Printf("  F1:        %.4f\n", m.F1)
	log.Printf("  ROC-AUC:   %.4f\n", m.ROCAUC)
}

func parseFlags() Config {
	config := Config{}
	var models string

	flag.StringVar(&config.DatasetPath, "data", "data/processed_data.csv",
		"Cleaned dataset written by the ingest command")
	flag.StringVar(&config.ModelsDir, "models-dir", "models/trained_models/classification",
		"Directory to write model artifacts to")
	flag.StringVar(&models, "models", "knn,logistic",
		"Comma separated model kinds to train (knn, logistic)")
	flag.IntVar(&config.Neighbours, "k", scorer.DefaultNeighbours,
		"Neighbours consulted by the knn model")
	flag.Float64Var(&config.TestFraction, "test-size", 0.2,
		"Fraction of samples held out for evaluation")
	flag.Int64Var(&config.Seed, "seed", 42,
		"Random seed of the train/test split")

	flag.Parse()

	if _, err := os.Stat(config.DatasetPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Dataset does not exist: %s", config.DatasetPath)
	}
	for _, name := range strings.Split(models, ",") {
		if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
			config.Models = append(config.Models, name)
		}
	}
	if len(config.Models) == 0 {
		log.Fatalf("ERROR: No models requested")
	}
	return config
}
