package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"predictive-maintenance/risk"
	"predictive-maintenance/scorer"
	"predictive-maintenance/utils"
)

// EvaluationConfig holds evaluation parameters
type EvaluationConfig struct {
	ArtifactPath string
	DatasetPath  string
	HoldoutOnly  bool
	TestFraction float64
	Seed         int64
	ReportPath   string
}

// EvaluationReport contains the evaluation results
type EvaluationReport struct {
	Timestamp       time.Time          `json:"timestamp"`
	Artifact        string             `json:"artifact"`
	Kind            scorer.Kind        `json:"kind"`
	Dataset         string             `json:"dataset"`
	Metrics         scorer.Metrics     `json:"metrics"`
	TrainingMetrics *scorer.Metrics    `json:"training_metrics,omitempty"`
	ConfusionMatrix [2][2]int          `json:"confusion_matrix"`
	Levels          map[risk.Level]int `json:"levels"`
	ProcessingTime  time.Duration      `json:"processing_time"`
}

func main() {
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime)
	log.Printf("=== Failure Classifier Evaluation ===\n")

	startTime := time.Now()

	artifact, err := scorer.LoadArtifact(config.ArtifactPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load artifact: %v", err)
	}
	model, err := artifact.Build()
	if err != nil {
		log.Fatalf("ERROR: Failed to restore model: %v", err)
	}
	log.Printf("Model: %s (%s), trained %s\n", artifact.Name, artifact.Kind, artifact.TrainedAt.Format(time.RFC3339))

	X, y, err := scorer.LoadTrainingSet(config.DatasetPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load dataset: %v", err)
	}
	if config.HoldoutOnly {
		_, _, X, y = scorer.StratifiedSplit(X, y, config.TestFraction, config.Seed)
		log.Printf("Evaluating on the %d sample holdout (seed %d)\n", len(y), config.Seed)
	} else {
		log.Printf("Evaluating on all %d samples\n", len(y))
	}

	metrics, err := scorer.Evaluate(model, X, y)
	if err != nil {
		log.Fatalf("ERROR: Evaluation failed: %v", err)
	}

	report := EvaluationReport{
		Timestamp:       time.Now().UTC(),
		Artifact:        config.ArtifactPath,
		Kind:            artifact.Kind,
		Dataset:         config.DatasetPath,
		Metrics:         metrics,
		TrainingMetrics: artifact.Metrics,
		Levels:          make(map[risk.Level]int),
	}
	for i, features := range X {
		p, err := model.PredictProbability(features)
		if err != nil {
			log.Fatalf("ERROR: Sample %d could not be scored: %v", i, err)
		}
		predicted := 0
		if p >= 0.5 {
			predicted = 1
		}
		actual := 0
		if y[i] != 0 {
			actual = 1
		}
		report.ConfusionMatrix[actual][predicted]++
		report.Levels[risk.LevelOf(p)]++
	}
	report.ProcessingTime = time.Since(startTime)

	printEvaluationReport(report)

	if config.ReportPath != "" {
		if err := saveReport(report, config.ReportPath); err != nil {
			log.Fatalf("ERROR: Failed to save report: %v", err)
		}
		log.Printf("Report saved to %s\n", config.ReportPath)
	}
}

func parseFlags() EvaluationConfig {
	config := EvaluationConfig{}

	flag.StringVar(&config.ArtifactPath, "model", "models/trained_models/classification/knn.json",
		"Model artifact to evaluate")
	flag.StringVar(&config.DatasetPath, "data", "data/processed_data.csv",
		"Labelled dataset to evaluate against")
	flag.BoolVar(&config.HoldoutOnly, "holdout", true,
		"Evaluate only on the stratified test split used by train_model")
	flag.Float64Var(&config.TestFraction, "test-size", 0.2,
		"Fraction of samples in the holdout")
	flag.Int64Var(&config.Seed, "seed", 42,
		"Random seed of the train/test split")
	flag.StringVar(&config.ReportPath, "report", "",
		"Optional path to write a JSON report")

	flag.Parse()

	if _, err := os.Stat(config.ArtifactPath); os.IsNotExist(err) {
		log.Fatalf("ERROR: Model artifact does not exist: %s", config.ArtifactPath)
	}
	return config
}

func printEvaluationReport(report EvaluationReport) {
	m := report.Metrics
	log.Println()
	log.Printf("Samples:   %d\n", m.Samples)
	log.Printf("Accuracy:  %.4f\n", m.Accuracy)
	log.Printf("Precision: %.4f\n", m.Precision)
	log.Printf("Recall:    %.4f\n", m.Recall)
	log.Printf("F1:        %.4f\n", m.F1)
	log.Printf("ROC-AUC:   %.4f\n", m.ROCAUC)
	if t := report.TrainingMetrics; t != nil {
		log.Printf("(at training time: accuracy %.4f, ROC-AUC %.4f)\n", t.Accuracy, t.ROCAUC)
	}

	log.Println()
	log.Println("Confusion matrix (rows: actual, columns: predicted)")
	log.Printf("              ok   failure\n")
	log.Printf("  ok       %5d   %7d\n", report.ConfusionMatrix[0][0], report.ConfusionMatrix[0][1])
	log.Printf("  failure  %5d   %7d\n", report.ConfusionMatrix[1][0], report.ConfusionMatrix[1][1])

	log.Println()
	log.Println("Risk levels")
	for _, level := range []risk.Level{risk.LevelHigh, risk.LevelMedium, risk.LevelLow} {
		log.Printf("  %-6s %d\n", level, report.Levels[level])
	}
	log.Printf("Processing time: %s\n", report.ProcessingTime.Round(time.Millisecond))
}

func saveReport(report EvaluationReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return utils.WriteFileAtomic(path, data, 0644)
}
