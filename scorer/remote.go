package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"predictive-maintenance/machine"
)

// Remote delegates scoring to an HTTP model server.
//
// POST <url>/predict  {"features": [...], "feature_names": [...]}
// -> 200 {"probability": 0.42}
type Remote struct {
	serviceURL string
	client     *http.Client
}

type predictRequest struct {
	Features     []float64 `json:"features"`
	FeatureNames []string  `json:"feature_names"`
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
}

// NewRemote creates a client for the model server at serviceURL.
func NewRemote(serviceURL string, timeout time.Duration) *Remote {
	if serviceURL == "" {
		serviceURL = "http://localhost:5002"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		serviceURL: strings.TrimRight(serviceURL, "/"),
		client:     &http.Client{Timeout: timeout},
	}
}

// HealthCheck verifies the model server is running.
func (r *Remote) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.serviceURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("model service not reachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

// PredictProbability asks the model server for a failure probability.
func (r *Remote) PredictProbability(features []float64) (float64, error) {
	if len(features) != len(machine.NumericFeatures) {
		return 0, &DimensionError{Got: len(features), Want: len(machine.NumericFeatures)}
	}

	body, err := json.Marshal(predictRequest{Features: features, FeatureNames: machine.NumericFeatures})
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, r.serviceURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("prediction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("model service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var predResp predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&predResp); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	if predResp.Probability == nil {
		return 0, fmt.Errorf("response has no probability")
	}
	return *predResp.Probability, nil
}
