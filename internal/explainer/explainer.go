// Package explainer is a best-effort HTTP client for the external anomaly
// explainer microservice. Failures are never fatal to the batch pass.
package explainer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const requestTimeout = 1 * time.Second

// ModelOutput describes the anomaly that triggered the enrichment request.
type ModelOutput struct {
	Metric        string  `json:"metric"`
	ObservedValue float64 `json:"observed_value"`
	ExpectedRange [2]float64 `json:"expected_range"`
	AnomalyScore  float64 `json:"anomaly_score"`
	Model         string  `json:"model"`
	ModelVersion  string  `json:"model_version"`
}

type request struct {
	Context     string      `json:"context"`
	ModelOutput ModelOutput `json:"model_output"`
}

type response struct {
	Explanation string `json:"explanation"`
}

// Client calls the AI_EXPLAINER_URL endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Explain posts the anomaly context and returns the explanation text. Any
// failure (timeout, non-2xx, transport error) is returned as an error for
// the caller to log; callers must never let this block or fail a batch pass.
func (c *Client) Explain(ctx context.Context, context_ string, output ModelOutput) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(request{Context: context_, ModelOutput: output})
	if err != nil {
		return "", fmt.Errorf("marshal explain request: %w", err)
	}

	url := fmt.Sprintf("%s/explain/anomaly", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build explain request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("explain request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("explain request status %d", resp.StatusCode)
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode explain response: %w", err)
	}
	return out.Explanation, nil
}
