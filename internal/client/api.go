// internal/client/api.go
// Package client provides consumer-side access to a running bridge
package client

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"chimera/internal/bridge"
	"chimera/pkg/hashing/core"
)

// APIClient represents a client for the bridge HTTP API
type APIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAPIClient creates a new API client for baseURL, e.g. http://127.0.0.1:8080
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// GetHealth calls the health endpoint
func (c *APIClient) GetHealth() (*HealthResponse, error) {
	resp, err := c.get("/api/v1/health")
	if err != nil {
		return nil, err
	}

	var result HealthResponse
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// GetMetrics returns the bridge metrics snapshot
func (c *APIClient) GetMetrics() (*bridge.Metrics, error) {
	resp, err := c.get("/api/v1/metrics")
	if err != nil {
		return nil, err
	}

	var result bridge.Metrics
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &result, nil
}

// Entropy pops up to count buffered hashes
func (c *APIClient) Entropy(count int) ([][32]byte, error) {
	resp, err := c.get("/api/v1/entropy?count=" + url.QueryEscape(strconv.Itoa(count)))
	if err != nil {
		return nil, err
	}

	var result struct {
		Hashes []string `json:"hashes"`
	}
	if err := json.Unmarshal(*resp, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	out := make([][32]byte, 0, len(result.Hashes))
	for _, h := range result.Hashes {
		b, err := core.DecodeHexField("hash", h, 32)
		if err != nil {
			return nil, err
		}
		var arr [32]byte
		copy(arr[:], b)
		out = append(out, arr)
	}
	return out, nil
}

// InjectSeed replaces the seed used for future jobs
func (c *APIClient) InjectSeed(seed string) error {
	_, err := c.post("/api/v1/seed", map[string]interface{}{"seed": seed})
	return err
}

// StageHardware queues a frequency and/or voltage change; zero leaves a
// field untouched
func (c *APIClient) StageHardware(frequencyMHz, voltageMV int) error {
	req := map[string]interface{}{}
	if frequencyMHz > 0 {
		req["frequency_mhz"] = frequencyMHz
	}
	if voltageMV > 0 {
		req["voltage_mv"] = voltageMV
	}
	_, err := c.post("/api/v1/hardware", req)
	return err
}

// post makes a POST request to the API
func (c *APIClient) post(endpoint string, data interface{}) (*json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.HTTPClient.Post(
		c.BaseURL+endpoint,
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

// get makes a GET request to the API
func (c *APIClient) get(endpoint string) (*json.RawMessage, error) {
	resp, err := c.HTTPClient.Get(c.BaseURL + endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	return decodeResponse(resp)
}

func decodeResponse(resp *http.Response) (*json.RawMessage, error) {
	// Read response body first to provide better error messages
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && (errResp.Error != "" || errResp.Message != "") {
			errMsg := errResp.Error
			if errMsg == "" {
				errMsg = errResp.Message
			}
			return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, errMsg)
		}
		// Truncate response for error message
		preview := string(respBody)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, preview)
	}

	var result json.RawMessage
	if err := json.Unmarshal(respBody, &result); err != nil {
		preview := string(respBody)
		if len(preview) > 100 {
			preview = preview[:100] + "..."
		}
		return nil, fmt.Errorf("failed to decode JSON response: %w (response: %s)", err, preview)
	}

	return &result, nil
}

// Response types
type HealthResponse struct {
	Status       string  `json:"status"`
	Uptime       string  `json:"uptime"`
	Sessions     int     `json:"sessions"`
	DeviceHost   string  `json:"device_host,omitempty"`
	HostCPU      float64 `json:"host_cpu_percent"`
	HostMemory   float64 `json:"host_memory_percent"`
	TelemetryAge string  `json:"telemetry_age,omitempty"`
}
