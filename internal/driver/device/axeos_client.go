// internal/driver/device/axeos_client.go
// AxeOS management API client (Bitaxe, Lucky Miner LV06 and other ESP-Miner
// firmwares). Telemetry, configuration and restart all go over plain HTTP.

package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

const (
	AxeOSDefaultPort      = 80
	AxeOSTelemetryTimeout = 2 * time.Second
	AxeOSControlTimeout   = 5 * time.Second

	pathSystemInfo = "/api/system/info"
	pathSystem     = "/api/system"
	pathRestart    = "/api/system/restart"
)

// AxeOSClient talks to a single device's management endpoint.
type AxeOSClient struct {
	baseURL    string
	username   string
	password   string
	HTTPClient *http.Client
}

// NewAxeOSClient creates a client for host, which may carry a port or a
// full http:// prefix.
func NewAxeOSClient(host string, timeout time.Duration) *AxeOSClient {
	if timeout <= 0 {
		timeout = AxeOSControlTimeout
	}
	return &AxeOSClient{
		baseURL: normalizeBaseURL(host),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// WithCredentials enables basic auth for firmwares that require it.
func (c *AxeOSClient) WithCredentials(username, password string) *AxeOSClient {
	c.username = username
	c.password = password
	return c
}

// BaseURL returns the endpoint root the client targets.
func (c *AxeOSClient) BaseURL() string {
	return c.baseURL
}

func normalizeBaseURL(host string) string {
	host = strings.TrimRight(host, "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, fmt.Sprintf("%d", AxeOSDefaultPort))
	}
	return "http://" + host
}

// SystemPatch is the configuration payload accepted by PATCH /api/system.
type SystemPatch struct {
	Frequency int `json:"frequency"`
	Volts     int `json:"volts"`
}

// PoolPatch points the device's stratum client at a pool.
type PoolPatch struct {
	StratumURL      string `json:"stratumURL"`
	StratumPort     int    `json:"stratumPort"`
	StratumUser     string `json:"stratumUser"`
	StratumPassword string `json:"stratumPassword"`
}

// SystemInfo fetches and parses GET /api/system/info.
func (c *AxeOSClient) SystemInfo(ctx context.Context) (*TelemetrySample, error) {
	body, err := c.do(ctx, http.MethodGet, pathSystemInfo, nil)
	if err != nil {
		return nil, err
	}
	return ParseTelemetry(body)
}

// PatchSystem writes frequency (MHz) and core voltage (mV). The change is
// only staged in firmware until the device restarts.
func (c *AxeOSClient) PatchSystem(ctx context.Context, patch SystemPatch) error {
	_, err := c.do(ctx, http.MethodPatch, pathSystem, patch)
	return err
}

// ConfigurePool rewrites the device's primary pool settings.
func (c *AxeOSClient) ConfigurePool(ctx context.Context, patch PoolPatch) error {
	_, err := c.do(ctx, http.MethodPatch, pathSystem, patch)
	return err
}

// Restart asks the device to reboot. The reboot itself is not awaited.
func (c *AxeOSClient) Restart(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodPost, pathRestart, struct{}{})
	return err
}

// do issues one request and returns the response body
func (c *AxeOSClient) do(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s returned status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return respBody, nil
}
