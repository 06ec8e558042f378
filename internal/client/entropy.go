package client

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"chimera/internal/bridge"
	"chimera/pkg/hashing/core"
)

const (
	DefaultDistributionAddr = "127.0.0.1:4028"
	DefaultTimeout          = 2 * time.Second
	HashSize                = 32
)

// EntropyClient speaks the one-command-per-connection distribution
// protocol.
type EntropyClient struct {
	Addr    string
	Timeout time.Duration
}

// NewEntropyClient creates a client for addr.
func NewEntropyClient(addr string) *EntropyClient {
	if addr == "" {
		addr = DefaultDistributionAddr
	}
	return &EntropyClient{Addr: addr, Timeout: DefaultTimeout}
}

// roundTrip sends cmd and reads until the server closes the connection.
func (c *EntropyClient) roundTrip(ctx context.Context, cmd string) ([]byte, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte(cmd)); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", cmd, err)
	}
	out, err := io.ReadAll(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to read reply to %s: %w", cmd, err)
	}
	return out, nil
}

func (c *EntropyClient) expectOK(ctx context.Context, cmd string) error {
	out, err := c.roundTrip(ctx, cmd)
	if err != nil {
		return err
	}
	if reply := strings.TrimSpace(string(out)); reply != "OK" {
		return fmt.Errorf("%s rejected: %q", cmd, reply)
	}
	return nil
}

// GetMetrics fetches the metrics snapshot.
func (c *EntropyClient) GetMetrics(ctx context.Context) (*bridge.Metrics, error) {
	out, err := c.roundTrip(ctx, "GET_METRICS")
	if err != nil {
		return nil, err
	}
	var m bridge.Metrics
	if err := json.Unmarshal(out, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metrics: %w", err)
	}
	return &m, nil
}

// InjectSeed replaces the seed embedded in future jobs.
func (c *EntropyClient) InjectSeed(ctx context.Context, seed string) error {
	return c.expectOK(ctx, "SEED:"+seed)
}

// SetFrequency stages a frequency change in MHz.
func (c *EntropyClient) SetFrequency(ctx context.Context, mhz int) error {
	return c.expectOK(ctx, "SET_FREQUENCY:"+strconv.Itoa(mhz))
}

// SetVoltage stages a core voltage change in mV.
func (c *EntropyClient) SetVoltage(ctx context.Context, mv int) error {
	return c.expectOK(ctx, "SET_VOLTAGE:"+strconv.Itoa(mv))
}

// Burst pops up to n hashes. An empty result is not an error.
func (c *EntropyClient) Burst(ctx context.Context, n int) ([][HashSize]byte, error) {
	out, err := c.roundTrip(ctx, "BURST:"+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	if len(out)%HashSize != 0 {
		return nil, fmt.Errorf("burst reply of %d bytes is not a multiple of %d", len(out), HashSize)
	}
	hashes := make([][HashSize]byte, len(out)/HashSize)
	for i := range hashes {
		copy(hashes[i][:], out[i*HashSize:])
	}
	return hashes, nil
}

// RecentHashes drains the buffer as hex strings and decodes them.
func (c *EntropyClient) RecentHashes(ctx context.Context) ([][HashSize]byte, error) {
	out, err := c.roundTrip(ctx, "GET_RECENT_HASHES")
	if err != nil {
		return nil, err
	}
	var hexes []string
	if err := json.Unmarshal(out, &hexes); err != nil {
		return nil, fmt.Errorf("failed to parse hashes: %w", err)
	}
	hashes := make([][HashSize]byte, 0, len(hexes))
	for _, h := range hexes {
		b, err := core.DecodeHexField("hash", h, HashSize)
		if err != nil {
			return nil, err
		}
		var arr [HashSize]byte
		copy(arr[:], b)
		hashes = append(hashes, arr)
	}
	return hashes, nil
}
