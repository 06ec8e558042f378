package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chimera/internal/api"
	"chimera/internal/bridge"
	"chimera/internal/distribution"
)

func startBridge(t *testing.T) (*EntropyClient, *bridge.State) {
	t.Helper()
	state, err := bridge.NewState(bridge.Config{RingCapacity: 64})
	require.NoError(t, err)

	srv := distribution.NewServer(distribution.Config{Listen: "127.0.0.1:0"}, state, nil)
	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return NewEntropyClient(srv.Addr().String()), state
}

func pushHashes(state *bridge.State, n int) {
	for i := 0; i < n; i++ {
		var h [HashSize]byte
		h[0] = byte(i + 1)
		state.Ring.Push(h)
	}
}

func TestEntropyClientBurst(t *testing.T) {
	c, state := startBridge(t)
	ctx := context.Background()

	got, err := c.Burst(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, got)

	pushHashes(state, 3)
	got, err = c.Burst(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, byte(1), got[0][0])
}

func TestEntropyClientCommands(t *testing.T) {
	c, state := startBridge(t)
	ctx := context.Background()

	require.NoError(t, c.InjectSeed(ctx, "DELTA"))
	assert.Equal(t, "DELTA", state.Seed())

	require.NoError(t, c.SetFrequency(ctx, 500))
	require.NoError(t, c.SetVoltage(ctx, 1150))
	change := state.Pending.Peek()
	assert.Equal(t, 500, *change.FrequencyMHz)
	assert.Equal(t, 1150, *change.VoltageMV)

	m, err := c.GetMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "DELTA", m.Seed)
	assert.Equal(t, 1.0, m.CV)

	pushHashes(state, 2)
	hashes, err := c.RecentHashes(ctx)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
}

func TestEntropyClientUnreachable(t *testing.T) {
	c := NewEntropyClient("127.0.0.1:1")
	c.Timeout = 200 * time.Millisecond
	_, err := c.Burst(context.Background(), 1)
	assert.Error(t, err)
}

func TestAccumulatorAgainstBridge(t *testing.T) {
	c, state := startBridge(t)
	pushHashes(state, 40)

	acc := NewAccumulator(c, nil)
	acc.BatchSize = 16
	acc.EmptyBackoff = 10 * time.Millisecond

	res := acc.Accumulate(context.Background(), 40, 2*time.Second)
	assert.True(t, res.Complete)
	assert.Len(t, res.Hashes, 40)
	assert.Equal(t, 0, state.Ring.Len())
}

func TestAPIClient(t *testing.T) {
	state, err := bridge.NewState(bridge.Config{RingCapacity: 8})
	require.NoError(t, err)
	ts := httptest.NewServer(api.NewServer("", state, nil, nil, nil).Handler())
	defer ts.Close()

	c := NewAPIClient(ts.URL)

	health, err := c.GetHealth()
	require.NoError(t, err)
	assert.Equal(t, "waiting_for_device", health.Status)

	require.NoError(t, c.InjectSeed("EPSILON"))
	assert.Equal(t, "EPSILON", state.Seed())

	require.NoError(t, c.StageHardware(480, 0))
	assert.Equal(t, 480, *state.Pending.Peek().FrequencyMHz)
	assert.Error(t, c.StageHardware(0, 0))

	pushHashes(state, 2)
	hashes, err := c.Entropy(5)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)

	m, err := c.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, "EPSILON", m.Seed)
}
