package device

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController(host string) (*Controller, *PendingSlot, *TelemetryStore) {
	pending := &PendingSlot{}
	telemetry := &TelemetryStore{}
	c := NewController(ControllerConfig{
		Host:              host,
		TelemetryInterval: 20 * time.Millisecond,
		TelemetryTimeout:  time.Second,
		ControlTimeout:    time.Second,
		DrainInterval:     10 * time.Millisecond,
		SettleDelay:       time.Millisecond,
	}, pending, telemetry, nil)
	return c, pending, telemetry
}

func TestPendingSlotLastWriteWinsPerField(t *testing.T) {
	var p PendingSlot
	_, ok := p.Take()
	assert.False(t, ok)

	p.SetFrequency(500)
	p.SetVoltage(1100)
	p.SetFrequency(525)

	c, ok := p.Take()
	require.True(t, ok)
	assert.Equal(t, 525, *c.FrequencyMHz)
	assert.Equal(t, 1100, *c.VoltageMV)

	_, ok = p.Take()
	assert.False(t, ok)
}

func TestPendingSlotStageMerges(t *testing.T) {
	var p PendingSlot
	p.Stage(ParameterChange{VoltageMV: IntPtr(1200)})
	p.Stage(ParameterChange{FrequencyMHz: IntPtr(600)})
	p.Stage(ParameterChange{})

	c := p.Peek()
	assert.Equal(t, 600, *c.FrequencyMHz)
	assert.Equal(t, 1200, *c.VoltageMV)
}

func TestApplyWithoutHostFails(t *testing.T) {
	c, _, _ := newTestController("")

	rec, err := c.Apply(context.Background(), ParameterChange{FrequencyMHz: IntPtr(500)})
	assert.ErrorIs(t, err, ErrNoDeviceHost)
	assert.Equal(t, ChangeFailed, rec.State)
}

func TestApplyPatchesThenRestarts(t *testing.T) {
	dev := newFakeDevice(t)
	c, _, _ := newTestController(dev.Host())

	rec, err := c.Apply(context.Background(), ParameterChange{FrequencyMHz: IntPtr(575)})
	require.NoError(t, err)
	assert.Equal(t, ChangeApplied, rec.State)
	assert.Equal(t, 575, rec.Payload.Frequency)
	assert.Equal(t, BaselineVoltageMV, rec.Payload.Volts)

	assert.Equal(t, []string{"PATCH system", "POST restart"}, dev.Calls())

	last, ok := c.LastChange()
	require.True(t, ok)
	assert.Equal(t, ChangeApplied, last.State)
}

func TestApplyUsesTelemetryBaseline(t *testing.T) {
	dev := newFakeDevice(t)
	c, _, telemetry := newTestController(dev.Host())

	c.Poll(context.Background())
	_, ok := telemetry.Latest()
	require.True(t, ok)

	rec, err := c.Apply(context.Background(), ParameterChange{VoltageMV: IntPtr(1250)})
	require.NoError(t, err)
	assert.Equal(t, 485, rec.Payload.Frequency)
	assert.Equal(t, 1250, rec.Payload.Volts)
}

func TestApplyRejectedPatchIsNotApplied(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failWith("PATCH system", http.StatusBadRequest)
	c, _, _ := newTestController(dev.Host())

	rec, err := c.Apply(context.Background(), ParameterChange{FrequencyMHz: IntPtr(500)})
	assert.Error(t, err)
	assert.Equal(t, ChangeFailed, rec.State)
	assert.NotContains(t, dev.Calls(), "POST restart")
}

func TestApplyFailedRestartIsNotApplied(t *testing.T) {
	dev := newFakeDevice(t)
	dev.failWith("POST restart", http.StatusServiceUnavailable)
	c, _, _ := newTestController(dev.Host())

	rec, err := c.Apply(context.Background(), ParameterChange{FrequencyMHz: IntPtr(500)})
	assert.Error(t, err)
	assert.Equal(t, ChangeFailed, rec.State)
}

func TestPollFailureKeepsStaleSample(t *testing.T) {
	dev := newFakeDevice(t)
	c, _, telemetry := newTestController(dev.Host())

	c.Poll(context.Background())
	first, ok := telemetry.Latest()
	require.True(t, ok)

	dev.failWith("GET info", http.StatusInternalServerError)
	c.Poll(context.Background())

	again, ok := telemetry.Latest()
	require.True(t, ok)
	assert.Equal(t, first, again)

	polls, errs := telemetry.Stats()
	assert.Equal(t, uint64(1), polls)
	assert.Equal(t, uint64(1), errs)
}

func TestSetTargetHostLatestWins(t *testing.T) {
	c, _, _ := newTestController("")
	assert.True(t, c.SetTargetHost("10.0.0.2"))
	assert.False(t, c.SetTargetHost("10.0.0.2"))
	assert.True(t, c.SetTargetHost("10.0.0.3"))
	assert.Equal(t, "10.0.0.3", c.Host())
	assert.False(t, c.SetTargetHost(""))
	assert.Equal(t, "10.0.0.3", c.Host())

	configured, _, _ := newTestController("10.0.0.9")
	assert.False(t, configured.SetTargetHost("10.0.0.2"))
	assert.Equal(t, "10.0.0.9", configured.Host())
}

func TestDrainFollowsMovedHost(t *testing.T) {
	old := newFakeDevice(t)
	moved := newFakeDevice(t)
	c, pending, telemetry := newTestController("")

	c.SetTargetHost(old.Host())
	c.Poll(context.Background())
	require.Len(t, old.Calls(), 1)

	require.True(t, c.SetTargetHost(moved.Host()))
	pending.SetFrequency(500)

	rec, ran := c.Drain(context.Background())
	require.True(t, ran)
	assert.Equal(t, ChangeApplied, rec.State)
	assert.Equal(t, moved.Host(), rec.Host)
	assert.Equal(t, []string{"PATCH system", "POST restart"}, moved.Calls())
	assert.Equal(t, []string{"GET info"}, old.Calls())

	c.Poll(context.Background())
	assert.Contains(t, moved.Calls(), "GET info")
	_, ok := telemetry.Latest()
	assert.True(t, ok)
}

func TestDrainWaitsForHost(t *testing.T) {
	c, pending, _ := newTestController("")
	pending.SetFrequency(500)

	_, ran := c.Drain(context.Background())
	assert.False(t, ran)
	assert.False(t, pending.Peek().IsEmpty())
}

func TestRunDrainsPendingChange(t *testing.T) {
	dev := newFakeDevice(t)
	c, pending, telemetry := newTestController("")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	c.SetTargetHost(dev.Host())
	pending.SetVoltage(1150)

	require.Eventually(t, func() bool {
		rec, ok := c.LastChange()
		return ok && rec.State == ChangeApplied
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := telemetry.Latest()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
	assert.True(t, pending.Peek().IsEmpty())
}

func TestRestartCooldownSpacesChanges(t *testing.T) {
	dev := newFakeDevice(t)
	pending := &PendingSlot{}
	c := NewController(ControllerConfig{
		Host:            dev.Host(),
		RestartCooldown: time.Hour,
		SettleDelay:     time.Millisecond,
	}, pending, &TelemetryStore{}, nil)

	pending.SetFrequency(500)
	_, ran := c.Drain(context.Background())
	assert.True(t, ran)

	pending.SetFrequency(550)
	_, ran = c.Drain(context.Background())
	assert.False(t, ran)
	assert.Equal(t, 550, *pending.Peek().FrequencyMHz)
}

func TestHomeostasisStagesBoost(t *testing.T) {
	dev := newFakeDevice(t)
	dev.setInfo(gin.H{"frequency": 100, "coreVoltage": 900})

	pending := &PendingSlot{}
	c := NewController(ControllerConfig{
		Host:                dev.Host(),
		HomeostasisFloorMHz: 200,
		HomeostasisBoostMHz: 400,
		HomeostasisBoostMV:  1200,
	}, pending, &TelemetryStore{}, nil)

	c.Poll(context.Background())

	staged := pending.Peek()
	require.False(t, staged.IsEmpty())
	assert.Equal(t, 400, *staged.FrequencyMHz)
	assert.Equal(t, 1200, *staged.VoltageMV)
}
