// internal/driver/device/controller.go
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chimera/internal/logging"
)

const (
	DefaultTelemetryInterval = 3 * time.Second
	DefaultDrainInterval     = 500 * time.Millisecond
	DefaultRestartCooldown   = 10 * time.Second
	DefaultSettleDelay       = 2 * time.Second

	// Baseline used when no telemetry has been read yet.
	BaselineFrequencyMHz = 400
	BaselineVoltageMV    = 1000
)

// ErrNoDeviceHost is returned when a change is applied before the device
// address is known.
var ErrNoDeviceHost = errors.New("device host not known yet")

// ChangeState tracks a parameter change through the firmware. Accepted means
// the configuration endpoint took the patch; only a sent restart makes it
// Applied, since the PLLs do not re-lock without a reboot.
type ChangeState string

const (
	ChangeStaged   ChangeState = "staged"
	ChangeAccepted ChangeState = "accepted"
	ChangeApplied  ChangeState = "applied"
	ChangeFailed   ChangeState = "failed"
)

// ChangeRecord describes the most recent change attempt.
type ChangeRecord struct {
	ID        uint64      `json:"id"`
	Host      string      `json:"host"`
	Payload   SystemPatch `json:"payload"`
	State     ChangeState `json:"state"`
	Error     string      `json:"error,omitempty"`
	StagedAt  time.Time   `json:"staged_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ControllerConfig holds timing and policy for the control channel.
type ControllerConfig struct {
	Host              string
	Username          string
	Password          string
	TelemetryInterval time.Duration
	TelemetryTimeout  time.Duration
	ControlTimeout    time.Duration
	DrainInterval     time.Duration
	RestartCooldown   time.Duration
	SettleDelay       time.Duration

	// Homeostasis: a device found running below FloorMHz gets a boost
	// staged. Zero disables it.
	HomeostasisFloorMHz int
	HomeostasisBoostMHz int
	HomeostasisBoostMV  int
}

func (c *ControllerConfig) applyDefaults() {
	if c.TelemetryInterval <= 0 {
		c.TelemetryInterval = DefaultTelemetryInterval
	}
	if c.TelemetryTimeout <= 0 {
		c.TelemetryTimeout = AxeOSTelemetryTimeout
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = AxeOSControlTimeout
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = DefaultDrainInterval
	}
	if c.RestartCooldown < 0 {
		c.RestartCooldown = 0
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
}

// Controller polls telemetry and drains the pending change slot. It runs
// apart from the share path; nothing here is awaited by the gateway.
type Controller struct {
	cfg       ControllerConfig
	log       *logging.Logger
	pending   *PendingSlot
	telemetry *TelemetryStore
	limiter   *rate.Limiter

	mu      sync.RWMutex
	host    string
	client  *AxeOSClient
	poller  *AxeOSClient
	last    ChangeRecord
	changes uint64

	applyMu sync.Mutex
}

// NewController wires a controller to the shared pending slot and
// telemetry store.
func NewController(cfg ControllerConfig, pending *PendingSlot, telemetry *TelemetryStore, log *logging.Logger) *Controller {
	cfg.applyDefaults()
	if log == nil {
		log = logging.Discard()
	}

	limit := rate.Inf
	if cfg.RestartCooldown > 0 {
		limit = rate.Every(cfg.RestartCooldown)
	}

	c := &Controller{
		cfg:       cfg,
		log:       log.Named("Hardware"),
		pending:   pending,
		telemetry: telemetry,
		limiter:   rate.NewLimiter(limit, 1),
	}
	if cfg.Host != "" {
		c.setHost(cfg.Host)
	}
	return c
}

// SetTargetHost records the device address learned from a connection. The
// most recent connection wins so that a device renumbered by DHCP is
// followed; a configured host is never replaced.
func (c *Controller) SetTargetHost(host string) bool {
	if host == "" || c.cfg.Host != "" {
		return false
	}
	prev, changed := c.setHost(host)
	if !changed {
		return false
	}
	if prev == "" {
		c.log.Info("Device host learned: %s", host)
	} else {
		c.log.Info("Device host moved: %s -> %s", prev, host)
	}
	return true
}

// setHost swaps the target and rebuilds both clients under mu.
func (c *Controller) setHost(host string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.host
	if prev == host {
		return prev, false
	}
	c.host = host
	c.client = NewAxeOSClient(host, c.cfg.ControlTimeout).WithCredentials(c.cfg.Username, c.cfg.Password)
	c.poller = NewAxeOSClient(host, c.cfg.TelemetryTimeout).WithCredentials(c.cfg.Username, c.cfg.Password)
	return prev, true
}

// Host returns the current device address, if any.
func (c *Controller) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// LastChange returns the most recent change attempt.
func (c *Controller) LastChange() (ChangeRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.changes > 0
}

// Run polls telemetry and drains staged changes until ctx is done. The two
// loops are independent so a settle delay never stalls telemetry.
func (c *Controller) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.pollLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		c.drainLoop(ctx)
	}()
	wg.Wait()
	return nil
}

func (c *Controller) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.TelemetryInterval)
	defer ticker.Stop()

	for {
		c.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.DrainInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Drain(ctx)
		}
	}
}

// Poll reads telemetry once. Failures leave the previous sample in place.
func (c *Controller) Poll(ctx context.Context) {
	c.mu.RLock()
	poller := c.poller
	c.mu.RUnlock()
	if poller == nil {
		return
	}

	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.TelemetryTimeout)
	defer cancel()

	sample, err := poller.SystemInfo(pollCtx)
	if err != nil {
		c.telemetry.MarkError()
		c.log.Debug("Telemetry poll failed: %v", err)
		return
	}
	c.telemetry.Store(sample)
	c.checkHomeostasis(sample)
}

func (c *Controller) checkHomeostasis(sample *TelemetrySample) {
	floor := c.cfg.HomeostasisFloorMHz
	if floor <= 0 || sample.Frequency <= 0 || sample.Frequency >= float64(floor) {
		return
	}
	if !c.pending.Peek().IsEmpty() {
		return
	}
	c.log.Warn("Frequency %.0f MHz below floor %d MHz, staging boost to %d MHz / %d mV",
		sample.Frequency, floor, c.cfg.HomeostasisBoostMHz, c.cfg.HomeostasisBoostMV)
	c.pending.Stage(ParameterChange{
		FrequencyMHz: IntPtr(c.cfg.HomeostasisBoostMHz),
		VoltageMV:    IntPtr(c.cfg.HomeostasisBoostMV),
	})
}

// Drain applies the staged change if a host is known and the restart
// cooldown allows it. Otherwise the change stays staged.
func (c *Controller) Drain(ctx context.Context) (ChangeRecord, bool) {
	if c.Host() == "" || c.pending.Peek().IsEmpty() {
		return ChangeRecord{}, false
	}
	if !c.limiter.Allow() {
		return ChangeRecord{}, false
	}
	change, ok := c.pending.Take()
	if !ok {
		return ChangeRecord{}, false
	}
	rec, err := c.Apply(ctx, change)
	if err != nil {
		c.log.Error("Hardware change %d failed: %v", rec.ID, err)
	}
	return rec, true
}

// Apply patches frequency/voltage over the telemetry baseline, waits the
// settle delay and sends the restart. There is no retry.
func (c *Controller) Apply(ctx context.Context, change ParameterChange) (ChangeRecord, error) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	c.changes++
	rec := ChangeRecord{
		ID:       c.changes,
		Host:     c.host,
		State:    ChangeStaged,
		StagedAt: time.Now(),
	}
	client := c.client
	c.mu.Unlock()

	rec.Payload = c.payloadFor(change)
	c.record(&rec)

	if client == nil {
		return c.fail(&rec, ErrNoDeviceHost)
	}

	c.log.Info("PATCH %s/api/system -> frequency=%d volts=%d", client.BaseURL(), rec.Payload.Frequency, rec.Payload.Volts)
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ControlTimeout)
	err := client.PatchSystem(pollCtx, rec.Payload)
	cancel()
	if err != nil {
		return c.fail(&rec, fmt.Errorf("patch config: %w", err))
	}
	rec.State = ChangeAccepted
	c.record(&rec)

	if c.cfg.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return c.fail(&rec, fmt.Errorf("interrupted before restart: %w", ctx.Err()))
		case <-time.After(c.cfg.SettleDelay):
		}
	}

	c.log.Info("Restarting device to apply change %d", rec.ID)
	rctx, cancel := context.WithTimeout(ctx, c.cfg.ControlTimeout)
	err = client.Restart(rctx)
	cancel()
	if err != nil {
		return c.fail(&rec, fmt.Errorf("restart: %w", err))
	}
	rec.State = ChangeApplied
	c.record(&rec)
	return rec, nil
}

func (c *Controller) payloadFor(change ParameterChange) SystemPatch {
	patch := SystemPatch{Frequency: BaselineFrequencyMHz, Volts: BaselineVoltageMV}
	if sample, ok := c.telemetry.Latest(); ok {
		if sample.Frequency > 0 {
			patch.Frequency = int(sample.Frequency)
		}
		if sample.Voltage > 0 {
			patch.Volts = int(sample.Voltage)
		}
	}
	if change.FrequencyMHz != nil {
		patch.Frequency = *change.FrequencyMHz
	}
	if change.VoltageMV != nil {
		patch.Volts = *change.VoltageMV
	}
	return patch
}

func (c *Controller) fail(rec *ChangeRecord, err error) (ChangeRecord, error) {
	rec.State = ChangeFailed
	rec.Error = err.Error()
	c.record(rec)
	return *rec, err
}

func (c *Controller) record(rec *ChangeRecord) {
	rec.UpdatedAt = time.Now()
	c.mu.Lock()
	c.last = *rec
	c.mu.Unlock()
}

// ConfigurePool points the device at a stratum endpoint.
func (c *Controller) ConfigurePool(ctx context.Context, patch PoolPatch) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return ErrNoDeviceHost
	}
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ControlTimeout)
	defer cancel()
	return client.ConfigurePool(pollCtx, patch)
}
