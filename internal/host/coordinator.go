// internal/host/coordinator.go
// Package host assembles the bridge and runs its services under one context
package host

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"chimera/internal/api"
	"chimera/internal/bridge"
	"chimera/internal/config"
	"chimera/internal/distribution"
	"chimera/internal/driver/device"
	"chimera/internal/logging"
	"chimera/internal/stratum"
)

// Coordinator owns the bridge state and every service sharing it.
type Coordinator struct {
	cfg *config.Config
	log *logging.Logger

	State        *bridge.State
	Gateway      *stratum.Server
	Controller   *device.Controller
	Distribution *distribution.Server
	API          *api.Server
}

// New wires the services from cfg. Nothing is bound until Listen or Run.
func New(cfg *config.Config, log *logging.Logger) (*Coordinator, error) {
	if log == nil {
		log = logging.Discard()
	}

	state, err := bridge.NewState(bridge.Config{
		InitialSeed:  cfg.InitialSeed,
		RingCapacity: cfg.RingCapacity,
		JobCacheSize: cfg.JobCacheSize,
		RhythmWindow: cfg.RhythmWindow,
		RhythmBins:   cfg.RhythmBins,
	})
	if err != nil {
		return nil, fmt.Errorf("bridge state: %w", err)
	}

	dev := cfg.Device()
	controller := device.NewController(device.ControllerConfig{
		Host:                dev.IP,
		Username:            dev.Username,
		Password:            dev.Password,
		TelemetryInterval:   cfg.TelemetryInterval,
		TelemetryTimeout:    cfg.TelemetryTimeout,
		ControlTimeout:      cfg.ControlTimeout,
		DrainInterval:       cfg.DrainInterval,
		RestartCooldown:     cfg.RestartCooldown,
		SettleDelay:         cfg.SettleDelay,
		HomeostasisFloorMHz: cfg.HomeostasisFloorMHz,
		HomeostasisBoostMHz: cfg.HomeostasisBoostMHz,
		HomeostasisBoostMV:  cfg.HomeostasisBoostMV,
	}, state.Pending, state.Telemetry, log)
	state.AttachHardware(controller)

	gateway, err := stratum.NewServer(stratum.Config{
		Listen:           cfg.StratumListen,
		Difficulty:       cfg.Difficulty,
		Extranonce1:      cfg.Extranonce1,
		Extranonce2Size:  cfg.Extranonce2Size,
		JobInterval:      cfg.JobInterval,
		WriteTimeout:     cfg.WriteTimeout,
		WakeFrequencyMHz: cfg.WakeFrequencyMHz,
	}, state, controller, log)
	if err != nil {
		return nil, fmt.Errorf("stratum gateway: %w", err)
	}

	dist := distribution.NewServer(distribution.Config{
		Listen:     cfg.DistributionListen,
		BurstLimit: cfg.BurstLimit,
	}, state, log)

	c := &Coordinator{
		cfg:          cfg,
		log:          log.Named("Coordinator"),
		State:        state,
		Gateway:      gateway,
		Controller:   controller,
		Distribution: dist,
	}
	if cfg.APIListen != "" {
		c.API = api.NewServer(cfg.APIListen, state, gateway, controller, log)
	}
	return c, nil
}

// Listen binds the device and distribution ports so that startup errors
// surface before anything runs.
func (c *Coordinator) Listen() error {
	if err := c.Gateway.Listen(); err != nil {
		return err
	}
	if err := c.Distribution.Listen(); err != nil {
		_ = c.Gateway.Close()
		return err
	}
	return nil
}

// Run serves until ctx is cancelled or a service fails.
func (c *Coordinator) Run(ctx context.Context) error {
	if c.Gateway.Addr() == nil {
		if err := c.Listen(); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Gateway.Serve(ctx) })
	g.Go(func() error { return c.Distribution.Serve(ctx) })
	g.Go(func() error { return c.Controller.Run(ctx) })
	if c.API != nil {
		g.Go(func() error { return c.API.Run(ctx) })
	}
	g.Go(func() error {
		c.statusLoop(ctx)
		return nil
	})

	c.log.Info("Bridge running: stratum %s, distribution %s", c.Gateway.Addr(), c.Distribution.Addr())
	err := g.Wait()
	c.log.Info("Bridge stopped")
	return err
}

func (c *Coordinator) statusLoop(ctx context.Context) {
	interval := c.cfg.StatusInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m := c.State.Snapshot()
			c.log.Info("%d sessions, %s", c.Gateway.Sessions(), m)
		}
	}
}

// PointDevice rewrites the device's pool settings to this bridge's stratum
// port as reachable at advertiseHost.
func (c *Coordinator) PointDevice(ctx context.Context, advertiseHost string) error {
	addr := c.Gateway.Addr()
	listen := c.cfg.StratumListen
	if addr != nil {
		listen = addr.String()
	}
	_, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return fmt.Errorf("stratum listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("stratum port %q: %w", portStr, err)
	}

	c.log.Info("Pointing device at stratum+tcp://%s:%d", advertiseHost, port)
	return c.Controller.ConfigurePool(ctx, device.PoolPatch{
		StratumURL:      advertiseHost,
		StratumPort:     port,
		StratumUser:     "chimera",
		StratumPassword: "x",
	})
}
