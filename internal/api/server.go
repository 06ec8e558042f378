// Package api mirrors the distribution endpoint over HTTP for tooling that
// prefers JSON to raw sockets.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	psutil "github.com/shirou/gopsutil/v3/cpu"
	psmem "github.com/shirou/gopsutil/v3/mem"

	"chimera/internal/bridge"
	"chimera/internal/driver/device"
	"chimera/internal/logging"
	"chimera/pkg/hashing/core"
)

const (
	DefaultListen   = "127.0.0.1:8080"
	maxEntropyCount = 1000
)

// SessionCounter reports connected devices.
type SessionCounter interface {
	Sessions() int
}

// HardwareView exposes the controller's device address and last change.
type HardwareView interface {
	Host() string
	LastChange() (device.ChangeRecord, bool)
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status       string  `json:"status"`
	Uptime       string  `json:"uptime"`
	Sessions     int     `json:"sessions"`
	DeviceHost   string  `json:"device_host,omitempty"`
	HostCPU      float64 `json:"host_cpu_percent"`
	HostMemory   float64 `json:"host_memory_percent"`
	TelemetryAge string  `json:"telemetry_age,omitempty"`
}

// EntropyResponse is returned by GET /api/v1/entropy.
type EntropyResponse struct {
	Count  int      `json:"count"`
	Hashes []string `json:"hashes"`
}

// SeedRequest is the body of POST /api/v1/seed.
type SeedRequest struct {
	Seed string `json:"seed"`
}

// HardwareRequest is the body of POST /api/v1/hardware.
type HardwareRequest struct {
	FrequencyMHz *int `json:"frequency_mhz"`
	VoltageMV    *int `json:"voltage_mv"`
}

// Server is the HTTP mirror.
type Server struct {
	addr     string
	state    *bridge.State
	sessions SessionCounter
	hardware HardwareView
	log      *logging.Logger
	router   *gin.Engine
}

// NewServer builds the router. sessions and hardware may be nil.
func NewServer(addr string, state *bridge.State, sessions SessionCounter, hardware HardwareView, log *logging.Logger) *Server {
	if addr == "" {
		addr = DefaultListen
	}
	if log == nil {
		log = logging.Discard()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     addr,
		state:    state,
		sessions: sessions,
		hardware: hardware,
		log:      log.Named("API"),
		router:   router,
	}

	api := router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/metrics", s.handleMetrics)
		api.GET("/entropy", s.handleEntropy)
		api.POST("/seed", s.handleSeed)
		api.GET("/hardware", s.handleHardwareStatus)
		api.POST("/hardware", s.handleHardware)
	}
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("Server shutdown error: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status: "healthy",
		Uptime: s.state.Uptime().Round(time.Second).String(),
	}
	if s.sessions != nil {
		resp.Sessions = s.sessions.Sessions()
	}
	if s.hardware != nil {
		resp.DeviceHost = s.hardware.Host()
	}
	if resp.Sessions == 0 {
		resp.Status = "waiting_for_device"
	}
	if sample, ok := s.state.Telemetry.Latest(); ok {
		resp.TelemetryAge = time.Since(sample.ReadAt).Round(time.Millisecond).String()
	}

	if pct, err := psutil.Percent(0, false); err == nil && len(pct) > 0 {
		resp.HostCPU = pct[0]
	}
	if vm, err := psmem.VirtualMemory(); err == nil {
		resp.HostMemory = vm.UsedPercent
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.state.Snapshot())
}

// handleEntropy pops up to count hashes. An empty buffer yields an empty
// list, never filler.
func (s *Server) handleEntropy(c *gin.Context) {
	count := 1
	if raw := c.Query("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "count must be a non-negative integer"})
			return
		}
		count = n
	}
	if count > maxEntropyCount {
		count = maxEntropyCount
	}

	hashes := s.state.Ring.Pop(count)
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = core.EncodeHex(h[:])
	}
	c.JSON(http.StatusOK, EntropyResponse{Count: len(out), Hashes: out})
}

func (s *Server) handleSeed(c *gin.Context) {
	var req SeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.state.SetSeed(req.Seed)
	s.log.Info("Seed injected: %q", req.Seed)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "seed": req.Seed})
}

func (s *Server) handleHardware(c *gin.Context) {
	var req HardwareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	change := device.ParameterChange{FrequencyMHz: req.FrequencyMHz, VoltageMV: req.VoltageMV}
	if change.IsEmpty() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "frequency_mhz or voltage_mv required"})
		return
	}
	s.state.Pending.Stage(change)
	c.JSON(http.StatusAccepted, gin.H{"status": string(device.ChangeStaged), "pending": s.state.Pending.Peek()})
}

func (s *Server) handleHardwareStatus(c *gin.Context) {
	if s.hardware == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": bridge.ErrHardwareUnavailable.Error()})
		return
	}
	resp := gin.H{
		"host":    s.hardware.Host(),
		"pending": s.state.Pending.Peek(),
	}
	if rec, ok := s.hardware.LastChange(); ok {
		resp["last_change"] = rec
	}
	c.JSON(http.StatusOK, resp)
}
