// Package bridge holds the process-wide state shared by the gateway, the
// hardware controller and the distribution endpoints.
package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chimera/internal/driver/device"
	"chimera/internal/entropy"
	"chimera/internal/rhythm"
	"chimera/pkg/hashing/hardware"
)

// DefaultSeed is the seed embedded in coinbases until one is injected.
const DefaultSeed = "CHRONOS_BASELINE"

// Config sizes the shared structures.
type Config struct {
	InitialSeed  string
	RingCapacity int
	JobCacheSize int
	RhythmWindow int
	RhythmBins   int
}

// HardwareStatus reports the controller's last change attempt.
type HardwareStatus interface {
	LastChange() (device.ChangeRecord, bool)
}

// Share is one mining.submit as received.
type Share struct {
	Worker      string
	JobID       string
	Extranonce1 string
	Extranonce2 string
	NTime       string
	Nonce       string
}

// State is the explicit bridge state. Each field is safe for concurrent use.
type State struct {
	Jobs      *JobStore
	Ring      *entropy.Ring
	Rhythm    *rhythm.Analyzer
	Pending   *device.PendingSlot
	Telemetry *device.TelemetryStore

	seedMu sync.RWMutex
	seed   string

	hwMu     sync.RWMutex
	hardware HardwareStatus

	shares   atomic.Uint64
	failures atomic.Uint64
	started  time.Time
}

// NewState builds the bridge state from cfg.
func NewState(cfg Config) (*State, error) {
	jobs, err := NewJobStore(cfg.JobCacheSize)
	if err != nil {
		return nil, err
	}
	seed := cfg.InitialSeed
	if seed == "" {
		seed = DefaultSeed
	}
	return &State{
		Jobs:      jobs,
		Ring:      entropy.NewRing(cfg.RingCapacity),
		Rhythm:    rhythm.NewAnalyzer(cfg.RhythmWindow, cfg.RhythmBins),
		Pending:   &device.PendingSlot{},
		Telemetry: &device.TelemetryStore{},
		seed:      seed,
		started:   time.Now(),
	}, nil
}

// Seed returns the current seed.
func (s *State) Seed() string {
	s.seedMu.RLock()
	defer s.seedMu.RUnlock()
	return s.seed
}

// SetSeed replaces the seed. Only jobs emitted afterwards carry it.
func (s *State) SetSeed(seed string) {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	s.seed = seed
}

// EmitJob builds the next job with the current seed.
func (s *State) EmitJob() hardware.JobContext {
	return s.Jobs.Emit(s.Seed())
}

// AttachHardware registers the source of hardware change status.
func (s *State) AttachHardware(h HardwareStatus) {
	s.hwMu.Lock()
	defer s.hwMu.Unlock()
	s.hardware = h
}

// RecordArrival feeds one share arrival time into the rhythm analyzer.
func (s *State) RecordArrival(ts int64) (rhythm.Metric, bool) {
	return s.Rhythm.Record(ts)
}

// RecordShare counts a share, reconstructs its hash and buffers it. An
// error means the hash was skipped; the share is still counted.
func (s *State) RecordShare(share Share) ([32]byte, error) {
	s.shares.Add(1)

	if share.Extranonce2 == "" || share.NTime == "" || share.Nonce == "" {
		s.failures.Add(1)
		return [32]byte{}, ErrInvalidShare
	}

	job, ok := s.Jobs.Lookup(share.JobID)
	if !ok {
		s.failures.Add(1)
		return [32]byte{}, NewError(ErrCodeUnknownJob, "no job context for share", share.JobID)
	}

	hash, err := hardware.Reconstruct(job, share.Extranonce1, share.Extranonce2, share.NTime, share.Nonce)
	if err != nil {
		s.failures.Add(1)
		return [32]byte{}, NewError(ErrCodeReconstruction, "hash reconstruction failed", err.Error())
	}

	s.Ring.Push(hash)
	return hash, nil
}

// Counters reports total shares and failed reconstructions.
func (s *State) Counters() (shares, failures uint64) {
	return s.shares.Load(), s.failures.Load()
}

// Uptime reports time since the state was created.
func (s *State) Uptime() time.Duration {
	return time.Since(s.started)
}

// Metrics is the snapshot served to downstream consumers.
type Metrics struct {
	CV              float64              `json:"cv"`
	TimeEntropy     float64              `json:"time_entropy"`
	Timestamp       float64              `json:"timestamp"`
	Voltage         float64              `json:"voltage"`
	Power           float64              `json:"power"`
	Temp            float64              `json:"temp"`
	Freq            float64              `json:"freq"`
	HashRate        float64              `json:"hashrate"`
	SharesTotal     uint64               `json:"shares_total"`
	SharesPerSecond float64              `json:"shares_per_second"`
	FailedHashes    uint64               `json:"failed_hashes"`
	BufferedHashes  int                  `json:"buffered_hashes"`
	JobsEmitted     uint64               `json:"jobs_emitted"`
	Seed            string               `json:"seed"`
	HardwareChange  *device.ChangeRecord `json:"hardware_change,omitempty"`
}

// Snapshot assembles the current metrics. Before the first rhythm window
// completes CV reads 1.0, the memoryless baseline.
func (s *State) Snapshot() Metrics {
	shares, failures := s.Counters()
	m := Metrics{
		CV:             1.0,
		SharesTotal:    shares,
		FailedHashes:   failures,
		BufferedHashes: s.Ring.Len(),
		JobsEmitted:    s.Jobs.Emitted(),
		Seed:           s.Seed(),
	}

	if up := s.Uptime().Seconds(); up > 0 {
		m.SharesPerSecond = float64(shares) / up
	}

	if r, ok := s.Rhythm.Latest(); ok {
		m.CV = r.CV
		m.TimeEntropy = r.TimeEntropy
		m.Timestamp = float64(r.ComputedAt.UnixNano()) / 1e9
	}

	if t, ok := s.Telemetry.Latest(); ok {
		m.Voltage = t.Voltage
		m.Power = t.Power
		m.Temp = t.Temperature
		m.Freq = t.Frequency
		m.HashRate = t.HashRate
	}

	s.hwMu.RLock()
	hw := s.hardware
	s.hwMu.RUnlock()
	if hw != nil {
		if rec, ok := hw.LastChange(); ok {
			m.HardwareChange = &rec
		}
	}
	return m
}

func (m Metrics) String() string {
	return fmt.Sprintf("shares=%d (%.2f/s) buffered=%d cv=%.4f H=%.4f temp=%.1fC freq=%.0fMHz",
		m.SharesTotal, m.SharesPerSecond, m.BufferedHashes, m.CV, m.TimeEntropy, m.Temp, m.Freq)
}
