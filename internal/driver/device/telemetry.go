package device

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// TelemetrySample is one reading of the device's management endpoint.
// Voltage is in millivolts, frequency in MHz and hashrate in GH/s.
type TelemetrySample struct {
	Temperature float64   `json:"temp"`
	Power       float64   `json:"power"`
	Voltage     float64   `json:"voltage"`
	Frequency   float64   `json:"freq"`
	HashRate    float64   `json:"hashrate"`
	BestDiff    string    `json:"best_diff,omitempty"`
	ReadAt      time.Time `json:"read_at"`
}

// axeOSInfo mirrors the subset of /api/system/info we consume. Firmware
// variants disagree on the voltage key and on whether bestDiff is a number.
type axeOSInfo struct {
	Temp              float64     `json:"temp"`
	Power             float64     `json:"power"`
	CoreVoltageActual float64     `json:"coreVoltageActual"`
	CoreVoltage       float64     `json:"coreVoltage"`
	Volts             float64     `json:"volts"`
	Voltage           float64     `json:"voltage"`
	Frequency         float64     `json:"frequency"`
	HashRate          float64     `json:"hashRate"`
	BestDiff          interface{} `json:"bestDiff"`
}

// ParseTelemetry decodes a system info payload. Voltage falls back from
// coreVoltageActual to coreVoltage, then volts, then voltage.
func ParseTelemetry(body []byte) (*TelemetrySample, error) {
	var info axeOSInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("failed to parse system info: %w", err)
	}

	voltage := info.CoreVoltageActual
	for _, v := range []float64{info.CoreVoltage, info.Volts, info.Voltage} {
		if voltage != 0 {
			break
		}
		voltage = v
	}

	sample := &TelemetrySample{
		Temperature: info.Temp,
		Power:       info.Power,
		Voltage:     voltage,
		Frequency:   info.Frequency,
		HashRate:    info.HashRate,
		ReadAt:      time.Now(),
	}
	if info.BestDiff != nil {
		sample.BestDiff = fmt.Sprint(info.BestDiff)
	}
	return sample, nil
}

// TelemetryStore holds the latest sample. Readers never block the poller.
type TelemetryStore struct {
	latest atomic.Pointer[TelemetrySample]
	polls  atomic.Uint64
	errors atomic.Uint64
}

// Store replaces the latest sample.
func (s *TelemetryStore) Store(sample *TelemetrySample) {
	s.polls.Add(1)
	s.latest.Store(sample)
}

// MarkError counts a failed poll; the previous sample stays current.
func (s *TelemetryStore) MarkError() {
	s.errors.Add(1)
}

// Latest returns a copy of the last sample, or the zero sample and false.
func (s *TelemetryStore) Latest() (TelemetrySample, bool) {
	p := s.latest.Load()
	if p == nil {
		return TelemetrySample{}, false
	}
	return *p, true
}

// Stats reports successful and failed poll counts.
func (s *TelemetryStore) Stats() (polls, errors uint64) {
	return s.polls.Load(), s.errors.Load()
}
