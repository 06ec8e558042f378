package device

import (
	"sync"
)

// ParameterChange is a requested frequency and/or voltage update. Nil
// fields keep the device's current value.
type ParameterChange struct {
	FrequencyMHz *int `json:"frequency_mhz,omitempty"`
	VoltageMV    *int `json:"voltage_mv,omitempty"`
}

// IsEmpty reports whether the change touches nothing.
func (c ParameterChange) IsEmpty() bool {
	return c.FrequencyMHz == nil && c.VoltageMV == nil
}

// IntPtr is a convenience for building changes.
func IntPtr(v int) *int {
	return &v
}

// PendingSlot is the single queued hardware change. Writes merge per field
// with last-write-wins; Take empties the slot.
type PendingSlot struct {
	mu     sync.Mutex
	change ParameterChange
	staged uint64
}

// SetFrequency stages a frequency in MHz.
func (p *PendingSlot) SetFrequency(mhz int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.change.FrequencyMHz = IntPtr(mhz)
	p.staged++
}

// SetVoltage stages a core voltage in mV.
func (p *PendingSlot) SetVoltage(mv int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.change.VoltageMV = IntPtr(mv)
	p.staged++
}

// Stage merges change into the slot.
func (p *PendingSlot) Stage(change ParameterChange) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if change.FrequencyMHz != nil {
		p.change.FrequencyMHz = IntPtr(*change.FrequencyMHz)
	}
	if change.VoltageMV != nil {
		p.change.VoltageMV = IntPtr(*change.VoltageMV)
	}
	if !change.IsEmpty() {
		p.staged++
	}
}

// Take returns the staged change and clears the slot.
func (p *PendingSlot) Take() (ParameterChange, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.change.IsEmpty() {
		return ParameterChange{}, false
	}
	c := p.change
	p.change = ParameterChange{}
	return c, true
}

// Peek returns the staged change without clearing it.
func (p *PendingSlot) Peek() ParameterChange {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.change
}
