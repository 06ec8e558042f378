package rhythm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ms = int64(1_000_000)

func evenlySpaced(n int, gap int64) []int64 {
	ts := make([]int64, n)
	for i := range ts {
		ts[i] = int64(i) * gap
	}
	return ts
}

func TestComputeRegularArrivals(t *testing.T) {
	m, err := Compute(evenlySpaced(11, 100*ms), DefaultBins)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, m.CV, 1e-12)
	assert.InDelta(t, 0.0, m.TimeEntropy, 1e-12)
	assert.Equal(t, Regular, m.Burstiness())
	assert.Equal(t, 11, m.Samples)
}

func TestComputeBurstyArrivals(t *testing.T) {
	// nine 100 ms gaps and one 1000 ms gap
	ts := evenlySpaced(10, 100*ms)
	ts = append(ts, ts[9]+1000*ms)

	m, err := Compute(ts, DefaultBins)
	require.NoError(t, err)
	assert.InDelta(t, 1.42105, m.CV, 1e-4)
	assert.InDelta(t, 0.325083, m.TimeEntropy, 1e-5)
	assert.Greater(t, m.CV, 1.0)
	assert.Equal(t, Bursty, m.Burstiness())
}

func TestComputeNotEnoughSamples(t *testing.T) {
	_, err := Compute([]int64{42}, DefaultBins)
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
	_, err = Compute(nil, DefaultBins)
	assert.ErrorIs(t, err, ErrNotEnoughSamples)
}

func TestComputeZeroMean(t *testing.T) {
	m, err := Compute([]int64{5, 5, 5}, DefaultBins)
	require.NoError(t, err)
	assert.Equal(t, 0.0, m.CV)
}

func TestAnalyzerWindowing(t *testing.T) {
	a := NewAnalyzer(10, 10)

	_, ok := a.Latest()
	assert.False(t, ok)

	for i := 0; i < 10; i++ {
		_, ok := a.Record(int64(i) * 100 * ms)
		assert.False(t, ok, "window should not fire at %d samples", i+1)
	}
	assert.Equal(t, 10, a.Pending())

	m, ok := a.Record(10 * 100 * ms)
	require.True(t, ok)
	assert.InDelta(t, 0.0, m.CV, 1e-12)
	assert.Equal(t, 0, a.Pending())
	assert.Equal(t, uint64(1), a.Windows())

	latest, ok := a.Latest()
	require.True(t, ok)
	assert.Equal(t, m, latest)
}

func TestAnalyzerReset(t *testing.T) {
	a := NewAnalyzer(0, 0)
	a.Record(1)
	a.Record(2)
	a.Reset()
	assert.Equal(t, 0, a.Pending())
}

func TestBurstinessBands(t *testing.T) {
	assert.Equal(t, Poisson, Metric{CV: 1.0}.Burstiness())
	assert.Equal(t, Regular, Metric{CV: 0.2}.Burstiness())
	assert.Equal(t, Bursty, Metric{CV: 1.5}.Burstiness())
}
