package bridge

import (
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chimera/internal/driver/device"
	"chimera/pkg/hashing/core"
	"chimera/pkg/hashing/hardware"
)

func newTestState(t *testing.T) *State {
	t.Helper()
	s, err := NewState(Config{RingCapacity: 8, JobCacheSize: 4})
	require.NoError(t, err)
	return s
}

func shareFor(job hardware.JobContext, nonce string) Share {
	return Share{
		Worker:      "lv06.worker",
		JobID:       job.JobID,
		Extranonce1: "08000002",
		Extranonce2: "00000001",
		NTime:       job.NTime,
		Nonce:       nonce,
	}
}

func TestBuildJobFields(t *testing.T) {
	now := time.Unix(1700000000, 0)
	job := BuildJob(26, "CHRONOS_BASELINE", now)

	assert.Equal(t, "1a", job.JobID)
	assert.Equal(t, hardware.ZeroPrevHash, job.PrevHash)
	assert.Equal(t, core.EncodeHex([]byte("CHRONOS_BASELINE-1700000000000000000")), job.Coinbase1)
	assert.Equal(t, "0000", job.Coinbase2)
	assert.Empty(t, job.MerkleBranch)
	assert.Equal(t, "20000000", job.Version)
	assert.Equal(t, "1d00ffff", job.NBits)
	assert.Equal(t, "6553f100", job.NTime)
	assert.True(t, job.CleanJobs)
}

func TestJobIDsStrictlyIncrease(t *testing.T) {
	s := newTestState(t)
	prev := uint64(0)
	for i := 0; i < 20; i++ {
		job := s.EmitJob()
		id, err := strconv.ParseUint(job.JobID, 16, 64)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
	assert.Equal(t, uint64(20), s.Jobs.Emitted())
}

func TestJobStoreLookupFallsBackToCurrent(t *testing.T) {
	store, err := NewJobStore(2)
	require.NoError(t, err)

	_, ok := store.Lookup("1")
	assert.False(t, ok)

	first := store.Emit("a")
	store.Emit("b")
	third := store.Emit("c")

	// evicted from the cache, resolves to the current job
	got, ok := store.Lookup(first.JobID)
	require.True(t, ok)
	assert.Equal(t, third.JobID, got.JobID)

	got, ok = store.Lookup("2")
	require.True(t, ok)
	assert.Equal(t, "b", got.Seed)
}

func TestSeedInjectionOnlyAffectsLaterJobs(t *testing.T) {
	s := newTestState(t)

	before := s.EmitJob()
	s.SetSeed("NEW_SEED")
	after := s.EmitJob()

	assert.Equal(t, DefaultSeed, before.Seed)
	assert.Equal(t, "NEW_SEED", after.Seed)
	assert.NotEqual(t, before.Coinbase1, after.Coinbase1)

	// a share for the earlier job reconstructs with the earlier coinbase
	got, err := s.RecordShare(shareFor(before, "1a2b3c4d"))
	require.NoError(t, err)
	want, err := hardware.Reconstruct(before, "08000002", "00000001", before.NTime, "1a2b3c4d")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	other, err := hardware.Reconstruct(after, "08000002", "00000001", before.NTime, "1a2b3c4d")
	require.NoError(t, err)
	assert.NotEqual(t, other, got)
}

func TestRecordShareBuffersHash(t *testing.T) {
	s := newTestState(t)
	job := s.EmitJob()

	hash, err := s.RecordShare(shareFor(job, "00000000"))
	require.NoError(t, err)
	assert.Equal(t, 1, s.Ring.Len())

	popped := s.Ring.Pop(1)
	require.Len(t, popped, 1)
	assert.Equal(t, hash, popped[0])
}

func TestRecordShareFailures(t *testing.T) {
	s := newTestState(t)

	_, err := s.RecordShare(Share{JobID: "1", Extranonce2: "00", NTime: "00", Nonce: "00"})
	assert.True(t, errors.Is(err, ErrUnknownJob))

	job := s.EmitJob()
	_, err = s.RecordShare(Share{JobID: job.JobID})
	assert.ErrorIs(t, err, ErrInvalidShare)

	bad := shareFor(job, "zz")
	_, err = s.RecordShare(bad)
	assert.ErrorIs(t, err, ErrReconstruction)

	shares, failures := s.Counters()
	assert.Equal(t, uint64(3), shares)
	assert.Equal(t, uint64(3), failures)
	assert.Equal(t, 0, s.Ring.Len())
}

type stubHardware struct{ rec device.ChangeRecord }

func (s stubHardware) LastChange() (device.ChangeRecord, bool) { return s.rec, true }

func TestSnapshot(t *testing.T) {
	s := newTestState(t)

	m := s.Snapshot()
	assert.Equal(t, 1.0, m.CV)
	assert.Equal(t, 0.0, m.Timestamp)
	assert.Nil(t, m.HardwareChange)

	s.Telemetry.Store(&device.TelemetrySample{Temperature: 50, Voltage: 1200, Frequency: 490, Power: 11, HashRate: 500})
	for i := 0; i < 11; i++ {
		s.RecordArrival(int64(i) * 100_000_000)
	}
	job := s.EmitJob()
	_, err := s.RecordShare(shareFor(job, "00000001"))
	require.NoError(t, err)
	s.AttachHardware(stubHardware{rec: device.ChangeRecord{ID: 1, State: device.ChangeApplied}})

	m = s.Snapshot()
	assert.InDelta(t, 0.0, m.CV, 1e-12)
	assert.Greater(t, m.Timestamp, 0.0)
	assert.Equal(t, 1200.0, m.Voltage)
	assert.Equal(t, 490.0, m.Freq)
	assert.Equal(t, 50.0, m.Temp)
	assert.Equal(t, uint64(1), m.SharesTotal)
	assert.Equal(t, 1, m.BufferedHashes)
	assert.Equal(t, uint64(1), m.JobsEmitted)
	require.NotNil(t, m.HardwareChange)
	assert.Equal(t, device.ChangeApplied, m.HardwareChange.State)
}

func TestBridgeErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeUnknownJob, "no job context for share", "7")
	assert.Equal(t, "bridge: [2] no job context for share: 7", err.Error())
	assert.ErrorIs(t, err, ErrUnknownJob)
	assert.NotErrorIs(t, err, ErrInvalidShare)
}
