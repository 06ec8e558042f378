package bridge

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"chimera/pkg/hashing/core"
	"chimera/pkg/hashing/hardware"
)

const DefaultJobCacheSize = 64

// BuildJob renders job number id for seed. The nanosecond suffix keeps
// coinbases distinct across jobs that share a seed.
func BuildJob(id uint64, seed string, now time.Time) hardware.JobContext {
	return hardware.JobContext{
		JobID:        strconv.FormatUint(id, 16),
		PrevHash:     hardware.ZeroPrevHash,
		Coinbase1:    core.EncodeHex([]byte(seed + "-" + strconv.FormatInt(now.UnixNano(), 10))),
		Coinbase2:    hardware.Coinbase2,
		MerkleBranch: []string{},
		Version:      hardware.BlockVersion,
		NBits:        hardware.NBitsDiff1,
		NTime:        fmt.Sprintf("%08x", now.Unix()),
		CleanJobs:    true,
		Seed:         seed,
		IssuedAt:     now,
	}
}

// JobStore owns the job counter and the emitted contexts: the current one
// plus a bounded cache keyed by job id, so a share for a superseded job
// still reconstructs against its own coinbase.
type JobStore struct {
	mu      sync.Mutex
	counter uint64
	current *hardware.JobContext
	cache   *lru.Cache[string, hardware.JobContext]
	now     func() time.Time
}

// NewJobStore creates a store remembering up to cacheSize past jobs.
func NewJobStore(cacheSize int) (*JobStore, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultJobCacheSize
	}
	cache, err := lru.New[string, hardware.JobContext](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("job cache: %w", err)
	}
	return &JobStore{cache: cache, now: time.Now}, nil
}

// Emit increments the counter, builds the job and makes it current, all
// under one lock. Job ids are strictly increasing.
func (s *JobStore) Emit(seed string) hardware.JobContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	job := BuildJob(s.counter, seed, s.now())
	s.current = &job
	s.cache.Add(job.JobID, job)
	return job
}

// Current returns the most recently emitted job.
func (s *JobStore) Current() (hardware.JobContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return hardware.JobContext{}, false
	}
	return *s.current, true
}

// Lookup resolves the context a share was mined against. A cache miss
// falls back to the current job.
func (s *JobStore) Lookup(jobID string) (hardware.JobContext, bool) {
	if job, ok := s.cache.Get(jobID); ok {
		return job, true
	}
	return s.Current()
}

// Emitted reports how many jobs have been built.
func (s *JobStore) Emitted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}
