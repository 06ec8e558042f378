package client

import (
	"context"
	"time"

	"chimera/internal/logging"
)

const (
	DefaultBatchSize    = 100
	DefaultEmptyBackoff = 500 * time.Millisecond
	DefaultErrorBackoff = time.Second

	maxPrealloc = 4096
)

// Burster pops buffered hashes from a bridge.
type Burster interface {
	Burst(ctx context.Context, n int) ([][HashSize]byte, error)
}

// Result is what an accumulation run collected. Hashes may be short of the
// target when Complete is false; nothing is ever padded.
type Result struct {
	Hashes   [][HashSize]byte
	Elapsed  time.Duration
	Complete bool
	Bursts   int
	Errors   int
}

// Bytes concatenates the collected hashes.
func (r Result) Bytes() []byte {
	out := make([]byte, 0, len(r.Hashes)*HashSize)
	for _, h := range r.Hashes {
		out = append(out, h[:]...)
	}
	return out
}

// Accumulator blocks until enough real hashes have been gathered.
type Accumulator struct {
	source       Burster
	log          *logging.Logger
	BatchSize    int
	EmptyBackoff time.Duration
	ErrorBackoff time.Duration
}

// NewAccumulator creates an accumulator over source.
func NewAccumulator(source Burster, log *logging.Logger) *Accumulator {
	if log == nil {
		log = logging.Discard()
	}
	return &Accumulator{
		source:       source,
		log:          log.Named("Accumulator"),
		BatchSize:    DefaultBatchSize,
		EmptyBackoff: DefaultEmptyBackoff,
		ErrorBackoff: DefaultErrorBackoff,
	}
}

// Accumulate bursts until target hashes are collected, timeout elapses or
// ctx is cancelled.
func (a *Accumulator) Accumulate(ctx context.Context, target int, timeout time.Duration) Result {
	start := time.Now()
	if target < 0 {
		target = 0
	}
	res := Result{Hashes: make([][HashSize]byte, 0, min(target, maxPrealloc))}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for len(res.Hashes) < target {
		if ctx.Err() != nil {
			break
		}

		n := target - len(res.Hashes)
		if a.BatchSize > 0 && n > a.BatchSize {
			n = a.BatchSize
		}

		got, err := a.source.Burst(ctx, n)
		res.Bursts++
		var backoff time.Duration
		switch {
		case err != nil:
			res.Errors++
			a.log.Debug("Burst failed: %v", err)
			backoff = a.ErrorBackoff
		case len(got) == 0:
			backoff = a.EmptyBackoff
		default:
			if len(got) > n {
				got = got[:n]
			}
			res.Hashes = append(res.Hashes, got...)
			a.log.Debug("Collected %d/%d", len(res.Hashes), target)
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}

	res.Elapsed = time.Since(start)
	res.Complete = len(res.Hashes) >= target
	if !res.Complete {
		a.log.Warn("Timed out with %d/%d hashes after %s", len(res.Hashes), target, res.Elapsed.Round(time.Millisecond))
	}
	return res
}
