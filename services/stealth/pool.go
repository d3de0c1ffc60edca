package stealth

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ErrNoFingerprintAvailable is returned when every fingerprint stayed busy
// past the acquisition wait bound.
var ErrNoFingerprintAvailable = errors.New("no stealth fingerprint available")

// DefaultPoolSize is the minimum number of fingerprints kept in the pool.
const DefaultPoolSize = 8

// acquireWait bounds how long a caller blocks for a free fingerprint.
const acquireWait = 5 * time.Second

// Pool hands out fingerprints with mutual exclusion: a fingerprint in use is
// never handed to another session. The pool is process-wide and initialized
// at startup.
type Pool struct {
	free chan *Fingerprint
	size int
}

// NewPool generates size coherent fingerprints (minimum DefaultPoolSize).
func NewPool(size int) *Pool {
	if size < DefaultPoolSize {
		size = DefaultPoolSize
	}
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	free := make(chan *Fingerprint, size)
	for i := 0; i < size; i++ {
		free <- newFingerprint(rng)
	}
	return &Pool{free: free, size: size}
}

// Size returns the total number of fingerprints managed by the pool.
func (p *Pool) Size() int { return p.size }

// Acquire borrows a fingerprint for the lifetime of one extraction session.
// It blocks up to 5s when all fingerprints are busy, and returns early if
// ctx is cancelled first.
func (p *Pool) Acquire(ctx context.Context) (*Fingerprint, error) {
	select {
	case fp := <-p.free:
		return fp, nil
	default:
	}

	timer := time.NewTimer(acquireWait)
	defer timer.Stop()

	select {
	case fp := <-p.free:
		return fp, nil
	case <-timer.C:
		return nil, ErrNoFingerprintAvailable
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a fingerprint to the pool. Safe to call exactly once per
// Acquire on every exit path, including cancellation.
func (p *Pool) Release(fp *Fingerprint) {
	if fp == nil {
		return
	}
	select {
	case p.free <- fp:
	default:
		// Double release; drop rather than block.
	}
}
