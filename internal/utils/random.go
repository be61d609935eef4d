package utils

import (
	"math/rand"
	"sync"
	"time"
)

var (
	seededRand *rand.Rand
	seededOnce sync.Once
	seededMu   sync.Mutex
)

// GetRand returns a process-wide seeded random source. Access is serialized
// by JitterDuration and other helpers; callers holding the raw source must
// not share it across goroutines.
func GetRand() *rand.Rand {
	seededOnce.Do(func() {
		seededRand = rand.New(rand.NewSource(time.Now().UnixNano()))
	})
	return seededRand
}

// JitterDuration applies a symmetric jitter of +/- fraction to d.
// A fraction of 0.2 yields a value in [0.8*d, 1.2*d].
func JitterDuration(d time.Duration, fraction float64) time.Duration {
	if d <= 0 || fraction <= 0 {
		return d
	}
	seededMu.Lock()
	defer seededMu.Unlock()
	r := GetRand()
	span := float64(d) * fraction
	offset := (r.Float64()*2 - 1) * span
	return time.Duration(float64(d) + offset)
}
