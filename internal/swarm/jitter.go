package swarm

import (
	"math/rand"
	"time"
)

// JitterSource provides deterministic, per-user random sources.
// The same seed and user ID always produce the same sequence, so a run
// can be replayed with identical ramp offsets, task picks and waits.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given run seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// Seed returns the run seed.
func (j *JitterSource) Seed() int64 {
	return j.seed
}

// ForUser returns a random number generator seeded for a specific user.
// The returned generator is not safe for concurrent use; each user owns one.
func (j *JitterSource) ForUser(userID int) *rand.Rand {
	return rand.New(rand.NewSource(int64(userID) ^ j.seed))
}

// UserJitter returns a start offset for a user within [0, maxJitter).
func (j *JitterSource) UserJitter(userID int, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(j.ForUser(userID).Int63n(int64(maxJitter)))
}
