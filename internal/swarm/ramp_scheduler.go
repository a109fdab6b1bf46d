package swarm

import (
	"context"
	"time"
)

// RampScheduler controls the rate at which users are started.
// Users do not all start at once, and per-user jitter keeps them from
// invoking jr in lockstep.
type RampScheduler struct {
	rate      float64       // users per second, <= 0 starts all at once
	maxJitter time.Duration // maximum jitter per user
	jitter    *JitterSource
}

// NewRampScheduler creates a scheduler with the given rate and jitter.
func NewRampScheduler(rate float64, maxJitter time.Duration) *RampScheduler {
	return NewRampSchedulerWithJitter(rate, maxJitter, NewJitterSourceFromTime())
}

// NewRampSchedulerWithJitter creates a scheduler sharing a jitter source.
func NewRampSchedulerWithJitter(rate float64, maxJitter time.Duration, jitter *JitterSource) *RampScheduler {
	return &RampScheduler{
		rate:      rate,
		maxJitter: maxJitter,
		jitter:    jitter,
	}
}

// Delay returns how long to wait before starting user N.
func (r *RampScheduler) Delay(userID int) time.Duration {
	// rate=5 means 1 user per 200ms
	var baseDelay time.Duration
	if r.rate > 0 {
		baseDelay = time.Duration(float64(time.Second) / r.rate)
	}
	return baseDelay + r.jitter.UserJitter(userID, r.maxJitter)
}

// Schedule waits the appropriate amount of time before starting user N.
// Returns nil on success, or the context error if cancelled.
func (r *RampScheduler) Schedule(ctx context.Context, userID int) error {
	delay := r.Delay(userID)
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedRampDuration returns the estimated time to start all users.
// The first user starts immediately.
func (r *RampScheduler) EstimatedRampDuration(totalUsers int) time.Duration {
	if r.rate <= 0 || totalUsers <= 1 {
		return 0
	}
	baseTime := time.Duration(float64(totalUsers-1) * float64(time.Second) / r.rate)
	return baseTime + r.maxJitter/2
}

// Rate returns the configured rate (users per second).
func (r *RampScheduler) Rate() float64 {
	return r.rate
}

// MaxJitter returns the configured maximum jitter.
func (r *RampScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
