package supervisor

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"k8s.io/utils/clock"
)

// Backoff bounds used when Options leaves them unset.
const (
	DefaultInitialDelay = 1 * time.Second
	DefaultMaxDelay     = 32 * time.Second

	backoffMultiplier = 2.0
)

// retryState gates reconnect attempts.
//
// delay always lies in [initial, max]. It advances (x2, capped) on every
// attempt and returns to initial only through reset.
type retryState struct {
	policy   *backoff.ExponentialBackOff
	delay    time.Duration
	last     time.Time
	attempts int
}

func newRetryState(initial, maxDelay time.Duration, now time.Time) *retryState {
	r := &retryState{
		policy: &backoff.ExponentialBackOff{
			InitialInterval:     initial,
			RandomizationFactor: 0,
			Multiplier:          backoffMultiplier,
			MaxInterval:         maxDelay,
		},
		last: now,
	}
	r.reset()
	return r
}

// due reports whether the current backoff window since the last attempt has elapsed.
func (r *retryState) due(c clock.PassiveClock) bool {
	return c.Since(r.last) >= r.delay
}

// advance records an attempt at now and returns the next window.
func (r *retryState) advance(now time.Time) time.Duration {
	r.last = now
	r.attempts++
	r.delay = r.policy.NextBackOff()
	return r.delay
}

// reset returns the window to the initial delay. lastAttempt is kept.
func (r *retryState) reset() {
	r.policy.Reset()
	// The first NextBackOff after Reset yields InitialInterval and primes
	// the policy so the following call yields the doubled value.
	r.delay = r.policy.NextBackOff()
	r.attempts = 0
}
