// Package lockout implements the failed-login lockout state machine.
//
// The state lives on the user record as a failed-attempt counter and a
// nullable lock-expiry timestamp. Two states: Open (not locked) and Locked
// (lock expiry in the future). Leaving Locked is purely time-based; no
// explicit unlock exists.
package lockout

import "time"

// Default policy values.
const (
	DefaultThreshold = 5
	DefaultDuration  = 15 * time.Minute
)

// State is the lockout state read from the user record.
type State struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// Policy decides lockout transitions. The counter and lock timestamp are
// persisted by the credential store with atomic per-record updates; Policy
// only computes what those updates should write.
type Policy struct {
	Threshold int
	Duration  time.Duration
}

// NewPolicy creates a policy, substituting defaults for zero values.
func NewPolicy(threshold int, duration time.Duration) Policy {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if duration <= 0 {
		duration = DefaultDuration
	}
	return Policy{Threshold: threshold, Duration: duration}
}

// Locked reports whether the state is Locked at the given instant, and the
// unlock time if so. A lock expiring exactly now counts as Open.
func (p Policy) Locked(s State, now time.Time) (time.Time, bool) {
	if s.LockUntil != nil && s.LockUntil.After(now) {
		return *s.LockUntil, true
	}
	return time.Time{}, false
}

// LockUntil returns the lock expiry to persist when the attempt counter has
// reached the given value, or nil if the threshold has not been crossed.
// attempts is the post-increment counter value.
func (p Policy) LockUntil(attempts int, now time.Time) *time.Time {
	if attempts < p.Threshold {
		return nil
	}
	t := now.Add(p.Duration)
	return &t
}
