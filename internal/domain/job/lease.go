// Package job holds domain policies for job leasing, retry backoff, and
// worker wakeup notifications.
package job

import (
	"errors"
	"time"
)

// ErrInvalidDefaultLease indicates the configured default lease duration is not positive.
var ErrInvalidDefaultLease = errors.New("default lease must be positive")

// LeasePolicy normalises lease durations for job claims and heartbeats.
// A lease is time-bounded ownership of a claimed job: once it expires the
// job becomes reclaimable, which is what recovers work after a worker crash.
type LeasePolicy struct {
	defaultLease time.Duration
}

// NewLeasePolicy constructs a LeasePolicy with the provided default lease duration.
func NewLeasePolicy(defaultLease time.Duration) (*LeasePolicy, error) {
	if defaultLease <= 0 {
		return nil, ErrInvalidDefaultLease
	}
	return &LeasePolicy{defaultLease: defaultLease}, nil
}

// Default returns the configured default lease duration.
func (p *LeasePolicy) Default() time.Duration {
	if p == nil {
		return 0
	}
	return p.defaultLease
}

// Resolve normalises a requested lease to a whole, positive number of seconds.
// Zero falls back to the default; sub-second and negative requests clamp to 1s.
func (p *LeasePolicy) Resolve(request time.Duration) int {
	if p == nil {
		return 0
	}
	d := request
	if d == 0 {
		d = p.defaultLease
	}
	seconds := int(d / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
