package health

import (
	"time"
)

// Result represents the outcome of a single heartbeat attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Config contains the consecutive-failure thresholds a Status is updated against.
type Config struct {
	// Interval is the time between heartbeat attempts.
	Interval time.Duration

	// Timeout is the maximum time to wait for one attempt to complete.
	Timeout time.Duration

	// Retries is the number of consecutive failures before marking unhealthy.
	Retries int

	// StartPeriod is the grace period before a peer can be marked unhealthy.
	StartPeriod time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		Retries:     3,
		StartPeriod: 0,
	}
}

// Status tracks the current health status of one peer.
type Status struct {
	// ConsecutiveFailures tracks the number of consecutive failed checks.
	ConsecutiveFailures int

	// ConsecutiveSuccesses tracks the number of consecutive successful checks.
	ConsecutiveSuccesses int

	// LastCheck is the timestamp of the last health check.
	LastCheck time.Time

	// LastResult is the result of the last health check.
	LastResult Result

	// Healthy indicates if the peer is currently considered healthy.
	Healthy bool

	// StartedAt is when health monitoring started for this peer.
	StartedAt time.Time
}

// NewStatus creates a new Status with default values.
func NewStatus() *Status {
	return &Status{
		Healthy:   true, // Assume healthy until proven otherwise
		StartedAt: time.Now(),
	}
}

// Update updates the status based on a new health check result.
func (s *Status) Update(result Result, config Config) {
	s.LastCheck = result.CheckedAt
	s.LastResult = result

	if result.Healthy {
		s.ConsecutiveSuccesses++
		s.ConsecutiveFailures = 0

		// Mark as healthy after first success
		s.Healthy = true
	} else {
		s.ConsecutiveFailures++
		s.ConsecutiveSuccesses = 0

		// Mark as unhealthy after reaching retry threshold, unless still
		// inside the start period
		if s.ConsecutiveFailures >= config.Retries && !s.InStartPeriod(config) {
			s.Healthy = false
		}
	}
}

// InStartPeriod returns true if we're still in the startup grace period.
func (s *Status) InStartPeriod(config Config) bool {
	if config.StartPeriod == 0 {
		return false
	}
	return time.Since(s.StartedAt) < config.StartPeriod
}
