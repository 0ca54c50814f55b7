// Package retry defines the delivery attempt policy for notifications.
// The dispatcher retries with a fixed interval rather than exponential
// backoff; exhausted notifications leave the inline retry path entirely and
// move to the recovery table.
package retry

import (
	"fmt"
	"time"
)

// Policy configures inline delivery retries.
//
// A delivery worker holds its pool slot for the whole retry cycle, sleeping
// Interval between attempts, so the worst case a single notification can
// occupy a slot is MaxAttempts*(AttemptTimeout+Interval). Pool size times
// that bound is the explicit throughput contract under persistent downstream
// failure; the recovery loop exists so that bound is never exceeded.
type Policy struct {
	MaxAttempts    int           // Inline attempts before recovery hand-off
	Interval       time.Duration // Fixed sleep between attempts
	AttemptTimeout time.Duration // Bound on each individual attempt
}

// DefaultPolicy returns the default inline retry policy:
// 3 attempts, 10s apart, 30s per attempt.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Interval:       10 * time.Second,
		AttemptTimeout: 30 * time.Second,
	}
}

// Validate checks the policy's configuration contract.
func (p Policy) Validate() error {
	if p.MaxAttempts <= 1 {
		return fmt.Errorf("max attempts must be > 1, got %d", p.MaxAttempts)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", p.Interval)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %v", p.AttemptTimeout)
	}
	return nil
}

// Exhausted reports whether the given number of completed attempts has used
// up the inline retry budget.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// MaxSlotHold returns the upper bound on how long one notification can
// occupy a worker slot.
func (p Policy) MaxSlotHold() time.Duration {
	return time.Duration(p.MaxAttempts)*p.AttemptTimeout +
		time.Duration(p.MaxAttempts-1)*p.Interval
}

// Schedule returns a human-readable description of the retry schedule,
// useful in logs and operational tooling.
func (p Policy) Schedule() string {
	s := "Delivery schedule:\n"
	for i := 1; i <= p.MaxAttempts; i++ {
		s += fmt.Sprintf("  Attempt %d (timeout %v)\n", i, p.AttemptTimeout)
		if i < p.MaxAttempts {
			s += fmt.Sprintf("  wait %v\n", p.Interval)
		}
	}
	s += "  -> hand off to recovery\n"
	return s
}

// RecoveryPolicy configures the deferred redelivery loop for notifications
// that exhausted inline attempts.
type RecoveryPolicy struct {
	Interval       time.Duration // Cadence between recovery attempts per item
	AttemptTimeout time.Duration // Bound on each recovery attempt
	BatchSize      int           // Items scanned per recovery pass
}

// DefaultRecoveryPolicy returns the default recovery cadence: one attempt
// per item every 5 minutes, 50 items per pass.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		Interval:       5 * time.Minute,
		AttemptTimeout: 30 * time.Second,
		BatchSize:      50,
	}
}

// Validate checks the recovery policy's configuration contract.
func (p RecoveryPolicy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("recovery interval must be positive, got %v", p.Interval)
	}
	if p.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive, got %v", p.AttemptTimeout)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0, got %d", p.BatchSize)
	}
	return nil
}
