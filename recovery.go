package dispatch

import (
	"context"
	"time"

	"github.com/coregx/dispatch/retry"
)

// RecoveryRunner re-attempts notifications that exhausted their inline
// delivery attempts, on a slower cadence than the primary worker pool. The
// decoupling is deliberate: a persistently broken downstream target sits in
// the recovery table without starving fresh notifications of pool slots.
//
// Each pass is best effort; an error on one item never aborts the pass for
// the remaining items.
type RecoveryRunner struct {
	recovery RecoveryRepository
	trans    *Transmitter
	policy   retry.RecoveryPolicy
	logger   Logger
}

// NewRecoveryRunner creates a recovery runner.
func NewRecoveryRunner(recovery RecoveryRepository, trans *Transmitter, policy retry.RecoveryPolicy, logger Logger) (*RecoveryRunner, error) {
	if recovery == nil {
		return nil, NewError(ErrCodeConfiguration, "recovery repository is required")
	}
	if trans == nil {
		return nil, NewError(ErrCodeConfiguration, "transmitter is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "invalid recovery policy", err)
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &RecoveryRunner{recovery: recovery, trans: trans, policy: policy, logger: logger}, nil
}

// Run executes recovery passes at the policy's interval until the context is
// canceled. Blocks; run in a goroutine.
func (r *RecoveryRunner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.policy.Interval)
	defer ticker.Stop()

	r.logger.Info("Recovery loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Recovery loop stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single recovery pass and returns the number of items
// successfully redelivered.
func (r *RecoveryRunner) RunOnce(ctx context.Context) int {
	items, err := r.recovery.ListDue(ctx, time.Now(), r.policy.BatchSize)
	if err != nil {
		if !IsNoData(err) {
			r.logger.Errorf("Failed to list due recovery items: %v", err)
		}
		return 0
	}

	recovered := 0
	for i := range items {
		item := items[i]

		attemptCtx, cancel := context.WithTimeout(ctx, r.policy.AttemptTimeout)
		err := r.trans.Deliver(attemptCtx, item.AsNotification())
		cancel()

		if err == nil {
			if delErr := r.recovery.Delete(ctx, item); delErr != nil {
				r.logger.Errorf("Recovered notification %s but failed to delete recovery row: %v",
					item.NotificationUUID, delErr)
				continue
			}
			recovered++
			r.logger.Infof("Recovered notification %s after %d total attempts",
				item.NotificationUUID, item.AttemptCount+1)
			continue
		}

		item.MarkAttemptFailed(err, r.policy.Interval)
		if _, saveErr := r.recovery.Save(ctx, item); saveErr != nil {
			r.logger.Errorf("Failed to update recovery item %s: %v", item.NotificationUUID, saveErr)
		}
		r.logger.Warnf("Recovery attempt failed for notification %s (attempts=%d): %v",
			item.NotificationUUID, item.AttemptCount, err)

		if ctx.Err() != nil {
			return recovered
		}
	}

	if len(items) > 0 {
		r.logger.Infof("Recovery pass: %d/%d items redelivered", recovered, len(items))
	}
	return recovered
}
