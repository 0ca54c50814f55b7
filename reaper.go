package dispatch

import (
	"context"
	"time"
)

// Reaper deletes subscriptions whose expiry has passed. It runs on a fixed
// interval, independent of request traffic, and is best effort: a failed
// deletion is counted and summarized at warn level without aborting the
// pass for the remaining subscriptions.
type Reaper struct {
	subs     SubscriptionRepository
	interval time.Duration
	monitor  Monitor
	logger   Logger
}

// NewReaper creates a subscription reaper.
func NewReaper(subs SubscriptionRepository, interval time.Duration, monitor Monitor, logger Logger) (*Reaper, error) {
	if subs == nil {
		return nil, NewError(ErrCodeConfiguration, "subscription repository is required")
	}
	if interval <= 0 {
		return nil, NewError(ErrCodeConfiguration, "reap interval must be positive")
	}
	if monitor == nil {
		monitor = &NoOpMonitor{}
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &Reaper{subs: subs, interval: interval, monitor: monitor, logger: logger}, nil
}

// Run executes reap passes at the configured interval until the context is
// canceled. Blocks; run in a goroutine.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Subscription reaper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Subscription reaper stopped")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single reap pass and returns the number of
// subscriptions deleted.
func (r *Reaper) RunOnce(ctx context.Context) int {
	expired, err := r.subs.ListExpired(ctx, time.Now())
	if err != nil {
		if !IsNoData(err) {
			r.logger.Errorf("Failed to list expired subscriptions: %v", err)
		}
		return 0
	}

	deleted, failed := 0, 0
	for _, sub := range expired {
		if err := r.subs.DeleteByName(ctx, sub.Tenant, sub.Owner, sub.Name); err != nil {
			failed++
			r.logger.Debugf("Failed to reap subscription %s/%s/%s: %v", sub.Tenant, sub.Owner, sub.Name, err)
			continue
		}
		deleted++
		r.monitor.NotifySubscriptionReaped(ctx, sub)
	}

	if failed > 0 {
		r.logger.Warnf("Reap pass finished with errors: deleted=%d, failed=%d", deleted, failed)
	} else if deleted > 0 {
		r.logger.Infof("Reap pass deleted %d expired subscriptions", deleted)
	}
	return deleted
}
