package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/dispatch/model"
	"github.com/coregx/dispatch/retry"
)

// DeliveryWorkerPool executes delivery attempts for persisted notifications.
// A fixed number of workers pull from a shared in-memory queue fed by the
// bucket managers; a store poll backstops the queue so notifications survive
// a full queue or a process restart.
//
// Delivery has no ordering requirement; attempts for different notifications
// proceed in parallel, including within one bucket. A worker holds its pool
// slot for the whole inline retry cycle of one notification (sleeping the
// fixed interval between attempts), which bounds throughput under persistent
// downstream failure; exhausted notifications leave the inline path and move
// to the recovery table so a poisoned target cannot pin the pool forever.
type DeliveryWorkerPool struct {
	workers  int
	queue    chan model.Notification
	notifs   NotificationRepository
	recovery RecoveryRepository
	trans    *Transmitter
	policy   retry.Policy
	recPol   retry.RecoveryPolicy
	buckets  int
	pollGap  time.Duration
	monitor  Monitor
	logger   Logger

	wg sync.WaitGroup
}

// WorkerOption configures a DeliveryWorkerPool.
type WorkerOption func(*DeliveryWorkerPool) error

// NewDeliveryWorkerPool creates a worker pool with the provided options.
//
// Required options:
//   - WithWorkerStores: notification and recovery repositories
//   - WithWorkerTransmitter: the delivery transmitter
//
// Optional options:
//   - WithWorkerCount (default 4)
//   - WithWorkerPolicy (default retry.DefaultPolicy)
//   - WithWorkerMonitor (default NoOpMonitor)
//   - WithWorkerLogger (default NoopLogger)
func NewDeliveryWorkerPool(handoff chan model.Notification, buckets int, opts ...WorkerOption) (*DeliveryWorkerPool, error) {
	if handoff == nil {
		return nil, NewError(ErrCodeConfiguration, "handoff queue is required")
	}
	if buckets <= 0 {
		return nil, NewError(ErrCodeConfiguration, "bucket count must be > 0")
	}

	p := &DeliveryWorkerPool{
		workers: 4,
		queue:   handoff,
		policy:  retry.DefaultPolicy(),
		recPol:  retry.DefaultRecoveryPolicy(),
		buckets: buckets,
		pollGap: time.Minute,
		monitor: &NoOpMonitor{},
		logger:  &NoopLogger{},
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply worker option", err)
		}
	}

	if p.notifs == nil || p.recovery == nil {
		return nil, NewError(ErrCodeConfiguration, "notification and recovery repositories are required (use WithWorkerStores)")
	}
	if p.trans == nil {
		return nil, NewError(ErrCodeConfiguration, "transmitter is required (use WithWorkerTransmitter)")
	}
	if err := p.policy.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "invalid retry policy", err)
	}

	return p, nil
}

// WithWorkerStores sets the required repository dependencies.
func WithWorkerStores(notifs NotificationRepository, recovery RecoveryRepository) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if notifs == nil {
			return NewError(ErrCodeConfiguration, "notification repository cannot be nil")
		}
		if recovery == nil {
			return NewError(ErrCodeConfiguration, "recovery repository cannot be nil")
		}
		p.notifs = notifs
		p.recovery = recovery
		return nil
	}
}

// WithWorkerTransmitter sets the transmitter executing delivery attempts.
func WithWorkerTransmitter(t *Transmitter) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if t == nil {
			return NewError(ErrCodeConfiguration, "transmitter cannot be nil")
		}
		p.trans = t
		return nil
	}
}

// WithWorkerCount sets the fixed pool size. Together with the retry policy
// this bounds the number of concurrently stuck retry cycles.
func WithWorkerCount(n int) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if n <= 0 {
			return NewError(ErrCodeConfiguration, "worker count must be > 0")
		}
		p.workers = n
		return nil
	}
}

// WithWorkerPolicy sets the inline retry policy.
func WithWorkerPolicy(policy retry.Policy) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		p.policy = policy
		return nil
	}
}

// WithWorkerPollGap sets how old a pending notification row must be before
// the store poll re-enqueues it. The gap keeps the poll from double-feeding
// rows that are still travelling through the in-memory hand-off.
func WithWorkerPollGap(gap time.Duration) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if gap <= 0 {
			return NewError(ErrCodeConfiguration, "poll gap must be positive")
		}
		p.pollGap = gap
		return nil
	}
}

// WithWorkerRecoveryPolicy sets the recovery cadence used to schedule the
// first deferred attempt when a notification is handed to recovery.
func WithWorkerRecoveryPolicy(policy retry.RecoveryPolicy) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		p.recPol = policy
		return nil
	}
}

// WithWorkerMonitor sets the monitor receiving delivery callbacks.
func WithWorkerMonitor(m Monitor) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if m == nil {
			return NewError(ErrCodeConfiguration, "monitor cannot be nil")
		}
		p.monitor = m
		return nil
	}
}

// WithWorkerLogger sets the logger instance.
func WithWorkerLogger(logger Logger) WorkerOption {
	return func(p *DeliveryWorkerPool) error {
		if logger == nil {
			return NewError(ErrCodeConfiguration, "logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// Run starts the workers and the store poll and blocks until the context is
// canceled and all workers have drained their current notification.
func (p *DeliveryWorkerPool) Run(ctx context.Context, pollInterval time.Duration) {
	p.logger.Infof("Delivery worker pool started: workers=%d, attempts=%d, interval=%v",
		p.workers, p.policy.MaxAttempts, p.policy.Interval)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.workerLoop(ctx)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollLoop(ctx, pollInterval)
	}()

	p.wg.Wait()
	p.logger.Info("Delivery worker pool stopped")
}

// workerLoop pulls notifications and drives their inline retry cycle.
func (p *DeliveryWorkerPool) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-p.queue:
			p.Process(ctx, n)
		}
	}
}

// pollLoop periodically re-enqueues pending rows the in-memory hand-off
// missed (full queue, process restart before delivery).
func (p *DeliveryWorkerPool) pollLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *DeliveryWorkerPool) pollOnce(ctx context.Context) {
	cutoff := time.Now().Add(-p.pollGap)
	for bucket := 0; bucket < p.buckets; bucket++ {
		pending, err := p.notifs.ListPendingForBucket(ctx, bucket, cutoff, 100)
		if err != nil {
			if !IsNoData(err) {
				p.logger.Errorf("Failed to poll pending notifications for bucket %d: %v", bucket, err)
			}
			continue
		}
		for _, n := range pending {
			select {
			case p.queue <- n:
			case <-ctx.Done():
				return
			default:
				// Queue is saturated; the rest waits for the next poll.
				return
			}
		}
	}
}

// Process runs the full inline retry cycle for one notification: up to
// MaxAttempts deliveries with a fixed sleep between them, each attempt
// bounded by the policy's timeout. First success deletes the notification.
// Exhaustion moves it to the recovery table and deletes the active row.
//
// Errors from individual attempts are logged, never propagated; a delivery
// failure must not crash the worker.
func (p *DeliveryWorkerPool) Process(ctx context.Context, n model.Notification) {
	firstAttempt := time.Now()
	var lastErr error

	for attempt := 1; attempt <= p.policy.MaxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.policy.AttemptTimeout)
		err := p.trans.Deliver(attemptCtx, n)
		cancel()

		if err == nil {
			if delErr := p.notifs.Delete(ctx, n); delErr != nil {
				p.logger.Errorf("Delivered notification %s but failed to delete it: %v", n.UUID, delErr)
				return
			}
			p.logger.Infof("Delivered notification %s (subscription=%s, method=%s, attempt=%d)",
				n.UUID, n.SubscriptionName, n.Target.Method, attempt)
			return
		}

		lastErr = err
		p.logger.Warnf("Delivery attempt %d/%d failed for notification %s: %v",
			attempt, p.policy.MaxAttempts, n.UUID, err)
		p.monitor.NotifyDeliveryFailure(ctx, n, attempt, err)

		if ctx.Err() != nil {
			// Shutdown mid-cycle: leave the row for the poll after restart.
			return
		}

		if attempt < p.policy.MaxAttempts {
			select {
			case <-time.After(p.policy.Interval):
			case <-ctx.Done():
				return
			}
		}
	}

	p.moveToRecovery(ctx, n, lastErr, firstAttempt)
}

// moveToRecovery hands an exhausted notification to the recovery path: the
// recovery row is written first, then the active row is removed.
func (p *DeliveryWorkerPool) moveToRecovery(ctx context.Context, n model.Notification, lastErr error, firstAttempt time.Time) {
	item := model.NewRecoveryItem(n, p.policy.MaxAttempts, lastErr, firstAttempt, p.recPol.Interval)

	saved, err := p.recovery.Save(ctx, item)
	if err != nil {
		// Keep the active row so the poll retries the whole cycle later.
		p.logger.Errorf("Failed to move notification %s to recovery, keeping active row: %v", n.UUID, err)
		return
	}

	if err := p.notifs.Delete(ctx, n); err != nil {
		p.logger.Errorf("Failed to delete notification %s after recovery hand-off: %v", n.UUID, err)
	}

	p.logger.Warnf("Notification %s exhausted %d delivery attempts, moved to recovery (last error: %v)",
		n.UUID, p.policy.MaxAttempts, lastErr)
	p.monitor.NotifyRecoveryItemAdded(ctx, saved)
}

// Schedule returns a human-readable description of the inline retry
// schedule. Useful for displaying the delivery configuration in logs.
func (p *DeliveryWorkerPool) Schedule() string {
	return p.policy.Schedule()
}
