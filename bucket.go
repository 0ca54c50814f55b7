package dispatch

import (
	"context"

	"github.com/coregx/dispatch/model"
)

// BucketManager processes one bucket's events strictly sequentially. It pulls
// deliveries off its bounded queue in order, matches subscriptions, persists
// the resulting notifications, and only then acknowledges the source event
// to the broker. That ordering is the recovery boundary: a crash before the
// ack means the broker redelivers the event.
//
// Per-event state machine: Received -> Matching -> Persisting -> Acked ->
// handed to the worker pool. There is no parallelism within a bucket; that
// is what preserves per-partition-key ordering. Bucket managers for
// different buckets run independently and never block on each other.
type BucketManager struct {
	num       int
	queue     chan *Delivery
	broker    BrokerGateway
	subs      SubscriptionRepository
	notifs    NotificationRepository
	series    SeriesRepository
	ledger    EventLedgerRepository
	handoff   chan<- model.Notification
	logger    Logger
}

// NewBucketManager creates the manager for one bucket with a bounded queue
// of the given size. The queue bound provides backpressure from the broker
// consumer callback into bucket processing. handoff receives persisted
// notifications for the worker pool; a full handoff channel is not an error
// because the pool's store poll picks up whatever was not handed off.
func NewBucketManager(
	num, queueSize int,
	broker BrokerGateway,
	subs SubscriptionRepository,
	notifs NotificationRepository,
	series SeriesRepository,
	ledger EventLedgerRepository,
	handoff chan<- model.Notification,
	logger Logger,
) (*BucketManager, error) {
	if queueSize <= 0 {
		return nil, NewError(ErrCodeConfiguration, "bucket queue size must be > 0")
	}
	if broker == nil || subs == nil || notifs == nil || series == nil || ledger == nil {
		return nil, NewError(ErrCodeConfiguration, "bucket manager dependencies must not be nil")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &BucketManager{
		num:     num,
		queue:   make(chan *Delivery, queueSize),
		broker:  broker,
		subs:    subs,
		notifs:  notifs,
		series:  series,
		ledger:  ledger,
		handoff: handoff,
		logger:  logger,
	}, nil
}

// Num returns the bucket index this manager owns.
func (m *BucketManager) Num() int {
	return m.num
}

// Enqueue hands a delivery to this bucket. It blocks while the bucket queue
// is full, which backpressures the single broker consumer goroutine, and
// returns the context error if the caller gives up first.
func (m *BucketManager) Enqueue(ctx context.Context, d *Delivery) error {
	select {
	case m.queue <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes the bucket queue until the context is canceled. It blocks
// and should be run in its own goroutine, one per bucket.
func (m *BucketManager) Run(ctx context.Context) {
	m.logger.Debugf("Bucket manager %d started", m.num)
	for {
		select {
		case <-ctx.Done():
			m.logger.Debugf("Bucket manager %d stopped", m.num)
			return
		case d := <-m.queue:
			m.process(ctx, d)
		}
	}
}

// process runs one event through Matching -> Persisting -> Acked. Any
// persistence failure leaves the event unacked so the broker redelivers it;
// the event ledger keeps that redelivery from duplicating fan-out that was
// already persisted.
func (m *BucketManager) process(ctx context.Context, d *Delivery) {
	ev := d.Event

	seen, err := m.ledger.Seen(ctx, ev.UUID)
	if err != nil {
		m.logger.Errorf("Bucket %d: ledger check failed for event %s, leaving for redelivery: %v",
			m.num, ev.UUID, err)
		return
	}
	if seen {
		// Redelivery of an event whose fan-out already exists. Ack and move on.
		m.logger.Infof("Bucket %d: duplicate redelivery of event %s, acking without fan-out", m.num, ev.UUID)
		m.ack(d)
		return
	}

	if ev.SeriesID != "" {
		if err := m.advanceSeries(ctx, &ev); err != nil {
			m.logger.Errorf("Bucket %d: series bookkeeping failed for event %s, leaving for redelivery: %v",
				m.num, ev.UUID, err)
			return
		}
	}

	matches, err := m.subs.FindMatching(ctx, ev.Tenant, ev.Type, ev.Subject)
	if err != nil && !IsNoData(err) {
		m.logger.Errorf("Bucket %d: subscription matching failed for event %s, leaving for redelivery: %v",
			m.num, ev.UUID, err)
		return
	}

	// Fan-out is the cross product of matched subscriptions and their
	// delivery targets. Every notification must be durably stored before
	// the event is acked.
	var created []model.Notification
	for _, sub := range matches {
		for _, target := range sub.Targets {
			n := model.NewNotification(ev, sub, target, m.num)
			saved, err := m.notifs.Save(ctx, n)
			if err != nil {
				m.logger.Errorf("Bucket %d: failed to persist notification for event %s, subscription %s, leaving for redelivery: %v",
					m.num, ev.UUID, sub.Name, err)
				return
			}
			created = append(created, saved)
		}
	}

	if ev.DeleteSubscriptionsMatchingSubject {
		deleted, err := m.subs.DeleteBySubject(ctx, ev.Tenant, ev.Subject)
		if err != nil {
			// Best effort: the fan-out is already durable, so the event is
			// still acked. The reaper or a later cleanup event finishes the job.
			m.logger.Warnf("Bucket %d: cleanup event %s failed to delete subscriptions for subject %q: %v",
				m.num, ev.UUID, ev.Subject, err)
		} else if deleted > 0 {
			m.logger.Infof("Bucket %d: cleanup event %s deleted %d subscriptions for subject %q",
				m.num, ev.UUID, deleted, ev.Subject)
		}
	}

	if ev.EndSeries && ev.SeriesID != "" {
		if err := m.series.Delete(ctx, ev.Tenant, ev.SeriesID); err != nil && !IsNoData(err) {
			m.logger.Warnf("Bucket %d: failed to end series %s: %v", m.num, ev.SeriesID, err)
		}
	}

	// The ledger entry is written only after the whole fan-out is durable.
	// A crash between Record and the ack means a redelivery short-circuits
	// here; a crash before Record means the redelivery re-persists, which can
	// duplicate notifications but never lose them.
	if err := m.ledger.Record(ctx, ev.UUID); err != nil {
		m.logger.Errorf("Bucket %d: failed to record event %s in ledger, leaving for redelivery: %v",
			m.num, ev.UUID, err)
		return
	}

	m.ack(d)

	for _, n := range created {
		select {
		case m.handoff <- n:
		default:
			// Worker queue full; the pool's store poll will find the row.
			m.logger.Debugf("Bucket %d: handoff queue full, notification %s left for poll", m.num, n.UUID)
		}
	}

	m.logger.Debugf("Bucket %d: event %s produced %d notifications", m.num, ev.UUID, len(created))
}

// advanceSeries assigns the event's sequence number within its series,
// creating the bookkeeping record on first sight of the series key.
func (m *BucketManager) advanceSeries(ctx context.Context, ev *model.Event) error {
	progress, err := m.series.Get(ctx, ev.Tenant, ev.SeriesID)
	if err != nil {
		if !IsNoData(err) {
			return err
		}
		progress = model.NewSeriesProgress(ev.Tenant, ev.SeriesID)
		ev.SeriesSeqCount = progress.LastSeq
	} else {
		ev.SeriesSeqCount = progress.Advance()
	}

	_, err = m.series.Save(ctx, progress)
	return err
}

func (m *BucketManager) ack(d *Delivery) {
	if err := m.broker.Ack(d); err != nil {
		// The notifications are durable; a failed ack means the broker will
		// redeliver and the ledger will short-circuit the duplicate.
		m.logger.Warnf("Bucket %d: failed to ack event %s: %v", m.num, d.Event.UUID, err)
	}
}
