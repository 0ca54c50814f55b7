package dispatch

import (
	"context"
	"time"

	"github.com/coregx/dispatch/model"
)

// SubscriptionFilter represents query filtering options for subscriptions.
// Used by SubscriptionRepository.List to filter results.
type SubscriptionFilter struct {
	Tenant      string // Filter by tenant (empty = no filter)
	Owner       string // Filter by owner (empty = no filter)
	TypeFilter  string // Filter by exact type filter string (empty = no filter)
	EnabledOnly bool   // Only return enabled subscriptions
}

// SubscriptionRepository defines the persistence interface for subscriptions.
// Subscriptions are standing filters plus delivery instructions; the bucket
// managers query them on every event, so FindMatching is the hot path.
//
// Implementations must be safe for concurrent use across all bucket managers.
type SubscriptionRepository interface {
	// Save creates a new subscription (if ID=0) or updates an existing one.
	// Returns the saved subscription with populated ID.
	Save(ctx context.Context, m model.Subscription) (model.Subscription, error)

	// GetByName retrieves a subscription by its (tenant, owner, name) key.
	// Returns ErrNoData if not found.
	GetByName(ctx context.Context, tenant, owner, name string) (model.Subscription, error)

	// DeleteByName permanently removes a subscription.
	// Returns ErrNoData if it does not exist.
	DeleteByName(ctx context.Context, tenant, owner, name string) error

	// DeleteBySubject removes every subscription in the tenant whose subject
	// filter matches the given subject exactly, regardless of owner. Used
	// when a cleanup event is consumed. Returns the number of deletions.
	DeleteBySubject(ctx context.Context, tenant, subject string) (int, error)

	// FindMatching returns the enabled, unexpired subscriptions in the tenant
	// whose type filter glob-matches eventType and whose subject filter
	// matches subject. No ordering is guaranteed across matches.
	// Returns ErrNoData when nothing matches.
	FindMatching(ctx context.Context, tenant, eventType, subject string) ([]model.Subscription, error)

	// List retrieves subscriptions matching the filter criteria.
	// Returns ErrNoData if none found.
	List(ctx context.Context, filter SubscriptionFilter) ([]model.Subscription, error)

	// ListExpired returns all subscriptions whose expiry has passed at the
	// given instant, across all tenants. Consumed by the reaper.
	// Returns ErrNoData if none found.
	ListExpired(ctx context.Context, now time.Time) ([]model.Subscription, error)
}

// NotificationRepository defines the persistence interface for active
// notifications. A notification row exists from the moment the bucket
// manager persisted it until delivery succeeds (row deleted) or the worker
// pool hands it to recovery (row deleted as part of the move).
type NotificationRepository interface {
	// Save inserts a new notification. Returns it with populated ID.
	Save(ctx context.Context, n model.Notification) (model.Notification, error)

	// Delete permanently removes a notification after successful delivery or
	// recovery hand-off.
	Delete(ctx context.Context, n model.Notification) error

	// ListPendingForBucket returns undelivered notifications for one bucket
	// that were created before the cutoff, ordered by created_at ASC. The
	// cutoff keeps the store poll from racing the in-memory hand-off for
	// freshly created rows.
	ListPendingForBucket(ctx context.Context, bucketNum int, createdBefore time.Time, limit int) ([]model.Notification, error)

	// CountForSubscription returns the number of active notifications for a
	// subscription. Used by the test-sequence probe.
	CountForSubscription(ctx context.Context, tenant, subscriptionName string) (int, error)
}

// RecoveryRepository defines the persistence interface for the recovery
// table holding notifications that exhausted inline delivery attempts.
type RecoveryRepository interface {
	// Save creates a new recovery item (if ID=0) or updates an existing one.
	Save(ctx context.Context, item model.RecoveryItem) (model.RecoveryItem, error)

	// Delete permanently removes a recovery item after successful redelivery.
	Delete(ctx context.Context, item model.RecoveryItem) error

	// ListDue returns recovery items whose next attempt time has passed,
	// ordered by next_attempt_at ASC (most overdue first).
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.RecoveryItem, error)
}

// SeriesRepository defines the persistence interface for per-series sequence
// counters. Only ever touched by the single bucket manager that owns the
// series' partition key, so implementations need no per-row coordination.
type SeriesRepository interface {
	// Get retrieves the series progress record.
	// Returns ErrNoData if the series has no bookkeeping yet.
	Get(ctx context.Context, tenant, seriesID string) (model.SeriesProgress, error)

	// Save creates a new progress record (if ID=0) or updates an existing one.
	Save(ctx context.Context, s model.SeriesProgress) (model.SeriesProgress, error)

	// Delete removes the series bookkeeping so a later event with the same
	// key restarts the sequence at 1.
	Delete(ctx context.Context, tenant, seriesID string) error
}

// EventLedgerRepository records processed event UUIDs so that broker
// redeliveries of an already-persisted event do not duplicate its fan-out.
// This is the idempotency boundary of the at-least-once contract: the bucket
// manager checks Seen before matching and calls Record only after the whole
// fan-out is durable, immediately before acking the event.
type EventLedgerRepository interface {
	// Seen reports whether the event UUID has already been recorded.
	Seen(ctx context.Context, eventUUID string) (bool, error)

	// Record inserts the event UUID after its fan-out has been persisted.
	Record(ctx context.Context, eventUUID string) error
}

// TestSequenceRepository defines the persistence interface for the synthetic
// pipeline-probe audit records.
type TestSequenceRepository interface {
	// Save creates a new test sequence (if ID=0) or updates an existing one.
	Save(ctx context.Context, t model.TestSequence) (model.TestSequence, error)

	// GetBySubscription retrieves the record attached to a test subscription.
	// Returns ErrNoData if not found.
	GetBySubscription(ctx context.Context, tenant, subscriptionName string) (model.TestSequence, error)

	// Delete removes the record, normally together with its subscription.
	// Returns ErrNoData if it does not exist.
	Delete(ctx context.Context, tenant, subscriptionName string) error
}
