package dispatch

import (
	"context"

	"github.com/coregx/dispatch/model"
)

// Monitor defines an optional interface for observing dispatcher events
// (delivery failures, recovery hand-offs, subscription lifecycle).
//
// Implementations might page an on-call rotation, post to a chat channel,
// or feed a metrics system.
type Monitor interface {
	// NotifyDeliveryFailure is called after every failed delivery attempt.
	// This is informational and happens before any recovery hand-off.
	NotifyDeliveryFailure(ctx context.Context, n model.Notification, attempt int, err error)

	// NotifyRecoveryItemAdded is called when a notification exhausts its
	// inline delivery attempts and is moved to the recovery table.
	NotifyRecoveryItemAdded(ctx context.Context, item model.RecoveryItem)

	// NotifySubscriptionCreated is called when a new subscription is created.
	NotifySubscriptionCreated(ctx context.Context, sub model.Subscription)

	// NotifySubscriptionReaped is called when the reaper deletes an expired
	// subscription.
	NotifySubscriptionReaped(ctx context.Context, sub model.Subscription)
}

// NoOpMonitor is a no-op implementation of Monitor.
// Use this when monitoring callbacks are not needed.
type NoOpMonitor struct{}

// NotifyDeliveryFailure does nothing.
func (m *NoOpMonitor) NotifyDeliveryFailure(_ context.Context, _ model.Notification, _ int, _ error) {
}

// NotifyRecoveryItemAdded does nothing.
func (m *NoOpMonitor) NotifyRecoveryItemAdded(_ context.Context, _ model.RecoveryItem) {}

// NotifySubscriptionCreated does nothing.
func (m *NoOpMonitor) NotifySubscriptionCreated(_ context.Context, _ model.Subscription) {}

// NotifySubscriptionReaped does nothing.
func (m *NoOpMonitor) NotifySubscriptionReaped(_ context.Context, _ model.Subscription) {}

// LoggingMonitor is a simple Monitor implementation that logs callbacks.
type LoggingMonitor struct {
	logger Logger
}

// NewLoggingMonitor creates a new LoggingMonitor.
func NewLoggingMonitor(logger Logger) *LoggingMonitor {
	return &LoggingMonitor{logger: logger}
}

// NotifyDeliveryFailure logs the failed attempt.
func (m *LoggingMonitor) NotifyDeliveryFailure(_ context.Context, n model.Notification, attempt int, err error) {
	m.logger.Warnf("Delivery failed: notification=%s, subscription=%s, method=%s, attempt=%d, error=%v",
		n.UUID, n.SubscriptionName, n.Target.Method, attempt, err)
}

// NotifyRecoveryItemAdded logs the recovery hand-off.
func (m *LoggingMonitor) NotifyRecoveryItemAdded(_ context.Context, item model.RecoveryItem) {
	m.logger.Warnf("Notification moved to recovery: notification=%s, subscription=%s, attempts=%d, last_error=%s",
		item.NotificationUUID, item.SubscriptionName, item.AttemptCount, item.LastError.String)
}

// NotifySubscriptionCreated logs subscription creation.
func (m *LoggingMonitor) NotifySubscriptionCreated(_ context.Context, sub model.Subscription) {
	m.logger.Infof("Subscription created: tenant=%s, owner=%s, name=%s, typeFilter=%s",
		sub.Tenant, sub.Owner, sub.Name, sub.TypeFilter)
}

// NotifySubscriptionReaped logs reaper deletions.
func (m *LoggingMonitor) NotifySubscriptionReaped(_ context.Context, sub model.Subscription) {
	m.logger.Infof("Expired subscription reaped: tenant=%s, owner=%s, name=%s, expiry=%v",
		sub.Tenant, sub.Owner, sub.Name, sub.Expiry)
}
