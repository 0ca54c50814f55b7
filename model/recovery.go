package model

import (
	"database/sql"
	"time"
)

// RecoveryItem is a notification that exhausted its inline delivery attempts
// and was moved to the recovery table. The recovery loop re-attempts these on
// a slower cadence than the primary worker pool, so a persistently broken
// downstream target cannot starve fresh notifications.
//
// The item keeps full diagnostic information about the failed attempts and
// is deleted once a recovery attempt finally succeeds.
type RecoveryItem struct {
	ID               int64          `json:"id"`
	NotificationUUID string         `json:"notificationUuid" db:"notification_uuid"`
	Tenant           string         `json:"tenant"`
	SubscriptionName string         `json:"subscriptionName" db:"subscription_name"`
	BucketNum        int            `json:"bucketNum" db:"bucket_num"`
	EventUUID        string         `json:"eventUuid" db:"event_uuid"`
	Event            Event          `json:"event" db:"-"`
	Target           DeliveryTarget `json:"deliveryTarget" db:"-"`

	AttemptCount   int            `json:"attemptCount" db:"attempt_count"`
	LastError      sql.NullString `json:"lastError" db:"last_error"`
	FirstAttemptAt time.Time      `json:"firstAttemptAt" db:"first_attempt_at"`
	LastAttemptAt  time.Time      `json:"lastAttemptAt" db:"last_attempt_at"`
	MovedAt        time.Time      `json:"movedAt" db:"moved_at"`
	NextAttemptAt  time.Time      `json:"nextAttemptAt" db:"next_attempt_at"`
	CreatedAt      time.Time      `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for RecoveryItem.
func (r RecoveryItem) TableName() string {
	return tablePrefix + "recovery"
}

// NewRecoveryItem builds a recovery record from an exhausted notification.
// attempts is the number of inline delivery attempts already made; nextAfter
// schedules the first recovery attempt relative to now.
func NewRecoveryItem(n Notification, attempts int, lastErr error, firstAttempt time.Time, nextAfter time.Duration) RecoveryItem {
	now := time.Now()
	item := RecoveryItem{
		NotificationUUID: n.UUID,
		Tenant:           n.Tenant,
		SubscriptionName: n.SubscriptionName,
		BucketNum:        n.BucketNum,
		EventUUID:        n.EventUUID,
		Event:            n.Event,
		Target:           n.Target,
		AttemptCount:     attempts,
		FirstAttemptAt:   firstAttempt,
		LastAttemptAt:    now,
		MovedAt:          now,
		NextAttemptAt:    now.Add(nextAfter),
		CreatedAt:        now,
	}
	if lastErr != nil {
		item.LastError = sql.NullString{String: lastErr.Error(), Valid: true}
	}
	return item
}

// AsNotification reconstructs the delivery obligation carried by this
// recovery item so the shared transmitter can re-attempt it.
func (r RecoveryItem) AsNotification() Notification {
	return Notification{
		UUID:             r.NotificationUUID,
		Tenant:           r.Tenant,
		SubscriptionName: r.SubscriptionName,
		BucketNum:        r.BucketNum,
		EventUUID:        r.EventUUID,
		Event:            r.Event,
		Target:           r.Target,
		CreatedAt:        r.CreatedAt,
	}
}

// MarkAttemptFailed records another failed recovery attempt and schedules
// the next one after the given interval.
func (r *RecoveryItem) MarkAttemptFailed(err error, nextAfter time.Duration) {
	now := time.Now()
	r.AttemptCount++
	r.LastAttemptAt = now
	r.NextAttemptAt = now.Add(nextAfter)
	if err != nil {
		r.LastError = sql.NullString{String: err.Error(), Valid: true}
	}
}

// IsDue reports whether the next scheduled recovery attempt time has passed.
func (r RecoveryItem) IsDue(now time.Time) bool {
	return !now.Before(r.NextAttemptAt)
}

// Age returns how long the item has been in the recovery table.
func (r RecoveryItem) Age() time.Duration {
	return time.Since(r.MovedAt)
}
