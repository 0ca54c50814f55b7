package model

import (
	"time"

	"github.com/google/uuid"
)

// Notification is one delivery obligation: the join of one event with one
// subscription's one delivery target. It exists in the notification store
// from the moment the bucket manager persists it until it is either
// successfully delivered (row deleted) or handed to recovery after
// exhausting delivery attempts.
//
// The event is denormalized into the notification so that delivery does not
// depend on the broker retaining the event.
type Notification struct {
	ID               int64          `json:"id"`
	UUID             string         `json:"uuid"`
	Tenant           string         `json:"tenant"`
	SubscriptionName string         `json:"subscriptionName" db:"subscription_name"`
	BucketNum        int            `json:"bucketNum" db:"bucket_num"`
	EventUUID        string         `json:"eventUuid" db:"event_uuid"`
	Event            Event          `json:"event" db:"-"`
	Target           DeliveryTarget `json:"deliveryTarget" db:"-"`
	CreatedAt        time.Time      `json:"created" db:"created_at"`
}

// TableName returns the database table name for Notification.
func (n Notification) TableName() string {
	return tablePrefix + "notification"
}

// NewNotification creates a notification for one (event, subscription,
// target) combination. Each notification gets its own UUID so delivery
// outcomes can be tracked independently across a fan-out.
func NewNotification(event Event, sub Subscription, target DeliveryTarget, bucketNum int) Notification {
	return Notification{
		UUID:             uuid.NewString(),
		Tenant:           event.Tenant,
		SubscriptionName: sub.Name,
		BucketNum:        bucketNum,
		EventUUID:        event.UUID,
		Event:            event,
		Target:           target,
		CreatedAt:        time.Now(),
	}
}
