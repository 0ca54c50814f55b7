package model

import "time"

// TestSequence is an auditing record created alongside a synthetic test
// subscription. The readiness probe publishes test events, counts the
// notifications that arrive for the subscription, and appends to the history
// here, verifying the full pipeline end to end. The record is deleted
// together with its subscription.
type TestSequence struct {
	ID                int64     `json:"id"`
	SubscriptionName  string    `json:"subscriptionName" db:"subscription_name"`
	Tenant            string    `json:"tenant"`
	NotificationCount int       `json:"notificationCount" db:"notification_count"`
	History           string    `json:"history"`
	CreatedAt         time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for TestSequence.
func (t TestSequence) TableName() string {
	return tablePrefix + "test_sequence"
}

// NewTestSequence creates an empty audit record for a synthetic subscription.
func NewTestSequence(tenant, subscriptionName string) TestSequence {
	now := time.Now()
	return TestSequence{
		Tenant:           tenant,
		SubscriptionName: subscriptionName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// RecordObservation appends one probe observation to the history and updates
// the verified notification count.
func (t *TestSequence) RecordObservation(count int, note string) {
	t.NotificationCount = count
	if t.History != "" {
		t.History += "\n"
	}
	t.History += note
	t.UpdatedAt = time.Now()
}
