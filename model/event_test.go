package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewEvent(t *testing.T) {
	before := time.Now()
	ev := NewEvent("tenant-a", "alice", "orders", "orders.created", "order-42", `{"total": 10}`)

	assert.NotEmpty(t, ev.UUID)
	assert.Equal(t, "tenant-a", ev.Tenant)
	assert.Equal(t, "alice", ev.User)
	assert.Equal(t, "orders", ev.Source)
	assert.Equal(t, "orders.created", ev.Type)
	assert.Equal(t, "order-42", ev.Subject)
	assert.WithinDuration(t, before, ev.Timestamp, time.Second)
	assert.WithinDuration(t, before, ev.Received, time.Second)
	assert.False(t, ev.DeleteSubscriptionsMatchingSubject)
	assert.False(t, ev.EndSeries)

	other := NewEvent("tenant-a", "alice", "orders", "orders.created", "order-42", "")
	assert.NotEqual(t, ev.UUID, other.UUID)
}

func TestEvent_PartitionKey(t *testing.T) {
	tests := []struct {
		name     string
		event    Event
		expected string
	}{
		{
			name:     "series id wins",
			event:    Event{SeriesID: "series-1", Subject: "subj", Type: "a.b"},
			expected: "series-1",
		},
		{
			name:     "subject when no series",
			event:    Event{Subject: "subj", Type: "a.b"},
			expected: "subj",
		},
		{
			name:     "type as last resort",
			event:    Event{Type: "a.b"},
			expected: "a.b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.event.PartitionKey())
		})
	}
}

func TestEvent_Validate(t *testing.T) {
	valid := NewEvent("tenant-a", "alice", "orders", "orders.created", "order-42", "{}")
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing tenant", func(e *Event) { e.Tenant = "" }},
		{"missing source", func(e *Event) { e.Source = "" }},
		{"missing type", func(e *Event) { e.Type = "" }},
		{"empty type segment", func(e *Event) { e.Type = "orders..created" }},
		{"type not owned by source", func(e *Event) { e.Type = "billing.created" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			assert.Error(t, ev.Validate())
		})
	}
}
