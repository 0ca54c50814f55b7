package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
)

func newTestSubscriptionManager(t *testing.T, subs *memSubscriptionRepo, monitor Monitor) *SubscriptionManager {
	t.Helper()
	opts := []SubscriptionManagerOption{WithSubscriptionStore(subs)}
	if monitor != nil {
		opts = append(opts, WithSubscriptionMonitor(monitor))
	}
	sm, err := NewSubscriptionManager(opts...)
	require.NoError(t, err)
	return sm
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		Tenant:        "orders",
		Owner:         "alice",
		Name:          "invoice-watch",
		TypeFilter:    "billing.*",
		SubjectFilter: model.MatchAny,
		Targets: []model.DeliveryTarget{
			{Method: model.DeliveryMethodWebhook, Address: "https://example.com/hook"},
		},
	}
}

func TestNewSubscriptionManager_RequiresStore(t *testing.T) {
	_, err := NewSubscriptionManager()
	assert.Error(t, err)
}

func TestSubscriptionManager_Create(t *testing.T) {
	subs := newMemSubscriptionRepo()
	monitor := &recordingMonitor{}
	sm := newTestSubscriptionManager(t, subs, monitor)
	ctx := context.Background()

	created, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.True(t, created.Enabled, "new subscriptions start enabled")
	assert.True(t, created.Expiry.IsZero(), "zero TTL means no expiry")

	require.Len(t, monitor.created, 1)
	assert.Equal(t, "invoice-watch", monitor.created[0].Name)
}

func TestSubscriptionManager_CreateGeneratesBlankName(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)

	req := validCreateRequest()
	req.Name = ""
	created, err := sm.Create(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, created.Name)
}

func TestSubscriptionManager_CreateRejectsDuplicateName(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	_, err = sm.Create(ctx, validCreateRequest())
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "already exists")
}

func TestSubscriptionManager_CreateValidation(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"blank owner", func(r *CreateRequest) { r.Owner = "" }},
		{"malformed type filter", func(r *CreateRequest) { r.TypeFilter = "a..b" }},
		{"no targets", func(r *CreateRequest) { r.Targets = nil }},
		{"bad webhook URL", func(r *CreateRequest) {
			r.Targets = []model.DeliveryTarget{{Method: model.DeliveryMethodWebhook, Address: "not a url"}}
		}},
		{"bad email address", func(r *CreateRequest) {
			r.Targets = []model.DeliveryTarget{{Method: model.DeliveryMethodEmail, Address: "nobody"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			_, err := sm.Create(ctx, req)
			require.Error(t, err)
			assert.True(t, IsValidation(err), "expected a validation error, got %v", err)
		})
	}
}

func TestSubscriptionManager_Patch(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	newFilter := "billing.invoice.*"
	patched, err := sm.Patch(ctx, "orders", "alice", "invoice-watch", PatchRequest{
		TypeFilter: &newFilter,
	})
	require.NoError(t, err)
	assert.Equal(t, newFilter, patched.TypeFilter)
	assert.Equal(t, model.MatchAny, patched.SubjectFilter, "unset fields stay untouched")

	// A patch that breaks validation leaves the stored subscription intact.
	broken := "a..b"
	_, err = sm.Patch(ctx, "orders", "alice", "invoice-watch", PatchRequest{TypeFilter: &broken})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	current, err := sm.Get(ctx, "orders", "alice", "invoice-watch")
	require.NoError(t, err)
	assert.Equal(t, newFilter, current.TypeFilter)
}

func TestSubscriptionManager_EnableDisable(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	disabled, err := sm.Disable(ctx, "orders", "alice", "invoice-watch")
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)

	enabled, err := sm.Enable(ctx, "orders", "alice", "invoice-watch")
	require.NoError(t, err)
	assert.True(t, enabled.Enabled)
}

func TestSubscriptionManager_UpdateTTL(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	updated, err := sm.UpdateTTL(ctx, "orders", "alice", "invoice-watch", 30)
	require.NoError(t, err)
	assert.Equal(t, 30, updated.TTLMinutes)
	assert.WithinDuration(t, time.Now().Add(30*time.Minute), updated.Expiry, 5*time.Second)

	cleared, err := sm.UpdateTTL(ctx, "orders", "alice", "invoice-watch", 0)
	require.NoError(t, err)
	assert.True(t, cleared.Expiry.IsZero(), "TTL <= 0 clears the expiry")
}

func TestSubscriptionManager_DeleteAndGetUnknown(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	require.NoError(t, sm.Delete(ctx, "orders", "alice", "invoice-watch"))

	_, err = sm.Get(ctx, "orders", "alice", "invoice-watch")
	assert.True(t, IsNoData(err))

	err = sm.Delete(ctx, "orders", "alice", "invoice-watch")
	assert.True(t, IsNoData(err))
}

func TestSubscriptionManager_ListFilters(t *testing.T) {
	sm := newTestSubscriptionManager(t, newMemSubscriptionRepo(), nil)
	ctx := context.Background()

	_, err := sm.Create(ctx, validCreateRequest())
	require.NoError(t, err)

	second := validCreateRequest()
	second.Owner = "bob"
	second.Name = "bob-watch"
	_, err = sm.Create(ctx, second)
	require.NoError(t, err)

	_, err = sm.Disable(ctx, "orders", "bob", "bob-watch")
	require.NoError(t, err)

	all, err := sm.List(ctx, SubscriptionFilter{Tenant: "orders"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	enabled, err := sm.List(ctx, SubscriptionFilter{Tenant: "orders", EnabledOnly: true})
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "alice", enabled[0].Owner)

	none, err := sm.List(ctx, SubscriptionFilter{Tenant: "absent"})
	require.NoError(t, err, "an empty listing is not an error for callers")
	assert.Empty(t, none)
}
