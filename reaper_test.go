package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
)

func TestNewReaper_Validation(t *testing.T) {
	_, err := NewReaper(nil, time.Minute, nil, nil)
	assert.Error(t, err, "nil repository must be rejected")

	_, err = NewReaper(newMemSubscriptionRepo(), 0, nil, nil)
	assert.Error(t, err, "non-positive interval must be rejected")
}

func TestReaper_DeletesOnlyExpiredSubscriptions(t *testing.T) {
	subs := newMemSubscriptionRepo()
	ctx := context.Background()

	expired := webhookSub("orders", "alice", "stale", model.MatchAny, model.MatchAny)
	expired.Expiry = time.Now().Add(-time.Minute)
	_, err := subs.Save(ctx, expired)
	require.NoError(t, err)

	future := webhookSub("orders", "alice", "fresh", model.MatchAny, model.MatchAny)
	future.Expiry = time.Now().Add(time.Hour)
	_, err = subs.Save(ctx, future)
	require.NoError(t, err)

	// Zero expiry means the subscription never expires.
	_, err = subs.Save(ctx, webhookSub("orders", "bob", "forever", model.MatchAny, model.MatchAny))
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	reaper, err := NewReaper(subs, time.Minute, monitor, nil)
	require.NoError(t, err)

	deleted := reaper.RunOnce(ctx)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, 2, subs.count())

	_, err = subs.GetByName(ctx, "orders", "alice", "stale")
	assert.True(t, IsNoData(err))

	require.Len(t, monitor.reaped, 1)
	assert.Equal(t, "stale", monitor.reaped[0].Name)
}

func TestReaper_EmptyPassIsQuiet(t *testing.T) {
	reaper, err := NewReaper(newMemSubscriptionRepo(), time.Minute, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, reaper.RunOnce(context.Background()))
}
