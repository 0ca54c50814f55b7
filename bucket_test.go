package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
)

type bucketFixture struct {
	manager *BucketManager
	broker  *fakeBroker
	subs    *memSubscriptionRepo
	notifs  *memNotificationRepo
	series  *memSeriesRepo
	ledger  *memLedgerRepo
	handoff chan model.Notification
}

func newBucketFixture(t *testing.T) *bucketFixture {
	t.Helper()
	f := &bucketFixture{
		broker:  newFakeBroker(),
		subs:    newMemSubscriptionRepo(),
		notifs:  newMemNotificationRepo(),
		series:  newMemSeriesRepo(),
		ledger:  newMemLedgerRepo(),
		handoff: make(chan model.Notification, 64),
	}
	m, err := NewBucketManager(0, 16, f.broker, f.subs, f.notifs, f.series, f.ledger, f.handoff, nil)
	require.NoError(t, err)
	f.manager = m
	return f
}

func (f *bucketFixture) addSub(t *testing.T, sub model.Subscription) model.Subscription {
	t.Helper()
	saved, err := f.subs.Save(context.Background(), sub)
	require.NoError(t, err)
	return saved
}

func TestNewBucketManager_Validation(t *testing.T) {
	broker := newFakeBroker()
	subs := newMemSubscriptionRepo()
	notifs := newMemNotificationRepo()
	series := newMemSeriesRepo()
	ledger := newMemLedgerRepo()
	handoff := make(chan model.Notification, 1)

	_, err := NewBucketManager(0, 0, broker, subs, notifs, series, ledger, handoff, nil)
	assert.Error(t, err, "zero queue size must be rejected")

	_, err = NewBucketManager(0, 16, nil, subs, notifs, series, ledger, handoff, nil)
	assert.Error(t, err, "nil broker must be rejected")

	m, err := NewBucketManager(3, 16, broker, subs, notifs, series, ledger, handoff, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Num())
}

func TestBucketManager_FanOutCrossProduct(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()

	// s1 matches any billing event on any subject with one target; s2 matches
	// one exact type and subject with two targets.
	f.addSub(t, webhookSub("orders", "alice", "s1", "billing.*", model.MatchAny))
	s2 := model.NewSubscription("orders", "bob", "s2", "billing.invoice", "inv-1",
		[]model.DeliveryTarget{
			{Method: model.DeliveryMethodWebhook, Address: "https://example.com/a"},
			{Method: model.DeliveryMethodEmail, Address: "bob@example.com"},
		}, 0)
	f.addSub(t, s2)

	ev := model.NewEvent("orders", "carol", "billing", "billing.invoice", "inv-1", `{"total":10}`)
	f.manager.process(ctx, &Delivery{Event: ev})

	created := f.notifs.all()
	require.Len(t, created, 3, "fan-out is the cross product of matches and targets")
	for _, n := range created {
		assert.Equal(t, ev.UUID, n.EventUUID)
		assert.Equal(t, 0, n.BucketNum)
		assert.Equal(t, "orders", n.Tenant)
	}

	assert.Equal(t, []string{ev.UUID}, f.broker.ackedUUIDs(), "event acked after persistence")
	assert.Len(t, f.handoff, 3, "all notifications handed to the worker pool")

	// A second event whose subject does not match s2 only reaches s1.
	other := model.NewEvent("orders", "carol", "billing", "billing.invoice", "inv-2", "{}")
	f.manager.process(ctx, &Delivery{Event: other})

	names := map[string]int{}
	for _, n := range f.notifs.all() {
		if n.EventUUID == other.UUID {
			names[n.SubscriptionName]++
		}
	}
	assert.Equal(t, map[string]int{"s1": 1}, names)
}

func TestBucketManager_SkipsDisabledAndExpired(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()

	disabled := webhookSub("orders", "alice", "off", model.MatchAny, model.MatchAny)
	disabled.Disable()
	f.addSub(t, disabled)

	expired := webhookSub("orders", "alice", "stale", model.MatchAny, model.MatchAny)
	expired.Expiry = time.Now().Add(-time.Hour)
	f.addSub(t, expired)

	ev := model.NewEvent("orders", "carol", "billing", "billing.paid", "inv-9", "{}")
	f.manager.process(ctx, &Delivery{Event: ev})

	assert.Empty(t, f.notifs.all(), "disabled and expired subscriptions never match")
	assert.Equal(t, []string{ev.UUID}, f.broker.ackedUUIDs(), "no matches still acks the event")
}

func TestBucketManager_DuplicateRedeliveryAcksWithoutFanOut(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()
	f.addSub(t, webhookSub("orders", "alice", "s1", model.MatchAny, model.MatchAny))

	ev := model.NewEvent("orders", "carol", "billing", "billing.paid", "inv-1", "{}")
	f.manager.process(ctx, &Delivery{Event: ev})
	require.Len(t, f.notifs.all(), 1)

	// Broker redelivery of the same event: acked again, no duplicate fan-out.
	f.manager.process(ctx, &Delivery{Event: ev})
	assert.Len(t, f.notifs.all(), 1)
	assert.Equal(t, []string{ev.UUID, ev.UUID}, f.broker.ackedUUIDs())
}

func TestBucketManager_PersistFailureLeavesEventUnacked(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()
	f.addSub(t, webhookSub("orders", "alice", "s1", model.MatchAny, model.MatchAny))

	f.notifs.saveErr = NewError(ErrCodeDatabase, "store unavailable")
	ev := model.NewEvent("orders", "carol", "billing", "billing.paid", "inv-1", "{}")
	f.manager.process(ctx, &Delivery{Event: ev})

	assert.Empty(t, f.broker.ackedUUIDs(), "persist failure must leave the event unacked")
	assert.Empty(t, f.notifs.all())
	seen, err := f.ledger.Seen(ctx, ev.UUID)
	require.NoError(t, err)
	assert.False(t, seen, "ledger entry is only written after the fan-out is durable")

	// The broker redelivers; once the store is back the fan-out materializes.
	f.notifs.saveErr = nil
	f.manager.process(ctx, &Delivery{Event: ev})
	assert.Len(t, f.notifs.all(), 1)
	assert.Equal(t, []string{ev.UUID}, f.broker.ackedUUIDs())
}

func TestBucketManager_CleanupEventDeletesMatchingSubscriptions(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()

	f.addSub(t, webhookSub("orders", "alice", "watch", model.MatchAny, "inv-1"))
	f.addSub(t, webhookSub("orders", "bob", "other", model.MatchAny, "inv-2"))

	ev := model.NewEvent("orders", "carol", "billing", "billing.closed", "inv-1", "{}")
	ev.DeleteSubscriptionsMatchingSubject = true
	f.manager.process(ctx, &Delivery{Event: ev})

	// The matching subscription still receives the cleanup event itself.
	assert.Len(t, f.notifs.all(), 1)
	assert.Equal(t, 1, f.subs.count(), "only the subject-matching subscription is deleted")
	_, err := f.subs.GetByName(ctx, "orders", "bob", "other")
	assert.NoError(t, err)
}

func TestBucketManager_SeriesSequencing(t *testing.T) {
	f := newBucketFixture(t)
	ctx := context.Background()
	f.addSub(t, webhookSub("orders", "alice", "s1", model.MatchAny, model.MatchAny))

	seqOf := func(eventUUID string) int64 {
		t.Helper()
		for _, n := range f.notifs.all() {
			if n.EventUUID == eventUUID {
				return n.Event.SeriesSeqCount
			}
		}
		t.Fatalf("no notification for event %s", eventUUID)
		return 0
	}

	publish := func(endSeries bool) model.Event {
		ev := model.NewEvent("orders", "carol", "billing", "billing.step", "job-1", "{}")
		ev.SeriesID = "job-1"
		ev.EndSeries = endSeries
		f.manager.process(ctx, &Delivery{Event: ev})
		return ev
	}

	first := publish(false)
	second := publish(false)
	assert.Equal(t, int64(1), seqOf(first.UUID))
	assert.Equal(t, int64(2), seqOf(second.UUID))

	// End-of-series removes the bookkeeping so the next event restarts at 1.
	last := publish(true)
	assert.Equal(t, int64(3), seqOf(last.UUID))
	_, err := f.series.Get(ctx, "orders", "job-1")
	assert.True(t, IsNoData(err))

	restarted := publish(false)
	assert.Equal(t, int64(1), seqOf(restarted.UUID))
}

func TestBucketManager_RunPreservesEnqueueOrder(t *testing.T) {
	f := newBucketFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.addSub(t, webhookSub("orders", "alice", "s1", model.MatchAny, model.MatchAny))

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.manager.Run(ctx)
	}()

	var published []string
	for i := 0; i < 5; i++ {
		ev := model.NewEvent("orders", "carol", "billing", "billing.step", "job-1", "{}")
		ev.SeriesID = "job-1"
		require.NoError(t, f.manager.Enqueue(ctx, &Delivery{Event: ev}))
		published = append(published, ev.UUID)
	}

	var handed []string
	require.Eventually(t, func() bool {
		for len(f.handoff) > 0 {
			n := <-f.handoff
			handed = append(handed, n.EventUUID)
		}
		return len(handed) == 5
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, published, handed, "one bucket processes its events strictly in order")

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("bucket manager did not stop")
	}
}
