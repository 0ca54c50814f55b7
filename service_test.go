package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
)

// loopbackBroker feeds published events straight back to the consumer,
// standing in for a real broker in pipeline tests.
type loopbackBroker struct {
	mu     sync.Mutex
	events chan model.Event
	acked  []string
}

func newLoopbackBroker() *loopbackBroker {
	return &loopbackBroker{events: make(chan model.Event, 64)}
}

func (b *loopbackBroker) Publish(_ context.Context, ev model.Event) error {
	b.events <- ev
	return nil
}

func (b *loopbackBroker) Consume(_ context.Context, handler EventHandler) (ConsumerHandle, error) {
	quit := make(chan struct{})
	go func() {
		for {
			select {
			case <-quit:
				return
			case ev := <-b.events:
				handler(&Delivery{Event: ev})
			}
		}
	}()
	return &loopbackHandle{quit: quit}, nil
}

func (b *loopbackBroker) Ack(d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.acked = append(b.acked, d.Event.UUID)
	return nil
}

func (b *loopbackBroker) Close() error { return nil }

func (b *loopbackBroker) ackCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.acked)
}

type loopbackHandle struct {
	quit chan struct{}
	once sync.Once
}

func (h *loopbackHandle) Stop() error {
	h.once.Do(func() { close(h.quit) })
	return nil
}

type serviceFixture struct {
	service *DispatchService
	broker  *loopbackBroker
	subs    *memSubscriptionRepo
	notifs  *memNotificationRepo
	gateway *scriptedWebhookGateway
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{
		broker:  newLoopbackBroker(),
		subs:    newMemSubscriptionRepo(),
		notifs:  newMemNotificationRepo(),
		gateway: &scriptedWebhookGateway{},
	}
	svc, err := NewDispatchService(
		WithServiceBroker(f.broker),
		WithServiceStores(f.subs, f.notifs, newMemRecoveryRepo(), newMemSeriesRepo(), newMemLedgerRepo()),
		WithServiceTransmitter(testTransmitter(t, f.gateway)),
		WithServiceBuckets(2),
		WithServiceQueueSize(16),
		WithServiceWorkers(2),
		WithServicePolicy(fastPolicy(3)),
		WithServiceRecoveryPolicy(fastRecoveryPolicy()),
		WithServicePollInterval(time.Hour),
		WithServiceReapInterval(time.Hour),
	)
	require.NoError(t, err)
	f.service = svc
	return f
}

func TestNewDispatchService_Validation(t *testing.T) {
	_, err := NewDispatchService()
	assert.Error(t, err, "missing broker must be rejected")

	_, err = NewDispatchService(WithServiceBroker(newLoopbackBroker()))
	assert.Error(t, err, "missing stores must be rejected")

	_, err = NewDispatchService(
		WithServiceBroker(newLoopbackBroker()),
		WithServiceStores(newMemSubscriptionRepo(), newMemNotificationRepo(),
			newMemRecoveryRepo(), newMemSeriesRepo(), newMemLedgerRepo()),
	)
	assert.Error(t, err, "missing transmitter must be rejected")

	_, err = NewDispatchService(WithServiceBuckets(0))
	assert.Error(t, err, "non-positive bucket count must be rejected")
}

func TestDispatchService_LifecycleStates(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	assert.Equal(t, StateUninitialized, f.service.State())
	assert.Error(t, f.service.Run(ctx), "running before init is rejected")

	require.NoError(t, f.service.Init(ctx))
	assert.Equal(t, StateInitialized, f.service.State())
	assert.Error(t, f.service.Init(ctx), "double init is rejected")

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- f.service.Run(runCtx) }()

	require.Eventually(t, func() bool {
		return f.service.State() == StateConsuming
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	require.NoError(t, f.service.Shutdown(2*time.Second))
	assert.Equal(t, StateStopped, f.service.State())
	require.NoError(t, f.service.Shutdown(time.Second), "shutdown is idempotent")
}

func TestDispatchService_EndToEndDelivery(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.subs.Save(ctx, webhookSub("orders", "alice", "s1", "billing.*", model.MatchAny))
	require.NoError(t, err)

	require.NoError(t, f.service.Init(ctx))
	require.NoError(t, f.service.StartWorkers())

	runCtx, cancel := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- f.service.Run(runCtx) }()

	pub, err := NewEventPublisher(f.broker, nil)
	require.NoError(t, err)
	_, err = pub.Publish(ctx, PublishRequest{
		Tenant:  "orders",
		User:    "carol",
		Source:  "billing",
		Type:    "billing.paid",
		Subject: "inv-1",
		Data:    "{}",
	})
	require.NoError(t, err)

	// The event flows broker -> bucket -> store -> worker -> webhook.
	require.Eventually(t, func() bool {
		return f.gateway.callCount() == 1 && len(f.notifs.all()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.broker.ackCount())

	cancel()
	<-runDone
	require.NoError(t, f.service.Shutdown(2*time.Second))
}

// brokenConsumeBroker rejects consumer registration, as a broker with a
// misconfigured stream would.
type brokenConsumeBroker struct {
	*loopbackBroker
}

func (b *brokenConsumeBroker) Consume(_ context.Context, _ EventHandler) (ConsumerHandle, error) {
	return nil, NewError(ErrCodeBroker, "stream not found")
}

func TestDispatchService_RunReturnsWhenConsumerFails(t *testing.T) {
	broker := &brokenConsumeBroker{loopbackBroker: newLoopbackBroker()}
	svc, err := NewDispatchService(
		WithServiceBroker(broker),
		WithServiceStores(newMemSubscriptionRepo(), newMemNotificationRepo(),
			newMemRecoveryRepo(), newMemSeriesRepo(), newMemLedgerRepo()),
		WithServiceTransmitter(testTransmitter(t, &scriptedWebhookGateway{})),
		WithServiceBuckets(2),
	)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, svc.Init(ctx))

	// Run must surface the consumer error instead of hanging on the bucket
	// goroutines, even though the caller's context stays live.
	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx) }()

	select {
	case err := <-runDone:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start broker consumer")
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the consumer failed to start")
	}

	assert.Equal(t, StateInitialized, svc.State(), "a failed start leaves the service retryable")
}

func TestDispatchService_StartWorkersRequiresInit(t *testing.T) {
	f := newServiceFixture(t)
	assert.Error(t, f.service.StartWorkers())

	require.NoError(t, f.service.Init(context.Background()))
	require.NoError(t, f.service.StartWorkers())
	assert.Error(t, f.service.StartWorkers(), "double start is rejected")
	f.service.StopWorkers()

	require.NoError(t, f.service.StartReaper())
	assert.Error(t, f.service.StartReaper(), "double reaper start is rejected")
	f.service.StopReaper()
}
