package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coregx/dispatch/model"
)

// In-memory repository and gateway fakes shared by the pipeline tests.
// They mirror the adapter contracts: ErrNoData for empty results, save
// assigns IDs, and everything is safe for concurrent use.

type memSubscriptionRepo struct {
	mu     sync.Mutex
	nextID int64
	subs   map[int64]model.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{subs: map[int64]model.Subscription{}}
}

func (r *memSubscriptionRepo) Save(_ context.Context, m model.Subscription) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID == 0 {
		r.nextID++
		m.ID = r.nextID
	}
	r.subs[m.ID] = m
	return m, nil
}

func (r *memSubscriptionRepo) GetByName(_ context.Context, tenant, owner, name string) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subs {
		if s.Tenant == tenant && s.Owner == owner && s.Name == name {
			return s, nil
		}
	}
	return model.Subscription{}, ErrNoData
}

func (r *memSubscriptionRepo) DeleteByName(_ context.Context, tenant, owner, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.subs {
		if s.Tenant == tenant && s.Owner == owner && s.Name == name {
			delete(r.subs, id)
			return nil
		}
	}
	return ErrNoData
}

func (r *memSubscriptionRepo) DeleteBySubject(_ context.Context, tenant, subject string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := 0
	for id, s := range r.subs {
		if s.Tenant == tenant && s.SubjectFilter == subject {
			delete(r.subs, id)
			deleted++
		}
	}
	return deleted, nil
}

func (r *memSubscriptionRepo) FindMatching(_ context.Context, tenant, eventType, subject string) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var out []model.Subscription
	for _, s := range r.subs {
		if s.Tenant != tenant || !s.Enabled || s.IsExpired(now) {
			continue
		}
		if s.Matches(eventType, subject) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (r *memSubscriptionRepo) List(_ context.Context, filter SubscriptionFilter) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Subscription
	for _, s := range r.subs {
		if filter.Tenant != "" && s.Tenant != filter.Tenant {
			continue
		}
		if filter.Owner != "" && s.Owner != filter.Owner {
			continue
		}
		if filter.TypeFilter != "" && s.TypeFilter != filter.TypeFilter {
			continue
		}
		if filter.EnabledOnly && !s.Enabled {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (r *memSubscriptionRepo) ListExpired(_ context.Context, now time.Time) ([]model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Subscription
	for _, s := range r.subs {
		if s.IsExpired(now) {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (r *memSubscriptionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

type memNotificationRepo struct {
	mu      sync.Mutex
	nextID  int64
	notifs  map[int64]model.Notification
	saveErr error // when set, Save fails
}

func newMemNotificationRepo() *memNotificationRepo {
	return &memNotificationRepo{notifs: map[int64]model.Notification{}}
}

func (r *memNotificationRepo) Save(_ context.Context, n model.Notification) (model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return n, r.saveErr
	}
	r.nextID++
	n.ID = r.nextID
	r.notifs[n.ID] = n
	return n, nil
}

func (r *memNotificationRepo) Delete(_ context.Context, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.notifs, n.ID)
	return nil
}

func (r *memNotificationRepo) ListPendingForBucket(_ context.Context, bucketNum int, createdBefore time.Time, limit int) ([]model.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notifs {
		if n.BucketNum == bucketNum && n.CreatedAt.Before(createdBefore) {
			out = append(out, n)
		}
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (r *memNotificationRepo) CountForSubscription(_ context.Context, tenant, subscriptionName string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, n := range r.notifs {
		if n.Tenant == tenant && n.SubscriptionName == subscriptionName {
			count++
		}
	}
	return count, nil
}

func (r *memNotificationRepo) all() []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Notification, 0, len(r.notifs))
	for _, n := range r.notifs {
		out = append(out, n)
	}
	return out
}

type memRecoveryRepo struct {
	mu     sync.Mutex
	nextID int64
	items  map[int64]model.RecoveryItem
}

func newMemRecoveryRepo() *memRecoveryRepo {
	return &memRecoveryRepo{items: map[int64]model.RecoveryItem{}}
}

func (r *memRecoveryRepo) Save(_ context.Context, item model.RecoveryItem) (model.RecoveryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if item.ID == 0 {
		r.nextID++
		item.ID = r.nextID
	}
	r.items[item.ID] = item
	return item, nil
}

func (r *memRecoveryRepo) Delete(_ context.Context, item model.RecoveryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, item.ID)
	return nil
}

func (r *memRecoveryRepo) ListDue(_ context.Context, now time.Time, limit int) ([]model.RecoveryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.RecoveryItem
	for _, item := range r.items {
		if item.IsDue(now) {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

func (r *memRecoveryRepo) all() []model.RecoveryItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.RecoveryItem, 0, len(r.items))
	for _, item := range r.items {
		out = append(out, item)
	}
	return out
}

type memSeriesRepo struct {
	mu     sync.Mutex
	nextID int64
	series map[string]model.SeriesProgress
}

func newMemSeriesRepo() *memSeriesRepo {
	return &memSeriesRepo{series: map[string]model.SeriesProgress{}}
}

func seriesKey(tenant, seriesID string) string { return tenant + "/" + seriesID }

func (r *memSeriesRepo) Get(_ context.Context, tenant, seriesID string) (model.SeriesProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[seriesKey(tenant, seriesID)]
	if !ok {
		return model.SeriesProgress{}, ErrNoData
	}
	return s, nil
}

func (r *memSeriesRepo) Save(_ context.Context, s model.SeriesProgress) (model.SeriesProgress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.ID == 0 {
		r.nextID++
		s.ID = r.nextID
	}
	r.series[seriesKey(s.Tenant, s.SeriesID)] = s
	return s, nil
}

func (r *memSeriesRepo) Delete(_ context.Context, tenant, seriesID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.series, seriesKey(tenant, seriesID))
	return nil
}

type memLedgerRepo struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{seen: map[string]bool{}}
}

func (r *memLedgerRepo) Seen(_ context.Context, eventUUID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[eventUUID], nil
}

func (r *memLedgerRepo) Record(_ context.Context, eventUUID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[eventUUID] = true
	return nil
}

type memTestSequenceRepo struct {
	mu     sync.Mutex
	nextID int64
	seqs   map[string]model.TestSequence
}

func newMemTestSequenceRepo() *memTestSequenceRepo {
	return &memTestSequenceRepo{seqs: map[string]model.TestSequence{}}
}

func (r *memTestSequenceRepo) Save(_ context.Context, t model.TestSequence) (model.TestSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == 0 {
		r.nextID++
		t.ID = r.nextID
	}
	r.seqs[seriesKey(t.Tenant, t.SubscriptionName)] = t
	return t, nil
}

func (r *memTestSequenceRepo) GetBySubscription(_ context.Context, tenant, subscriptionName string) (model.TestSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.seqs[seriesKey(tenant, subscriptionName)]
	if !ok {
		return model.TestSequence{}, ErrNoData
	}
	return t, nil
}

func (r *memTestSequenceRepo) Delete(_ context.Context, tenant, subscriptionName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seriesKey(tenant, subscriptionName)
	if _, ok := r.seqs[key]; !ok {
		return ErrNoData
	}
	delete(r.seqs, key)
	return nil
}

// fakeBroker records published events and acks without talking to a real
// broker. Consume is not implemented; bucket tests drive process directly
// via Enqueue+Run.
type fakeBroker struct {
	mu        sync.Mutex
	published []model.Event
	acked     []string // event uuids
	ackErr    error
}

func newFakeBroker() *fakeBroker { return &fakeBroker{} }

func (b *fakeBroker) Publish(_ context.Context, ev model.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, ev)
	return nil
}

func (b *fakeBroker) Consume(_ context.Context, _ EventHandler) (ConsumerHandle, error) {
	return fakeConsumerHandle{}, nil
}

func (b *fakeBroker) Ack(d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ackErr != nil {
		return b.ackErr
	}
	b.acked = append(b.acked, d.Event.UUID)
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) ackedUUIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.acked...)
}

func (b *fakeBroker) publishedEvents() []model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]model.Event(nil), b.published...)
}

type fakeConsumerHandle struct{}

func (fakeConsumerHandle) Stop() error { return nil }

// scriptedWebhookGateway fails the first failCount posts, then succeeds.
// failCount < 0 means fail forever.
type scriptedWebhookGateway struct {
	mu        sync.Mutex
	failCount int
	calls     []string // urls in call order
}

func (g *scriptedWebhookGateway) Post(_ context.Context, url string, _ []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, url)
	if g.failCount < 0 {
		return NewError(ErrCodeDelivery, "webhook returned HTTP 500")
	}
	if g.failCount > 0 {
		g.failCount--
		return NewError(ErrCodeDelivery, "webhook returned HTTP 500")
	}
	return nil
}

func (g *scriptedWebhookGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingEmailGateway struct {
	mu       sync.Mutex
	subjects []string
}

func (g *recordingEmailGateway) Send(_ context.Context, _, subject, _, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subjects = append(g.subjects, subject)
	return nil
}

func testTransmitter(t *testing.T, webhooks WebhookGateway) *Transmitter {
	t.Helper()
	trans, err := NewTransmitter(webhooks, &recordingEmailGateway{})
	require.NoError(t, err)
	return trans
}

func webhookSub(tenant, owner, name, typeFilter, subjectFilter string) model.Subscription {
	return model.NewSubscription(tenant, owner, name, typeFilter, subjectFilter,
		[]model.DeliveryTarget{{Method: model.DeliveryMethodWebhook, Address: "https://example.com/hook"}}, 0)
}
