package dispatch

import (
	"context"
	"fmt"

	"github.com/coregx/dispatch/model"
)

// TestSequenceManager drives synthetic end-to-end health probes. Start
// creates a subscription with an exact type filter plus a TestSequence
// audit record; Check counts the notifications still pending for the
// subscription and records the observation; Stop deletes both records.
//
// A probe publishes events of the chosen type through the regular
// EventPublisher and then uses Check to confirm the pipeline matched,
// persisted and drained them.
type TestSequenceManager struct {
	subs      SubscriptionRepository
	notifs    NotificationRepository
	sequences TestSequenceRepository
	logger    Logger
}

// NewTestSequenceManager creates a TestSequenceManager. All three
// repositories are required.
func NewTestSequenceManager(subs SubscriptionRepository, notifs NotificationRepository, sequences TestSequenceRepository, logger Logger) (*TestSequenceManager, error) {
	if subs == nil || notifs == nil || sequences == nil {
		return nil, NewError(ErrCodeConfiguration, "subscription, notification and test sequence repositories are required")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &TestSequenceManager{
		subs:      subs,
		notifs:    notifs,
		sequences: sequences,
		logger:    logger,
	}, nil
}

// Start creates the synthetic subscription and its TestSequence record.
// The subscription matches eventType exactly (no glob) on any subject and
// delivers to the given target. It carries a TTL so an abandoned probe is
// eventually reaped.
func (tm *TestSequenceManager) Start(ctx context.Context, tenant, owner, eventType string, target model.DeliveryTarget, ttlMinutes int) (*model.TestSequence, error) {
	sub := model.NewSubscription(tenant, owner, "", eventType, model.MatchAny, []model.DeliveryTarget{target}, ttlMinutes)
	sub.Notes = fmt.Sprintf("synthetic health probe for type %s", eventType)

	if err := sub.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid probe subscription", err)
	}

	saved, err := tm.subs.Save(ctx, sub)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save probe subscription", err)
	}

	seq := model.NewTestSequence(saved.Tenant, saved.Name)
	if _, err := tm.sequences.Save(ctx, seq); err != nil {
		// Roll back the subscription so a half-created probe does not
		// keep matching events.
		if derr := tm.subs.DeleteByName(ctx, saved.Tenant, saved.Owner, saved.Name); derr != nil {
			tm.logger.Warnf("Failed to roll back probe subscription %s: %v", saved.Name, derr)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save test sequence", err)
	}

	tm.logger.Infof("Test sequence started: tenant=%s, subscription=%s, type=%s", saved.Tenant, saved.Name, eventType)
	return &seq, nil
}

// Check counts the notifications currently pending for the probe's
// subscription and appends the observation to the sequence history. A
// count of zero after publishing means the pipeline delivered (and
// deleted) every probe notification.
func (tm *TestSequenceManager) Check(ctx context.Context, tenant, subscriptionName string) (*model.TestSequence, error) {
	seq, err := tm.sequences.GetBySubscription(ctx, tenant, subscriptionName)
	if err != nil {
		if IsNoData(err) {
			return nil, err
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load test sequence", err)
	}

	count, err := tm.notifs.CountForSubscription(ctx, tenant, subscriptionName)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to count pending notifications", err)
	}

	seq.RecordObservation(count, fmt.Sprintf("%d notification(s) pending", count))
	saved, err := tm.sequences.Save(ctx, seq)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save test sequence", err)
	}
	return &saved, nil
}

// Stop deletes the probe subscription and its TestSequence record. Missing
// rows are tolerated so Stop stays idempotent.
func (tm *TestSequenceManager) Stop(ctx context.Context, tenant, owner, subscriptionName string) error {
	if err := tm.subs.DeleteByName(ctx, tenant, owner, subscriptionName); err != nil && !IsNoData(err) {
		return NewErrorWithCause(ErrCodeDatabase, "failed to delete probe subscription", err)
	}
	if err := tm.sequences.Delete(ctx, tenant, subscriptionName); err != nil && !IsNoData(err) {
		return NewErrorWithCause(ErrCodeDatabase, "failed to delete test sequence", err)
	}
	tm.logger.Infof("Test sequence stopped: tenant=%s, subscription=%s", tenant, subscriptionName)
	return nil
}
