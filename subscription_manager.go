package dispatch

import (
	"context"
	"fmt"

	"github.com/coregx/dispatch/model"
)

// SubscriptionManager handles subscription lifecycle for the dispatch
// system: creation with validation and name uniqueness, patching,
// enable/disable, TTL updates and deletion. Authorization is enforced by
// the API layer before any of these methods are invoked.
//
// Thread safety: safe for concurrent use.
type SubscriptionManager struct {
	subs    SubscriptionRepository
	monitor Monitor
	logger  Logger
}

// SubscriptionManagerOption configures a SubscriptionManager.
type SubscriptionManagerOption func(*SubscriptionManager) error

// NewSubscriptionManager creates a new SubscriptionManager.
//
// Required options:
//   - WithSubscriptionStore: the subscription repository
//
// Optional options:
//   - WithSubscriptionMonitor (default NoOpMonitor)
//   - WithSubscriptionLogger (default NoopLogger)
func NewSubscriptionManager(opts ...SubscriptionManagerOption) (*SubscriptionManager, error) {
	sm := &SubscriptionManager{
		monitor: &NoOpMonitor{},
		logger:  &NoopLogger{},
	}

	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply subscription manager option", err)
		}
	}

	if sm.subs == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithSubscriptionStore)")
	}

	return sm, nil
}

// WithSubscriptionStore sets the required subscription repository.
func WithSubscriptionStore(subs SubscriptionRepository) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if subs == nil {
			return NewError(ErrCodeConfiguration, "subscription repository cannot be nil")
		}
		sm.subs = subs
		return nil
	}
}

// WithSubscriptionMonitor sets the monitor receiving lifecycle callbacks.
func WithSubscriptionMonitor(m Monitor) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if m == nil {
			return NewError(ErrCodeConfiguration, "monitor cannot be nil")
		}
		sm.monitor = m
		return nil
	}
}

// WithSubscriptionLogger sets the logger instance.
func WithSubscriptionLogger(logger Logger) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if logger == nil {
			return NewError(ErrCodeConfiguration, "logger cannot be nil")
		}
		sm.logger = logger
		return nil
	}
}

// CreateRequest represents a request to create a subscription.
type CreateRequest struct {
	Tenant        string                 // Owning tenant (required)
	Owner         string                 // Owning user (required, non-blank)
	Name          string                 // Unique per (tenant, owner); auto-generated when blank
	TypeFilter    string                 // Dotted glob over event types
	SubjectFilter string                 // "*" or exact subject
	Targets       []model.DeliveryTarget // At least one delivery target
	TTLMinutes    int                    // <= 0 means no expiry
	Notes         string
}

// Create validates and stores a new subscription. The name must be unique
// within (tenant, owner); a blank name is auto-generated.
func (sm *SubscriptionManager) Create(ctx context.Context, req CreateRequest) (*model.Subscription, error) {
	sub := model.NewSubscription(req.Tenant, req.Owner, req.Name, req.TypeFilter, req.SubjectFilter, req.Targets, req.TTLMinutes)
	sub.Notes = req.Notes

	if err := sub.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid subscription", err)
	}

	if _, err := sm.subs.GetByName(ctx, sub.Tenant, sub.Owner, sub.Name); err == nil {
		return nil, NewError(ErrCodeValidation,
			fmt.Sprintf("subscription %q already exists for %s/%s", sub.Name, sub.Tenant, sub.Owner))
	} else if !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to check existing subscription", err)
	}

	saved, err := sm.subs.Save(ctx, sub)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}

	sm.logger.Infof("Subscription created: tenant=%s, owner=%s, name=%s, typeFilter=%s, targets=%d",
		saved.Tenant, saved.Owner, saved.Name, saved.TypeFilter, len(saved.Targets))
	sm.monitor.NotifySubscriptionCreated(ctx, saved)

	return &saved, nil
}

// PatchRequest carries the mutable subscription fields. Nil pointers leave
// the current value untouched.
type PatchRequest struct {
	TypeFilter    *string
	SubjectFilter *string
	Targets       []model.DeliveryTarget // nil = unchanged
	Notes         *string
}

// Patch applies a partial update to an existing subscription.
func (sm *SubscriptionManager) Patch(ctx context.Context, tenant, owner, name string, req PatchRequest) (*model.Subscription, error) {
	sub, err := sm.load(ctx, tenant, owner, name)
	if err != nil {
		return nil, err
	}

	if req.TypeFilter != nil {
		sub.TypeFilter = *req.TypeFilter
	}
	if req.SubjectFilter != nil {
		sub.SubjectFilter = *req.SubjectFilter
	}
	if req.Targets != nil {
		sub.Targets = req.Targets
	}
	if req.Notes != nil {
		sub.Notes = *req.Notes
	}

	if err := sub.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid subscription patch", err)
	}

	return sm.save(ctx, sub)
}

// Enable re-activates a disabled subscription.
func (sm *SubscriptionManager) Enable(ctx context.Context, tenant, owner, name string) (*model.Subscription, error) {
	sub, err := sm.load(ctx, tenant, owner, name)
	if err != nil {
		return nil, err
	}
	sub.Enable()
	return sm.save(ctx, sub)
}

// Disable stops a subscription from matching new events. Notifications
// already materialized stay on their delivery path.
func (sm *SubscriptionManager) Disable(ctx context.Context, tenant, owner, name string) (*model.Subscription, error) {
	sub, err := sm.load(ctx, tenant, owner, name)
	if err != nil {
		return nil, err
	}
	sub.Disable()
	return sm.save(ctx, sub)
}

// UpdateTTL sets a new TTL and recomputes the absolute expiry from now.
func (sm *SubscriptionManager) UpdateTTL(ctx context.Context, tenant, owner, name string, ttlMinutes int) (*model.Subscription, error) {
	sub, err := sm.load(ctx, tenant, owner, name)
	if err != nil {
		return nil, err
	}
	sub.UpdateTTL(ttlMinutes)
	return sm.save(ctx, sub)
}

// Delete permanently removes a subscription.
func (sm *SubscriptionManager) Delete(ctx context.Context, tenant, owner, name string) error {
	if err := sm.subs.DeleteByName(ctx, tenant, owner, name); err != nil {
		if IsNoData(err) {
			return err
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to delete subscription", err)
	}
	sm.logger.Infof("Subscription deleted: tenant=%s, owner=%s, name=%s", tenant, owner, name)
	return nil
}

// Get retrieves one subscription by its (tenant, owner, name) key.
func (sm *SubscriptionManager) Get(ctx context.Context, tenant, owner, name string) (*model.Subscription, error) {
	sub, err := sm.load(ctx, tenant, owner, name)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// List retrieves subscriptions matching the filter.
func (sm *SubscriptionManager) List(ctx context.Context, filter SubscriptionFilter) ([]model.Subscription, error) {
	subs, err := sm.subs.List(ctx, filter)
	if err != nil && !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to list subscriptions", err)
	}
	return subs, nil
}

func (sm *SubscriptionManager) load(ctx context.Context, tenant, owner, name string) (model.Subscription, error) {
	sub, err := sm.subs.GetByName(ctx, tenant, owner, name)
	if err != nil {
		if IsNoData(err) {
			return sub, err
		}
		return sub, NewErrorWithCause(ErrCodeDatabase, "failed to load subscription", err)
	}
	return sub, nil
}

func (sm *SubscriptionManager) save(ctx context.Context, sub model.Subscription) (*model.Subscription, error) {
	saved, err := sm.subs.Save(ctx, sub)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}
	return &saved, nil
}
