package model

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/google/uuid"
)

// DeliveryMethod selects the transport for a delivery target.
type DeliveryMethod string

const (
	// DeliveryMethodWebhook delivers notifications as an HTTP POST.
	DeliveryMethodWebhook DeliveryMethod = "WEBHOOK"

	// DeliveryMethodEmail delivers notifications via an email provider.
	DeliveryMethodEmail DeliveryMethod = "EMAIL"
)

// DeliveryTarget is one destination of a subscription: a method tag plus a
// webhook URL or email address. A subscription fans out to every target it
// carries, in declaration order.
type DeliveryTarget struct {
	Method  DeliveryMethod `json:"method"`
	Address string         `json:"address"`
}

// Validate checks the target's method tag and address format.
func (t DeliveryTarget) Validate() error {
	err := validation.ValidateStruct(&t,
		validation.Field(&t.Method, validation.Required,
			validation.In(DeliveryMethodWebhook, DeliveryMethodEmail)),
		validation.Field(&t.Address, validation.Required),
	)
	if err != nil {
		return err
	}

	switch t.Method {
	case DeliveryMethodWebhook:
		return validation.Validate(t.Address, is.URL)
	case DeliveryMethodEmail:
		return validation.Validate(t.Address, is.EmailFormat)
	}
	return nil
}

// Subscription is a standing filter plus delivery instruction owned by a
// tenant user. It matches events by a dotted type glob and a subject filter
// and names one or more delivery targets.
//
// Subscriptions are created via the API, mutated by patch/enable/disable/TTL
// updates, and deleted explicitly, by the reaper on expiry, or by a matching
// cleanup event.
type Subscription struct {
	ID            int64            `json:"id"`
	Tenant        string           `json:"tenant"`
	Owner         string           `json:"owner"`
	Name          string           `json:"name"`
	TypeFilter    string           `json:"typeFilter" db:"type_filter"`
	SubjectFilter string           `json:"subjectFilter" db:"subject_filter"`
	Targets       []DeliveryTarget `json:"deliveryTargets" db:"-"`
	Enabled       bool             `json:"enabled" db:"is_enabled"`
	TTLMinutes    int              `json:"ttlMinutes" db:"ttl_minutes"`
	Expiry        time.Time        `json:"expiry"`
	Notes         string           `json:"notes"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Subscription.
func (m Subscription) TableName() string {
	return tablePrefix + "subscription"
}

// NewSubscription creates an enabled subscription. A blank name is replaced
// with a generated one so that (tenant, owner, name) is always addressable.
// ttlMinutes <= 0 means the subscription never expires.
func NewSubscription(tenant, owner, name, typeFilter, subjectFilter string, targets []DeliveryTarget, ttlMinutes int) Subscription {
	if name == "" {
		name = GenerateSubscriptionName()
	}
	now := time.Now()
	s := Subscription{
		Tenant:        tenant,
		Owner:         owner,
		Name:          name,
		TypeFilter:    typeFilter,
		SubjectFilter: subjectFilter,
		Targets:       targets,
		Enabled:       true,
		TTLMinutes:    ttlMinutes,
		Notes:         "",
		CreatedAt:     now,
	}
	if ttlMinutes > 0 {
		s.Expiry = now.Add(time.Duration(ttlMinutes) * time.Minute)
	}
	return s
}

// GenerateSubscriptionName returns a unique auto-generated subscription name.
func GenerateSubscriptionName() string {
	return "subscr-" + uuid.NewString()
}

// Matches reports whether this subscription wants an event with the given
// type and subject. It does not check Enabled or expiry; callers filter on
// those separately so the reason a subscription is skipped stays observable.
func (m Subscription) Matches(eventType, subject string) bool {
	return MatchTypeFilter(m.TypeFilter, eventType) && MatchSubjectFilter(m.SubjectFilter, subject)
}

// IsExpired reports whether the subscription's expiry has passed. A zero
// expiry means the subscription never expires.
func (m Subscription) IsExpired(now time.Time) bool {
	return !m.Expiry.IsZero() && now.After(m.Expiry)
}

// Disable stops the subscription from receiving new notifications. In-flight
// notifications already materialized are not cancelled.
func (m *Subscription) Disable() {
	m.Enabled = false
}

// Enable re-activates a disabled subscription.
func (m *Subscription) Enable() {
	m.Enabled = true
}

// UpdateTTL sets a new TTL and recomputes the absolute expiry from now.
// ttlMinutes <= 0 clears the expiry.
func (m *Subscription) UpdateTTL(ttlMinutes int) {
	m.TTLMinutes = ttlMinutes
	if ttlMinutes > 0 {
		m.Expiry = time.Now().Add(time.Duration(ttlMinutes) * time.Minute)
	} else {
		m.Expiry = time.Time{}
	}
}

// Validate checks the subscription's structural invariants: non-blank owner,
// a well-formed type filter glob, a subject filter, and at least one valid
// delivery target.
func (m Subscription) Validate() error {
	err := validation.ValidateStruct(&m,
		validation.Field(&m.Tenant, validation.Required),
		validation.Field(&m.Owner, validation.Required),
		validation.Field(&m.Name, validation.Required, validation.Length(1, 255)),
		validation.Field(&m.TypeFilter, validation.Required, validation.By(checkTypeFilter)),
		validation.Field(&m.SubjectFilter, validation.Required),
		validation.Field(&m.Targets, validation.Required),
	)
	if err != nil {
		return err
	}

	for i, target := range m.Targets {
		if err := target.Validate(); err != nil {
			return fmt.Errorf("delivery target %d: %w", i, err)
		}
	}
	return nil
}

func checkTypeFilter(value interface{}) error {
	pattern, _ := value.(string)
	if !ValidTypeFilter(pattern) {
		return fmt.Errorf("type filter %q does not match the dotted glob grammar", pattern)
	}
	return nil
}
