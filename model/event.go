package model

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Event is an immutable published fact. Events are created once at publish
// time and never mutated; the broker is the system of record, so once an
// event is acknowledged it only survives as denormalized copies inside the
// notifications it produced.
//
// The dotted Type string doubles as a routing key: its first segment must
// equal the publishing service's name, which lets consumers trust the origin
// of an event without an extra lookup.
type Event struct {
	UUID     string    `json:"uuid"`
	Tenant   string    `json:"tenant" db:"tenant"`
	User     string    `json:"user" db:"publisher_user"`
	Source   string    `json:"source"`
	Type     string    `json:"type" db:"event_type"`
	Subject  string    `json:"subject"`
	Data     string    `json:"data"`
	SeriesID string    `json:"seriesId" db:"series_id"`
	// SeriesSeqCount is assigned by the bucket manager while the event is
	// processed; it is zero until the series counter has been advanced.
	SeriesSeqCount int64     `json:"seriesSeqCount" db:"series_seq_count"`
	Timestamp      time.Time `json:"timestamp"`
	Received       time.Time `json:"received"`

	// DeleteSubscriptionsMatchingSubject marks a cleanup event: consuming it
	// also deletes every subscription matching its subject.
	DeleteSubscriptionsMatchingSubject bool `json:"deleteSubscriptionsMatchingSubject" db:"delete_matching_subject"`

	// EndSeries terminates series bookkeeping so a later event with the same
	// series key restarts the sequence at 1.
	EndSeries bool `json:"endSeries" db:"end_series"`
}

// NewEvent creates an event ready for publication. UUID and Received are
// stamped here; Timestamp falls back to now when the caller left it zero.
func NewEvent(tenant, user, source, eventType, subject, data string) Event {
	now := time.Now()
	return Event{
		UUID:      uuid.NewString(),
		Tenant:    tenant,
		User:      user,
		Source:    source,
		Type:      eventType,
		Subject:   subject,
		Data:      data,
		Timestamp: now,
		Received:  now,
	}
}

// PartitionKey returns the key used for bucket routing: the series id when
// present, otherwise the subject, otherwise the type. All events sharing a
// partition key are processed by the same single-threaded bucket manager.
func (e Event) PartitionKey() string {
	if e.SeriesID != "" {
		return e.SeriesID
	}
	if e.Subject != "" {
		return e.Subject
	}
	return e.Type
}

// Validate checks the event's structural invariants. Validation failures are
// permanent errors: they are rejected at publish time and never enter the
// dispatch pipeline.
func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Tenant, validation.Required),
		validation.Field(&e.Source, validation.Required),
		validation.Field(&e.Type, validation.Required, validation.By(e.checkTypeGrammar)),
	)
}

// checkTypeGrammar enforces the dotted type grammar and the rule that the
// first type segment names the publishing service.
func (e Event) checkTypeGrammar(value interface{}) error {
	typ, _ := value.(string)
	segments := strings.Split(typ, ".")
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("type must be a dotted string without empty segments")
		}
	}
	if segments[0] != e.Source {
		return fmt.Errorf("first type segment %q must equal the publishing service %q", segments[0], e.Source)
	}
	return nil
}
