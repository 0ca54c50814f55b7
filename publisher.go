package dispatch

import (
	"context"
	"time"

	"github.com/coregx/dispatch/model"
)

// EventPublisher is the single entry point through which events reach the
// dispatch pipeline. It validates events (permanent validation failures are
// rejected here and never enter the pipeline) and publishes them to the
// durable broker. Publish returns as soon as the broker accepted the event;
// delivery outcomes are never reported synchronously to the publisher.
type EventPublisher struct {
	broker BrokerGateway
	logger Logger
}

// NewEventPublisher creates an event publisher over the given broker gateway.
func NewEventPublisher(broker BrokerGateway, logger Logger) (*EventPublisher, error) {
	if broker == nil {
		return nil, NewError(ErrCodeConfiguration, "broker gateway is required")
	}
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &EventPublisher{broker: broker, logger: logger}, nil
}

// PublishRequest represents a request to publish an event.
type PublishRequest struct {
	Tenant   string // Tenant the event belongs to (required)
	User     string // Publishing user
	Source   string // Publishing service name (required)
	Type     string // Dotted event type; first segment must equal Source
	Subject  string // Free-text correlation key
	Data     string // Opaque payload
	SeriesID string // Optional series key for ordered event groups

	// Timestamp is the producer-side event time; zero means "now".
	Timestamp time.Time

	// DeleteSubscriptionsMatchingSubject marks a cleanup event.
	DeleteSubscriptionsMatchingSubject bool

	// EndSeries terminates the series' sequence bookkeeping.
	EndSeries bool
}

// Publish validates the request, stamps UUID and ingestion time, and hands
// the event to the broker. Returns the published event.
//
// Validation failures come back as ErrCodeValidation and are permanent;
// broker failures come back as ErrCodeBroker and are transient (the caller
// may retry).
func (p *EventPublisher) Publish(ctx context.Context, req PublishRequest) (*model.Event, error) {
	ev := model.NewEvent(req.Tenant, req.User, req.Source, req.Type, req.Subject, req.Data)
	ev.SeriesID = req.SeriesID
	ev.DeleteSubscriptionsMatchingSubject = req.DeleteSubscriptionsMatchingSubject
	ev.EndSeries = req.EndSeries
	if !req.Timestamp.IsZero() {
		ev.Timestamp = req.Timestamp
	}

	if err := ev.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid event", err)
	}

	if err := p.broker.Publish(ctx, ev); err != nil {
		return nil, err
	}

	p.logger.Infof("Event published: uuid=%s, tenant=%s, type=%s, subject=%s",
		ev.UUID, ev.Tenant, ev.Type, ev.Subject)
	return &ev, nil
}
