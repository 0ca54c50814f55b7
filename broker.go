package dispatch

import (
	"context"

	"github.com/coregx/dispatch/model"
)

// Delivery pairs an in-flight event with the broker's acknowledgement token.
// It exists only in memory, between the consumer callback handing the event
// to a bucket manager and the bucket manager acking it; it is discarded the
// instant the ack is sent.
type Delivery struct {
	Event model.Event

	// Tag is the broker-specific acknowledgement token. Opaque to everything
	// except the gateway that produced it.
	Tag interface{}
}

// EventHandler receives one consumed delivery. The handler must hand the
// delivery to the bucket pipeline and return; acknowledgement happens later,
// via BrokerGateway.Ack, once the event's notifications are durably
// persisted. The callback runs on the gateway's single dispatching
// goroutine, so a slow handler applies backpressure to the broker.
type EventHandler func(d *Delivery)

// ConsumerHandle controls one registered consumer.
type ConsumerHandle interface {
	// Stop unsubscribes the consumer. Messages delivered but not yet acked
	// are redelivered by the broker.
	Stop() error
}

// BrokerGateway wraps the durable publish/subscribe queue in front of the
// dispatch pipeline. It owns the only connection to the broker.
//
// The contract is at-least-once: consumed messages use manual
// acknowledgement, a message is only removed from the durable queue once
// Ack is called, and a crash between delivery and ack causes redelivery.
// Downstream matching/persistence dedups on event UUID to keep redeliveries
// from duplicating fan-out.
//
// Publish does not retry internally; callers decide how to react to
// transient broker failures.
type BrokerGateway interface {
	// Publish serializes the event and publishes it to the durable queue.
	// Returns a coded error distinguishing transient broker failures
	// (ErrCodeBroker) from permanent ones (ErrCodeValidation).
	Publish(ctx context.Context, ev model.Event) error

	// Consume registers the single logical consumer with manual
	// acknowledgement. Only one consumer may be active per gateway.
	Consume(ctx context.Context, handler EventHandler) (ConsumerHandle, error)

	// Ack acknowledges exactly one delivery, never cumulative.
	Ack(d *Delivery) error

	// Close releases the broker connection. In-flight unacked deliveries are
	// left for redelivery.
	Close() error
}
