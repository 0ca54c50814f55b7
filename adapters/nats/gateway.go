package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// Config holds the gateway's connection and stream settings.
type Config struct {
	// URL is the NATS server address, e.g. "nats://localhost:4222".
	URL string

	// Stream is the JetStream stream name. Defaults to "DISPATCH".
	Stream string

	// Subject is the subject events are published to. Defaults to
	// "dispatch.events".
	Subject string

	// Durable is the durable consumer name. Defaults to "dispatch-core".
	Durable string
}

func (c *Config) applyDefaults() {
	if c.Stream == "" {
		c.Stream = "DISPATCH"
	}
	if c.Subject == "" {
		c.Subject = "dispatch.events"
	}
	if c.Durable == "" {
		c.Durable = "dispatch-core"
	}
}

// Gateway implements dispatch.BrokerGateway on NATS JetStream. It owns the
// only connection to the broker; Delivery.Tag carries the *nats.Msg used
// for the explicit acknowledgement. Publish and Consume return
// dispatch.ErrBrokerClosed once Close has been called.
type Gateway struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger dispatch.Logger

	mu     sync.Mutex
	closed bool
}

// NewGateway connects to NATS, enables JetStream and ensures the event
// stream exists. The connection reconnects indefinitely; JetStream retains
// unacked messages across reconnects and restarts.
func NewGateway(cfg Config, logger dispatch.Logger) (*Gateway, error) {
	if cfg.URL == "" {
		return nil, dispatch.NewError(dispatch.ErrCodeConfiguration, "NATS URL is required")
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = &dispatch.NoopLogger{}
	}

	conn, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to connect to NATS", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to get JetStream context", err)
	}

	g := &Gateway{conn: conn, js: js, cfg: cfg, logger: logger}
	if err := g.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Infof("NATS gateway connected: url=%s, stream=%s, subject=%s", cfg.URL, cfg.Stream, cfg.Subject)
	return g, nil
}

// ensureStream creates the file-backed stream when it does not exist yet.
func (g *Gateway) ensureStream() error {
	_, err := g.js.StreamInfo(g.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to query stream", err)
	}

	_, err = g.js.AddStream(&nats.StreamConfig{
		Name:      g.cfg.Stream,
		Subjects:  []string{g.cfg.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to create stream", err)
	}
	return nil
}

// Publish serializes the event and publishes it to the durable stream. The
// call returns after JetStream confirms persistence.
func (g *Gateway) Publish(ctx context.Context, ev model.Event) error {
	if g.isClosed() {
		return dispatch.ErrBrokerClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeValidation, "failed to marshal event", err)
	}

	if _, err := g.js.Publish(g.cfg.Subject, data, nats.Context(ctx)); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to publish event", err)
	}
	return nil
}

// consumerHandle wraps the JetStream subscription.
type consumerHandle struct {
	sub *nats.Subscription
}

func (h *consumerHandle) Stop() error {
	if err := h.sub.Unsubscribe(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to unsubscribe consumer", err)
	}
	return nil
}

// Consume registers the single durable consumer. Each message is decoded
// and handed to the handler on the subscription's dispatching goroutine;
// acknowledgement is explicit via Ack. Messages with undecodable payloads
// are terminated so they cannot poison the redelivery loop.
func (g *Gateway) Consume(_ context.Context, handler dispatch.EventHandler) (dispatch.ConsumerHandle, error) {
	if g.isClosed() {
		return nil, dispatch.ErrBrokerClosed
	}

	sub, err := g.js.Subscribe(g.cfg.Subject, func(msg *nats.Msg) {
		var ev model.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			g.logger.Errorf("Dropping undecodable event payload: %v", err)
			if termErr := msg.Term(); termErr != nil {
				g.logger.Warnf("Failed to terminate bad message: %v", termErr)
			}
			return
		}
		handler(&dispatch.Delivery{Event: ev, Tag: msg})
	},
		nats.Durable(g.cfg.Durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxAckPending(-1),
	)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to subscribe", err)
	}

	// Make sure the consumer is registered server-side before returning so
	// events published on other connections are routed to it.
	if err := g.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to flush subscription", err)
	}

	return &consumerHandle{sub: sub}, nil
}

// Ack acknowledges exactly one delivery.
func (g *Gateway) Ack(d *dispatch.Delivery) error {
	msg, ok := d.Tag.(*nats.Msg)
	if !ok {
		return dispatch.NewError(dispatch.ErrCodeBroker, "delivery tag is not a NATS message")
	}
	if err := msg.Ack(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeBroker, "failed to ack message", err)
	}
	return nil
}

// Close releases the broker connection. Unacked deliveries stay in the
// stream for redelivery. Close is idempotent; later Publish and Consume
// calls return dispatch.ErrBrokerClosed.
func (g *Gateway) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.conn.Close()
	return nil
}

func (g *Gateway) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
