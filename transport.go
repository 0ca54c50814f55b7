package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/coregx/dispatch/model"
)

// WebhookGateway defines the interface for POSTing a serialized notification
// to a subscriber's webhook endpoint. Implementations handle the HTTP
// transport; the worker pool handles retries.
type WebhookGateway interface {
	// Post sends the JSON payload to the given URL with
	// Content-Type: application/json. Success is exactly HTTP 200; any other
	// status or transport error is a delivery failure.
	Post(ctx context.Context, url string, payload []byte) error
}

// EmailGateway defines the interface for delivering a notification by email.
// The actual provider (SMTP relay, SaaS API) lives behind this contract.
type EmailGateway interface {
	Send(ctx context.Context, toAddress, subject, textBody, htmlBody string) error
}

// Transmitter executes one delivery attempt for a notification, dispatching
// on the delivery target's method. It carries no retry logic; the worker
// pool and recovery loop own that.
type Transmitter struct {
	webhooks WebhookGateway
	email    EmailGateway
}

// NewTransmitter creates a Transmitter over the given gateways.
func NewTransmitter(webhooks WebhookGateway, email EmailGateway) (*Transmitter, error) {
	if webhooks == nil {
		return nil, NewError(ErrCodeConfiguration, "webhook gateway is required")
	}
	if email == nil {
		return nil, NewError(ErrCodeConfiguration, "email gateway is required")
	}
	return &Transmitter{webhooks: webhooks, email: email}, nil
}

// Deliver executes one delivery attempt. The wire format is the full
// JSON-serialized notification (uuid, event block, delivery target).
func (t *Transmitter) Deliver(ctx context.Context, n model.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return NewErrorWithCause(ErrCodeDelivery, "failed to serialize notification", err)
	}

	switch n.Target.Method {
	case model.DeliveryMethodWebhook:
		return t.webhooks.Post(ctx, n.Target.Address, payload)
	case model.DeliveryMethodEmail:
		subject := "Event: " + n.Event.Type
		if n.Event.Subject != "" {
			subject += " (" + n.Event.Subject + ")"
		}
		htmlBody := "<pre>" + html.EscapeString(string(payload)) + "</pre>"
		return t.email.Send(ctx, n.Target.Address, subject, string(payload), htmlBody)
	default:
		return NewError(ErrCodeDelivery, fmt.Sprintf("unknown delivery method: %s", n.Target.Method))
	}
}

// HTTPWebhookGateway delivers notification payloads with net/http.
type HTTPWebhookGateway struct {
	client *http.Client
}

// NewHTTPWebhookGateway creates a webhook gateway with the given per-request
// timeout. The timeout here is a transport-level backstop; the worker pool
// additionally bounds each attempt via context.
func NewHTTPWebhookGateway(timeout time.Duration) *HTTPWebhookGateway {
	return &HTTPWebhookGateway{
		client: &http.Client{Timeout: timeout},
	}
}

// Post implements WebhookGateway.
func (g *HTTPWebhookGateway) Post(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return NewErrorWithCause(ErrCodeDelivery, "failed to build webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return NewErrorWithCause(ErrCodeDelivery, "webhook request failed", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return NewError(ErrCodeDelivery, fmt.Sprintf("webhook returned HTTP %d", resp.StatusCode))
	}
	return nil
}

// LoggingEmailGateway is an EmailGateway that only logs the send. Useful in
// development and as a stand-in until a real provider is configured.
type LoggingEmailGateway struct {
	logger Logger
}

// NewLoggingEmailGateway creates a LoggingEmailGateway.
func NewLoggingEmailGateway(logger Logger) *LoggingEmailGateway {
	return &LoggingEmailGateway{logger: logger}
}

// Send logs the email instead of sending it.
func (g *LoggingEmailGateway) Send(_ context.Context, toAddress, subject, textBody, _ string) error {
	g.logger.Infof("Email delivery (logged, not sent): to=%s, subject=%q, bytes=%d",
		toAddress, subject, len(textBody))
	return nil
}
