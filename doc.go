// Package dispatch provides a multi-tenant event notification dispatcher
// with durable broker intake, per-partition ordered processing, and
// at-least-once delivery to webhooks and email targets.
//
// Works both as a library for embedding in your application AND as a
// standalone microservice with REST API.
//
// # Features
//
//   - Durable event intake via NATS JetStream with manual acknowledgement
//   - Per-partition-key ordering: one single-threaded bucket manager per
//     bucket, events routed by hash of seriesId/subject/type
//   - Subscription matching with dotted type globs and subject filters
//   - Fan-out: one notification per matching subscription per delivery target
//   - Fixed-interval retry with bounded attempts, then hand-off to a
//     separate recovery loop so broken targets cannot starve the pool
//   - Event series sequence counting with end-of-series reset
//   - TTL-based subscription expiry with a background reaper
//   - Cleanup events that delete all subscriptions matching a subject
//   - Event de-duplication by uuid across broker redeliveries
//   - Rich domain models, repository pattern, options pattern
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded Migrations for easy database setup
//
// # Quick Start
//
// Apply the database migrations and build the repositories:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/dispatch"
//	    "github.com/coregx/dispatch/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	db, _ := sql.Open("mysql", "user:pass@tcp(localhost:3306)/dispatch?parseTime=true")
//	if err := dispatch.ApplyMigrations(db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, "mysql")
//
// Connect the broker and wire the service:
//
//	broker, _ := nats.NewGateway(nats.Config{URL: "nats://localhost:4222"}, logger)
//	transmitter, _ := dispatch.NewTransmitter(
//	    dispatch.NewHTTPWebhookGateway(10*time.Second),
//	    dispatch.NewLoggingEmailGateway(logger),
//	)
//
//	service, _ := dispatch.NewDispatchService(
//	    dispatch.WithServiceBroker(broker),
//	    dispatch.WithServiceStores(repos.Subscription, repos.Notification,
//	        repos.Recovery, repos.Series, repos.EventLedger),
//	    dispatch.WithServiceTransmitter(transmitter),
//	    dispatch.WithServiceBuckets(8),
//	    dispatch.WithServiceLogger(logger),
//	)
//
//	ctx, cancel := context.WithCancel(context.Background())
//	service.Init(ctx)
//	service.StartWorkers()
//	service.StartReaper()
//	go service.Run(ctx)
//
// Publish an event:
//
//	publisher, _ := dispatch.NewEventPublisher(broker, logger)
//	event, err := publisher.Publish(ctx, dispatch.PublishRequest{
//	    Tenant:  "acme",
//	    User:    "svc-orders",
//	    Source:  "orders",
//	    Type:    "orders.created",
//	    Subject: "order-123",
//	    Data:    `{"orderId": 123}`,
//	})
//
// # Event Flow
//
//  1. PUBLISH
//     EventPublisher validates the event, stamps uuid and received time,
//     and publishes it to the durable broker stream. The call returns
//     after durable hand-off; delivery outcome is never reported back.
//
//  2. ROUTE (single consumer goroutine)
//     The broker consumer hands each event to the BucketRouter, which
//     hashes the partition key (seriesId, else subject, else type) and
//     enqueues on the owning bucket's bounded queue.
//
//  3. MATCH + PERSIST (one goroutine per bucket, strictly sequential)
//     The BucketManager de-duplicates by event uuid, advances the series
//     counter, finds matching enabled subscriptions, persists one
//     notification per (subscription, target), and only then acks the
//     broker message. A crash before ack causes redelivery.
//
//  4. DELIVER (shared worker pool)
//     Workers take persisted notifications, POST them as JSON (or send
//     email), retry on a fixed interval up to the attempt bound, delete
//     the row on success, and move exhausted notifications to recovery.
//
//  5. RECOVER (slow loop)
//     The RecoveryRunner re-attempts recovery items on a slower cadence
//     until they finally deliver.
//
// # Ordering and Delivery Guarantees
//
// Total order is preserved only within one partition key. Acknowledgement
// happens only after all matched notifications are durably persisted, so
// every event is processed at least once; redeliveries are absorbed by the
// event ledger's unique uuid check.
//
// # Database Schema
//
// The library requires 6 database tables (created via embedded migrations):
//
//	dispatch_subscription   - Standing filters with delivery targets
//	dispatch_notification   - Active delivery obligations
//	dispatch_recovery       - Exhausted notifications awaiting recovery
//	dispatch_series         - Per-series sequence counters
//	dispatch_event_ledger   - Processed event uuids (de-duplication)
//	dispatch_test_sequence  - Synthetic end-to-end probe records
//
// Supports MySQL, PostgreSQL, and SQLite via Relica adapters.
// Table prefix can be customized (default: "dispatch_").
package dispatch
