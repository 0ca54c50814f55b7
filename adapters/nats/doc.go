// Package nats implements the dispatch broker gateway on NATS JetStream.
//
// Events are published to one subject inside a file-backed stream; the
// gateway registers a single durable consumer with explicit per-message
// acknowledgement, which gives the at-least-once contract the dispatch
// pipeline is built on: a process crash between delivery and ack causes
// JetStream to redeliver the event.
//
// Example usage:
//
//	gateway, err := nats.NewGateway(nats.Config{
//	    URL: "nats://localhost:4222",
//	}, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer gateway.Close()
//
//	service, err := dispatch.NewDispatchService(
//	    dispatch.WithServiceBroker(gateway),
//	    ...
//	)
package nats
