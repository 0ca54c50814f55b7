// Package relica provides repository implementations using Relica query builder.
//
// Relica (github.com/coregx/relica) is a lightweight, type-safe database query builder
// for Go with zero production dependencies.
//
// This package provides production-ready implementations of all dispatch repository interfaces:
//   - SubscriptionRepository
//   - NotificationRepository
//   - RecoveryRepository
//   - SeriesRepository
//   - EventLedgerRepository
//   - TestSequenceRepository
//
// Delivery targets on subscriptions, and the denormalized event and target
// carried by notifications and recovery items, are stored as JSON text
// columns; the adapters marshal and unmarshal transparently.
//
// Example usage:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/dispatch"
//	    "github.com/coregx/dispatch/adapters/relica"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Open database connection
//	db, err := sql.Open("mysql", "user:pass@tcp(localhost:3306)/dispatch_db?parseTime=true")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create repositories (driverName should be "mysql", "postgres", or "sqlite3")
//	repos := relica.NewRepositories(db, "mysql")
//
//	// Create services
//	service, err := dispatch.NewDispatchService(
//	    dispatch.WithServiceBroker(broker),
//	    dispatch.WithServiceStores(repos.Subscription, repos.Notification,
//	        repos.Recovery, repos.Series, repos.EventLedger),
//	    dispatch.WithServiceTransmitter(transmitter),
//	)
package relica
