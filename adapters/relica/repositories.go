package relica

import (
	"database/sql"

	"github.com/coregx/dispatch"
)

// Repositories holds all repository implementations.
type Repositories struct {
	Subscription dispatch.SubscriptionRepository
	Notification dispatch.NotificationRepository
	Recovery     dispatch.RecoveryRepository
	Series       dispatch.SeriesRepository
	EventLedger  dispatch.EventLedgerRepository
	TestSequence dispatch.TestSequenceRepository
}

// NewRepositories creates all repository implementations using Relica.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL, or SQLite.
// The driverName should be "mysql", "postgres", or "sqlite3".
// The table prefix defaults to "dispatch_" but can be customized.
func NewRepositories(db *sql.DB, driverName string) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepository(db, driverName),
		Notification: NewNotificationRepository(db, driverName),
		Recovery:     NewRecoveryRepository(db, driverName),
		Series:       NewSeriesRepository(db, driverName),
		EventLedger:  NewEventLedgerRepository(db, driverName),
		TestSequence: NewTestSequenceRepository(db, driverName),
	}
}

// NewRepositoriesWithPrefix creates all repository implementations with a custom table prefix.
func NewRepositoriesWithPrefix(db *sql.DB, driverName, prefix string) *Repositories {
	return &Repositories{
		Subscription: NewSubscriptionRepositoryWithPrefix(db, driverName, prefix),
		Notification: NewNotificationRepositoryWithPrefix(db, driverName, prefix),
		Recovery:     NewRecoveryRepositoryWithPrefix(db, driverName, prefix),
		Series:       NewSeriesRepositoryWithPrefix(db, driverName, prefix),
		EventLedger:  NewEventLedgerRepositoryWithPrefix(db, driverName, prefix),
		TestSequence: NewTestSequenceRepositoryWithPrefix(db, driverName, prefix),
	}
}
