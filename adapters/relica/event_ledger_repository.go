package relica

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/relica"
)

// ledgerRow is one processed event uuid.
type ledgerRow struct {
	ID        int64     `db:"id"`
	EventUUID string    `db:"event_uuid"`
	CreatedAt time.Time `db:"created_at"`
}

// EventLedgerRepository implements dispatch.EventLedgerRepository using Relica.
//
// Seen/Record is a split check-then-insert rather than insert-and-catch-
// conflict: the same event uuid always hashes to the same single-threaded
// bucket manager, so two calls for one uuid can never race. The unique key
// on event_uuid stays as a safety net.
type EventLedgerRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewEventLedgerRepository creates a new EventLedgerRepository with default table prefix.
func NewEventLedgerRepository(sqlDB *sql.DB, driverName string) *EventLedgerRepository {
	return &EventLedgerRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewEventLedgerRepositoryWithPrefix creates a new EventLedgerRepository with custom table prefix.
func NewEventLedgerRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *EventLedgerRepository {
	return &EventLedgerRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *EventLedgerRepository) tableName() string {
	return r.tablePrefix + "event_ledger"
}

// Seen reports whether the event uuid was already recorded, meaning the
// event is a broker redelivery of an already processed event.
func (r *EventLedgerRepository) Seen(ctx context.Context, eventUUID string) (bool, error) {
	var existing ledgerRow
	err := r.db.WithContext(ctx).Select("id").From(r.tableName()).
		Where("event_uuid = ?", eventUUID).
		One(&existing)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to check event ledger", err)
}

// Record inserts the event uuid after its fan-out has been persisted.
func (r *EventLedgerRepository) Record(ctx context.Context, eventUUID string) error {
	row := ledgerRow{EventUUID: eventUUID, CreatedAt: time.Now()}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to record event uuid", err)
	}
	return nil
}
