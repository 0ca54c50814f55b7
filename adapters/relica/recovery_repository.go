package relica

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
	"github.com/coregx/relica"
)

// recoveryRow is the flat database shape of a recovery item.
type recoveryRow struct {
	ID               int64          `db:"id"`
	NotificationUUID string         `db:"notification_uuid"`
	Tenant           string         `db:"tenant"`
	SubscriptionName string         `db:"subscription_name"`
	BucketNum        int            `db:"bucket_num"`
	EventUUID        string         `db:"event_uuid"`
	EventJSON        string         `db:"event_json"`
	TargetJSON       string         `db:"target_json"`
	AttemptCount     int            `db:"attempt_count"`
	LastError        sql.NullString `db:"last_error"`
	FirstAttemptAt   time.Time      `db:"first_attempt_at"`
	LastAttemptAt    time.Time      `db:"last_attempt_at"`
	MovedAt          time.Time      `db:"moved_at"`
	NextAttemptAt    time.Time      `db:"next_attempt_at"`
	CreatedAt        time.Time      `db:"created_at"`
}

func recoveryToRow(item model.RecoveryItem) (recoveryRow, error) {
	event, err := json.Marshal(item.Event)
	if err != nil {
		return recoveryRow{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to marshal event", err)
	}
	target, err := json.Marshal(item.Target)
	if err != nil {
		return recoveryRow{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to marshal delivery target", err)
	}
	return recoveryRow{
		ID:               item.ID,
		NotificationUUID: item.NotificationUUID,
		Tenant:           item.Tenant,
		SubscriptionName: item.SubscriptionName,
		BucketNum:        item.BucketNum,
		EventUUID:        item.EventUUID,
		EventJSON:        string(event),
		TargetJSON:       string(target),
		AttemptCount:     item.AttemptCount,
		LastError:        item.LastError,
		FirstAttemptAt:   item.FirstAttemptAt,
		LastAttemptAt:    item.LastAttemptAt,
		MovedAt:          item.MovedAt,
		NextAttemptAt:    item.NextAttemptAt,
		CreatedAt:        item.CreatedAt,
	}, nil
}

func (row recoveryRow) toModel() (model.RecoveryItem, error) {
	item := model.RecoveryItem{
		ID:               row.ID,
		NotificationUUID: row.NotificationUUID,
		Tenant:           row.Tenant,
		SubscriptionName: row.SubscriptionName,
		BucketNum:        row.BucketNum,
		EventUUID:        row.EventUUID,
		AttemptCount:     row.AttemptCount,
		LastError:        row.LastError,
		FirstAttemptAt:   row.FirstAttemptAt,
		LastAttemptAt:    row.LastAttemptAt,
		MovedAt:          row.MovedAt,
		NextAttemptAt:    row.NextAttemptAt,
		CreatedAt:        row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.EventJSON), &item.Event); err != nil {
		return item, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to unmarshal event", err)
	}
	if err := json.Unmarshal([]byte(row.TargetJSON), &item.Target); err != nil {
		return item, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to unmarshal delivery target", err)
	}
	return item, nil
}

// RecoveryRepository implements dispatch.RecoveryRepository using Relica.
type RecoveryRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewRecoveryRepository creates a new RecoveryRepository with default table prefix.
func NewRecoveryRepository(sqlDB *sql.DB, driverName string) *RecoveryRepository {
	return &RecoveryRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewRecoveryRepositoryWithPrefix creates a new RecoveryRepository with custom table prefix.
func NewRecoveryRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *RecoveryRepository {
	return &RecoveryRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *RecoveryRepository) tableName() string {
	return r.tablePrefix + "recovery"
}

// Save creates or updates a recovery item.
func (r *RecoveryRepository) Save(ctx context.Context, item model.RecoveryItem) (model.RecoveryItem, error) {
	row, err := recoveryToRow(item)
	if err != nil {
		return item, err
	}
	if row.ID == 0 {
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
			return item, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert recovery item", err)
		}
		item.ID = row.ID
		return item, nil
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
		return item, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to update recovery item", err)
	}
	return item, nil
}

// Delete removes a recovery item after successful redelivery.
func (r *RecoveryRepository) Delete(ctx context.Context, item model.RecoveryItem) error {
	row := recoveryRow{ID: item.ID}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete recovery item", err)
	}
	return nil
}

// ListDue returns recovery items whose next attempt time has passed, most
// overdue first.
func (r *RecoveryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.RecoveryItem, error) {
	var rows []recoveryRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("next_attempt_at <= ?", now).
		OrderBy("next_attempt_at ASC").
		Limit(int64(limit)).
		All(&rows)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to list due recovery items", err)
	}
	if len(rows) == 0 {
		return nil, dispatch.ErrNoData
	}

	items := make([]model.RecoveryItem, 0, len(rows))
	for i := range rows {
		item, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
