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

// notificationRow is the flat database shape of a notification. The event
// and target are denormalized JSON so delivery never depends on the broker
// retaining the event.
type notificationRow struct {
	ID               int64     `db:"id"`
	UUID             string    `db:"uuid"`
	Tenant           string    `db:"tenant"`
	SubscriptionName string    `db:"subscription_name"`
	BucketNum        int       `db:"bucket_num"`
	EventUUID        string    `db:"event_uuid"`
	EventJSON        string    `db:"event_json"`
	TargetJSON       string    `db:"target_json"`
	CreatedAt        time.Time `db:"created_at"`
}

func notificationToRow(n model.Notification) (notificationRow, error) {
	event, err := json.Marshal(n.Event)
	if err != nil {
		return notificationRow{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to marshal event", err)
	}
	target, err := json.Marshal(n.Target)
	if err != nil {
		return notificationRow{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to marshal delivery target", err)
	}
	return notificationRow{
		ID:               n.ID,
		UUID:             n.UUID,
		Tenant:           n.Tenant,
		SubscriptionName: n.SubscriptionName,
		BucketNum:        n.BucketNum,
		EventUUID:        n.EventUUID,
		EventJSON:        string(event),
		TargetJSON:       string(target),
		CreatedAt:        n.CreatedAt,
	}, nil
}

func (row notificationRow) toModel() (model.Notification, error) {
	n := model.Notification{
		ID:               row.ID,
		UUID:             row.UUID,
		Tenant:           row.Tenant,
		SubscriptionName: row.SubscriptionName,
		BucketNum:        row.BucketNum,
		EventUUID:        row.EventUUID,
		CreatedAt:        row.CreatedAt,
	}
	if err := json.Unmarshal([]byte(row.EventJSON), &n.Event); err != nil {
		return n, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to unmarshal event", err)
	}
	if err := json.Unmarshal([]byte(row.TargetJSON), &n.Target); err != nil {
		return n, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to unmarshal delivery target", err)
	}
	return n, nil
}

// NotificationRepository implements dispatch.NotificationRepository using Relica.
type NotificationRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewNotificationRepository creates a new NotificationRepository with default table prefix.
func NewNotificationRepository(sqlDB *sql.DB, driverName string) *NotificationRepository {
	return &NotificationRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewNotificationRepositoryWithPrefix creates a new NotificationRepository with custom table prefix.
func NewNotificationRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *NotificationRepository {
	return &NotificationRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *NotificationRepository) tableName() string {
	return r.tablePrefix + "notification"
}

// Save inserts a new notification.
func (r *NotificationRepository) Save(ctx context.Context, n model.Notification) (model.Notification, error) {
	row, err := notificationToRow(n)
	if err != nil {
		return n, err
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
		return n, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert notification", err)
	}
	n.ID = row.ID
	return n, nil
}

// Delete removes a notification after delivery or recovery hand-off.
func (r *NotificationRepository) Delete(ctx context.Context, n model.Notification) error {
	row := notificationRow{ID: n.ID}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete notification", err)
	}
	return nil
}

// ListPendingForBucket returns undelivered notifications for one bucket
// created before the cutoff, oldest first.
func (r *NotificationRepository) ListPendingForBucket(ctx context.Context, bucketNum int, createdBefore time.Time, limit int) ([]model.Notification, error) {
	var rows []notificationRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("bucket_num = ?", bucketNum).
		Where("created_at < ?", createdBefore).
		OrderBy("created_at ASC").
		Limit(int64(limit)).
		All(&rows)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to list pending notifications", err)
	}
	if len(rows) == 0 {
		return nil, dispatch.ErrNoData
	}

	notifs := make([]model.Notification, 0, len(rows))
	for i := range rows {
		n, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		notifs = append(notifs, n)
	}
	return notifs, nil
}

// CountForSubscription returns the number of active notifications for a
// subscription.
func (r *NotificationRepository) CountForSubscription(ctx context.Context, tenant, subscriptionName string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Select("COUNT(*)").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("subscription_name = ?", subscriptionName).
		One(&count)
	if err != nil {
		return 0, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to count notifications", err)
	}
	return int(count), nil
}
