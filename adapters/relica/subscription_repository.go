package relica

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
	"github.com/coregx/relica"
)

// subscriptionRow is the flat database shape of a subscription. Delivery
// targets are stored as a JSON array in targets_json; a NULL expiry means
// the subscription never expires.
type subscriptionRow struct {
	ID            int64          `db:"id"`
	Tenant        string         `db:"tenant"`
	Owner         string         `db:"owner"`
	Name          string         `db:"name"`
	TypeFilter    string         `db:"type_filter"`
	SubjectFilter string         `db:"subject_filter"`
	TargetsJSON   string         `db:"targets_json"`
	Enabled       bool           `db:"is_enabled"`
	TTLMinutes    int            `db:"ttl_minutes"`
	Expiry        sql.NullTime   `db:"expiry"`
	Notes         sql.NullString `db:"notes"`
	CreatedAt     time.Time      `db:"created_at"`
}

func subscriptionToRow(m model.Subscription) (subscriptionRow, error) {
	targets, err := json.Marshal(m.Targets)
	if err != nil {
		return subscriptionRow{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to marshal delivery targets", err)
	}
	row := subscriptionRow{
		ID:            m.ID,
		Tenant:        m.Tenant,
		Owner:         m.Owner,
		Name:          m.Name,
		TypeFilter:    m.TypeFilter,
		SubjectFilter: m.SubjectFilter,
		TargetsJSON:   string(targets),
		Enabled:       m.Enabled,
		TTLMinutes:    m.TTLMinutes,
		CreatedAt:     m.CreatedAt,
	}
	if !m.Expiry.IsZero() {
		row.Expiry = sql.NullTime{Time: m.Expiry, Valid: true}
	}
	if m.Notes != "" {
		row.Notes = sql.NullString{String: m.Notes, Valid: true}
	}
	return row, nil
}

func (row subscriptionRow) toModel() (model.Subscription, error) {
	m := model.Subscription{
		ID:            row.ID,
		Tenant:        row.Tenant,
		Owner:         row.Owner,
		Name:          row.Name,
		TypeFilter:    row.TypeFilter,
		SubjectFilter: row.SubjectFilter,
		Enabled:       row.Enabled,
		TTLMinutes:    row.TTLMinutes,
		Expiry:        row.Expiry.Time,
		Notes:         row.Notes.String,
		CreatedAt:     row.CreatedAt,
	}
	if row.TargetsJSON != "" {
		if err := json.Unmarshal([]byte(row.TargetsJSON), &m.Targets); err != nil {
			return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to unmarshal delivery targets", err)
		}
	}
	return m, nil
}

// SubscriptionRepository implements dispatch.SubscriptionRepository using Relica.
type SubscriptionRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSubscriptionRepository creates a new SubscriptionRepository with default table prefix.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewSubscriptionRepositoryWithPrefix creates a new SubscriptionRepository with custom table prefix.
func NewSubscriptionRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SubscriptionRepository) tableName() string {
	return r.tablePrefix + "subscription"
}

// Save creates or updates a subscription.
func (r *SubscriptionRepository) Save(ctx context.Context, m model.Subscription) (model.Subscription, error) {
	row, err := subscriptionToRow(m)
	if err != nil {
		return m, err
	}
	if row.ID == 0 {
		if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Insert(); err != nil {
			return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert subscription", err)
		}
		m.ID = row.ID
		return m, nil
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Update(); err != nil {
		return m, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to update subscription", err)
	}
	return m, nil
}

// GetByName retrieves a subscription by its (tenant, owner, name) key.
func (r *SubscriptionRepository) GetByName(ctx context.Context, tenant, owner, name string) (model.Subscription, error) {
	var row subscriptionRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("owner = ?", owner).
		Where("name = ?", name).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Subscription{}, dispatch.ErrNoData
	}
	if err != nil {
		return model.Subscription{}, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load subscription", err)
	}
	return row.toModel()
}

// DeleteByName permanently removes a subscription.
func (r *SubscriptionRepository) DeleteByName(ctx context.Context, tenant, owner, name string) error {
	var row subscriptionRow
	err := r.db.WithContext(ctx).Select("id").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("owner = ?", owner).
		Where("name = ?", name).
		One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.ErrNoData
	}
	if err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load subscription for delete", err)
	}
	if err := r.db.WithContext(ctx).Model(&row).Table(r.tableName()).Delete(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete subscription", err)
	}
	return nil
}

// DeleteBySubject removes every subscription in the tenant whose subject
// filter equals the given subject, regardless of owner.
func (r *SubscriptionRepository) DeleteBySubject(ctx context.Context, tenant, subject string) (int, error) {
	var rows []subscriptionRow
	err := r.db.WithContext(ctx).Select("id").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("subject_filter = ?", subject).
		All(&rows)
	if err != nil {
		return 0, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find subscriptions by subject", err)
	}

	deleted := 0
	for i := range rows {
		if err := r.db.WithContext(ctx).Model(&rows[i]).Table(r.tableName()).Delete(); err != nil {
			return deleted, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete subscription by subject", err)
		}
		deleted++
	}
	return deleted, nil
}

// FindMatching returns the enabled, unexpired subscriptions in the tenant
// whose filters match the event. The SQL narrows by tenant and enabled
// flag; glob matching and expiry happen in memory on the candidate set.
func (r *SubscriptionRepository) FindMatching(ctx context.Context, tenant, eventType, subject string) ([]model.Subscription, error) {
	var rows []subscriptionRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("is_enabled = ?", true).
		All(&rows)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to find matching subscriptions", err)
	}

	now := time.Now()
	var subs []model.Subscription
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		if m.IsExpired(now) {
			continue
		}
		if m.Matches(eventType, subject) {
			subs = append(subs, m)
		}
	}
	if len(subs) == 0 {
		return nil, dispatch.ErrNoData
	}
	return subs, nil
}

// List retrieves subscriptions matching the filter criteria.
func (r *SubscriptionRepository) List(ctx context.Context, filter dispatch.SubscriptionFilter) ([]model.Subscription, error) {
	q := r.db.WithContext(ctx).Select("*").From(r.tableName())
	if filter.Tenant != "" {
		q = q.Where("tenant = ?", filter.Tenant)
	}
	if filter.Owner != "" {
		q = q.Where("owner = ?", filter.Owner)
	}
	if filter.TypeFilter != "" {
		q = q.Where("type_filter = ?", filter.TypeFilter)
	}
	if filter.EnabledOnly {
		q = q.Where("is_enabled = ?", true)
	}

	var rows []subscriptionRow
	if err := q.OrderBy("created_at ASC").All(&rows); err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to list subscriptions", err)
	}
	if len(rows) == 0 {
		return nil, dispatch.ErrNoData
	}
	return rowsToSubscriptions(rows)
}

// ListExpired returns all subscriptions whose expiry has passed.
func (r *SubscriptionRepository) ListExpired(ctx context.Context, now time.Time) ([]model.Subscription, error) {
	var rows []subscriptionRow
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("expiry IS NOT NULL").
		Where("expiry <= ?", now).
		OrderBy("expiry ASC").
		All(&rows)
	if err != nil {
		return nil, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to list expired subscriptions", err)
	}
	if len(rows) == 0 {
		return nil, dispatch.ErrNoData
	}
	return rowsToSubscriptions(rows)
}

func rowsToSubscriptions(rows []subscriptionRow) ([]model.Subscription, error) {
	subs := make([]model.Subscription, 0, len(rows))
	for i := range rows {
		m, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		subs = append(subs, m)
	}
	return subs, nil
}
