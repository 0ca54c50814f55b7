package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
	"github.com/coregx/relica"
)

// TestSequenceRepository implements dispatch.TestSequenceRepository using Relica.
type TestSequenceRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewTestSequenceRepository creates a new TestSequenceRepository with default table prefix.
func NewTestSequenceRepository(sqlDB *sql.DB, driverName string) *TestSequenceRepository {
	return &TestSequenceRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewTestSequenceRepositoryWithPrefix creates a new TestSequenceRepository with custom table prefix.
func NewTestSequenceRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *TestSequenceRepository {
	return &TestSequenceRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *TestSequenceRepository) tableName() string {
	return r.tablePrefix + "test_sequence"
}

// Save creates or updates a test sequence.
func (r *TestSequenceRepository) Save(ctx context.Context, t model.TestSequence) (model.TestSequence, error) {
	if t.ID == 0 {
		if err := r.db.WithContext(ctx).Model(&t).Table(r.tableName()).Insert(); err != nil {
			return t, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert test sequence", err)
		}
		return t, nil
	}
	if err := r.db.WithContext(ctx).Model(&t).Table(r.tableName()).Update(); err != nil {
		return t, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to update test sequence", err)
	}
	return t, nil
}

// GetBySubscription retrieves the record attached to a test subscription.
func (r *TestSequenceRepository) GetBySubscription(ctx context.Context, tenant, subscriptionName string) (model.TestSequence, error) {
	var t model.TestSequence
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("subscription_name = ?", subscriptionName).
		One(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return t, dispatch.ErrNoData
	}
	if err != nil {
		return t, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load test sequence", err)
	}
	return t, nil
}

// Delete removes the record.
func (r *TestSequenceRepository) Delete(ctx context.Context, tenant, subscriptionName string) error {
	t, err := r.GetBySubscription(ctx, tenant, subscriptionName)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&t).Table(r.tableName()).Delete(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete test sequence", err)
	}
	return nil
}
