package relica

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
	"github.com/coregx/relica"
)

// SeriesRepository implements dispatch.SeriesRepository using Relica.
// Per-row coordination is unnecessary: a series is only ever touched by the
// single bucket manager that owns its partition key.
type SeriesRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSeriesRepository creates a new SeriesRepository with default table prefix.
func NewSeriesRepository(sqlDB *sql.DB, driverName string) *SeriesRepository {
	return &SeriesRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: "dispatch_"}
}

// NewSeriesRepositoryWithPrefix creates a new SeriesRepository with custom table prefix.
func NewSeriesRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SeriesRepository {
	return &SeriesRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SeriesRepository) tableName() string {
	return r.tablePrefix + "series"
}

// Get retrieves the progress record for one series.
func (r *SeriesRepository) Get(ctx context.Context, tenant, seriesID string) (model.SeriesProgress, error) {
	var s model.SeriesProgress
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).
		Where("tenant = ?", tenant).
		Where("series_id = ?", seriesID).
		One(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return s, dispatch.ErrNoData
	}
	if err != nil {
		return s, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to load series progress", err)
	}
	return s, nil
}

// Save creates or updates a progress record.
func (r *SeriesRepository) Save(ctx context.Context, s model.SeriesProgress) (model.SeriesProgress, error) {
	if s.ID == 0 {
		if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Insert(); err != nil {
			return s, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to insert series progress", err)
		}
		return s, nil
	}
	if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Update(); err != nil {
		return s, dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to update series progress", err)
	}
	return s, nil
}

// Delete removes the series bookkeeping so a later event with the same key
// restarts at sequence 1. Deleting an unknown series is not an error.
func (r *SeriesRepository) Delete(ctx context.Context, tenant, seriesID string) error {
	s, err := r.Get(ctx, tenant, seriesID)
	if errors.Is(err, dispatch.ErrNoData) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Delete(); err != nil {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeDatabase, "failed to delete series progress", err)
	}
	return nil
}
