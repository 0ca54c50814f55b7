package model

import "time"

// SeriesProgress tracks the monotonic sequence counter of one event series
// within a tenant. The bucket manager advances the counter for every event
// carrying the series id and removes the record when an end-of-series event
// is processed, so the next event with the same key restarts at sequence 1.
//
// Correctness relies on the bucket router sending all events of one series
// to the same single-threaded bucket manager.
type SeriesProgress struct {
	ID        int64     `json:"id"`
	Tenant    string    `json:"tenant"`
	SeriesID  string    `json:"seriesId" db:"series_id"`
	LastSeq   int64     `json:"lastSeq" db:"last_seq"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for SeriesProgress.
func (s SeriesProgress) TableName() string {
	return tablePrefix + "series"
}

// NewSeriesProgress starts series bookkeeping at sequence 1.
func NewSeriesProgress(tenant, seriesID string) SeriesProgress {
	return SeriesProgress{
		Tenant:    tenant,
		SeriesID:  seriesID,
		LastSeq:   1,
		UpdatedAt: time.Now(),
	}
}

// Advance increments the sequence counter and returns the new value.
func (s *SeriesProgress) Advance() int64 {
	s.LastSeq++
	s.UpdatedAt = time.Now()
	return s.LastSeq
}
