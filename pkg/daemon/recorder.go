package daemon

import (
	"sync"
	"time"
)

// sampleRecordCount bounds the sample arrival history kept for status.
const sampleRecordCount = 4096

// TimeSeriesRecorder records the last N event times.
type TimeSeriesRecorder struct {
	MaxRecordCount int
	Records        []time.Time
	mu             *sync.Mutex
}

// NewTimeSeriesRecorder returns a new TimeSeriesRecorder.
func NewTimeSeriesRecorder(maxRecordCount int) *TimeSeriesRecorder {
	return &TimeSeriesRecorder{
		MaxRecordCount: maxRecordCount,
		Records:        make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecord adds a new record.
func (r *TimeSeriesRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading, so durations stay right across
	// system sleep.
	t = t.Round(0)

	if len(r.Records) >= r.MaxRecordCount {
		r.Records = r.Records[1:]
	}
	r.Records = append(r.Records, t)
}

// CountIn returns the number of records in (now-last, now].
func (r *TimeSeriesRecorder) CountIn(now time.Time, last time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := len(r.Records) - 1; i >= 0; i-- {
		if now.Sub(r.Records[i]) >= last {
			break
		}
		count++
	}
	return count
}

// GetLastRecord returns the last record, or the zero time.
func (r *TimeSeriesRecorder) GetLastRecord() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Records) == 0 {
		return time.Time{}
	}
	return r.Records[len(r.Records)-1]
}

// ClearRecords clears all records.
func (r *TimeSeriesRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Records = make([]time.Time, 0)
}
