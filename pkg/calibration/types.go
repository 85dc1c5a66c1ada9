package calibration

import (
	"errors"
	"time"
)

var (
	// ErrNoReadings is returned when a window collected zero samples. Such a
	// window must never be treated as a zero-mean calibration.
	ErrNoReadings = errors.New("no readings collected for device")

	// ErrInvalidDuration is returned when the time budget is not positive.
	ErrInvalidDuration = errors.New("calibration duration must be positive")
)

// Result is the outcome of one calibration run.
type Result struct {
	// ID identifies the run.
	ID            string    `json:"id"`
	DeviceID      string    `json:"deviceId"`
	ReferenceRSSI float64   `json:"referenceRssi"`
	SampleCount   int       `json:"sampleCount"`
	Variance      float64   `json:"variance"`
	ComputedAt    time.Time `json:"computedAt"`
	// Partial is set when the run was cancelled before its window elapsed.
	Partial bool `json:"partial,omitempty"`
}

// StdDev returns the standard deviation of the collected readings.
func (r Result) StdDev() float64 {
	return sqrt(r.Variance)
}
