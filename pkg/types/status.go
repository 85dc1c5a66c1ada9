package types

import "time"

// DaemonStatus summarizes the running daemon.
// This struct is shared between the daemon and client packages.
type DaemonStatus struct {
	Version   string    `json:"version"`
	StartedAt time.Time `json:"started_at"`

	Source   string `json:"source"`
	SourceUp bool   `json:"source_up"`
	// SamplesLastMinute counts samples drained in the last minute,
	// calibration windows included.
	SamplesLastMinute int       `json:"samples_last_minute"`
	LastSampleAt      time.Time `json:"last_sample_at"`

	TrackedDevices    int `json:"tracked_devices"`
	CalibratedDevices int `json:"calibrated_devices"`

	NextMaintenance time.Time `json:"next_maintenance"`
	LastMaintenance time.Time `json:"last_maintenance"`
}
