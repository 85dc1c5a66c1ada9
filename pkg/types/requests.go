package types

// CalibrateRequest starts a calibration window. A zero DurationSeconds uses
// the configured default.
type CalibrateRequest struct {
	DeviceID        string  `json:"deviceId"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
}

// IngestResponse reports how many pushed samples were accepted.
type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Rejected int    `json:"rejected"`
	Error    string `json:"error,omitempty"`
}
