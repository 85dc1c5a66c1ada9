package events

import "encoding/json"

// Event name constants
const (
	PresenceTransition = "presence.transition"
	CalibrationStarted = "calibration.started"
	CalibrationSample  = "calibration.sample"
	CalibrationResult  = "calibration.result"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// PresenceTransitionEvent is the payload of presence.transition.
type PresenceTransitionEvent struct {
	DeviceID     string  `json:"deviceId"`
	From         string  `json:"from"`
	To           string  `json:"to"`
	Reason       string  `json:"reason"`
	SmoothedRSSI float64 `json:"smoothedRssi"`
	Ts           int64   `json:"ts"`
}

// CalibrationStartedEvent is the payload of calibration.started.
type CalibrationStartedEvent struct {
	DeviceID        string `json:"deviceId"`
	DurationSeconds int    `json:"durationSeconds"`
	Ts              int64  `json:"ts"`
}

// CalibrationSampleEvent is published for every reading a calibration
// window collects.
type CalibrationSampleEvent struct {
	DeviceID string `json:"deviceId"`
	RSSI     int    `json:"rssi"`
	Ts       int64  `json:"ts"`
}

// CalibrationResultEvent ends a calibration window. Error is set instead of
// the result fields when the window failed.
type CalibrationResultEvent struct {
	ID            string  `json:"id,omitempty"`
	DeviceID      string  `json:"deviceId"`
	ReferenceRSSI float64 `json:"referenceRssi,omitempty"`
	SampleCount   int     `json:"sampleCount"`
	Variance      float64 `json:"variance,omitempty"`
	Partial       bool    `json:"partial,omitempty"`
	Error         string  `json:"error,omitempty"`
	Ts            int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.PresenceTransitionEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
