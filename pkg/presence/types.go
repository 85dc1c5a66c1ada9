package presence

import (
	"errors"
	"math"
	"time"
)

// ErrUnknownDevice is returned for devices that have never produced a
// sample. It is distinct from StatusUnknown, which a device holds after its
// first sample until a calibration is available.
var ErrUnknownDevice = errors.New("unknown device")

// Status is the presence status of a device.
type Status string

const (
	StatusUnknown Status = "Unknown"
	StatusPresent Status = "Present"
	StatusAbsent  Status = "Absent"
)

// Reason explains what caused a transition.
type Reason string

const (
	ReasonDebounce Reason = "debounce"
	ReasonStale    Reason = "stale"
)

// State is the presence state of one device.
type State struct {
	DeviceID         string    `json:"deviceId"`
	SmoothedRSSI     float64   `json:"smoothedRssi"`
	LastRSSI         int       `json:"lastRssi"`
	Status           Status    `json:"status"`
	LastSampleAt     time.Time `json:"lastSampleAt"`
	LastTransitionAt time.Time `json:"lastTransitionAt"`
	SampleCount      int64     `json:"sampleCount"`
	// Stale is set by the sweep when no sample arrived within the stale
	// timeout, and cleared by the next sample.
	Stale bool `json:"stale"`

	Calibrated    bool    `json:"calibrated"`
	ReferenceRSSI float64 `json:"referenceRssi,omitempty"`
	// EstimatedDistance is a log-distance estimate in metres, treating the
	// reference as the 1 m baseline. Only set for calibrated devices.
	EstimatedDistance float64 `json:"estimatedDistance,omitempty"`

	pendingStatus Status
	pendingCount  int
	// receivedAt is when the tracker observed the last sample, on the
	// tracker's clock. Staleness is measured from it because LastSampleAt
	// comes from the scanner, whose clock may be skewed.
	receivedAt time.Time
}

// Transition records a committed status change.
type Transition struct {
	DeviceID     string    `json:"deviceId"`
	From         Status    `json:"from"`
	To           Status    `json:"to"`
	At           time.Time `json:"at"`
	Reason       Reason    `json:"reason"`
	SmoothedRSSI float64   `json:"smoothedRssi"`
}

// Params are the tunables of the tracker.
type Params struct {
	// Alpha is the EMA weight of the newest sample, in (0, 1].
	Alpha float64
	// Margin (dB) below the reference that still counts as near.
	Margin float64
	// DebounceCount is the number of consecutive samples a status change
	// must be seen on before it is committed. Values below 2 are raised
	// to 2.
	DebounceCount int
	// StaleTimeout after which a silent device is forced to Absent.
	StaleTimeout time.Duration
	// PathLossExponent used for distance estimates.
	PathLossExponent float64
}

const (
	DefaultAlpha            = 0.2
	DefaultMargin           = 5.0
	DefaultDebounceCount    = 2
	DefaultStaleTimeout     = 30 * time.Second
	DefaultPathLossExponent = 2.0

	minDebounceCount = 2
)

// DefaultParams averages over roughly the last 9 samples (2/alpha - 1).
func DefaultParams() Params {
	return Params{
		Alpha:            DefaultAlpha,
		Margin:           DefaultMargin,
		DebounceCount:    DefaultDebounceCount,
		StaleTimeout:     DefaultStaleTimeout,
		PathLossExponent: DefaultPathLossExponent,
	}
}

// normalized replaces out-of-range values with defaults.
func (p Params) normalized() Params {
	if p.Alpha <= 0 || p.Alpha > 1 || math.IsNaN(p.Alpha) {
		p.Alpha = DefaultAlpha
	}
	if p.Margin < 0 || math.IsNaN(p.Margin) {
		p.Margin = DefaultMargin
	}
	if p.DebounceCount < minDebounceCount {
		p.DebounceCount = minDebounceCount
	}
	if p.StaleTimeout <= 0 {
		p.StaleTimeout = DefaultStaleTimeout
	}
	if p.PathLossExponent <= 0 {
		p.PathLossExponent = DefaultPathLossExponent
	}
	return p
}

// EstimateDistance converts a smoothed RSSI into metres with the
// log-distance path loss model, reference being the RSSI at 1 m.
func EstimateDistance(reference, rssi, exponent float64) float64 {
	if exponent <= 0 {
		exponent = DefaultPathLossExponent
	}
	return math.Pow(10, (reference-rssi)/(10*exponent))
}

// debounce feeds one candidate status into the state's debounce counter and
// commits it once it has been the candidate n times in a row.
func (st *State) debounce(candidate Status, n int, at time.Time, reason Reason) (Transition, bool) {
	if candidate == st.Status {
		st.pendingStatus = ""
		st.pendingCount = 0
		return Transition{}, false
	}

	if candidate == st.pendingStatus {
		st.pendingCount++
	} else {
		st.pendingStatus = candidate
		st.pendingCount = 1
	}
	if st.pendingCount < n {
		return Transition{}, false
	}

	return st.commit(candidate, at, reason), true
}

func (st *State) commit(to Status, at time.Time, reason Reason) Transition {
	tr := Transition{
		DeviceID:     st.DeviceID,
		From:         st.Status,
		To:           to,
		At:           at,
		Reason:       reason,
		SmoothedRSSI: st.SmoothedRSSI,
	}
	st.Status = to
	st.LastTransitionAt = at
	st.pendingStatus = ""
	st.pendingCount = 0
	return tr
}
