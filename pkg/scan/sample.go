package scan

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrSourceUnavailable is returned when the upstream scanner cannot be
	// reached. It is transient: the caller should retry with backoff.
	ErrSourceUnavailable = errors.New("sample source unavailable")

	// ErrTapInUse is returned when a device is already being calibrated.
	ErrTapInUse = errors.New("device already has an active calibration")

	// ErrBackpressure is returned by PushSource when its buffer is full.
	ErrBackpressure = errors.New("sample buffer is full")

	// ErrEmptyLine is returned by ParseLine for blank and comment lines.
	ErrEmptyLine = errors.New("empty line")
)

// Sample is a single RSSI observation of a device.
type Sample struct {
	DeviceID  string    `json:"deviceId"`
	RSSI      int       `json:"rssi"`
	Timestamp time.Time `json:"timestamp"`
}

// Source supplies samples. Next blocks until a sample is available or ctx
// is done.
type Source interface {
	Next(ctx context.Context) (Sample, error)
}

// NormalizeDeviceID returns the canonical form of a radio address. Scanners
// disagree on case, so addresses are compared lower-cased.
func NormalizeDeviceID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
