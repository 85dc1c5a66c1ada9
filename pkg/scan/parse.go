package scan

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// MinRSSI and MaxRSSI bound what a BLE or Wi-Fi radio can report, in dBm.
	MinRSSI = -127
	MaxRSSI = 20
)

// WireSample is the JSON form of a sample as emitted by scanners and accepted
// by the ingest API. Either mac or deviceId identifies the device; timestamp
// is in (fractional) unix seconds and defaults to the time of receipt.
type WireSample struct {
	MAC       string   `json:"mac,omitempty"`
	DeviceID  string   `json:"deviceId,omitempty"`
	RSSI      *int     `json:"rssi"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// ToSample validates w and converts it into a Sample.
func (w WireSample) ToSample(now time.Time) (Sample, error) {
	id := w.DeviceID
	if id == "" {
		id = w.MAC
	}
	id = NormalizeDeviceID(id)
	if id == "" {
		return Sample{}, fmt.Errorf("device id is required")
	}
	if w.RSSI == nil {
		return Sample{}, fmt.Errorf("rssi is required for %s", id)
	}
	if err := checkRSSI(*w.RSSI); err != nil {
		return Sample{}, err
	}

	ts := now
	if w.Timestamp != nil {
		ts = unixSeconds(*w.Timestamp)
	}

	return Sample{DeviceID: id, RSSI: *w.RSSI, Timestamp: ts}, nil
}

// ParseLine parses one line of scanner output. Two formats are accepted:
//
//	{"mac": "AA:BB:CC:DD:EE:FF", "rssi": -45, "timestamp": 1716400000}
//	AA:BB:CC:DD:EE:FF,-45[,1716400000]
//
// Blank lines and lines starting with # yield ErrEmptyLine.
func ParseLine(line string, now time.Time) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Sample{}, ErrEmptyLine
	}

	if strings.HasPrefix(line, "{") {
		var w WireSample
		if err := json.Unmarshal([]byte(line), &w); err != nil {
			return Sample{}, fmt.Errorf("invalid json sample: %w", err)
		}
		return w.ToSample(now)
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 || len(fields) > 3 {
		return Sample{}, fmt.Errorf("expected mac,rssi[,timestamp], got %d fields", len(fields))
	}

	rssi, err := strconv.Atoi(strings.TrimSpace(fields[1]))
	if err != nil {
		return Sample{}, fmt.Errorf("invalid rssi %q: %w", fields[1], err)
	}

	w := WireSample{MAC: fields[0], RSSI: &rssi}
	if len(fields) == 3 {
		ts, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid timestamp %q: %w", fields[2], err)
		}
		w.Timestamp = &ts
	}

	return w.ToSample(now)
}

func checkRSSI(rssi int) error {
	if rssi < MinRSSI || rssi > MaxRSSI {
		return fmt.Errorf("rssi must be between %d and %d dBm, got %d", MinRSSI, MaxRSSI, rssi)
	}
	return nil
}

func unixSeconds(sec float64) time.Time {
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(frac*1e9))
}
