package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config interface {
	// Alpha is the EMA weight of the newest sample.
	Alpha() float64
	// Margin is how many dB below the reference still count as near.
	Margin() float64
	DebounceCount() int
	StaleTimeout() time.Duration
	SweepInterval() time.Duration
	// EvictAfter is the idle time after which a device is forgotten. Zero
	// disables eviction.
	EvictAfter() time.Duration
	MaintenanceCron() string
	// LogRetentionDays is how long device log entries are kept. Zero keeps
	// them forever.
	LogRetentionDays() int
	RecordSamples() bool
	PathLossExponent() float64
	DefaultCalibrationDuration() time.Duration
	AllowNonRootAccess() bool

	SetAlpha(float64)
	SetMargin(float64)
	SetDebounceCount(int)
	SetStaleTimeout(time.Duration)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
	LogrusFields() logrus.Fields
}
