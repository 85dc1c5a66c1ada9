package config

import (
	"math"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Setters on File panic on values rejected here, so callers taking user
// input validate first.

func ValidateAlpha(v float64) error {
	if math.IsNaN(v) || v <= 0 || v > 1 {
		return pkgerrors.Errorf("alpha must be in (0, 1], got %v", v)
	}
	return nil
}

func ValidateMargin(v float64) error {
	if math.IsNaN(v) || v < 0 {
		return pkgerrors.Errorf("margin must be non-negative, got %v", v)
	}
	return nil
}

func ValidateDebounceCount(v int) error {
	if v < 2 {
		return pkgerrors.Errorf("debounce count must be at least 2, got %d", v)
	}
	return nil
}

func ValidateStaleTimeout(v time.Duration) error {
	if v < time.Second {
		return pkgerrors.Errorf("stale timeout must be at least 1s, got %s", v)
	}
	return nil
}

// CronParser parses maintenance schedules: standard five-field expressions,
// an optional leading seconds field, and descriptors such as "@every 1h".
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks a maintenance schedule with CronParser.
func ValidateCron(spec string) error {
	if _, err := CronParser.Parse(spec); err != nil {
		return pkgerrors.Wrapf(err, "invalid maintenance schedule %q", spec)
	}
	return nil
}
