package calibration

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/charlie0129/beacon/pkg/scan"
)

// feed dispatches samples once the calibrator's tap is open.
func feed(t *testing.T, d *scan.Dispatcher, deviceID string, samples []scan.Sample) {
	t.Helper()
	go func() {
		deadline := time.Now().Add(time.Second)
		for !d.Tapped(deviceID) {
			if time.Now().After(deadline) {
				return
			}
			time.Sleep(time.Millisecond)
		}
		for _, s := range samples {
			d.Dispatch(s)
		}
	}()
}

func TestCalibrateCollectsOnlyTarget(t *testing.T) {
	var others []scan.Sample
	d := scan.NewDispatcher(func(s scan.Sample) { others = append(others, s) })
	c := NewCalibrator(d)

	var seen int
	c.OnSample = func(scan.Sample) { seen++ }

	feed(t, d, "d1", []scan.Sample{
		{DeviceID: "d1", RSSI: -40},
		{DeviceID: "d2", RSSI: -90},
		{DeviceID: "d1", RSSI: -42},
		{DeviceID: "d1", RSSI: -41},
		{DeviceID: "d1", RSSI: -43},
		{DeviceID: "d1", RSSI: -40},
	})

	res, err := c.Calibrate(context.Background(), "D1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if res.SampleCount != 5 {
		t.Fatalf("SampleCount = %d, want 5", res.SampleCount)
	}
	if math.Abs(res.ReferenceRSSI-(-41.2)) > tolerance {
		t.Fatalf("ReferenceRSSI = %v, want -41.2", res.ReferenceRSSI)
	}
	if res.Partial {
		t.Fatalf("full window should not be partial")
	}
	if seen != 5 {
		t.Fatalf("OnSample called %d times, want 5", seen)
	}
	if len(others) != 1 || others[0].DeviceID != "d2" {
		t.Fatalf("other devices should reach the handler, got %+v", others)
	}
	if d.Tapped("d1") {
		t.Fatalf("tap should be released after the window")
	}
}

func TestCalibrateNoReadings(t *testing.T) {
	c := NewCalibrator(scan.NewDispatcher(nil))

	res, err := c.Calibrate(context.Background(), "d1", 20*time.Millisecond)
	if !errors.Is(err, ErrNoReadings) {
		t.Fatalf("error = %v, want ErrNoReadings", err)
	}
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
}

func TestCalibrateInvalidDuration(t *testing.T) {
	c := NewCalibrator(scan.NewDispatcher(nil))
	for _, d := range []time.Duration{0, -time.Second} {
		if _, err := c.Calibrate(context.Background(), "d1", d); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("Calibrate(%s) error = %v, want ErrInvalidDuration", d, err)
		}
	}
}

func TestCalibrateCancelledBeforeAnySample(t *testing.T) {
	c := NewCalibrator(scan.NewDispatcher(nil))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Calibrate(ctx, "d1", time.Minute)
	if !errors.Is(err, ErrNoReadings) {
		t.Fatalf("error = %v, want ErrNoReadings", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, should carry the cancellation cause", err)
	}
}

func TestCalibrateCancelledAfterSamplesIsPartial(t *testing.T) {
	d := scan.NewDispatcher(nil)
	c := NewCalibrator(d)

	ctx, cancel := context.WithCancel(context.Background())
	c.OnSample = func(scan.Sample) { cancel() }

	feed(t, d, "d1", []scan.Sample{{DeviceID: "d1", RSSI: -50}})

	res, err := c.Calibrate(ctx, "d1", time.Minute)
	if err != nil {
		t.Fatalf("Calibrate failed: %v", err)
	}
	if !res.Partial || res.SampleCount != 1 || res.ReferenceRSSI != -50 {
		t.Fatalf("unexpected partial result: %+v", res)
	}
}

func TestCalibrateRejectsConcurrentRunOnSameDevice(t *testing.T) {
	d := scan.NewDispatcher(nil)
	c := NewCalibrator(d)

	tap, err := d.Tap("d1", 0)
	if err != nil {
		t.Fatalf("Tap failed: %v", err)
	}
	defer tap.Close()

	if _, err := c.Calibrate(context.Background(), "d1", time.Second); !errors.Is(err, scan.ErrTapInUse) {
		t.Fatalf("error = %v, want scan.ErrTapInUse", err)
	}
}
