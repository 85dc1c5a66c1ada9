package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/events"
	"github.com/charlie0129/beacon/pkg/presence"
	"github.com/charlie0129/beacon/pkg/scan"
)

// maxCalibrationDuration bounds a window requested over the API, which
// holds its http request open for the whole window.
const maxCalibrationDuration = 10 * time.Minute

var ErrPersistCalibration = errors.New("failed to persist calibration")

// loadProfiles installs the stored calibration profiles as references.
func (d *Daemon) loadProfiles(ctx context.Context) error {
	profiles, err := d.store.LatestCalibrations(ctx)
	if err != nil {
		return err
	}
	for _, p := range profiles {
		d.tracker.SetReference(p)
	}
	logrus.WithField("count", len(profiles)).Info("calibration profiles loaded")
	return nil
}

// calibrate runs one calibration window, persists the result and installs
// it as the device's reference. A result is only installed once it is
// stored, so a restart never loses a reference the tracker used.
func (d *Daemon) calibrate(ctx context.Context, deviceID string, duration time.Duration) (*calibration.Result, error) {
	deviceID = scan.NormalizeDeviceID(deviceID)

	d.hub.Publish(events.CalibrationStarted, events.CalibrationStartedEvent{
		DeviceID:        deviceID,
		DurationSeconds: int(duration / time.Second),
		Ts:              time.Now().Unix(),
	})

	res, err := d.calibrator.Calibrate(ctx, deviceID, duration)
	if err != nil {
		d.publishCalibrationFailure(deviceID, err)
		return nil, err
	}

	// The window may have been cut short by ctx; the readings are still
	// worth keeping.
	if err := d.store.SaveCalibration(context.WithoutCancel(ctx), *res); err != nil {
		err = fmt.Errorf("%w: %w", ErrPersistCalibration, err)
		d.publishCalibrationFailure(deviceID, err)
		return nil, err
	}
	d.tracker.SetReference(*res)

	d.hub.Publish(events.CalibrationResult, events.CalibrationResultEvent{
		ID:            res.ID,
		DeviceID:      res.DeviceID,
		ReferenceRSSI: res.ReferenceRSSI,
		SampleCount:   res.SampleCount,
		Variance:      res.Variance,
		Partial:       res.Partial,
		Ts:            res.ComputedAt.Unix(),
	})
	return res, nil
}

func (d *Daemon) publishCalibrationFailure(deviceID string, err error) {
	d.hub.Publish(events.CalibrationResult, events.CalibrationResultEvent{
		DeviceID: deviceID,
		Error:    err.Error(),
		Ts:       time.Now().Unix(),
	})
}

func (d *Daemon) publishCalibrationSample(s scan.Sample) {
	d.hub.Publish(events.CalibrationSample, events.CalibrationSampleEvent{
		DeviceID: s.DeviceID,
		RSSI:     s.RSSI,
		Ts:       s.Timestamp.Unix(),
	})
}

func (d *Daemon) publishTransition(tr presence.Transition) {
	d.hub.Publish(events.PresenceTransition, events.PresenceTransitionEvent{
		DeviceID:     tr.DeviceID,
		From:         string(tr.From),
		To:           string(tr.To),
		Reason:       string(tr.Reason),
		SmoothedRSSI: tr.SmoothedRSSI,
		Ts:           tr.At.Unix(),
	})
}
