package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/scan"
)

// Calibrator runs calibration windows against a dispatcher. While a window
// is open the calibrator is the only consumer of its device's samples.
type Calibrator struct {
	dispatcher *scan.Dispatcher
	buffer     int
	now        func() time.Time

	// OnSample, if set, is called for every reading collected.
	OnSample func(scan.Sample)
}

func NewCalibrator(dispatcher *scan.Dispatcher) *Calibrator {
	return &Calibrator{
		dispatcher: dispatcher,
		buffer:     scan.DefaultTapBuffer,
		now:        time.Now,
	}
}

// Calibrate collects samples of deviceID for duration and returns their
// mean and variance.
//
// If ctx is done before the window elapses, the readings collected so far
// are returned as a Partial result; if there are none, ErrNoReadings.
func (c *Calibrator) Calibrate(ctx context.Context, deviceID string, duration time.Duration) (*Result, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidDuration, duration)
	}

	tap, err := c.dispatcher.Tap(deviceID, c.buffer)
	if err != nil {
		return nil, err
	}
	defer tap.Close()

	id := tap.DeviceID()
	log := logrus.WithFields(logrus.Fields{
		"deviceId": id,
		"duration": duration,
	})
	log.Info("calibration window opened")

	timer := time.NewTimer(duration)
	defer timer.Stop()

	var acc Accumulator
	partial := false

collect:
	for {
		select {
		case s, ok := <-tap.C():
			if !ok {
				break collect
			}
			if s.DeviceID != id {
				continue
			}
			acc.Add(float64(s.RSSI))
			log.WithField("rssi", s.RSSI).Trace("calibration reading")
			if c.OnSample != nil {
				c.OnSample(s)
			}
		case <-timer.C:
			break collect
		case <-ctx.Done():
			if acc.Count() == 0 {
				return nil, fmt.Errorf("%w %s: %w", ErrNoReadings, id, ctx.Err())
			}
			partial = true
			break collect
		}
	}

	if dropped := tap.Dropped(); dropped > 0 {
		log.WithField("dropped", dropped).Warn("calibration tap overflowed")
	}

	res, err := acc.Result(id, c.now())
	if err != nil {
		return nil, fmt.Errorf("%w %s", err, id)
	}
	res.Partial = partial

	fields := logrus.Fields{
		"referenceRssi": res.ReferenceRSSI,
		"variance":      res.Variance,
		"sampleCount":   res.SampleCount,
	}
	if partial {
		log.WithFields(fields).Warn("calibration cancelled early, result covers a partial window")
	} else {
		log.WithFields(fields).Info("calibration complete")
	}

	return res, nil
}
