package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/scan"
)

const (
	sourceRetryInitialInterval = 500 * time.Millisecond
	sourceRetryMaxInterval     = 30 * time.Second
)

func newSourceBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = sourceRetryInitialInterval
	b.MaxInterval = sourceRetryMaxInterval
	return b
}

// drainLoop pulls samples from the source until ctx is done. Source
// failures are retried with exponential backoff and never end the loop.
func (d *Daemon) drainLoop(ctx context.Context) {
	b := newSourceBackOff()

	for {
		s, err := d.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			wait := b.NextBackOff()
			entry := logrus.WithError(err).WithField("retryIn", wait)
			if errors.Is(err, scan.ErrSourceUnavailable) {
				entry.Warn("sample source unavailable")
			} else {
				entry.Error("failed to read sample")
			}
			d.sourceUp.Store(false)

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		if !d.sourceUp.Swap(true) {
			logrus.Info("sample source is up")
		}
		b.Reset()
		d.handleSample(ctx, s)
	}
}

// handleSample logs s to the device log if enabled, then routes it to the
// tracker or to a calibration window.
func (d *Daemon) handleSample(ctx context.Context, s scan.Sample) {
	d.samples.AddRecord(time.Now())

	if d.conf.RecordSamples() {
		if err := d.store.RecordSamples(ctx, s); err != nil && ctx.Err() == nil {
			logrus.WithError(err).WithField("deviceId", s.DeviceID).Warn("failed to record sample")
		}
	}

	d.dispatcher.Dispatch(s)
}

// sweepLoop forces silent devices to Absent. The interval is re-read from
// the config after every sweep, so a reload takes effect on the next tick.
func (d *Daemon) sweepLoop(ctx context.Context) {
	for {
		timer := time.NewTimer(d.conf.SweepInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case now := <-timer.C:
			if transitions := d.tracker.Sweep(now); len(transitions) > 0 {
				logrus.WithField("count", len(transitions)).Debug("sweep forced devices absent")
			}
		}
	}
}
