package scan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// DefaultTapBuffer is the number of samples a calibration tap holds before
// dropping.
const DefaultTapBuffer = 256

// Handler consumes samples that no tap claimed.
type Handler func(Sample)

// Dispatcher routes each sample to exactly one consumer. A device with an
// open Tap has its samples delivered to that tap only; everything else goes
// to the handler.
type Dispatcher struct {
	handler Handler

	mu   sync.RWMutex
	taps map[string]*Tap
}

func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		taps:    make(map[string]*Tap),
	}
}

// Tap diverts the samples of deviceID away from the handler until the tap
// is closed. Only one tap per device may be open; a second one fails with
// ErrTapInUse.
func (d *Dispatcher) Tap(deviceID string, buffer int) (*Tap, error) {
	id := NormalizeDeviceID(deviceID)
	if id == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if buffer <= 0 {
		buffer = DefaultTapBuffer
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.taps[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTapInUse, id)
	}

	t := &Tap{
		deviceID: id,
		ch:       make(chan Sample, buffer),
		d:        d,
	}
	d.taps[id] = t
	return t, nil
}

// Tapped reports whether deviceID currently has an open tap.
func (d *Dispatcher) Tapped(deviceID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.taps[NormalizeDeviceID(deviceID)]
	return ok
}

// Dispatch delivers s to its tap or to the handler. It never blocks on a
// slow tap; samples that do not fit are dropped and counted.
func (d *Dispatcher) Dispatch(s Sample) {
	d.mu.RLock()
	t, ok := d.taps[s.DeviceID]
	if ok {
		select {
		case t.ch <- s:
		default:
			n := t.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"deviceId": s.DeviceID,
				"dropped":  n,
			}).Warn("calibration tap is full, dropping sample")
		}
	}
	d.mu.RUnlock()

	if !ok && d.handler != nil {
		d.handler(s)
	}
}

// Tap receives the samples of a single device.
type Tap struct {
	deviceID string
	ch       chan Sample
	d        *Dispatcher
	once     sync.Once
	dropped  atomic.Int64
}

func (t *Tap) DeviceID() string { return t.deviceID }

// C returns the channel samples are delivered on. It is closed by Close.
func (t *Tap) C() <-chan Sample { return t.ch }

// Dropped returns the number of samples lost because the tap was full.
func (t *Tap) Dropped() int64 { return t.dropped.Load() }

// Close detaches the tap. Samples of the device flow to the handler again.
func (t *Tap) Close() {
	t.once.Do(func() {
		t.d.mu.Lock()
		delete(t.d.taps, t.deviceID)
		close(t.ch)
		t.d.mu.Unlock()
	})
}
