package presence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/calibration"
	"github.com/charlie0129/beacon/pkg/scan"
)

// Tracker maintains per-device presence state in a Store.
type Tracker struct {
	store *Store
	now   func() time.Time

	onTransition func(Transition)

	mu     sync.RWMutex
	params Params
	refs   map[string]calibration.Result
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTransitionHook registers fn to be called after every committed
// transition, outside of any lock.
func WithTransitionHook(fn func(Transition)) Option {
	return func(t *Tracker) { t.onTransition = fn }
}

// WithClock replaces time.Now. The clock stamps samples that carry no
// timestamp and records when each sample was received, which is what Sweep
// and EvictIdle compare against.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func NewTracker(store *Store, params Params, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		now:    time.Now,
		params: params.normalized(),
		refs:   make(map[string]calibration.Result),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Params returns the parameters in effect.
func (t *Tracker) Params() Params {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.params
}

// SetParams replaces the parameters. Smoothed values and debounce counters
// carry over.
func (t *Tracker) SetParams(p Params) {
	p = p.normalized()
	t.mu.Lock()
	t.params = p
	t.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"alpha":         p.Alpha,
		"margin":        p.Margin,
		"debounceCount": p.DebounceCount,
		"staleTimeout":  p.StaleTimeout,
	}).Debug("presence parameters updated")
}

// SetReference installs res as the reference of its device, superseding any
// earlier one. The device's status is not changed until its next sample.
func (t *Tracker) SetReference(res calibration.Result) {
	id := scan.NormalizeDeviceID(res.DeviceID)
	res.DeviceID = id

	t.mu.Lock()
	t.refs[id] = res
	t.mu.Unlock()

	t.store.Update(id, func(st *State) {
		st.Calibrated = true
		st.ReferenceRSSI = res.ReferenceRSSI
	})

	logrus.WithFields(logrus.Fields{
		"deviceId":      id,
		"referenceRssi": res.ReferenceRSSI,
	}).Info("calibration reference installed")
}

// Reference returns the reference of deviceID, if any.
func (t *Tracker) Reference(deviceID string) (calibration.Result, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res, ok := t.refs[scan.NormalizeDeviceID(deviceID)]
	return res, ok
}

// References returns all installed references ordered by device id.
func (t *Tracker) References() []calibration.Result {
	t.mu.RLock()
	refs := make([]calibration.Result, 0, len(t.refs))
	for _, r := range t.refs {
		refs = append(refs, r)
	}
	t.mu.RUnlock()

	sort.Slice(refs, func(i, j int) bool { return refs[i].DeviceID < refs[j].DeviceID })
	return refs
}

// Observe processes one sample and returns the resulting state. Samples of
// a device must be observed in the order they were produced.
func (t *Tracker) Observe(s scan.Sample) State {
	s.DeviceID = scan.NormalizeDeviceID(s.DeviceID)
	received := t.now()
	if s.Timestamp.IsZero() {
		s.Timestamp = received
	}
	params := t.Params()
	ref, calibrated := t.Reference(s.DeviceID)

	var (
		tr        Transition
		committed bool
	)
	st := t.store.Upsert(s.DeviceID, func(st *State) {
		rssi := float64(s.RSSI)
		if st.SampleCount == 0 {
			st.SmoothedRSSI = rssi
		} else {
			st.SmoothedRSSI = params.Alpha*rssi + (1-params.Alpha)*st.SmoothedRSSI
		}
		st.SampleCount++
		st.LastRSSI = s.RSSI
		st.LastSampleAt = s.Timestamp
		st.receivedAt = received
		st.Stale = false

		if !calibrated {
			// No reference point: keep smoothing, infer nothing.
			st.Calibrated = false
			st.ReferenceRSSI = 0
			st.EstimatedDistance = 0
			return
		}

		st.Calibrated = true
		st.ReferenceRSSI = ref.ReferenceRSSI
		st.EstimatedDistance = EstimateDistance(ref.ReferenceRSSI, st.SmoothedRSSI, params.PathLossExponent)

		candidate := StatusAbsent
		if st.SmoothedRSSI >= ref.ReferenceRSSI-params.Margin {
			candidate = StatusPresent
		}
		tr, committed = st.debounce(candidate, params.DebounceCount, s.Timestamp, ReasonDebounce)
	})

	logrus.WithFields(logrus.Fields{
		"deviceId": s.DeviceID,
		"rssi":     s.RSSI,
		"smoothed": st.SmoothedRSSI,
		"status":   st.Status,
	}).Trace("sample observed")

	if committed {
		t.emit(tr)
	}
	return st
}

// Sweep marks devices that have been silent for longer than the stale
// timeout, measured on the tracker's clock from when their last sample was
// received. Calibrated ones are forced to Absent regardless of their
// debounce counters; uncalibrated ones keep StatusUnknown.
func (t *Tracker) Sweep(now time.Time) []Transition {
	params := t.Params()

	var transitions []Transition
	for _, id := range t.store.IDs() {
		_, calibrated := t.Reference(id)

		var (
			tr        Transition
			committed bool
			marked    bool
		)
		t.store.Update(id, func(st *State) {
			if st.SampleCount == 0 || now.Sub(st.receivedAt) <= params.StaleTimeout {
				return
			}
			if !st.Stale {
				st.Stale = true
				marked = true
			}
			st.pendingStatus = ""
			st.pendingCount = 0
			if !calibrated || st.Status == StatusAbsent {
				return
			}
			tr = st.commit(StatusAbsent, now, ReasonStale)
			committed = true
		})

		if marked {
			logrus.WithField("deviceId", id).Debug("device went stale")
		}
		if committed {
			transitions = append(transitions, tr)
			t.emit(tr)
		}
	}
	return transitions
}

// EvictIdle removes devices whose last sample was received longer than
// after ago, and returns their ids. after <= 0 disables eviction.
func (t *Tracker) EvictIdle(now time.Time, after time.Duration) []string {
	if after <= 0 {
		return nil
	}

	var evicted []string
	for _, id := range t.store.IDs() {
		ok := t.store.EvictIf(id, func(st State) bool {
			return st.SampleCount > 0 && now.Sub(st.receivedAt) > after
		})
		if ok {
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// Query returns the state of deviceID, or ErrUnknownDevice if it has never
// been observed.
func (t *Tracker) Query(deviceID string) (State, error) {
	id := scan.NormalizeDeviceID(deviceID)
	st, ok := t.store.Get(id)
	if !ok {
		return State{}, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	return st, nil
}

// QueryAll returns the states of all observed devices ordered by id.
func (t *Tracker) QueryAll() []State {
	return t.store.Snapshot()
}

// Len returns the number of tracked devices.
func (t *Tracker) Len() int {
	return t.store.Len()
}

// Evict removes deviceID, e.g. when an operator stops tracking it.
func (t *Tracker) Evict(deviceID string) error {
	id := scan.NormalizeDeviceID(deviceID)
	if !t.store.Evict(id) {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}
	logrus.WithField("deviceId", id).Info("device evicted")
	return nil
}

func (t *Tracker) emit(tr Transition) {
	logrus.WithFields(logrus.Fields{
		"deviceId": tr.DeviceID,
		"from":     tr.From,
		"to":       tr.To,
		"reason":   tr.Reason,
		"smoothed": tr.SmoothedRSSI,
	}).Info("presence changed")

	if t.onTransition != nil {
		t.onTransition(tr)
	}
}
