package calibration

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Accumulator keeps a running mean and variance (Welford's method), so long
// windows neither overflow nor lose precision to a huge running sum.
type Accumulator struct {
	n    int
	mean float64
	m2   float64
}

// Add folds one reading in.
func (a *Accumulator) Add(x float64) {
	a.n++
	delta := x - a.mean
	a.mean += delta / float64(a.n)
	a.m2 += delta * (x - a.mean)
}

func (a *Accumulator) Count() int { return a.n }

func (a *Accumulator) Mean() float64 { return a.mean }

// Variance returns the sample variance (n-1 denominator). It is zero for
// fewer than two readings.
func (a *Accumulator) Variance() float64 {
	if a.n < 2 {
		return 0
	}
	return a.m2 / float64(a.n-1)
}

// Result turns the accumulated readings into a Result. It fails with
// ErrNoReadings if nothing was added.
func (a *Accumulator) Result(deviceID string, at time.Time) (*Result, error) {
	if a.n == 0 {
		return nil, ErrNoReadings
	}
	return &Result{
		ID:            uuid.New().String(),
		DeviceID:      deviceID,
		ReferenceRSSI: a.Mean(),
		SampleCount:   a.n,
		Variance:      a.Variance(),
		ComputedAt:    at,
	}, nil
}

// Compute calibrates from readings that were already collected.
func Compute(deviceID string, rssis []int, at time.Time) (*Result, error) {
	var acc Accumulator
	for _, v := range rssis {
		acc.Add(float64(v))
	}
	return acc.Result(deviceID, at)
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
