package scan

import "context"

// DefaultPushBuffer is the number of pushed samples held before Push starts
// rejecting.
const DefaultPushBuffer = 1024

// PushSource is a Source fed in-process by Push.
type PushSource struct {
	ch chan Sample
}

func NewPushSource(size int) *PushSource {
	if size <= 0 {
		size = DefaultPushBuffer
	}
	return &PushSource{ch: make(chan Sample, size)}
}

// Push enqueues s without blocking. It returns ErrBackpressure if the
// consumer has fallen behind.
func (p *PushSource) Push(s Sample) error {
	select {
	case p.ch <- s:
		return nil
	default:
		return ErrBackpressure
	}
}

func (p *PushSource) Next(ctx context.Context) (Sample, error) {
	select {
	case <-ctx.Done():
		return Sample{}, ctx.Err()
	case s := <-p.ch:
		return s, nil
	}
}
