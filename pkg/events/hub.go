package events

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultSubscriberBuffer is the channel size of a subscription.
const DefaultSubscriberBuffer = 64

type EventHub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewEventHub() *EventHub { return &EventHub{subs: make(map[chan Event]struct{})} }

func (h *EventHub) Subscribe() chan Event {
	ch := make(chan Event, DefaultSubscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *EventHub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (h *EventHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish marshals payload and fans it out. Slow subscribers miss events
// instead of blocking the publisher.
func (h *EventHub) Publish(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).WithField("event", name).Error("failed to marshal event payload")
		return
	}
	msg := Event{Name: name, Data: b}

	dropped := 0
	h.mu.RLock()
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	h.mu.RUnlock()

	if dropped > 0 {
		logrus.WithFields(logrus.Fields{
			"event":   name,
			"dropped": dropped,
		}).Debug("event dropped for slow subscribers")
	}
}
