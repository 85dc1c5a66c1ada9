package presence

import (
	"fmt"
	"sort"
	"sync"
)

type entry struct {
	mu      sync.Mutex
	state   State
	evicted bool
}

// Store holds one State per device. The map lock only guards membership;
// each device's state has its own mutex.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Upsert atomically creates or updates the state of id. fn runs inside the
// device's critical section and must not call back into the Store. A newly
// created state reaches fn with SampleCount 0 and StatusUnknown.
func (s *Store) Upsert(id string, fn func(st *State)) State {
	for {
		e := s.getOrCreate(id)

		e.mu.Lock()
		if e.evicted {
			// Lost a race with Evict; start over on a fresh entry.
			e.mu.Unlock()
			continue
		}
		fn(&e.state)
		checkInvariants(id, &e.state)
		out := e.state
		e.mu.Unlock()

		return out
	}
}

// Update is like Upsert but never creates a state. It reports whether id
// was present.
func (s *Store) Update(id string, fn func(st *State)) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted {
		return false
	}
	fn(&e.state)
	checkInvariants(id, &e.state)
	return true
}

// Get returns a copy of the state of id. States without samples are not
// visible.
func (s *Store) Get(id string) (State, bool) {
	e := s.lookup(id)
	if e == nil {
		return State{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.evicted || e.state.SampleCount == 0 {
		return State{}, false
	}
	return e.state, true
}

// Snapshot returns copies of all states that have processed at least one
// sample, ordered by device id. Each copy is internally consistent.
func (s *Store) Snapshot() []State {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	states := make([]State, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.evicted && e.state.SampleCount > 0 {
			states = append(states, e.state)
		}
		e.mu.Unlock()
	}

	sort.Slice(states, func(i, j int) bool {
		return states[i].DeviceID < states[j].DeviceID
	})
	return states
}

// IDs returns the ids of all devices, in no particular order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Evict removes id permanently. It reports whether id was present.
func (s *Store) Evict(id string) bool {
	return s.EvictIf(id, func(State) bool { return true })
}

// EvictIf removes id if pred holds for its current state. The check and the
// removal are atomic with respect to Upsert.
func (s *Store) EvictIf(id string, pred func(State) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !pred(e.state) {
		return false
	}
	e.evicted = true
	delete(s.entries, id)
	return true
}

// Len returns the number of devices held, including ones still being
// created.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

func (s *Store) getOrCreate(id string) *entry {
	if e := s.lookup(id); e != nil {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e
	}
	e := &entry{state: State{DeviceID: id, Status: StatusUnknown}}
	s.entries[id] = e
	return e
}

// checkInvariants panics on states no correct writer can produce.
func checkInvariants(id string, st *State) {
	if st.DeviceID != id {
		panic(fmt.Sprintf("presence: state of %q rewritten to device %q", id, st.DeviceID))
	}
	if st.SampleCount > 0 && st.Status == "" {
		panic(fmt.Sprintf("presence: state of %q has no status", id))
	}
}
