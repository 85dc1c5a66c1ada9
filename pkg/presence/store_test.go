package presence

import (
	"fmt"
	"sync"
	"testing"
)

func TestStoreUpsertAndSnapshot(t *testing.T) {
	s := NewStore()

	created := false
	st := s.Upsert("b", func(st *State) {
		created = st.SampleCount == 0 && st.Status == StatusUnknown
		st.SampleCount++
		st.SmoothedRSSI = -50
	})
	if !created {
		t.Fatalf("new state should start empty and Unknown")
	}
	if st.DeviceID != "b" || st.SampleCount != 1 {
		t.Fatalf("Upsert returned %+v", st)
	}
	s.Upsert("a", func(st *State) { st.SampleCount++ })

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].DeviceID != "a" || snap[1].DeviceID != "b" {
		t.Fatalf("Snapshot = %+v, want a, b", snap)
	}

	// Mutating the copy does not leak into the store.
	snap[1].SmoothedRSSI = 0
	if got, _ := s.Get("b"); got.SmoothedRSSI != -50 {
		t.Fatalf("snapshot copy aliased store state")
	}
}

func TestStoreHidesStatesWithoutSamples(t *testing.T) {
	s := NewStore()
	s.Upsert("ghost", func(*State) {})

	if _, ok := s.Get("ghost"); ok {
		t.Fatalf("state without samples must not be visible")
	}
	if snap := s.Snapshot(); len(snap) != 0 {
		t.Fatalf("Snapshot = %+v, want empty", snap)
	}
}

func TestStoreUpdateDoesNotCreate(t *testing.T) {
	s := NewStore()
	if s.Update("d1", func(st *State) { st.SampleCount++ }) {
		t.Fatalf("Update created a missing device")
	}
	if s.Len() != 0 {
		t.Fatalf("Len = %d, want 0", s.Len())
	}
}

func TestStoreEvict(t *testing.T) {
	s := NewStore()
	s.Upsert("d1", func(st *State) { st.SampleCount++ })

	if s.EvictIf("d1", func(st State) bool { return st.SampleCount > 5 }) {
		t.Fatalf("EvictIf evicted despite false predicate")
	}
	if !s.Evict("d1") {
		t.Fatalf("Evict reported missing device")
	}
	if s.Evict("d1") {
		t.Fatalf("second Evict should report missing device")
	}
	if _, ok := s.Get("d1"); ok {
		t.Fatalf("evicted device still visible")
	}

	// A later sample starts a fresh state.
	st := s.Upsert("d1", func(st *State) { st.SampleCount++ })
	if st.SampleCount != 1 {
		t.Fatalf("recreated state = %+v", st)
	}
}

func TestStoreRejectsRewrittenDeviceID(t *testing.T) {
	s := NewStore()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on rewritten device id")
		}
	}()
	s.Upsert("d1", func(st *State) { st.DeviceID = "d2" })
}

func TestStoreConcurrentUpserts(t *testing.T) {
	s := NewStore()
	const (
		devices = 8
		writes  = 500
	)

	var wg sync.WaitGroup
	for d := 0; d < devices; d++ {
		id := fmt.Sprintf("d%d", d)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < writes; i++ {
					s.Upsert(id, func(st *State) {
						st.SampleCount++
						st.LastRSSI = int(st.SampleCount)
					})
				}
			}()
		}
	}

	// Readers and an evictor running alongside the writers.
	stop := make(chan struct{})
	var readers sync.WaitGroup
	readers.Add(1)
	go func() {
		defer readers.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			for _, st := range s.Snapshot() {
				if int64(st.LastRSSI) != st.SampleCount {
					t.Errorf("torn state observed: %+v", st)
					return
				}
			}
		}
	}()

	wg.Wait()
	close(stop)
	readers.Wait()

	for d := 0; d < devices; d++ {
		st, ok := s.Get(fmt.Sprintf("d%d", d))
		if !ok {
			t.Fatalf("device d%d missing", d)
		}
		if st.SampleCount != 4*writes {
			t.Fatalf("device d%d SampleCount = %d, want %d", d, st.SampleCount, 4*writes)
		}
	}
}
