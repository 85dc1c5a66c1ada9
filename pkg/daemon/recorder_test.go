package daemon

import (
	"testing"
	"time"
)

func TestTimeSeriesRecorder(t *testing.T) {
	now := time.Now()
	r := NewTimeSeriesRecorder(3)

	if !r.GetLastRecord().IsZero() {
		t.Fatalf("empty recorder should have no last record")
	}

	for _, ago := range []time.Duration{90 * time.Second, 50 * time.Second, 20 * time.Second, 5 * time.Second} {
		r.AddRecord(now.Add(-ago))
	}

	tests := []struct {
		name string
		last time.Duration
		want int
	}{
		{"last 10s", 10 * time.Second, 1},
		{"last minute", time.Minute, 3},
		// The oldest record was dropped when the fourth one arrived.
		{"last 2 minutes", 2 * time.Minute, 3},
		{"nothing that recent", time.Second, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.CountIn(now, tt.last); got != tt.want {
				t.Fatalf("CountIn(%s) = %d, want %d", tt.last, got, tt.want)
			}
		})
	}

	if got := r.GetLastRecord(); !got.Equal(now.Add(-5 * time.Second)) {
		t.Fatalf("GetLastRecord = %v", got)
	}

	r.ClearRecords()
	if r.CountIn(now, time.Hour) != 0 {
		t.Fatalf("records not cleared")
	}
}
