package daemon

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charlie0129/beacon/pkg/config"
)

func TestCronParse(t *testing.T) {
	schedule, err := config.CronParser.Parse("@every 1h")
	if err != nil {
		t.Fatalf("failed to parse cron expression: %v", err)
	}

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)

	if next2.Sub(next1) != time.Hour {
		t.Fatalf("expected runs one hour apart, got next1=%v next2=%v", next1, next2)
	}
}

// Every schedule the config accepts must be schedulable, and the other way
// round.
func TestSchedulerAcceptsConfigSchedules(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil)
	for _, expr := range []string{"@every 1h", "0 3 * * *", "30 0 3 * * *", "@daily"} {
		if err := config.ValidateCron(expr); err != nil {
			t.Fatalf("config rejected %q: %v", expr, err)
		}
		if err := s.Schedule(expr); err != nil {
			t.Fatalf("scheduler rejected %q: %v", expr, err)
		}
	}
	for _, expr := range []string{"every now and then", "* * * * * * *"} {
		if config.ValidateCron(expr) == nil {
			t.Fatalf("config accepted %q", expr)
		}
		if s.Schedule(expr) == nil {
			t.Fatalf("scheduler accepted %q", expr)
		}
	}
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(func() error { return nil }, nil)

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	next, running := s.Status()
	if running {
		t.Fatalf("scheduler should not be running")
	}
	if next.IsZero() {
		t.Fatalf("next run should be set after scheduling")
	}

	if err := s.Schedule("whenever"); err == nil {
		t.Fatalf("expected invalid expression to fail")
	}
}

func TestSchedulerRunCycle(t *testing.T) {
	taskCh := make(chan struct{}, 4)
	errCh := make(chan error, 1)

	task := func() error {
		taskCh <- struct{}{}
		return nil
	}
	onError := func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	}

	s := NewScheduler(task, onError)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not execute in time")
	}

	// The next run moves a full period ahead.
	deadline := time.Now().Add(time.Second)
	for {
		next, _ := s.Status()
		if time.Until(next) > 50*time.Minute {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("next run not advanced: %v", next)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if s.LastRun().IsZero() {
		t.Fatalf("LastRun should be set")
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestSchedulerRunNow(t *testing.T) {
	var runs int32
	errCh := make(chan error, 1)

	s := NewScheduler(func() error {
		atomic.AddInt32(&runs, 1)
		return errors.New("boom")
	}, func(data any) {
		if err, ok := data.(error); ok {
			errCh <- err
		}
	})

	if err := s.RunNow(); err == nil {
		t.Fatalf("RunNow should fail before Start")
	}

	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	before, _ := s.Status()

	s.Start()
	defer s.Stop()

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected task error")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected error callback from failed task")
	}

	if atomic.LoadInt32(&runs) != 1 {
		t.Fatalf("expected exactly one run, got %d", runs)
	}
	if after, _ := s.Status(); !after.Equal(before) {
		t.Fatalf("RunNow must not move the schedule: %v -> %v", before, after)
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs int32

	s := NewScheduler(func() error {
		atomic.AddInt32(&runs, 1)
		started <- struct{}{}
		<-release
		return nil
	}, nil)
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	s.Start()
	defer s.Stop()

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatalf("task did not start")
	}

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow returned error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)

	if got := atomic.LoadInt32(&runs); got != 1 {
		t.Fatalf("overlapping run was not skipped, runs = %d", got)
	}
}
