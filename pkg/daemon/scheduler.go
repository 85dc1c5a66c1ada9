package daemon

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/beacon/pkg/config"
)

type NotifyFunc func(data any)

// TaskFunc represents a runnable task.
type TaskFunc func() error

// Scheduler runs Task on a cron schedule. Runs never overlap: a run that
// comes due while the previous one is still going is skipped.
type Scheduler struct {
	OnError NotifyFunc // called on task error
	Task    TaskFunc   // task callback

	parser cron.Parser

	schedule cron.Schedule
	nextRun  time.Time

	mu      sync.Mutex
	running bool
	busy    bool
	lastRun time.Time

	controlCh chan controlMsg
	stopCh    chan struct{}
}

// internal control kinds (not user visible events)
type controlKind int

const (
	ctrlRecalculate controlKind = iota // timer needs recalculation due to schedule change
	ctrlRunNow                         // run once right away, keeping the schedule
)

type controlMsg struct {
	kind controlKind
	data any
}

func NewScheduler(task TaskFunc, onError NotifyFunc) *Scheduler {
	if task == nil {
		panic("task function cannot be nil")
	}

	s := &Scheduler{
		OnError:   onError,
		Task:      task,
		parser:    config.CronParser,
		controlCh: make(chan controlMsg, 4),
		stopCh:    make(chan struct{}),
	}
	return s
}

func (s *Scheduler) Stop() {
	select {
	case <-s.stopCh: // already closed
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	go s.runScheduled()
}

func (s *Scheduler) Schedule(cronExpr string) error {
	sh, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	running := s.running
	if !running {
		s.schedule = sh
		s.nextRun = sh.Next(time.Now())
	}
	s.mu.Unlock()

	if running {
		s.trySendControl(ctrlRecalculate, sh)
	}
	return nil
}

// RunNow triggers one run without waiting for the schedule. It fails if
// the scheduler is not running.
func (s *Scheduler) RunNow() error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return fmt.Errorf("scheduler is not running")
	}

	s.trySendControl(ctrlRunNow, nil)
	return nil
}

func (s *Scheduler) Status() (nextRun time.Time, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nextRun = s.nextRun
	running = s.running
	return
}

// LastRun returns when the task was last started.
func (s *Scheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *Scheduler) runScheduled() {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		logrus.Debug("scheduler stopped")
	}()

	logrus.Debug("scheduler started")

	for {
		schedule, nextRun := s.snapshot()
		var timer *time.Timer
		if schedule == nil || nextRun.IsZero() {
			timer = time.NewTimer(time.Hour * 10000)
		} else {
			wait := time.Until(nextRun)
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
		}

		select {
		case <-timer.C:
			if schedule == nil || nextRun.IsZero() {
				continue
			}
			logrus.Debugf("running scheduled task at %s", nextRun.Format(time.DateTime))
			s.run()
			s.advanceNextRun()
		case <-s.stopCh:
			timer.Stop()
			return
		case msg := <-s.controlCh: // internal control messages
			timer.Stop()
			logrus.WithFields(logrus.Fields{
				"kind": msg.kind,
				"data": msg.data,
			}).Debug("received control msg")

			switch msg.kind {
			case ctrlRecalculate:
				sh := msg.data.(cron.Schedule)
				s.mu.Lock()
				s.schedule = sh
				s.nextRun = sh.Next(time.Now())
				s.mu.Unlock()
			case ctrlRunNow:
				s.run()
			}
		}
	}
}

func (s *Scheduler) run() {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		logrus.Warn("previous scheduled task still running, skipping this run")
		return
	}
	s.busy = true
	s.lastRun = time.Now()
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.busy = false
			s.mu.Unlock()
		}()
		if err := s.Task(); err != nil {
			s.sendError(fmt.Errorf("task failed: %v", err))
		}
	}()
}

func (s *Scheduler) snapshot() (cron.Schedule, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schedule, s.nextRun
}

// advanceNextRun moves nextRun past now, so runs missed while the host was
// asleep collapse into the one that just happened.
func (s *Scheduler) advanceNextRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schedule == nil {
		return
	}
	now := time.Now()
	next := s.schedule.Next(s.nextRun)
	for !next.After(now) {
		next = s.schedule.Next(next)
	}
	s.nextRun = next
}

func (s *Scheduler) sendError(err error) {
	if s.OnError == nil {
		return
	}

	go s.OnError(err)
}

func (s *Scheduler) trySendControl(kind controlKind, data any) {
	select {
	case s.controlCh <- controlMsg{kind: kind, data: data}:
	default:
	}
}
