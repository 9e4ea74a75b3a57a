package flow

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestSchedulerRunsDurationTask(t *testing.T) {
	s := NewScheduler(slog.Default())

	var runs atomic.Int32
	err := s.Add(MaintenanceTask{
		Name:     "sweep",
		Schedule: "10ms",
		Run: func(_ context.Context) error {
			runs.Add(1)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if runs.Load() == 0 {
		t.Fatal("task never ran")
	}
}

func TestSchedulerRejectsBadSchedule(t *testing.T) {
	s := NewScheduler(slog.Default())
	err := s.Add(MaintenanceTask{
		Name:     "bad",
		Schedule: "every other tuesday",
		Run:      func(_ context.Context) error { return nil },
	})
	if err == nil {
		t.Error("expected schedule parse error")
	}
}

func TestSchedulerRejectsNilRun(t *testing.T) {
	s := NewScheduler(slog.Default())
	if err := s.Add(MaintenanceTask{Name: "noop", Schedule: "1m"}); err == nil {
		t.Error("expected error for nil run function")
	}
}

func TestParseSchedule(t *testing.T) {
	if _, err := parseSchedule("*/5 * * * *"); err != nil {
		t.Errorf("cron expression rejected: %v", err)
	}
	if _, err := parseSchedule("30s"); err != nil {
		t.Errorf("duration rejected: %v", err)
	}
	if _, err := parseSchedule("@hourly"); err != nil {
		t.Errorf("descriptor rejected: %v", err)
	}
	if _, err := parseSchedule(""); err == nil {
		t.Error("empty schedule accepted")
	}
	if _, err := parseSchedule("-5s"); err == nil {
		t.Error("negative duration accepted")
	}
}

func TestSchedulerStopBeforeStart(t *testing.T) {
	s := NewScheduler(slog.Default())
	s.Stop() // should not panic
}

func TestSchedulerStopDrainsRunningTask(t *testing.T) {
	s := NewScheduler(slog.Default())

	running := make(chan struct{}, 1)
	err := s.Add(MaintenanceTask{
		Name:     "slow",
		Schedule: "10ms",
		Run: func(_ context.Context) error {
			select {
			case running <- struct{}{}:
			default:
			}
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start(context.Background())
	select {
	case <-running:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	// Stop must wait out in-flight runs while new firings keep asking the
	// scheduler for its context.
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return while a task was in flight")
	}
}
