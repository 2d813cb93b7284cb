package tallysync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunOnceSkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	var runs atomic.Int32

	s := NewScheduler(func(ctx context.Context, companyId uint) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	})

	go s.runOnce(1)
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first run never started")
	}

	// A run triggered while the first is still in flight must be skipped,
	// not queued.
	s.runOnce(1)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected overlapping run to be skipped; got %d runs", got)
	}

	close(release)

	// After the first run finishes the company can sync again.
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("follow-up run never started")
		}
		s.runOnce(1)
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunOnceIsPerCompany(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	var runs atomic.Int32

	s := NewScheduler(func(ctx context.Context, companyId uint) {
		runs.Add(1)
		started <- struct{}{}
		<-release
	})

	go s.runOnce(1)
	go s.runOnce(2)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatalf("companies must not block each other")
		}
	}
	close(release)
	if got := runs.Load(); got != 2 {
		t.Fatalf("expected both companies to run; got %d", got)
	}
}

func TestScheduleCompanyClampsInterval(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, companyId uint) {})
	defer s.Stop()

	s.ScheduleCompany(1, 0)
	s.ScheduleCompany(2, 99999)

	s.mu.Lock()
	defer s.mu.Unlock()
	if got := s.entries[1].interval; got != time.Minute {
		t.Fatalf("interval below minimum must clamp to 1m; got %s", got)
	}
	if got := s.entries[2].interval; got != 1440*time.Minute {
		t.Fatalf("interval above maximum must clamp to 1440m; got %s", got)
	}
}

func TestScheduleCompanyReplacesExisting(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, companyId uint) {})
	defer s.Stop()

	s.ScheduleCompany(1, 5)
	s.mu.Lock()
	first := s.entries[1]
	s.mu.Unlock()

	s.ScheduleCompany(1, 10)
	s.mu.Lock()
	second := s.entries[1]
	s.mu.Unlock()

	if first == second {
		t.Fatalf("rescheduling must replace the entry")
	}
	select {
	case <-first.stop:
	case <-time.After(time.Second):
		t.Fatalf("old schedule was not stopped")
	}
	if second.interval != 10*time.Minute {
		t.Fatalf("new interval = %s", second.interval)
	}
}

func TestRemoveCompanyScheduleIsIdempotent(t *testing.T) {
	s := NewScheduler(func(ctx context.Context, companyId uint) {})

	// Removing a company that was never scheduled must not panic.
	s.RemoveCompanySchedule(42)

	s.ScheduleCompany(1, 5)
	s.RemoveCompanySchedule(1)
	s.RemoveCompanySchedule(1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[1]; ok {
		t.Fatalf("schedule still registered after removal")
	}
}
