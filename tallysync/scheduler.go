package tallysync

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mmdatafocus/tallysync_backend/config"
	"github.com/mmdatafocus/tallysync_backend/models"
)

const (
	minSyncIntervalMinutes = 1
	maxSyncIntervalMinutes = 1440
)

type scheduleEntry struct {
	interval time.Duration
	stop     chan struct{}
}

// Scheduler runs periodic syncs, one goroutine per active company. At most
// one sync per company runs at a time: a tick or manual trigger that lands
// while a run is still in flight is skipped, not queued.
type Scheduler struct {
	mu       sync.Mutex
	entries  map[uint]*scheduleEntry
	inFlight map[uint]*atomic.Bool
	started  bool
	syncFn   func(ctx context.Context, companyId uint)
}

func NewScheduler(syncFn func(ctx context.Context, companyId uint)) *Scheduler {
	return &Scheduler{
		entries:  make(map[uint]*scheduleEntry),
		inFlight: make(map[uint]*atomic.Bool),
		syncFn:   syncFn,
	}
}

// StartAll schedules every active company. Safe to call once at boot;
// subsequent calls are no-ops.
func (s *Scheduler) StartAll(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	companies, err := models.ListActiveCompanies(ctx)
	if err != nil {
		return err
	}
	for _, company := range companies {
		s.ScheduleCompany(company.ID, company.SyncIntervalMinutes)
	}
	config.GetLogger().WithField("module", "tallysync").
		Infof("scheduler started with %d company schedule(s)", len(companies))
	return nil
}

// ScheduleCompany (re)registers a company's periodic sync. An existing
// schedule for the same company is replaced; the interval is clamped to
// [1, 1440] minutes.
func (s *Scheduler) ScheduleCompany(companyId uint, intervalMinutes int) {
	if intervalMinutes < minSyncIntervalMinutes {
		intervalMinutes = minSyncIntervalMinutes
	}
	if intervalMinutes > maxSyncIntervalMinutes {
		intervalMinutes = maxSyncIntervalMinutes
	}
	interval := time.Duration(intervalMinutes) * time.Minute

	s.mu.Lock()
	if existing, ok := s.entries[companyId]; ok {
		close(existing.stop)
	}
	entry := &scheduleEntry{interval: interval, stop: make(chan struct{})}
	s.entries[companyId] = entry
	if _, ok := s.inFlight[companyId]; !ok {
		s.inFlight[companyId] = &atomic.Bool{}
	}
	s.mu.Unlock()

	go s.runLoop(companyId, entry)
	config.GetLogger().WithField("module", "tallysync").
		Infof("scheduled company %d every %s", companyId, interval)
}

// RemoveCompanySchedule stops the company's periodic sync. No-op when the
// company was never scheduled.
func (s *Scheduler) RemoveCompanySchedule(companyId uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[companyId]; ok {
		close(entry.stop)
		delete(s.entries, companyId)
	}
}

// TriggerSync starts a sync now, without waiting for the next tick. The
// run is fire-and-forget; overlap with an in-flight run is skipped.
func (s *Scheduler) TriggerSync(companyId uint) {
	go s.runOnce(companyId)
}

// Stop cancels every schedule. In-flight runs finish on their own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for companyId, entry := range s.entries {
		close(entry.stop)
		delete(s.entries, companyId)
	}
}

func (s *Scheduler) runLoop(companyId uint, entry *scheduleEntry) {
	ticker := time.NewTicker(entry.interval)
	defer ticker.Stop()
	for {
		select {
		case <-entry.stop:
			return
		case <-ticker.C:
			s.runOnce(companyId)
		}
	}
}

func (s *Scheduler) runOnce(companyId uint) {
	s.mu.Lock()
	flag, ok := s.inFlight[companyId]
	if !ok {
		flag = &atomic.Bool{}
		s.inFlight[companyId] = flag
	}
	s.mu.Unlock()

	if !flag.CompareAndSwap(false, true) {
		config.GetLogger().WithField("module", "tallysync").
			Infof("sync for company %d still running, skipping this run", companyId)
		return
	}
	defer flag.Store(false)

	s.syncFn(context.Background(), companyId)
}
