/*
scheduler.go - Daily accrual job scheduler

PURPOSE:
  Fires the daily accrual run once per day after the configured local run
  hour (default 09:00 America/Recife). The run transitions overdue PENDING
  invoices to LATE and recomputes late fees and interest on every LATE
  invoice.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A tick only triggers the job when the run hour has passed in the job's
    timezone and the job has not yet run that calendar day
  - The last-run day is seeded from the run log on startup, so restarting
    the server does not double-run the job
  - Re-running the same day is harmless anyway (accruals are recomputed,
    never accumulated), the guard just avoids noise

USAGE:
  scheduler := NewAccrualScheduler(handler.Service)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - tuition/job.go: RunDailyAccrual
  - handlers.go: RunAccrual endpoint (manual trigger)
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/newmusic/tuition-engine/billing"
	"github.com/newmusic/tuition-engine/tuition"
)

// AccrualScheduler drives the daily accrual job.
type AccrualScheduler struct {
	Service       *tuition.Service
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	// lastRun has its own lock; checkAndRun must not contend with Stop,
	// which holds mu while waiting for the goroutine to exit.
	runMu   sync.Mutex
	lastRun billing.Date
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(service *tuition.Service) *AccrualScheduler {
	return &AccrualScheduler{
		Service:       service,
		CheckInterval: 10 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *AccrualScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	as.seedLastRun()

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started, run hour %02d:00 %s, check interval %v",
		as.Service.Schedule.RunHour, as.Service.Schedule.Location, as.CheckInterval)
}

// Stop stops the scheduler.
func (as *AccrualScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (as *AccrualScheduler) run() {
	defer as.wg.Done()

	// Check immediately on start
	as.checkAndRun()

	for {
		select {
		case <-as.ticker.C:
			as.checkAndRun()
		case <-as.stop:
			return
		}
	}
}

// seedLastRun recovers the last completed run day from the run log so a
// restart after the run hour does not re-fire the job.
func (as *AccrualScheduler) seedLastRun() {
	if as.Service.RunLog == nil {
		return
	}
	runs, err := as.Service.RunLog.ListAccrualRuns(context.Background(), 1)
	if err != nil || len(runs) == 0 {
		return
	}
	if runs[0].Status == "completed" {
		as.lastRun = as.Service.Schedule.Today(runs[0].StartedAt)
	}
}

func (as *AccrualScheduler) checkAndRun() {
	now := as.Service.Clock.Now()
	local := now.In(as.Service.Schedule.Location)
	if local.Hour() < as.Service.Schedule.RunHour {
		return
	}

	today := as.Service.Schedule.Today(now)

	as.runMu.Lock()
	alreadyRan := as.lastRun.Equal(today)
	as.runMu.Unlock()
	if alreadyRan {
		return
	}

	result, err := as.Service.RunDailyAccrual(context.Background())
	if err != nil {
		log.Printf("[Scheduler] Accrual run failed: %v", err)
		return
	}

	as.runMu.Lock()
	as.lastRun = today
	as.runMu.Unlock()

	log.Printf("[Scheduler] Accrual run for %s: %d transitioned, %d recomputed",
		today, result.Transitioned, result.Recomputed)
}

// RunNow triggers an immediate check (for testing/admin).
func (as *AccrualScheduler) RunNow() {
	as.checkAndRun()
}
