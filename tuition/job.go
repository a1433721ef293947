/*
job.go - Daily accrual run

PURPOSE:
  The once-a-day batch that advances invoice status and recomputes late
  fees and interest:

    1. Every PENDING invoice whose due date is strictly before today
       (calendar today in the job's timezone) becomes LATE, with its first
       accrual computed. One batch, one transaction.
    2. Every LATE invoice - including the ones just transitioned - gets a
       fresh accrual computation against the same reference date. Second
       batch, second transaction.

  Step 1 commits before step 2 selects, so step 2 always operates on the
  complete LATE set.

IDEMPOTENCE:
  The accrual computation is recompute-from-scratch, and the reference date
  only advances once per day (after the run hour), so re-running the job on
  the same day reproduces identical invoice state. PAID invoices are never
  selected by either step.

FAILURE:
  A failed run logs and returns; nothing retries internally. The next
  scheduled trigger recomputes everything, so partial success self-heals.
*/
package tuition

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/newmusic/tuition-engine/billing"
)

// AccrualResult reports what one daily run did. Counts are for logging.
type AccrualResult struct {
	Transitioned int
	Recomputed   int
}

// RunDailyAccrual executes the daily batch. Safe to re-run; see package doc.
func (s *Service) RunDailyAccrual(ctx context.Context) (AccrualResult, error) {
	now := s.Clock.Now()
	today := s.Schedule.Today(now)
	reference := s.Schedule.ReferenceDate(now)

	run := billing.AccrualRun{
		ID:            fmt.Sprintf("run-%d", now.UnixNano()),
		StartedAt:     now.UTC(),
		ReferenceDate: reference,
		Status:        "running",
	}
	s.saveRun(ctx, run)

	var result AccrualResult

	// Step 1: transition overdue PENDING invoices to LATE with their first
	// accrual. Status and fee/interest commit together.
	err := s.Store.WithTx(ctx, func(tx billing.Store) error {
		overdue, err := tx.ListPendingDueBefore(ctx, today)
		if err != nil {
			return err
		}
		for i := range overdue {
			overdue[i].Status = billing.StatusLate
			overdue[i].ApplyAccrual(reference)
		}
		if len(overdue) == 0 {
			return nil
		}
		if err := tx.SaveInvoices(ctx, overdue); err != nil {
			return err
		}
		result.Transitioned = len(overdue)
		return nil
	})
	if err != nil {
		s.failRun(ctx, run, err)
		return result, fmt.Errorf("accrual transition step: %w", err)
	}
	if result.Transitioned > 0 {
		log.Printf("[AccrualJob] %d invoice(s) moved from PENDING to LATE (late fee and interest applied)", result.Transitioned)
	}

	// Step 2: recompute every LATE invoice against the same reference date.
	err = s.Store.WithTx(ctx, func(tx billing.Store) error {
		late, err := tx.ListInvoicesByStatus(ctx, billing.StatusLate)
		if err != nil {
			return err
		}
		for i := range late {
			late[i].ApplyAccrual(reference)
		}
		if len(late) == 0 {
			return nil
		}
		if err := tx.SaveInvoices(ctx, late); err != nil {
			return err
		}
		result.Recomputed = len(late)
		return nil
	})
	if err != nil {
		s.failRun(ctx, run, err)
		return result, fmt.Errorf("accrual recompute step: %w", err)
	}
	if result.Recomputed > 0 {
		log.Printf("[AccrualJob] %d late invoice(s) had fee/interest recomputed", result.Recomputed)
	}

	completed := s.Clock.Now().UTC()
	run.CompletedAt = &completed
	run.Transitioned = result.Transitioned
	run.Recomputed = result.Recomputed
	run.Status = "completed"
	s.saveRun(ctx, run)

	return result, nil
}

func (s *Service) saveRun(ctx context.Context, run billing.AccrualRun) {
	if s.RunLog == nil {
		return
	}
	if err := s.RunLog.SaveAccrualRun(ctx, run); err != nil {
		log.Printf("[AccrualJob] failed to save run record %s: %v", run.ID, err)
	}
}

func (s *Service) failRun(ctx context.Context, run billing.AccrualRun, cause error) {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.Status = "failed"
	run.Error = cause.Error()
	s.saveRun(ctx, run)
}
