// workers/automation_worker.go
package workers

import (
	"context"
	"log"
	"time"

	"sweepstakes-system/services"

	"github.com/go-co-op/gocron/v2"
)

// StartAutomationScheduler runs the in-process periodic jobs:
//   - every minute: one gated automation tick (same logic as POST /automation/run)
//   - every 10 minutes: stall-recovery sweep, so stuck records recover even
//     when automation is disabled
//
// Each tick is a short-lived unit of work against shared storage; the HTTP
// endpoints remain available for externally triggered runs.
func StartAutomationScheduler(ctx context.Context, automation *services.AutomationService, migration *services.MigrationService) (gocron.Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(1*time.Minute),
		gocron.NewTask(func() {
			status, result, err := automation.RunTick(ctx)
			if err != nil {
				log.Printf("[Scheduler] automation tick failed: %v", err)
				return
			}
			if result != nil {
				log.Printf("✅ Automated batch %s: %d ok, %d dup, %d failed",
					result.BatchID, result.Success, result.Duplicates, result.Failed)
			} else if status != services.AutomationStatusDisabled {
				log.Printf("[Scheduler] automation tick: %s", status)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	_, err = sched.NewJob(
		gocron.DurationJob(10*time.Minute),
		gocron.NewTask(func() {
			reset, err := migration.RecoverStalled()
			if err != nil {
				log.Printf("[Scheduler] stall sweep failed: %v", err)
				return
			}
			if reset > 0 {
				log.Printf("♻️ Stall sweep reset %d record(s) to pending", reset)
			}
		}),
	)
	if err != nil {
		return nil, err
	}

	sched.Start()
	return sched, nil
}
