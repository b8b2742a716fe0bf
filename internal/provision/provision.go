package provision

import (
	"context"
	"log"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"
)

// Store is the slice of the queue store the provisioner drives.
type Store interface {
	ListActiveSchedules(ctx context.Context, dayOfWeek string) ([]models.Schedule, error)
	ProvisionQueue(ctx context.Context, input store.ProvisionInput) (store.ProvisionResult, error)
	RecordProvisionFailure(ctx context.Context, scheduleID string, date time.Time, cause string) error
}

type Provisioner struct {
	store    Store
	location *time.Location
}

type Summary struct {
	QueuesProvisioned int `json:"queues_provisioned"`
	EntriesCreated    int `json:"entries_created"`
	Failures          int `json:"failures"`
}

func New(store Store, location *time.Location) *Provisioner {
	if location == nil {
		location = time.UTC
	}
	return &Provisioner{store: store, location: location}
}

// RunToday provisions queues for today's matching schedules.
func (p *Provisioner) RunToday(ctx context.Context) (Summary, error) {
	return p.runDays(ctx, 1)
}

// RunWeek provisions queues for the next 7 days starting today.
func (p *Provisioner) RunWeek(ctx context.Context) (Summary, error) {
	return p.runDays(ctx, 7)
}

// runDays walks day by day. One failing (schedule, date) pair is recorded
// and skipped so the rest of the sweep still lands.
func (p *Provisioner) runDays(ctx context.Context, days int) (Summary, error) {
	var summary Summary
	today := time.Now().In(p.location)

	for offset := 0; offset < days; offset++ {
		date := today.AddDate(0, 0, offset)
		day := date.Weekday().String()

		schedules, err := p.store.ListActiveSchedules(ctx, day)
		if err != nil {
			return summary, err
		}

		for _, schedule := range schedules {
			result, err := p.store.ProvisionQueue(ctx, store.ProvisionInput{
				ScheduleID: schedule.ScheduleID,
				Date:       date,
			})
			if err != nil {
				summary.Failures++
				log.Printf("provision error schedule=%s date=%s: %v", schedule.ScheduleID, date.Format("2006-01-02"), err)
				if recordErr := p.store.RecordProvisionFailure(ctx, schedule.ScheduleID, date, err.Error()); recordErr != nil {
					log.Printf("provision failure record error schedule=%s: %v", schedule.ScheduleID, recordErr)
				}
				continue
			}
			if result.Queue.QueueID != "" {
				summary.QueuesProvisioned++
			}
			summary.EntriesCreated += result.EntriesCreated
		}
	}
	return summary, nil
}

// Start runs the weekly sweep at every midnight in the clinic's timezone.
func Start(ctx context.Context, p *Provisioner) {
	for {
		now := time.Now().In(p.location)
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.location).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		summary, err := p.RunWeek(runCtx)
		cancel()
		if err != nil {
			log.Printf("provision sweep error: %v", err)
			continue
		}
		log.Printf("provision sweep queues=%d entries=%d failures=%d", summary.QueuesProvisioned, summary.EntriesCreated, summary.Failures)
	}
}
