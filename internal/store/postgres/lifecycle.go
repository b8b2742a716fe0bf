package postgres

import (
	"context"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/jackc/pgx/v5"
)

type lifecycleRow struct {
	queueID    string
	scheduleID string
	startMin   int
	endMin     int
	status     string
}

// AdvanceLifecycle sweeps today's queues once. now must already be in the
// clinic's timezone; queues on any other date are never touched.
// Forward-only: in [start, end) activates, past end completes, and a
// completion promotes the next idle queue of the same schedule.
func (s *Store) AdvanceLifecycle(ctx context.Context, now time.Time) (store.LifecycleResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.LifecycleResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT queue_id, schedule_id, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status
		FROM queue_managements
		WHERE date = $1 AND status IN ($2, $3, $4)
		ORDER BY schedule_id, start_time ASC
		FOR UPDATE
	`, dateOnly(now), models.QueueStatusOut, models.QueueStatusInQueue, models.QueueStatusInProgress)
	if err != nil {
		return store.LifecycleResult{}, err
	}

	var items []lifecycleRow
	for rows.Next() {
		var item lifecycleRow
		var start, end string
		if err = rows.Scan(&item.queueID, &item.scheduleID, &start, &end, &item.status); err != nil {
			rows.Close()
			return store.LifecycleResult{}, err
		}
		if item.startMin, err = clockMinutes(start); err != nil {
			rows.Close()
			return store.LifecycleResult{}, err
		}
		if item.endMin, err = clockMinutes(end); err != nil {
			rows.Close()
			return store.LifecycleResult{}, err
		}
		items = append(items, item)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return store.LifecycleResult{}, err
	}

	nowMin := now.Hour()*60 + now.Minute()
	var result store.LifecycleResult

	for i := range items {
		item := &items[i]
		switch {
		case nowMin >= item.endMin:
			if !store.ValidTransition("complete", item.status) {
				continue
			}
			if err = setQueueStatus(ctx, tx, item.queueID, item.scheduleID, models.QueueStatusCompleted); err != nil {
				return store.LifecycleResult{}, err
			}
			item.status = models.QueueStatusCompleted
			result.Completed++

			if next := nextIdleQueue(items, i); next != nil {
				if err = setQueueStatus(ctx, tx, next.queueID, next.scheduleID, models.QueueStatusInProgress); err != nil {
					return store.LifecycleResult{}, err
				}
				next.status = models.QueueStatusInProgress
				result.Promoted++
			}
		case nowMin >= item.startMin:
			if !store.ValidTransition("activate", item.status) {
				continue
			}
			if err = setQueueStatus(ctx, tx, item.queueID, item.scheduleID, models.QueueStatusInProgress); err != nil {
				return store.LifecycleResult{}, err
			}
			item.status = models.QueueStatusInProgress
			result.Activated++
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return store.LifecycleResult{}, err
	}
	return result, nil
}

// nextIdleQueue finds the first later queue of the same schedule still
// waiting its turn. Exactly one queue gets promoted per completion.
func nextIdleQueue(items []lifecycleRow, completed int) *lifecycleRow {
	for i := completed + 1; i < len(items); i++ {
		if items[i].scheduleID != items[completed].scheduleID {
			break
		}
		if store.ValidTransition("activate", items[i].status) {
			return &items[i]
		}
	}
	return nil
}

func setQueueStatus(ctx context.Context, tx pgx.Tx, queueID, scheduleID, status string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE queue_managements
		SET status = $2, updated_at = now()
		WHERE queue_id = $1
	`, queueID, status); err != nil {
		return err
	}
	return insertQueueStatusEvent(ctx, tx, queueID, scheduleID, status)
}
