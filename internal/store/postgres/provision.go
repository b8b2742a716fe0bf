package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ProvisionQueue creates or tops up the queue for one (schedule, date) pair.
// Everything happens in one transaction: the queue row, the entries for
// booked appointments, the appointment status flips, and the outbox events.
func (s *Store) ProvisionQueue(ctx context.Context, input store.ProvisionInput) (store.ProvisionResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.ProvisionResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	schedule, err := loadSchedule(ctx, tx, input.ScheduleID)
	if err != nil {
		return store.ProvisionResult{}, err
	}

	queue, found, err := lookupQueue(ctx, tx, schedule.ScheduleID, input.Date)
	if err != nil {
		return store.ProvisionResult{}, err
	}
	created := false
	if !found {
		// No bookings and no queue yet: nothing to materialize. A queue
		// rescheduled away from this date must not reappear on the next sweep;
		// walk-ins still create one lazily.
		var booked int
		row := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM appointments
			WHERE schedule_id = $1 AND date = $2 AND status <> $3
		`, schedule.ScheduleID, dateOnly(input.Date), models.AppointmentStatusCancelled)
		if err = row.Scan(&booked); err != nil {
			return store.ProvisionResult{}, err
		}
		if booked == 0 {
			if err = tx.Commit(ctx); err != nil {
				return store.ProvisionResult{}, err
			}
			return store.ProvisionResult{}, nil
		}
		if queue, created, err = findOrCreateQueue(ctx, tx, schedule, input.Date); err != nil {
			return store.ProvisionResult{}, err
		}
	}

	pending, err := listUnqueuedAppointments(ctx, tx, queue.QueueID, schedule.ScheduleID, input.Date)
	if err != nil {
		return store.ProvisionResult{}, err
	}

	result := store.ProvisionResult{Queue: queue}
	for _, appointment := range pending {
		var seq int
		seq, err = nextQueueNumber(ctx, tx, queue.QueueID)
		if err != nil {
			return store.ProvisionResult{}, err
		}

		var entry models.QueueEntry
		row := tx.QueryRow(ctx, `
			INSERT INTO queues (entry_id, queue_id, appointment_id, patient_id, queue_number, progress, status, served, type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, now())
			RETURNING `+entryColumns+`
		`, uuid.NewString(), queue.QueueID, appointment.appointmentID, appointment.patientID, seq,
			models.EntryProgressPending, models.EntryStatusWaiting, models.EntryTypeOnline)
		if err = scanEntry(row, &entry); err != nil {
			return store.ProvisionResult{}, err
		}

		if err = insertQueueJoinedEvent(ctx, tx, queue, schedule, entry, appointment.patientName, appointment.phone); err != nil {
			return store.ProvisionResult{}, err
		}
		result.EntriesCreated++
		result.PatientsJoined++
	}

	if _, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3
		WHERE schedule_id = $1 AND date = $2 AND status = $4
	`, schedule.ScheduleID, dateOnly(input.Date), models.AppointmentStatusInQueue, models.AppointmentStatusPending); err != nil {
		return store.ProvisionResult{}, err
	}

	if created || result.EntriesCreated > 0 {
		if err = insertQueueProvisionedEvent(ctx, tx, queue, schedule, result.EntriesCreated); err != nil {
			return store.ProvisionResult{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return store.ProvisionResult{}, err
	}
	return result, nil
}

// RecordProvisionFailure runs outside the failed provisioning transaction so
// the failure notice survives the rollback.
func (s *Store) RecordProvisionFailure(ctx context.Context, scheduleID string, date time.Time, cause string) error {
	payload, err := jsonBytes(map[string]interface{}{
		"schedule_id": scheduleID,
		"date":        dateOnly(date).Format("2006-01-02"),
		"cause":       cause,
	})
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), "queue.provision_failed", payload, time.Now().UTC())
	return err
}

func lookupQueue(ctx context.Context, tx pgx.Tx, scheduleID string, date time.Time) (models.QueueManagement, bool, error) {
	queue, err := lockQueueByDate(ctx, tx, scheduleID, date)
	if err != nil {
		if errors.Is(err, store.ErrQueueNotFound) {
			return models.QueueManagement{}, false, nil
		}
		return models.QueueManagement{}, false, err
	}
	return queue, true, nil
}

type pendingAppointment struct {
	appointmentID string
	patientID     string
	patientName   string
	phone         string
}

// Appointments without an entry yet, in booking order. Cancelled bookings
// never join the queue.
func listUnqueuedAppointments(ctx context.Context, tx pgx.Tx, queueID, scheduleID string, date time.Time) ([]pendingAppointment, error) {
	rows, err := tx.Query(ctx, `
		SELECT a.appointment_id, a.patient_id, p.name, p.phone
		FROM appointments a
		JOIN patients p ON p.patient_id = a.patient_id
		LEFT JOIN queues q ON q.queue_id = $1 AND q.appointment_id = a.appointment_id
		WHERE a.schedule_id = $2 AND a.date = $3 AND a.status <> $4 AND q.entry_id IS NULL
		ORDER BY a.created_at ASC
	`, queueID, scheduleID, dateOnly(date), models.AppointmentStatusCancelled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []pendingAppointment
	for rows.Next() {
		var item pendingAppointment
		var phoneNull sql.NullString
		if err := rows.Scan(&item.appointmentID, &item.patientID, &item.patientName, &phoneNull); err != nil {
			return nil, err
		}
		if phoneNull.Valid {
			item.phone = phoneNull.String
		}
		pending = append(pending, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return pending, nil
}
