package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/jackc/pgx/v5"
)

// CancelBySchedule cancels a schedule's queue together with every booked
// appointment on it, atomically.
func (s *Store) CancelBySchedule(ctx context.Context, scheduleID string) (store.CancelResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.CancelResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	schedule, err := loadSchedule(ctx, tx, scheduleID)
	if err != nil {
		return store.CancelResult{}, err
	}

	queue, err := lockLatestQueue(ctx, tx, scheduleID)
	if err != nil {
		return store.CancelResult{}, err
	}
	if !store.ValidTransition("cancel", queue.Status) {
		err = store.ErrInvalidState
		return store.CancelResult{}, err
	}

	patients, err := listBookedPatients(ctx, tx, scheduleID, nil)
	if err != nil {
		return store.CancelResult{}, err
	}
	if len(patients) == 0 {
		err = store.ErrAppointmentNotFound
		return store.CancelResult{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE schedule_id = $1 AND status <> $2
	`, scheduleID, models.AppointmentStatusCancelled); err != nil {
		return store.CancelResult{}, err
	}

	if err = setQueueStatus(ctx, tx, queue.QueueID, queue.ScheduleID, models.QueueStatusCancelled); err != nil {
		return store.CancelResult{}, err
	}
	queue.Status = models.QueueStatusCancelled

	for _, patient := range patients {
		if err = insertAppointmentEvent(ctx, tx, "appointment.cancelled", queue, schedule, patient, queue.Date); err != nil {
			return store.CancelResult{}, err
		}
	}
	if err = insertQueueCancelledEvent(ctx, tx, queue, schedule, len(patients)); err != nil {
		return store.CancelResult{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return store.CancelResult{}, err
	}
	return store.CancelResult{Queue: queue, AppointmentsCancelled: len(patients)}, nil
}

// RescheduleBySchedule moves a day's appointments and its queue to a new
// date in a single transaction, so the queue row and the bookings can never
// land on different dates.
func (s *Store) RescheduleBySchedule(ctx context.Context, input store.RescheduleInput) (store.RescheduleResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return store.RescheduleResult{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	schedule, err := loadSchedule(ctx, tx, input.ScheduleID)
	if err != nil {
		return store.RescheduleResult{}, err
	}

	queue, err := lockQueueByDate(ctx, tx, input.ScheduleID, input.OldDate)
	if err != nil {
		return store.RescheduleResult{}, err
	}
	if !store.ValidTransition("reschedule", queue.Status) {
		err = store.ErrInvalidState
		return store.RescheduleResult{}, err
	}

	oldDate := dateOnly(input.OldDate)
	patients, err := listBookedPatients(ctx, tx, input.ScheduleID, &oldDate)
	if err != nil {
		return store.RescheduleResult{}, err
	}
	if len(patients) == 0 {
		err = store.ErrAppointmentNotFound
		return store.RescheduleResult{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE appointments
		SET date = $3
		WHERE schedule_id = $1 AND date = $2 AND status <> $4
	`, input.ScheduleID, oldDate, dateOnly(input.NewDate), models.AppointmentStatusCancelled); err != nil {
		return store.RescheduleResult{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE queue_managements
		SET date = $2, status = $3, updated_at = now()
		WHERE queue_id = $1
	`, queue.QueueID, dateOnly(input.NewDate), models.QueueStatusRescheduled); err != nil {
		return store.RescheduleResult{}, err
	}
	queue.Date = dateOnly(input.NewDate)
	queue.Status = models.QueueStatusRescheduled

	for _, patient := range patients {
		if err = insertAppointmentEvent(ctx, tx, "appointment.rescheduled", queue, schedule, patient, queue.Date); err != nil {
			return store.RescheduleResult{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return store.RescheduleResult{}, err
	}
	return store.RescheduleResult{Queue: queue, AppointmentsMoved: len(patients)}, nil
}

func lockLatestQueue(ctx context.Context, tx pgx.Tx, scheduleID string) (models.QueueManagement, error) {
	var queue models.QueueManagement
	row := tx.QueryRow(ctx, `
		SELECT queue_id, schedule_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, created_at, updated_at
		FROM queue_managements
		WHERE schedule_id = $1 AND status IN ($2, $3, $4)
		ORDER BY date DESC
		LIMIT 1
		FOR UPDATE
	`, scheduleID, models.QueueStatusOut, models.QueueStatusInQueue, models.QueueStatusInProgress)
	if err := row.Scan(&queue.QueueID, &queue.ScheduleID, &queue.Date, &queue.StartTime, &queue.EndTime, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueManagement{}, store.ErrQueueNotFound
		}
		return models.QueueManagement{}, err
	}
	return queue, nil
}

func lockQueueByDate(ctx context.Context, tx pgx.Tx, scheduleID string, date time.Time) (models.QueueManagement, error) {
	var queue models.QueueManagement
	row := tx.QueryRow(ctx, `
		SELECT queue_id, schedule_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, created_at, updated_at
		FROM queue_managements
		WHERE schedule_id = $1 AND date = $2 AND status <> $3
		FOR UPDATE
	`, scheduleID, dateOnly(date), models.QueueStatusCancelled)
	if err := row.Scan(&queue.QueueID, &queue.ScheduleID, &queue.Date, &queue.StartTime, &queue.EndTime, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueManagement{}, store.ErrQueueNotFound
		}
		return models.QueueManagement{}, err
	}
	return queue, nil
}

type bookedPatient struct {
	appointmentID string
	patientID     string
	name          string
	phone         string
}

func listBookedPatients(ctx context.Context, tx pgx.Tx, scheduleID string, date *time.Time) ([]bookedPatient, error) {
	query := `
		SELECT a.appointment_id, a.patient_id, p.name, p.phone
		FROM appointments a
		JOIN patients p ON p.patient_id = a.patient_id
		WHERE a.schedule_id = $1 AND a.status <> $2
	`
	args := []interface{}{scheduleID, models.AppointmentStatusCancelled}
	if date != nil {
		query += " AND a.date = $3"
		args = append(args, *date)
	}
	query += " ORDER BY a.created_at ASC"

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []bookedPatient
	for rows.Next() {
		var patient bookedPatient
		var phoneNull sql.NullString
		if err := rows.Scan(&patient.appointmentID, &patient.patientID, &patient.name, &phoneNull); err != nil {
			return nil, err
		}
		if phoneNull.Valid {
			patient.phone = phoneNull.String
		}
		patients = append(patients, patient)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return patients, nil
}
