package postgres

import (
	"context"
	"errors"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const notifierConsumer = "notifier"

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, payload map[string]interface{}) error {
	payloadJSON, err := jsonBytes(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	return err
}

func insertQueueJoinedEvent(ctx context.Context, tx pgx.Tx, queue models.QueueManagement, schedule models.Schedule, entry models.QueueEntry, patientName, phone string) error {
	return insertOutboxEvent(ctx, tx, "queue.joined", map[string]interface{}{
		"queue_id":     queue.QueueID,
		"schedule_id":  queue.ScheduleID,
		"doctor_name":  schedule.DoctorName,
		"date":         queue.Date.Format("2006-01-02"),
		"time":         queue.StartTime,
		"queue_number": entry.QueueNumber,
		"entry_type":   entry.Type,
		"patient_id":   strPtrValue(entry.PatientID),
		"patient_name": patientName,
		"phone":        phone,
	})
}

func insertQueueProvisionedEvent(ctx context.Context, tx pgx.Tx, queue models.QueueManagement, schedule models.Schedule, entries int) error {
	return insertOutboxEvent(ctx, tx, "queue.provisioned", map[string]interface{}{
		"queue_id":    queue.QueueID,
		"schedule_id": queue.ScheduleID,
		"doctor_name": schedule.DoctorName,
		"date":        queue.Date.Format("2006-01-02"),
		"time":        queue.StartTime,
		"entries":     entries,
	})
}

func insertQueueCancelledEvent(ctx context.Context, tx pgx.Tx, queue models.QueueManagement, schedule models.Schedule, cancelled int) error {
	return insertOutboxEvent(ctx, tx, "queue.cancelled", map[string]interface{}{
		"queue_id":    queue.QueueID,
		"schedule_id": queue.ScheduleID,
		"doctor_name": schedule.DoctorName,
		"date":        queue.Date.Format("2006-01-02"),
		"cancelled":   cancelled,
	})
}

func insertAppointmentEvent(ctx context.Context, tx pgx.Tx, eventType string, queue models.QueueManagement, schedule models.Schedule, patient bookedPatient, date time.Time) error {
	return insertOutboxEvent(ctx, tx, eventType, map[string]interface{}{
		"queue_id":       queue.QueueID,
		"schedule_id":    queue.ScheduleID,
		"appointment_id": patient.appointmentID,
		"patient_id":     patient.patientID,
		"patient_name":   patient.name,
		"phone":          patient.phone,
		"doctor_name":    schedule.DoctorName,
		"date":           date.Format("2006-01-02"),
		"time":           queue.StartTime,
	})
}

func insertQueueStatusEvent(ctx context.Context, tx pgx.Tx, queueID, scheduleID, status string) error {
	eventType := "queue.updated"
	switch status {
	case models.QueueStatusInProgress:
		eventType = "queue.activated"
	case models.QueueStatusCompleted:
		eventType = "queue.completed"
	case models.QueueStatusCancelled:
		eventType = "queue.cancelled_status"
	}
	return insertOutboxEvent(ctx, tx, eventType, map[string]interface{}{
		"queue_id":    queueID,
		"schedule_id": scheduleID,
		"status":      status,
	})
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, eventType string, entry models.QueueEntry) error {
	return insertOutboxEvent(ctx, tx, eventType, map[string]interface{}{
		"queue_id":       entry.QueueID,
		"entry_id":       entry.EntryID,
		"queue_number":   entry.QueueNumber,
		"status":         entry.Status,
		"entry_type":     entry.Type,
		"appointment_id": strPtrValue(entry.AppointmentID),
		"patient_id":     strPtrValue(entry.PatientID),
	})
}

func strPtrValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetLastOffset(ctx context.Context) (time.Time, error) {
	var value time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT last_event_time FROM notification_offsets WHERE consumer = $1
	`, notifierConsumer)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return value, nil
}

func (s *Store) UpdateOffset(ctx context.Context, value time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_offsets (consumer, last_event_time)
		VALUES ($1, $2)
		ON CONFLICT (consumer) DO UPDATE SET last_event_time = EXCLUDED.last_event_time
	`, notifierConsumer, value)
	return err
}

func (s *Store) GetTemplate(ctx context.Context, templateID, channel string) (string, error) {
	var body string
	row := s.pool.QueryRow(ctx, `
		SELECT body FROM notification_templates WHERE template_id = $1 AND channel = $2
	`, templateID, channel)
	if err := row.Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return body, nil
}

func (s *Store) InsertNotification(ctx context.Context, notification store.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (notification_id, channel, recipient, message, status, attempts, last_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, notification.NotificationID, notification.Channel, notification.Recipient, notification.Message,
		notification.Status, notification.Attempts, notification.LastError)
	return err
}

func (s *Store) MarkNotificationSent(ctx context.Context, notificationID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications SET status = 'sent' WHERE notification_id = $1
	`, notificationID)
	return err
}

func (s *Store) MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', attempts = attempts + 1, last_error = $2
		WHERE notification_id = $1
	`, notificationID, lastError)
	return err
}

func (s *Store) InsertDLQ(ctx context.Context, notificationID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notification_dlq (notification_id, reason, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (notification_id) DO NOTHING
	`, notificationID, reason)
	return err
}
