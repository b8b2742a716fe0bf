package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const entryColumns = "entry_id, queue_id, appointment_id, patient_id, queue_number, progress, status, served, type, created_at"

func (s *Store) JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	schedule, err := loadSchedule(ctx, tx, input.ScheduleID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	queue, _, err := findOrCreateQueue(ctx, tx, schedule, input.Date)
	if err != nil {
		return models.QueueEntry{}, err
	}

	if input.AppointmentID != "" {
		var existing int
		row := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM queues WHERE queue_id = $1 AND appointment_id = $2
		`, queue.QueueID, input.AppointmentID)
		if err = row.Scan(&existing); err != nil {
			return models.QueueEntry{}, err
		}
		if existing > 0 {
			err = store.ErrAlreadyQueued
			return models.QueueEntry{}, err
		}
	}

	seq, err := nextQueueNumber(ctx, tx, queue.QueueID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	joinedAt := input.JoinedAt
	if joinedAt.IsZero() {
		joinedAt = time.Now().UTC()
	}

	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		INSERT INTO queues (entry_id, queue_id, appointment_id, patient_id, queue_number, progress, status, served, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
		RETURNING `+entryColumns+`
	`, uuid.NewString(), queue.QueueID, nullIfEmpty(input.AppointmentID), nullIfEmpty(input.PatientID), seq,
		models.EntryProgressPending, models.EntryStatusWaiting, input.Type, joinedAt)
	if err = scanEntry(row, &entry); err != nil {
		return models.QueueEntry{}, err
	}

	name, phone, err := patientContact(ctx, tx, input.PatientID)
	if err != nil {
		return models.QueueEntry{}, err
	}
	if err = insertQueueJoinedEvent(ctx, tx, queue, schedule, entry, name, phone); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) SetEntryStatus(ctx context.Context, input store.EntryStatusInput) (models.QueueEntry, error) {
	if !validEntryStatus(input.Status) {
		return models.QueueEntry{}, store.ErrInvalidStatus
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entry models.QueueEntry
	row := tx.QueryRow(ctx, `
		UPDATE queues
		SET status = $3,
			served = served OR $3 = 'attended'
		WHERE queue_id = $1 AND queue_number = $2
		RETURNING `+entryColumns+`
	`, input.QueueID, input.QueueNumber, input.Status)
	if err = scanEntry(row, &entry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}

	if err = insertEntryEvent(ctx, tx, "entry.status_changed", entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

// CheckInEntry re-stamps the queue number at QR check-in so arrival order,
// not booking order, decides the position. Same allocator as joins.
func (s *Store) CheckInEntry(ctx context.Context, appointmentID string) (models.QueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var entryID, queueID, status string
	row := tx.QueryRow(ctx, `
		SELECT entry_id, queue_id, status
		FROM queues
		WHERE appointment_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, appointmentID)
	if err = row.Scan(&entryID, &queueID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrEntryNotFound
		}
		return models.QueueEntry{}, err
	}
	if status == models.EntryStatusAttended {
		err = store.ErrAlreadyAttended
		return models.QueueEntry{}, err
	}

	seq, err := nextQueueNumber(ctx, tx, queueID)
	if err != nil {
		return models.QueueEntry{}, err
	}

	var entry models.QueueEntry
	row = tx.QueryRow(ctx, `
		UPDATE queues
		SET queue_number = $2,
			status = $3,
			served = TRUE
		WHERE entry_id = $1
		RETURNING `+entryColumns+`
	`, entryID, seq, models.EntryStatusAttended)
	if err = scanEntry(row, &entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = insertEntryEvent(ctx, tx, "entry.checked_in", entry); err != nil {
		return models.QueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.QueueManagement, []models.QueueEntry, error) {
	var queue models.QueueManagement
	row := s.pool.QueryRow(ctx, `
		SELECT queue_id, schedule_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, created_at, updated_at
		FROM queue_managements
		WHERE queue_id = $1
	`, queueID)
	if err := row.Scan(&queue.QueueID, &queue.ScheduleID, &queue.Date, &queue.StartTime, &queue.EndTime, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.QueueManagement{}, nil, store.ErrQueueNotFound
		}
		return models.QueueManagement{}, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queues
		WHERE queue_id = $1
		ORDER BY queue_number ASC
	`, queueID)
	if err != nil {
		return models.QueueManagement{}, nil, err
	}
	defer rows.Close()

	var entries []models.QueueEntry
	for rows.Next() {
		var entry models.QueueEntry
		if err := scanEntry(rows, &entry); err != nil {
			return models.QueueManagement{}, nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return models.QueueManagement{}, nil, err
	}
	return queue, entries, nil
}

func (s *Store) ListQueuesByDate(ctx context.Context, date time.Time) ([]models.QueueManagement, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT queue_id, schedule_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, created_at, updated_at
		FROM queue_managements
		WHERE date = $1
		ORDER BY start_time ASC
	`, dateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []models.QueueManagement
	for rows.Next() {
		var queue models.QueueManagement
		if err := rows.Scan(&queue.QueueID, &queue.ScheduleID, &queue.Date, &queue.StartTime, &queue.EndTime, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
			return nil, err
		}
		queues = append(queues, queue)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return queues, nil
}

// findOrCreateQueue inserts the day's queue with the schedule's time snapshot
// or returns the existing non-cancelled row. Safe under concurrent callers:
// the partial unique index on (schedule_id, date) arbitrates.
func findOrCreateQueue(ctx context.Context, tx pgx.Tx, schedule models.Schedule, date time.Time) (models.QueueManagement, bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO queue_managements (queue_id, schedule_id, date, start_time, end_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (schedule_id, date) WHERE status <> 'cancelled' DO NOTHING
	`, uuid.NewString(), schedule.ScheduleID, dateOnly(date), schedule.StartTime, schedule.EndTime, models.QueueStatusOut)
	if err != nil {
		return models.QueueManagement{}, false, err
	}
	created := tag.RowsAffected() > 0

	var queue models.QueueManagement
	row := tx.QueryRow(ctx, `
		SELECT queue_id, schedule_id, date, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), status, created_at, updated_at
		FROM queue_managements
		WHERE schedule_id = $1 AND date = $2 AND status <> 'cancelled'
	`, schedule.ScheduleID, dateOnly(date))
	if err := row.Scan(&queue.QueueID, &queue.ScheduleID, &queue.Date, &queue.StartTime, &queue.EndTime, &queue.Status, &queue.CreatedAt, &queue.UpdatedAt); err != nil {
		return models.QueueManagement{}, false, err
	}
	return queue, created, nil
}

func nextQueueNumber(ctx context.Context, tx pgx.Tx, queueID string) (int, error) {
	var next int
	row := tx.QueryRow(ctx, `
		INSERT INTO queue_sequences (queue_id, next_number)
		VALUES ($1, 1)
		ON CONFLICT (queue_id)
		DO UPDATE SET next_number = queue_sequences.next_number + 1
		RETURNING next_number
	`, queueID)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

func patientContact(ctx context.Context, tx pgx.Tx, patientID string) (string, string, error) {
	if patientID == "" {
		return "", "", nil
	}
	var name string
	var phoneNull sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT name, phone FROM patients WHERE patient_id = $1
	`, patientID)
	if err := row.Scan(&name, &phoneNull); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", "", nil
		}
		return "", "", err
	}
	if phoneNull.Valid {
		return name, phoneNull.String, nil
	}
	return name, "", nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner, entry *models.QueueEntry) error {
	var appointmentNull sql.NullString
	var patientNull sql.NullString
	if err := row.Scan(&entry.EntryID, &entry.QueueID, &appointmentNull, &patientNull, &entry.QueueNumber,
		&entry.Progress, &entry.Status, &entry.Served, &entry.Type, &entry.CreatedAt); err != nil {
		return err
	}
	entry.AppointmentID = nullStringPtr(appointmentNull)
	entry.PatientID = nullStringPtr(patientNull)
	return nil
}

func validEntryStatus(status string) bool {
	switch status {
	case models.EntryStatusWaiting, models.EntryStatusAttended, models.EntryStatusUnattended,
		models.EntryStatusSkipped, models.EntryStatusCancelled:
		return true
	}
	return false
}

func dateOnly(value time.Time) time.Time {
	return time.Date(value.Year(), value.Month(), value.Day(), 0, 0, 0, 0, time.UTC)
}

// clockMinutes parses "HH:MM" (optionally "HH:MM:SS") into minutes from midnight.
func clockMinutes(clock string) (int, error) {
	parts := strings.Split(clock, ":")
	if len(parts) < 2 {
		return 0, fmt.Errorf("bad clock value %q", clock)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("bad clock value %q", clock)
	}
	return hours*60 + minutes, nil
}

func jsonBytes(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}
