package postgres

import (
	"context"
	"errors"

	"clinicq/internal/models"
	"clinicq/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const scheduleColumns = `s.schedule_id, s.doctor_id, d.name, s.day_of_week,
		to_char(s.start_time, 'HH24:MI'), to_char(s.end_time, 'HH24:MI'),
		s.slot_count, s.active, s.deleted, s.created_at, s.updated_at`

func (s *Store) CreateSchedule(ctx context.Context, input store.CreateScheduleInput) (models.Schedule, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Schedule{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var overlaps bool
	row := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM schedules
			WHERE doctor_id = $1 AND day_of_week = $2 AND NOT deleted
			  AND start_time < $4::time AND end_time > $3::time
		)
	`, input.DoctorID, input.DayOfWeek, input.StartTime, input.EndTime)
	if err = row.Scan(&overlaps); err != nil {
		return models.Schedule{}, err
	}
	if overlaps {
		err = store.ErrScheduleOverlap
		return models.Schedule{}, err
	}

	scheduleID := uuid.NewString()
	if _, err = tx.Exec(ctx, `
		INSERT INTO schedules (schedule_id, doctor_id, day_of_week, start_time, end_time, slot_count, active, deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, FALSE, now(), now())
	`, scheduleID, input.DoctorID, input.DayOfWeek, input.StartTime, input.EndTime, input.SlotCount); err != nil {
		return models.Schedule{}, err
	}

	schedule, err := loadSchedule(ctx, tx, scheduleID)
	if err != nil {
		return models.Schedule{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Schedule{}, err
	}
	return schedule, nil
}

func (s *Store) GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error) {
	var schedule models.Schedule
	row := s.pool.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		JOIN doctors d ON d.doctor_id = s.doctor_id
		WHERE s.schedule_id = $1 AND NOT s.deleted
	`, scheduleID)
	if err := scanSchedule(row, &schedule); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Schedule{}, store.ErrScheduleNotFound
		}
		return models.Schedule{}, err
	}
	return schedule, nil
}

func (s *Store) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		JOIN doctors d ON d.doctor_id = s.doctor_id
		WHERE NOT s.deleted
		ORDER BY s.day_of_week, s.start_time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (s *Store) SoftDeleteSchedule(ctx context.Context, scheduleID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules
		SET deleted = TRUE, active = FALSE, updated_at = now()
		WHERE schedule_id = $1 AND NOT deleted
	`, scheduleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrScheduleNotFound
	}
	return nil
}

func (s *Store) ListActiveSchedules(ctx context.Context, dayOfWeek string) ([]models.Schedule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		JOIN doctors d ON d.doctor_id = s.doctor_id
		WHERE s.day_of_week = $1 AND s.active AND NOT s.deleted
		ORDER BY s.start_time ASC
	`, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func loadSchedule(ctx context.Context, tx pgx.Tx, scheduleID string) (models.Schedule, error) {
	var schedule models.Schedule
	row := tx.QueryRow(ctx, `
		SELECT `+scheduleColumns+`
		FROM schedules s
		JOIN doctors d ON d.doctor_id = s.doctor_id
		WHERE s.schedule_id = $1 AND NOT s.deleted
	`, scheduleID)
	if err := scanSchedule(row, &schedule); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Schedule{}, store.ErrScheduleNotFound
		}
		return models.Schedule{}, err
	}
	return schedule, nil
}

func scanSchedule(row rowScanner, schedule *models.Schedule) error {
	return row.Scan(&schedule.ScheduleID, &schedule.DoctorID, &schedule.DoctorName, &schedule.DayOfWeek,
		&schedule.StartTime, &schedule.EndTime, &schedule.SlotCount, &schedule.Active, &schedule.Deleted,
		&schedule.CreatedAt, &schedule.UpdatedAt)
}

func collectSchedules(rows pgx.Rows) ([]models.Schedule, error) {
	var schedules []models.Schedule
	for rows.Next() {
		var schedule models.Schedule
		if err := scanSchedule(rows, &schedule); err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return schedules, nil
}
