package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/provision"
	"clinicq/internal/store"
)

type fakeStore struct {
	createScheduleFn func(ctx context.Context, input store.CreateScheduleInput) (models.Schedule, error)
	getScheduleFn    func(ctx context.Context, scheduleID string) (models.Schedule, error)
	listSchedulesFn  func(ctx context.Context) ([]models.Schedule, error)
	deleteScheduleFn func(ctx context.Context, scheduleID string) error
	activeFn         func(ctx context.Context, dayOfWeek string) ([]models.Schedule, error)
	provisionFn      func(ctx context.Context, input store.ProvisionInput) (store.ProvisionResult, error)
	failureFn        func(ctx context.Context, scheduleID string, date time.Time, cause string) error
	joinFn           func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error)
	advanceFn        func(ctx context.Context, now time.Time) (store.LifecycleResult, error)
	cancelFn         func(ctx context.Context, scheduleID string) (store.CancelResult, error)
	rescheduleFn     func(ctx context.Context, input store.RescheduleInput) (store.RescheduleResult, error)
	entryStatusFn    func(ctx context.Context, input store.EntryStatusInput) (models.QueueEntry, error)
	checkInFn        func(ctx context.Context, appointmentID string) (models.QueueEntry, error)
	getQueueFn       func(ctx context.Context, queueID string) (models.QueueManagement, []models.QueueEntry, error)
	listByDateFn     func(ctx context.Context, date time.Time) ([]models.QueueManagement, error)
	outboxFn         func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
}

func (f fakeStore) CreateSchedule(ctx context.Context, input store.CreateScheduleInput) (models.Schedule, error) {
	if f.createScheduleFn == nil {
		return models.Schedule{}, nil
	}
	return f.createScheduleFn(ctx, input)
}

func (f fakeStore) GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error) {
	if f.getScheduleFn == nil {
		return models.Schedule{}, nil
	}
	return f.getScheduleFn(ctx, scheduleID)
}

func (f fakeStore) ListSchedules(ctx context.Context) ([]models.Schedule, error) {
	if f.listSchedulesFn == nil {
		return nil, nil
	}
	return f.listSchedulesFn(ctx)
}

func (f fakeStore) SoftDeleteSchedule(ctx context.Context, scheduleID string) error {
	if f.deleteScheduleFn == nil {
		return nil
	}
	return f.deleteScheduleFn(ctx, scheduleID)
}

func (f fakeStore) ListActiveSchedules(ctx context.Context, dayOfWeek string) ([]models.Schedule, error) {
	if f.activeFn == nil {
		return nil, nil
	}
	return f.activeFn(ctx, dayOfWeek)
}

func (f fakeStore) ProvisionQueue(ctx context.Context, input store.ProvisionInput) (store.ProvisionResult, error) {
	if f.provisionFn == nil {
		return store.ProvisionResult{}, nil
	}
	return f.provisionFn(ctx, input)
}

func (f fakeStore) RecordProvisionFailure(ctx context.Context, scheduleID string, date time.Time, cause string) error {
	if f.failureFn == nil {
		return nil
	}
	return f.failureFn(ctx, scheduleID, date, cause)
}

func (f fakeStore) JoinQueue(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
	if f.joinFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.joinFn(ctx, input)
}

func (f fakeStore) AdvanceLifecycle(ctx context.Context, now time.Time) (store.LifecycleResult, error) {
	if f.advanceFn == nil {
		return store.LifecycleResult{}, nil
	}
	return f.advanceFn(ctx, now)
}

func (f fakeStore) CancelBySchedule(ctx context.Context, scheduleID string) (store.CancelResult, error) {
	if f.cancelFn == nil {
		return store.CancelResult{}, nil
	}
	return f.cancelFn(ctx, scheduleID)
}

func (f fakeStore) RescheduleBySchedule(ctx context.Context, input store.RescheduleInput) (store.RescheduleResult, error) {
	if f.rescheduleFn == nil {
		return store.RescheduleResult{}, nil
	}
	return f.rescheduleFn(ctx, input)
}

func (f fakeStore) SetEntryStatus(ctx context.Context, input store.EntryStatusInput) (models.QueueEntry, error) {
	if f.entryStatusFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.entryStatusFn(ctx, input)
}

func (f fakeStore) CheckInEntry(ctx context.Context, appointmentID string) (models.QueueEntry, error) {
	if f.checkInFn == nil {
		return models.QueueEntry{}, nil
	}
	return f.checkInFn(ctx, appointmentID)
}

func (f fakeStore) GetQueue(ctx context.Context, queueID string) (models.QueueManagement, []models.QueueEntry, error) {
	if f.getQueueFn == nil {
		return models.QueueManagement{}, nil, nil
	}
	return f.getQueueFn(ctx, queueID)
}

func (f fakeStore) ListQueuesByDate(ctx context.Context, date time.Time) ([]models.QueueManagement, error) {
	if f.listByDateFn == nil {
		return nil, nil
	}
	return f.listByDateFn(ctx, date)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

type fakeProvisioner struct {
	todayFn func(ctx context.Context) (provision.Summary, error)
	weekFn  func(ctx context.Context) (provision.Summary, error)
}

func (f fakeProvisioner) RunToday(ctx context.Context) (provision.Summary, error) {
	if f.todayFn == nil {
		return provision.Summary{}, nil
	}
	return f.todayFn(ctx)
}

func (f fakeProvisioner) RunWeek(ctx context.Context) (provision.Summary, error) {
	if f.weekFn == nil {
		return provision.Summary{}, nil
	}
	return f.weekFn(ctx)
}

const (
	scheduleID    = "11111111-1111-1111-1111-111111111111"
	queueID       = "22222222-2222-2222-2222-222222222222"
	appointmentID = "33333333-3333-3333-3333-333333333333"
	patientID     = "44444444-4444-4444-4444-444444444444"
	doctorID      = "55555555-5555-5555-5555-555555555555"
)

func postJSON(t *testing.T, h *Handler, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)
	return resp
}

func futureDate() string {
	return time.Now().AddDate(0, 0, 7).Format("2006-01-02")
}

func TestJoinQueueSuccess(t *testing.T) {
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			if input.Type != models.EntryTypeWalkIn {
				t.Fatalf("expected walk_in type, got %q", input.Type)
			}
			return models.QueueEntry{
				EntryID:     "entry-1",
				QueueID:     queueID,
				QueueNumber: 7,
				Status:      models.EntryStatusWaiting,
				Type:        input.Type,
			}, nil
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/actions/join", map[string]string{
		"schedule_id": scheduleID,
		"date":        futureDate(),
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var entry models.QueueEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if entry.QueueNumber != 7 || entry.Status != models.EntryStatusWaiting {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestJoinQueueBadType(t *testing.T) {
	h := NewHandler(fakeStore{}, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/actions/join", map[string]string{
		"schedule_id": scheduleID,
		"date":        futureDate(),
		"type":        "online",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestJoinQueueDuplicateAppointment(t *testing.T) {
	st := fakeStore{
		joinFn: func(ctx context.Context, input store.JoinQueueInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrAlreadyQueued
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/actions/join", map[string]string{
		"schedule_id":    scheduleID,
		"date":           futureDate(),
		"type":           "follow_up",
		"appointment_id": appointmentID,
		"patient_id":     patientID,
	})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestProvisionScheduleNotFound(t *testing.T) {
	st := fakeStore{
		provisionFn: func(ctx context.Context, input store.ProvisionInput) (store.ProvisionResult, error) {
			return store.ProvisionResult{}, store.ErrScheduleNotFound
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/actions/provision", map[string]string{
		"schedule_id": scheduleID,
		"date":        futureDate(),
	})

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestProvisionTodaySummary(t *testing.T) {
	prov := fakeProvisioner{
		todayFn: func(ctx context.Context) (provision.Summary, error) {
			return provision.Summary{QueuesProvisioned: 3, EntriesCreated: 12}, nil
		},
	}
	h := NewHandler(fakeStore{}, prov, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/queues/actions/provision-today", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var summary provision.Summary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if summary.QueuesProvisioned != 3 || summary.EntriesCreated != 12 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestAdvanceLifecycle(t *testing.T) {
	st := fakeStore{
		advanceFn: func(ctx context.Context, now time.Time) (store.LifecycleResult, error) {
			return store.LifecycleResult{Activated: 1, Completed: 2, Promoted: 1}, nil
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/queues/actions/advance", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var result store.LifecycleResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if result.Completed != 2 || result.Promoted != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestEntryStatusNotFound(t *testing.T) {
	st := fakeStore{
		entryStatusFn: func(ctx context.Context, input store.EntryStatusInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrEntryNotFound
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/entries/actions/status", map[string]interface{}{
		"queue_id":     queueID,
		"queue_number": 99,
		"status":       "attended",
	})

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestEntryStatusInvalidStatus(t *testing.T) {
	st := fakeStore{
		entryStatusFn: func(ctx context.Context, input store.EntryStatusInput) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrInvalidStatus
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/entries/actions/status", map[string]interface{}{
		"queue_id":     queueID,
		"queue_number": 1,
		"status":       "done",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestCheckInAlreadyAttended(t *testing.T) {
	st := fakeStore{
		checkInFn: func(ctx context.Context, id string) (models.QueueEntry, error) {
			return models.QueueEntry{}, store.ErrAlreadyAttended
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/entries/actions/checkin", map[string]string{
		"appointment_id": appointmentID,
	})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCheckInRestampsNumber(t *testing.T) {
	st := fakeStore{
		checkInFn: func(ctx context.Context, id string) (models.QueueEntry, error) {
			if id != appointmentID {
				t.Fatalf("unexpected appointment id %q", id)
			}
			return models.QueueEntry{
				EntryID:     "entry-1",
				QueueID:     queueID,
				QueueNumber: 14,
				Status:      models.EntryStatusAttended,
				Served:      true,
			}, nil
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/queues/entries/actions/checkin", map[string]string{
		"appointment_id": appointmentID,
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var entry models.QueueEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if entry.QueueNumber != 14 || !entry.Served {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestRescheduleRejectsPastDate(t *testing.T) {
	h := NewHandler(fakeStore{}, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/schedules/actions/reschedule", map[string]string{
		"schedule_id": scheduleID,
		"old_date":    "2026-01-05",
		"new_date":    "2020-01-06",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestRescheduleSuccess(t *testing.T) {
	st := fakeStore{
		rescheduleFn: func(ctx context.Context, input store.RescheduleInput) (store.RescheduleResult, error) {
			if !input.NewDate.After(input.OldDate) {
				t.Fatalf("expected new date after old date: %+v", input)
			}
			return store.RescheduleResult{
				Queue:             models.QueueManagement{QueueID: queueID, Status: models.QueueStatusRescheduled},
				AppointmentsMoved: 4,
			}, nil
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	oldDate := time.Now().AddDate(0, 0, 3).Format("2006-01-02")
	newDate := time.Now().AddDate(0, 0, 10).Format("2006-01-02")
	resp := postJSON(t, h, "/api/schedules/actions/reschedule", map[string]string{
		"schedule_id": scheduleID,
		"old_date":    oldDate,
		"new_date":    newDate,
	})

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestCancelQueuesNoAppointments(t *testing.T) {
	st := fakeStore{
		cancelFn: func(ctx context.Context, id string) (store.CancelResult, error) {
			return store.CancelResult{}, store.ErrAppointmentNotFound
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/schedules/"+scheduleID+"/actions/cancel-queues", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestCancelQueuesTerminalState(t *testing.T) {
	st := fakeStore{
		cancelFn: func(ctx context.Context, id string) (store.CancelResult, error) {
			return store.CancelResult{}, store.ErrInvalidState
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/schedules/"+scheduleID+"/actions/cancel-queues", nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCreateScheduleOverlap(t *testing.T) {
	st := fakeStore{
		createScheduleFn: func(ctx context.Context, input store.CreateScheduleInput) (models.Schedule, error) {
			return models.Schedule{}, store.ErrScheduleOverlap
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/schedules", map[string]interface{}{
		"doctor_id":   doctorID,
		"day_of_week": "Monday",
		"start_time":  "09:00",
		"end_time":    "12:00",
		"slot_count":  20,
	})

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
}

func TestCreateScheduleBadClock(t *testing.T) {
	h := NewHandler(fakeStore{}, fakeProvisioner{}, Options{})

	resp := postJSON(t, h, "/api/schedules", map[string]interface{}{
		"doctor_id":   doctorID,
		"day_of_week": "Monday",
		"start_time":  "9am",
		"end_time":    "12:00",
	})

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestDeleteScheduleNotFound(t *testing.T) {
	st := fakeStore{
		deleteScheduleFn: func(ctx context.Context, id string) error {
			return store.ErrScheduleNotFound
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	req := httptest.NewRequest(http.MethodDelete, "/api/schedules/"+scheduleID, nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestGetQueueByID(t *testing.T) {
	st := fakeStore{
		getQueueFn: func(ctx context.Context, id string) (models.QueueManagement, []models.QueueEntry, error) {
			return models.QueueManagement{QueueID: id, Status: models.QueueStatusInProgress},
				[]models.QueueEntry{{EntryID: "entry-1", QueueNumber: 1}}, nil
		},
	}
	h := NewHandler(st, fakeProvisioner{}, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/queues/"+queueID, nil)
	resp := httptest.NewRecorder()
	h.Routes().ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}
