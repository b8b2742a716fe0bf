package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clinicq/internal/models"
	"clinicq/internal/provision"
	"clinicq/internal/store"

	"github.com/google/uuid"
)

// Provisioner runs the queue sweeps on demand.
type Provisioner interface {
	RunToday(ctx context.Context) (provision.Summary, error)
	RunWeek(ctx context.Context) (provision.Summary, error)
}

type Handler struct {
	store       store.QueueStore
	provisioner Provisioner
	location    *time.Location
}

type Options struct {
	Location *time.Location
}

func NewHandler(st store.QueueStore, provisioner Provisioner, options Options) *Handler {
	location := options.Location
	if location == nil {
		location = time.UTC
	}
	return &Handler{
		store:       st,
		provisioner: provisioner,
		location:    location,
	}
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/schedules", h.handleSchedules)
	mux.HandleFunc("/api/schedules/actions/reschedule", h.handleReschedule)
	mux.HandleFunc("/api/schedules/", h.handleScheduleByID)
	mux.HandleFunc("/api/queues/actions/provision", h.handleProvision)
	mux.HandleFunc("/api/queues/actions/provision-today", h.handleProvisionToday)
	mux.HandleFunc("/api/queues/actions/provision-week", h.handleProvisionWeek)
	mux.HandleFunc("/api/queues/actions/join", h.handleJoinQueue)
	mux.HandleFunc("/api/queues/actions/advance", h.handleAdvance)
	mux.HandleFunc("/api/queues/entries/actions/status", h.handleEntryStatus)
	mux.HandleFunc("/api/queues/entries/actions/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queues/today", h.handleTodayQueues)
	mux.HandleFunc("/api/queues/", h.handleGetQueue)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createScheduleRequest struct {
	DoctorID  string `json:"doctor_id"`
	DayOfWeek string `json:"day_of_week"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	SlotCount int    `json:"slot_count"`
}

func (h *Handler) handleSchedules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		schedules, err := h.store.ListSchedules(r.Context())
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, schedules)
	case http.MethodPost:
		var req createScheduleRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		req.DoctorID = strings.TrimSpace(req.DoctorID)
		req.DayOfWeek = strings.TrimSpace(req.DayOfWeek)
		req.StartTime = strings.TrimSpace(req.StartTime)
		req.EndTime = strings.TrimSpace(req.EndTime)

		if req.DoctorID == "" || req.DayOfWeek == "" || req.StartTime == "" || req.EndTime == "" {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id, day_of_week, start_time, and end_time are required")
			return
		}
		if !isValidUUID(req.DoctorID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "doctor_id must be a UUID")
			return
		}
		if !models.ValidDayOfWeek(req.DayOfWeek) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "day_of_week must be a weekday name (Monday..Sunday)")
			return
		}
		if !isValidClock(req.StartTime) || !isValidClock(req.EndTime) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "start_time and end_time must be HH:MM")
			return
		}
		if req.EndTime <= req.StartTime {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "end_time must be after start_time")
			return
		}

		schedule, err := h.store.CreateSchedule(r.Context(), store.CreateScheduleInput{
			DoctorID:  req.DoctorID,
			DayOfWeek: req.DayOfWeek,
			StartTime: req.StartTime,
			EndTime:   req.EndTime,
			SlotCount: req.SlotCount,
		})
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, schedule)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleScheduleByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case len(parts) == 1:
		scheduleID := parts[0]
		if !isValidUUID(scheduleID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
			return
		}
		switch r.Method {
		case http.MethodGet:
			schedule, err := h.store.GetSchedule(r.Context(), scheduleID)
			if err != nil {
				status, code, msg := mapError(err)
				writeError(w, "", status, code, msg)
				return
			}
			writeJSON(w, http.StatusOK, schedule)
		case http.MethodDelete:
			if err := h.store.SoftDeleteSchedule(r.Context(), scheduleID); err != nil {
				status, code, msg := mapError(err)
				writeError(w, "", status, code, msg)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 3 && parts[1] == "actions" && parts[2] == "cancel-queues":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		scheduleID := parts[0]
		if !isValidUUID(scheduleID) {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
			return
		}
		result, err := h.store.CancelBySchedule(r.Context(), scheduleID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, "", status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"queue":                  result.Queue,
			"appointments_cancelled": result.AppointmentsCancelled,
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type rescheduleRequest struct {
	ScheduleID string `json:"schedule_id"`
	OldDate    string `json:"old_date"`
	NewDate    string `json:"new_date"`
}

func (h *Handler) handleReschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	if req.ScheduleID == "" || req.OldDate == "" || req.NewDate == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id, old_date, and new_date are required")
		return
	}
	if !isValidUUID(req.ScheduleID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
		return
	}
	oldDate, err := parseDate(req.OldDate)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "old_date must be YYYY-MM-DD")
		return
	}
	newDate, err := parseDate(req.NewDate)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "new_date must be YYYY-MM-DD")
		return
	}
	today := todayIn(h.location)
	if !newDate.After(today) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "new_date must be after today")
		return
	}

	result, err := h.store.RescheduleBySchedule(r.Context(), store.RescheduleInput{
		ScheduleID: req.ScheduleID,
		OldDate:    oldDate,
		NewDate:    newDate,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":              result.Queue,
		"appointments_moved": result.AppointmentsMoved,
	})
}

type provisionRequest struct {
	ScheduleID string `json:"schedule_id"`
	Date       string `json:"date"`
}

func (h *Handler) handleProvision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req provisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	if req.ScheduleID == "" || req.Date == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id and date are required")
		return
	}
	if !isValidUUID(req.ScheduleID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	result, err := h.store.ProvisionQueue(r.Context(), store.ProvisionInput{
		ScheduleID: req.ScheduleID,
		Date:       date,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":           result.Queue,
		"entries_created": result.EntriesCreated,
	})
}

func (h *Handler) handleProvisionToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.provisioner.RunToday(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleProvisionWeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	summary, err := h.provisioner.RunWeek(r.Context())
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type joinQueueRequest struct {
	ScheduleID    string `json:"schedule_id"`
	Date          string `json:"date"`
	Type          string `json:"type"`
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
}

func (h *Handler) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req joinQueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ScheduleID = strings.TrimSpace(req.ScheduleID)
	req.Type = strings.TrimSpace(req.Type)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.PatientID = strings.TrimSpace(req.PatientID)

	if req.ScheduleID == "" || req.Date == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id and date are required")
		return
	}
	if !isValidUUID(req.ScheduleID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "schedule_id must be a UUID")
		return
	}
	if req.AppointmentID != "" && !isValidUUID(req.AppointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID when provided")
		return
	}
	if req.PatientID != "" && !isValidUUID(req.PatientID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "patient_id must be a UUID when provided")
		return
	}
	if req.Type == "" {
		req.Type = models.EntryTypeWalkIn
	}
	if req.Type != models.EntryTypeWalkIn && req.Type != models.EntryTypeFollowUp {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "type must be walk_in or follow_up")
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "date must be YYYY-MM-DD")
		return
	}

	entry, err := h.store.JoinQueue(r.Context(), store.JoinQueueInput{
		ScheduleID:    req.ScheduleID,
		Date:          date,
		Type:          req.Type,
		AppointmentID: req.AppointmentID,
		PatientID:     req.PatientID,
		JoinedAt:      time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleAdvance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	result, err := h.store.AdvanceLifecycle(r.Context(), time.Now().In(h.location))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type entryStatusRequest struct {
	QueueID     string `json:"queue_id"`
	QueueNumber int    `json:"queue_number"`
	Status      string `json:"status"`
}

func (h *Handler) handleEntryStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req entryStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.QueueID = strings.TrimSpace(req.QueueID)
	req.Status = strings.TrimSpace(req.Status)
	if req.QueueID == "" || req.Status == "" || req.QueueNumber <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue_id, queue_number, and status are required")
		return
	}
	if !isValidUUID(req.QueueID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}

	entry, err := h.store.SetEntryStatus(r.Context(), store.EntryStatusInput{
		QueueID:     req.QueueID,
		QueueNumber: req.QueueNumber,
		Status:      req.Status,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		AppointmentID string `json:"appointment_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment_id is required")
		return
	}
	if !isValidUUID(req.AppointmentID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "appointment_id must be a UUID")
		return
	}

	entry, err := h.store.CheckInEntry(r.Context(), req.AppointmentID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleTodayQueues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queues, err := h.store.ListQueuesByDate(r.Context(), todayIn(h.location))
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, queues)
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	queueID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/queues/"), "/")
	if !isValidUUID(queueID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}
	queue, entries, err := h.store.GetQueue(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue":   queue,
		"entries": entries,
	})
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	return true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func isValidClock(value string) bool {
	_, err := time.Parse("15:04", value)
	return err == nil
}

func parseDate(value string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(value))
}

func todayIn(location *time.Location) time.Time {
	now := time.Now().In(location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrScheduleNotFound):
		return http.StatusNotFound, "schedule_not_found", "schedule not found"
	case errors.Is(err, store.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "queue entry not found"
	case errors.Is(err, store.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", "no appointments found"
	case errors.Is(err, store.ErrAlreadyAttended):
		return http.StatusConflict, "already_attended", "entry already attended"
	case errors.Is(err, store.ErrAlreadyQueued):
		return http.StatusConflict, "already_queued", "appointment already in queue"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "queue state does not allow this action"
	case errors.Is(err, store.ErrScheduleOverlap):
		return http.StatusConflict, "schedule_overlap", "schedule overlaps an existing schedule"
	case errors.Is(err, store.ErrInvalidStatus):
		return http.StatusBadRequest, "invalid_status", "unknown entry status"
	case errors.Is(err, store.ErrInvalidType):
		return http.StatusBadRequest, "invalid_type", "unknown entry type"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
