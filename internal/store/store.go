package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/internal/models"
)

type CreateScheduleInput struct {
	DoctorID  string
	DayOfWeek string
	StartTime string
	EndTime   string
	SlotCount int
}

type ProvisionInput struct {
	ScheduleID string
	Date       time.Time
}

type ProvisionResult struct {
	Queue          models.QueueManagement
	EntriesCreated int
	PatientsJoined int
}

type JoinQueueInput struct {
	ScheduleID    string
	Date          time.Time
	Type          string
	AppointmentID string
	PatientID     string
	JoinedAt      time.Time
}

type EntryStatusInput struct {
	QueueID     string
	QueueNumber int
	Status      string
}

type LifecycleResult struct {
	Activated int
	Completed int
	Promoted  int
}

type CancelResult struct {
	Queue                 models.QueueManagement
	AppointmentsCancelled int
}

type RescheduleInput struct {
	ScheduleID string
	OldDate    time.Time
	NewDate    time.Time
}

type RescheduleResult struct {
	Queue             models.QueueManagement
	AppointmentsMoved int
}

type QueueStore interface {
	CreateSchedule(ctx context.Context, input CreateScheduleInput) (models.Schedule, error)
	GetSchedule(ctx context.Context, scheduleID string) (models.Schedule, error)
	ListSchedules(ctx context.Context) ([]models.Schedule, error)
	SoftDeleteSchedule(ctx context.Context, scheduleID string) error
	ListActiveSchedules(ctx context.Context, dayOfWeek string) ([]models.Schedule, error)

	ProvisionQueue(ctx context.Context, input ProvisionInput) (ProvisionResult, error)
	RecordProvisionFailure(ctx context.Context, scheduleID string, date time.Time, cause string) error
	JoinQueue(ctx context.Context, input JoinQueueInput) (models.QueueEntry, error)
	AdvanceLifecycle(ctx context.Context, now time.Time) (LifecycleResult, error)
	CancelBySchedule(ctx context.Context, scheduleID string) (CancelResult, error)
	RescheduleBySchedule(ctx context.Context, input RescheduleInput) (RescheduleResult, error)
	SetEntryStatus(ctx context.Context, input EntryStatusInput) (models.QueueEntry, error)
	CheckInEntry(ctx context.Context, appointmentID string) (models.QueueEntry, error)

	GetQueue(ctx context.Context, queueID string) (models.QueueManagement, []models.QueueEntry, error)
	ListQueuesByDate(ctx context.Context, date time.Time) ([]models.QueueManagement, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
}

// NotificationStore is the slice of the store the notifier worker drains.
type NotificationStore interface {
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	GetLastOffset(ctx context.Context) (time.Time, error)
	UpdateOffset(ctx context.Context, value time.Time) error
	GetTemplate(ctx context.Context, templateID, channel string) (string, error)
	InsertNotification(ctx context.Context, notification Notification) error
	MarkNotificationSent(ctx context.Context, notificationID string) error
	MarkNotificationFailed(ctx context.Context, notificationID, lastError string) error
	InsertDLQ(ctx context.Context, notificationID, reason string) error
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Notification struct {
	NotificationID string
	Channel        string
	Recipient      string
	Message        string
	Status         string
	Attempts       int
	LastError      string
	CreatedAt      time.Time
}
